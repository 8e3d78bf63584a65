package models

import "time"

// ProbeOutcome classifies the result of probing one address.
type ProbeOutcome string

const (
	// OutcomeSuccess means the address answered with a well-formed identity
	// document.
	OutcomeSuccess ProbeOutcome = "success"
	// OutcomeTimeout means the request deadline elapsed with no response.
	OutcomeTimeout ProbeOutcome = "timeout"
	// OutcomeUnreachable covers connection refused, host unreachable and DNS
	// failures.
	OutcomeUnreachable ProbeOutcome = "unreachable"
	// OutcomeProtocolMismatch means something answered, but not with the
	// device protocol. Such addresses are never banned.
	OutcomeProtocolMismatch ProbeOutcome = "protocol_mismatch"
	// OutcomeAlreadyAttempted is caller-side dedup, not a network failure.
	OutcomeAlreadyAttempted ProbeOutcome = "already_attempted"
	// OutcomeBanned means the address was skipped without a network call
	// because it is under an active ban.
	OutcomeBanned ProbeOutcome = "banned"
)

// Bannable reports whether an outcome should place the address on the ban
// list. Protocol mismatches are excluded: the address may host an unrelated
// service that still exists.
func (o ProbeOutcome) Bannable() bool {
	return o == OutcomeTimeout || o == OutcomeUnreachable
}

// ProbeResult is the outcome of a single address probe.
type ProbeResult struct {
	Host      string        `json:"host"`
	Outcome   ProbeOutcome  `json:"outcome"`
	Device    *Device       `json:"device,omitempty"`
	RespTime  time.Duration `json:"resp_time"`
	Timestamp time.Time     `json:"timestamp"`
	Error     error         `json:"-"`
}
