package probe

import "errors"

var (
	errInvalidAddress    = errors.New("invalid device address")
	errUnexpectedStatus  = errors.New("unexpected HTTP status")
	errMalformedResponse = errors.New("malformed device response")
	errMissingIdentifier = errors.New("device response missing hardware identifier")
)
