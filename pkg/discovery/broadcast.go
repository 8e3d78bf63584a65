package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"time"
)

// discoveryProbe is the small JSON document broadcast to the discovery port.
// Devices reply in kind with a document carrying their own address.
type discoveryProbe struct {
	Op string `json:"op"`
}

type discoveryReply struct {
	IP   string `json:"ip"`
	Name string `json:"name,omitempty"`
	MAC  string `json:"mac,omitempty"`
}

// runBroadcast sends a discovery probe to the broadcast address of each local
// network, then listens passively for replies until the window closes. Every
// replying address is fed through the normal probe pipeline for identity.
func (e *Engine) runBroadcast(ctx context.Context, networks []*net.IPNet) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		e.log.Warn().Err(err).Msg("broadcast listen failed, strategy skipped")
		return
	}
	defer func() { _ = conn.Close() }()

	payload, err := json.Marshal(discoveryProbe{Op: "discover"})
	if err != nil {
		e.log.Warn().Err(err).Msg("broadcast probe encode failed")
		return
	}

	port := strconv.Itoa(e.cfg.BroadcastPort)

	send := func() {
		for _, network := range networks {
			bcast := broadcastAddr(network)
			if bcast == nil {
				continue
			}

			dst, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(bcast.String(), port))
			if err != nil {
				continue
			}

			if _, err := conn.WriteTo(payload, dst); err != nil {
				e.log.Debug().Err(err).Str("dst", dst.String()).Msg("broadcast send failed")
			}
		}
	}

	send()

	deadline := time.Now().Add(e.cfg.broadcastWindow())

	// Resend once mid-window in case the first datagram was lost.
	resend := time.AfterFunc(e.cfg.broadcastWindow()/2, send)
	defer resend.Stop()

	buf := make([]byte, 1500)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond)); err != nil {
			return
		}

		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if time.Now().After(deadline) {
				return
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			e.log.Debug().Err(err).Msg("broadcast read error")

			continue
		}

		var reply discoveryReply
		if err := json.Unmarshal(buf[:n], &reply); err != nil {
			continue
		}

		host := reply.IP
		if host == "" {
			if udpAddr, ok := from.(*net.UDPAddr); ok {
				host = udpAddr.IP.String()
			}
		}

		if host == "" {
			continue
		}

		e.probeAddress(ctx, host)
	}
}
