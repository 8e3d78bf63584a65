// Package scan pkg/scan/icmp_scanner.go
package scan

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// ICMPScanner sends echo requests over a raw socket and collects replies.
// Creating it requires raw-socket privileges; callers fall back to probing
// every address when construction fails.
type ICMPScanner struct {
	timeout   time.Duration
	rateLimit time.Duration
	rawSocket int
	template  []byte
	done      chan struct{}
	responses map[string]*pingResponse
	mu        sync.RWMutex
	log       zerolog.Logger
}

type pingResponse struct {
	received bool
	sentAt   time.Time
	respTime time.Duration
	lastSeen time.Time
}

func NewICMPScanner(timeout time.Duration, rateLimit time.Duration, log zerolog.Logger) (*ICMPScanner, error) {
	if timeout <= 0 {
		timeout = 1 * time.Second
	}

	if rateLimit <= 0 {
		rateLimit = 10 * time.Millisecond
	}

	s := &ICMPScanner{
		timeout:   timeout,
		rateLimit: rateLimit,
		done:      make(chan struct{}),
		responses: make(map[string]*pingResponse),
		log:       log,
	}

	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_RAW, syscall.IPPROTO_ICMP)
	if err != nil {
		return nil, fmt.Errorf("failed to create raw socket: %w", err)
	}

	s.rawSocket = fd

	s.buildTemplate()

	return s, nil
}

func (s *ICMPScanner) Scan(ctx context.Context, hosts []string) (<-chan Result, error) {
	results := make(chan Result, len(hosts))

	go s.listenForReplies(ctx)

	go func() {
		defer close(results)

		for _, host := range hosts {
			ip := net.ParseIP(host)
			if ip == nil || ip.To4() == nil {
				continue
			}

			s.mu.Lock()
			s.responses[host] = &pingResponse{sentAt: time.Now()}
			s.mu.Unlock()

			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			default:
				if err := s.sendPing(ip); err != nil {
					s.log.Debug().Err(err).Str("host", host).Msg("ping send failed")
					continue
				}
			}

			time.Sleep(s.rateLimit)
		}

		// Give stragglers one timeout window to answer before reporting.
		select {
		case <-time.After(s.timeout):
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}

		s.mu.RLock()
		defer s.mu.RUnlock()

		for _, host := range hosts {
			resp, ok := s.responses[host]
			if !ok {
				continue
			}

			select {
			case results <- Result{
				Host:      host,
				Available: resp.received,
				RespTime:  resp.respTime,
				LastSeen:  resp.lastSeen,
			}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return results, nil
}

func (s *ICMPScanner) buildTemplate() {
	s.template = make([]byte, 8)
	s.template[0] = 8 // Echo Request
	s.template[1] = 0 // Code 0

	id := uint16(os.Getpid() & 0xffff)
	binary.BigEndian.PutUint16(s.template[4:], id)

	binary.BigEndian.PutUint16(s.template[2:], s.calculateChecksum(s.template))
}

func (s *ICMPScanner) calculateChecksum(data []byte) uint16 {
	var sum uint32
	for i := 0; i < len(data); i += 2 {
		sum += uint32(data[i])<<8 | uint32(data[i+1])
	}
	sum = (sum >> 16) + (sum & 0xffff)
	return ^uint16(sum)
}

func (s *ICMPScanner) sendPing(ip net.IP) error {
	var addr [4]byte
	copy(addr[:], ip.To4())

	dest := syscall.SockaddrInet4{
		Addr: addr,
	}

	return syscall.Sendto(s.rawSocket, s.template, 0, &dest)
}

func (s *ICMPScanner) listenForReplies(ctx context.Context) {
	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to start ICMP listener")
		return
	}
	defer func() { _ = conn.Close() }()

	packet := make([]byte, 1500)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
			if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
				continue
			}

			n, peer, err := conn.ReadFrom(packet)
			if err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					continue
				}

				s.log.Debug().Err(err).Msg("error reading ICMP packet")

				continue
			}

			msg, err := icmp.ParseMessage(1, packet[:n])
			if err != nil {
				continue
			}

			if msg.Type == ipv4.ICMPTypeEchoReply {
				now := time.Now()

				s.mu.Lock()
				if resp, exists := s.responses[peer.String()]; exists {
					resp.received = true
					resp.respTime = now.Sub(resp.sentAt)
					resp.lastSeen = now
				}
				s.mu.Unlock()
			}
		}
	}
}

func (s *ICMPScanner) Stop() error {
	close(s.done)

	if s.rawSocket != 0 {
		if err := syscall.Close(s.rawSocket); err != nil {
			return fmt.Errorf("failed to close raw socket: %w", err)
		}
	}

	return nil
}
