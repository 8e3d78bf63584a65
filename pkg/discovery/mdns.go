package discovery

import (
	"context"

	"github.com/hashicorp/mdns"
)

// runMDNS listens for service advertisements, one fixed window per
// well-known service type. Advertised addresses still go through the HTTP
// probe so identity comes from the device itself, not the advertisement.
func (e *Engine) runMDNS(ctx context.Context) {
	for _, service := range e.cfg.serviceTypes() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		e.queryService(ctx, service)
	}
}

func (e *Engine) queryService(ctx context.Context, service string) {
	entries := make(chan *mdns.ServiceEntry, 16)

	go func() {
		params := &mdns.QueryParam{
			Service:             service,
			Domain:              "local",
			Timeout:             e.cfg.mdnsWindow(),
			Entries:             entries,
			DisableIPv6:         true,
			WantUnicastResponse: true,
		}

		if err := mdns.Query(params); err != nil {
			e.log.Debug().Err(err).Str("service", service).Msg("mdns query error")
		}

		close(entries)
	}()

	for entry := range entries {
		if ctx.Err() != nil {
			return
		}

		if entry.AddrV4 == nil {
			continue
		}

		e.probeAddress(ctx, entry.AddrV4.String())
	}
}
