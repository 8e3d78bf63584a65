// Package lifecycle runs a set of long-lived services and handles shutdown
// signals.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const (
	// ShutdownTimeout bounds how long Stop hooks may take on teardown.
	ShutdownTimeout = 10 * time.Second
)

// Service defines the interface that all services must implement. Start
// blocks until the service exits or its context is cancelled.
type Service interface {
	Start(context.Context) error
	Stop(context.Context) error
}

// Run starts every service and blocks until a shutdown signal, context
// cancellation or the first service error, then stops all services.
func Run(ctx context.Context, log zerolog.Logger, services ...Service) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, len(services))

	for _, svc := range services {
		go func(svc Service) {
			if err := svc.Start(ctx); err != nil && ctx.Err() == nil {
				select {
				case errCh <- err:
				default:
					log.Error().Err(err).Msg("service error")
				}
			}
		}(svc)
	}

	var runErr error

	select {
	case <-ctx.Done():
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		runErr = fmt.Errorf("service failed: %w", err)
	}

	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer stopCancel()

	for _, svc := range services {
		if err := svc.Stop(stopCtx); err != nil {
			log.Warn().Err(err).Msg("error stopping service")
		}
	}

	return runErr
}
