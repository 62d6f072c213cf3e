/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/acronis/go-concurrencylimit/log"
)

// ErrGracefulStopTimeoutExceeded is returned when the unit was stopped forcibly
// because its graceful stop took longer than Opts.GracefulStopTimeout.
var ErrGracefulStopTimeoutExceeded = errors.New("graceful stop timeout exceeded")

// Opts represents an options for Service.
type Opts struct {
	// ShutdownSignals trigger a graceful stop. SIGINT and SIGTERM are used if empty.
	ShutdownSignals []os.Signal
	// GracefulStopTimeout bounds the graceful stop, after it the unit is stopped forcibly.
	// Zero means no bound.
	GracefulStopTimeout time.Duration
}

// Service registers metrics of its unit in Prometheus, starts the unit
// and stops it gracefully on OS signal or context cancellation.
// For the limiter, the unit is usually a CompositeUnit of the HTTP server and the periodic cleanup worker.
type Service struct {
	Unit    Unit
	Signals chan os.Signal
	Logger  log.FieldLogger
	Opts    Opts
}

// New creates new Service which will start and stop passing unit.
func New(logger log.FieldLogger, unit Unit) *Service {
	return NewWithOpts(logger, unit, Opts{})
}

// NewWithOpts is a more configurable version of New.
func NewWithOpts(logger log.FieldLogger, unit Unit, opts Opts) *Service {
	if len(opts.ShutdownSignals) == 0 {
		opts.ShutdownSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	return &Service{
		Signals: make(chan os.Signal, 1),
		Unit:    unit,
		Logger:  logger,
		Opts:    opts,
	}
}

// Start wraps StartContext using the background context.
func (s *Service) Start() error {
	return s.StartContext(context.Background())
}

// StartContext starts the unit in a separate goroutine and blocks until a fatal error occurs,
// one of the shutdown signals is received or the context is canceled.
// In the last two cases the unit is stopped gracefully.
func (s *Service) StartContext(ctx context.Context) error {
	if mr, ok := s.Unit.(MetricsRegisterer); ok {
		mr.MustRegisterMetrics()
		defer mr.UnregisterMetrics()
	}

	fatalError := make(chan error, 1)
	go s.Unit.Start(fatalError)

	signal.Notify(s.Signals, s.Opts.ShutdownSignals...)
	defer signal.Stop(s.Signals)

	select {
	case err := <-fatalError:
		s.Logger.Error("service fatal error", log.Error(err))
		return fmt.Errorf("fatal error: %w", err)
	case <-ctx.Done():
		s.Logger.Info("context is canceled, service will be stopped")
	case sig := <-s.Signals:
		s.Logger.Info("service got signal", log.String("signal", sig.String()))
	}

	if err := s.stop(); err != nil {
		return err
	}
	s.Logger.Info("service stopped")
	return nil
}

func (s *Service) stop() error {
	if s.Opts.GracefulStopTimeout <= 0 {
		if err := s.Unit.Stop(true); err != nil {
			return fmt.Errorf("stop service gracefully: %w", err)
		}
		return nil
	}

	stopped := make(chan error, 1)
	go func() {
		stopped <- s.Unit.Stop(true)
	}()

	timer := time.NewTimer(s.Opts.GracefulStopTimeout)
	defer timer.Stop()
	select {
	case err := <-stopped:
		if err != nil {
			return fmt.Errorf("stop service gracefully: %w", err)
		}
		return nil
	case <-timer.C:
		s.Logger.Warn("service graceful stop timed out, stopping forcibly",
			log.Duration("timeout", s.Opts.GracefulStopTimeout))
		if err := s.Unit.Stop(false); err != nil {
			return fmt.Errorf("stop service: %w", errors.Join(ErrGracefulStopTimeoutExceeded, err))
		}
		return ErrGracefulStopTimeoutExceeded
	}
}
