package main

import (
	"context"
	"errors"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/nerrad567/almond-bridge/internal/almond"
	"github.com/nerrad567/almond-bridge/internal/infrastructure/logging"
)

// Supervisor tuning. A service that keeps failing is backed off rather
// than spun.
const (
	failureThreshold = 5
	failureBackoff   = 15 * time.Second
	serviceTimeout   = 10 * time.Second
)

// service adapts a blocking run function to suture.Service.
type service struct {
	name string
	run  func(ctx context.Context) error
}

// Serve implements suture.Service.
func (s service) Serve(ctx context.Context) error {
	return s.run(ctx)
}

func (s service) String() string {
	return s.name
}

// hubRunner is the part of *almond.Client the supervisor drives.
type hubRunner interface {
	Run(ctx context.Context) error
}

// hubService runs the hub client. A first dial failure is restarted by the
// supervisor; exhausting the reconnect budget stops the whole tree so the
// process exits and the service manager can take over.
func hubService(hub hubRunner, log *logging.Logger) suture.Service {
	return service{name: "almond", run: func(ctx context.Context) error {
		err := hub.Run(ctx)
		if errors.Is(err, almond.ErrReconnectExhausted) {
			log.Error("giving up on hub", "error", err)
			return suture.ErrTerminateSupervisorTree
		}
		if err != nil {
			log.Warn("hub client stopped", "error", err)
		}
		return err
	}}
}

func newSupervisor(log *logging.Logger) *suture.Supervisor {
	return suture.New("almondbridge", suture.Spec{
		EventHook: func(ev suture.Event) {
			log.Warn("supervisor event", "event", ev.String())
		},
		FailureThreshold: failureThreshold,
		FailureBackoff:   failureBackoff,
		Timeout:          serviceTimeout,
	})
}
