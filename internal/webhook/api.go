// Package webhook exposes the two NetBox webhook endpoints and translates
// pipeline results into HTTP responses, metrics, and dead-letter messages.
package webhook

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"ifsyncd/internal/event"
	"ifsyncd/internal/pipeline"
	"ifsyncd/pkg/bus"
	"ifsyncd/pkg/telemetry"
)

// Syncer is the pipeline capability the handlers drive.
type Syncer interface {
	SyncInterface(ctx context.Context, ev *event.Interface) pipeline.Result
	SyncAddress(ctx context.Context, ev *event.Address) pipeline.Result
}

// Config controls runtime behaviour of the webhook layer.
type Config struct {
	// MaxInflight caps concurrently processed deliveries.
	MaxInflight int
	// EventDeadline bounds one delivery end to end, covering the full retry
	// budget.
	EventDeadline time.Duration
	// DeadLetterSubject receives failed apply outcomes when a bus is wired.
	DeadLetterSubject string
}

// API wires the pipeline, the optional dead-letter bus, and configuration
// for the HTTP handlers.
type API struct {
	syncer Syncer
	bus    *bus.Bus
	trace  telemetry.Middleware
	config Config
	log    zerolog.Logger
}

// New initialises the webhook layer with sane defaults applied to the
// provided configuration.
func New(syncer Syncer, deadLetters *bus.Bus, trace telemetry.Middleware, cfg Config, log zerolog.Logger) (*API, error) {
	if syncer == nil {
		return nil, errors.New("syncer is required")
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = 16
	}
	if cfg.EventDeadline <= 0 {
		cfg.EventDeadline = 2 * time.Minute
	}
	if trace == nil {
		trace = func(next http.Handler) http.Handler { return next }
	}
	return &API{
		syncer: syncer,
		bus:    deadLetters,
		trace:  trace,
		config: cfg,
		log:    log,
	}, nil
}
