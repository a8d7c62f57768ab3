// Package config loads runtime configuration from the environment, following
// the recognized-options surface of the service: listener address, NetBox
// access, device credentials, TLS and retry knobs, and the optional
// dead-letter bus.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the webhook sync daemon.
type Config struct {
	Addr string `env:"IFSYNC_ADDR,default=:19703"`

	NetBoxURL   string `env:"NETBOX_URL,required"`
	NetBoxToken string `env:"NETBOX_TOKEN,required"`

	DeviceUsername  string `env:"DEVICE_USERNAME,required"`
	DevicePassword  string `env:"DEVICE_PASSWORD,required"`
	CredentialsFile string `env:"DEVICE_CREDENTIALS_FILE"`

	// VerifyTLS enables certificate validation for NetBox and device calls.
	// Defaults off because lab gear ships self-signed certificates; set it
	// in production.
	VerifyTLS bool `env:"IFSYNC_VERIFY_TLS,default=false"`

	MaxAttempts    int           `env:"IFSYNC_MAX_ATTEMPTS,default=3"`
	BackoffBase    time.Duration `env:"IFSYNC_BACKOFF_BASE,default=500ms"`
	BackoffCap     time.Duration `env:"IFSYNC_BACKOFF_CAP,default=8s"`
	RequestTimeout time.Duration `env:"IFSYNC_REQUEST_TIMEOUT,default=10s"`

	// MaxInflight caps how many webhook deliveries are processed at once.
	MaxInflight int `env:"IFSYNC_MAX_INFLIGHT,default=16"`

	// NATSURL is optional; when empty, failed applies are only logged.
	NATSURL           string `env:"NATS_URL"`
	DeadLetterSubject string `env:"IFSYNC_DEADLETTER_SUBJECT,default=ifsync.events.deadletter"`

	// OTLPEndpoint enables trace export when set.
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the retry and concurrency machinery cannot work with.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("invalid IFSYNC_MAX_ATTEMPTS: %d", c.MaxAttempts)
	}
	if c.BackoffBase <= 0 {
		return fmt.Errorf("invalid IFSYNC_BACKOFF_BASE: %s", c.BackoffBase)
	}
	if c.BackoffCap < c.BackoffBase {
		return fmt.Errorf("IFSYNC_BACKOFF_CAP %s must be >= IFSYNC_BACKOFF_BASE %s", c.BackoffCap, c.BackoffBase)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("invalid IFSYNC_REQUEST_TIMEOUT: %s", c.RequestTimeout)
	}
	if c.MaxInflight < 1 {
		return fmt.Errorf("invalid IFSYNC_MAX_INFLIGHT: %d", c.MaxInflight)
	}
	return nil
}

// OverallDeadline is the per-event processing budget: enough to cover every
// retry attempt plus its backoff, with headroom for the inventory lookups.
func (c Config) OverallDeadline() time.Duration {
	backoff := time.Duration(0)
	delay := c.BackoffBase
	for i := 1; i < c.MaxAttempts; i++ {
		if delay > c.BackoffCap {
			delay = c.BackoffCap
		}
		backoff += delay
		delay *= 2
	}
	// Two attempt cycles can run when a conflict triggers a refetch.
	perCycle := time.Duration(c.MaxAttempts)*c.RequestTimeout + backoff
	return 2*perCycle + 5*time.Second
}
