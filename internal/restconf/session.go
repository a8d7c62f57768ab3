// Package restconf issues configuration requests against Cisco IOS-XE devices
// using RESTCONF JSON over HTTPS: building the YANG payloads, authenticating
// the session, and retrying transient failures within a fixed budget.
package restconf

import (
	"bytes"
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	yangContentType = "application/yang-data+json"
)

// Credentials authenticate RESTCONF calls against one device.
type Credentials struct {
	Username string
	Password string
}

// CredentialSource resolves the credentials for a device by name. The config
// layer implements this with a global default plus optional per-device
// overrides.
type CredentialSource interface {
	DeviceCredentials(device string) Credentials
}

// Session is the authenticated HTTP capability shared by all device calls.
// One session serves every device; credentials are resolved per request.
type Session struct {
	client *http.Client
	creds  CredentialSource
}

// SessionConfig carries the transport knobs owned by the process bootstrap.
type SessionConfig struct {
	// VerifyTLS enables certificate chain validation. Lab devices routinely
	// run self-signed certificates, so this is configurable.
	VerifyTLS bool
	// RequestTimeout bounds each individual HTTP exchange. In-flight calls
	// are never cancelled mid-request; cancellation is observed between
	// retry attempts.
	RequestTimeout time.Duration
}

// NewSession builds the shared device session.
func NewSession(creds CredentialSource, cfg SessionConfig) *Session {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Session{
		client: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			Timeout:   timeout,
		},
		creds: creds,
	}
}

func (s *Session) do(ctx context.Context, device, method, url string, body []byte) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	// The event context must not abort an exchange already sent to the
	// device; the client timeout bounds each exchange, and cancellation is
	// observed between retry attempts. Values (trace context) still flow.
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", yangContentType)
	req.Header.Set("Accept", yangContentType)
	if s.creds != nil {
		c := s.creds.DeviceCredentials(device)
		req.SetBasicAuth(c.Username, c.Password)
	}

	return s.client.Do(req)
}
