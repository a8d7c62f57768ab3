package restconf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

// ApplyStatus is the terminal outcome of one apply.
type ApplyStatus string

const (
	StatusApplied ApplyStatus = "applied"
	StatusSkipped ApplyStatus = "skipped"
	StatusFailed  ApplyStatus = "failed"
)

// ApplyResult is returned for every apply; the applier never propagates a
// panic or raw error past this boundary.
type ApplyResult struct {
	Status   ApplyStatus
	Attempts int
	Err      error
}

// DeviceRejectedError is a protocol-level rejection (4xx other than 409).
// Retrying cannot help; the request itself is wrong for this device.
type DeviceRejectedError struct {
	StatusCode int
	Body       string
}

func (e *DeviceRejectedError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("device rejected request: %d", e.StatusCode)
	}
	return fmt.Sprintf("device rejected request: %d: %s", e.StatusCode, e.Body)
}

// DeviceConflictError is a resource conflict that survived the refetch-retry
// cycle, typically a held datastore lock.
type DeviceConflictError struct {
	Path string
}

func (e *DeviceConflictError) Error() string {
	return "device resource conflict persisted after refetch: " + e.Path
}

// errConflict aborts the retry loop on a 409 so the applier can run the
// refetch cycle.
var errConflict = errors.New("device resource conflict")

// errAbsent aborts the retry loop when a DELETE target is already gone; the
// apply is reported as a skip.
var errAbsent = errors.New("resource already absent")

// ApplierConfig carries the retry policy.
type ApplierConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

func (c *ApplierConfig) setDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 8 * time.Second
	}
}

// Applier issues ApplyRequests with retry-on-transient-failure semantics.
type Applier struct {
	session *Session
	cfg     ApplierConfig
	log     zerolog.Logger
}

// NewApplier builds an applier around a shared device session.
func NewApplier(session *Session, cfg ApplierConfig, log zerolog.Logger) *Applier {
	cfg.setDefaults()
	return &Applier{session: session, cfg: cfg, log: log}
}

// Apply issues the request. Transient failures (unreachable device, 5xx) are
// retried with exponential backoff up to the attempt budget; 4xx rejections
// fail immediately; a 409 triggers one refetch-and-retry cycle before failing
// with DeviceConflictError; a 404 answering a DELETE means the target is
// already absent and reports a skip. Cancellation is observed between
// attempts only.
func (a *Applier) Apply(ctx context.Context, req ApplyRequest) ApplyResult {
	attempts := 0
	err := a.attempt(ctx, req, &attempts)

	if errors.Is(err, errConflict) {
		a.log.Warn().
			Str("interface", req.Ref.String()).
			Str("path", req.TargetPath).
			Msg("device reported conflict, refetching and retrying once")

		retryReq := req
		if req.Refetch != nil {
			fresh, ferr := req.Refetch()
			if ferr != nil {
				return ApplyResult{Status: StatusFailed, Attempts: attempts,
					Err: fmt.Errorf("refetch after conflict: %w", ferr)}
			}
			retryReq = fresh
		}
		err = a.attempt(ctx, retryReq, &attempts)
		if errors.Is(err, errConflict) {
			err = &DeviceConflictError{Path: retryReq.TargetPath}
		}
	}

	if errors.Is(err, errAbsent) {
		a.log.Info().
			Str("interface", req.Ref.String()).
			Str("path", req.TargetPath).
			Msg("resource already absent on device")
		return ApplyResult{Status: StatusSkipped, Attempts: attempts}
	}

	if err != nil {
		a.log.Error().Err(err).
			Str("interface", req.Ref.String()).
			Str("method", req.Method).
			Int("attempts", attempts).
			Msg("apply failed")
		return ApplyResult{Status: StatusFailed, Attempts: attempts, Err: err}
	}

	a.log.Info().
		Str("interface", req.Ref.String()).
		Str("method", req.Method).
		Int("attempts", attempts).
		Msg("configuration applied")
	return ApplyResult{Status: StatusApplied, Attempts: attempts}
}

func (a *Applier) attempt(ctx context.Context, req ApplyRequest, attempts *int) error {
	budget := a.cfg.MaxAttempts
	if req.RetryBudget > 0 {
		budget = req.RetryBudget
	}

	backoff := retry.WithCappedDuration(a.cfg.BackoffCap, retry.NewExponential(a.cfg.BackoffBase))
	backoff = retry.WithMaxRetries(uint64(budget-1), backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		*attempts++

		resp, err := a.session.do(ctx, req.Ref.Device, req.Method, req.TargetPath, req.Body)
		if err != nil {
			a.log.Debug().Err(err).
				Str("interface", req.Ref.String()).
				Int("attempt", *attempts).
				Msg("device unreachable")
			return retry.RetryableError(fmt.Errorf("device unreachable: %w", err))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusConflict:
			return errConflict
		case resp.StatusCode == http.StatusNotFound && req.Method == http.MethodDelete:
			return errAbsent
		case resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("device returned %s", resp.Status))
		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &DeviceRejectedError{
				StatusCode: resp.StatusCode,
				Body:       strings.TrimSpace(string(body)),
			}
		}
	})
}

// Transient reports whether err is a retryable-class failure: anything that
// is not a protocol-level rejection or a persisted conflict.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	var rejected *DeviceRejectedError
	var conflict *DeviceConflictError
	return !errors.As(err, &rejected) && !errors.As(err, &conflict)
}
