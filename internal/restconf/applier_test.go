package restconf

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ifsyncd/internal/ifname"
)

type staticCreds struct{}

func (staticCreds) DeviceCredentials(string) Credentials {
	return Credentials{Username: "admin", Password: "admin"}
}

func testApplier(t *testing.T) *Applier {
	t.Helper()
	session := NewSession(staticCreds{}, SessionConfig{RequestTimeout: time.Second})
	return NewApplier(session, ApplierConfig{
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
	}, zerolog.Nop())
}

func request(url string) ApplyRequest {
	return ApplyRequest{
		Ref:        ifname.Ref{Device: "r1", Type: "GigabitEthernet", Unit: "0/0/1"},
		Method:     http.MethodPut,
		TargetPath: url,
		Body:       []byte(`{}`),
	}
}

func TestApplyRetriesTransient(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if user, pass, ok := r.BasicAuth(); !ok || user != "admin" || pass != "admin" {
			t.Errorf("missing basic auth on attempt %d", calls)
		}
		if got := r.Header.Get("Content-Type"); got != yangContentType {
			t.Errorf("Content-Type = %q", got)
		}
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	res := testApplier(t).Apply(context.Background(), request(srv.URL))
	if res.Status != StatusApplied {
		t.Fatalf("status = %s, err = %v", res.Status, res.Err)
	}
	if res.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", res.Attempts)
	}
}

func TestApplyExhaustsBudget(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	res := testApplier(t).Apply(context.Background(), request(srv.URL))
	if res.Status != StatusFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Attempts != 3 || calls != 3 {
		t.Fatalf("attempts = %d, calls = %d, want 3", res.Attempts, calls)
	}
	if !Transient(res.Err) {
		t.Fatalf("exhausted 5xx budget should classify transient: %v", res.Err)
	}
}

func TestApplyDoesNotRetryRejection(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "invalid payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	res := testApplier(t).Apply(context.Background(), request(srv.URL))
	if res.Status != StatusFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Attempts != 1 || calls != 1 {
		t.Fatalf("attempts = %d, calls = %d, want 1", res.Attempts, calls)
	}
	var rejected *DeviceRejectedError
	if !errors.As(res.Err, &rejected) || rejected.StatusCode != http.StatusBadRequest {
		t.Fatalf("err = %v, want DeviceRejectedError(400)", res.Err)
	}
	if Transient(res.Err) {
		t.Fatal("rejection must classify permanent")
	}
}

func TestApplyConflictRefetchSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	refetched := false
	req := request(srv.URL)
	req.Refetch = func() (ApplyRequest, error) {
		refetched = true
		return request(srv.URL), nil
	}

	res := testApplier(t).Apply(context.Background(), req)
	if res.Status != StatusApplied {
		t.Fatalf("status = %s, err = %v", res.Status, res.Err)
	}
	if !refetched {
		t.Fatal("conflict must trigger a refetch")
	}
	if res.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", res.Attempts)
	}
}

func TestApplyConflictPersists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	req := request(srv.URL)
	req.Refetch = func() (ApplyRequest, error) { return request(srv.URL), nil }

	res := testApplier(t).Apply(context.Background(), req)
	if res.Status != StatusFailed {
		t.Fatalf("status = %s", res.Status)
	}
	var conflict *DeviceConflictError
	if !errors.As(res.Err, &conflict) {
		t.Fatalf("err = %v, want DeviceConflictError", res.Err)
	}
	if Transient(res.Err) {
		t.Fatal("persisted conflict must classify permanent")
	}
}

func TestApplyUnreachableDevice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	res := testApplier(t).Apply(context.Background(), request(srv.URL))
	if res.Status != StatusFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", res.Attempts)
	}
	if !Transient(res.Err) {
		t.Fatalf("unreachable device should classify transient: %v", res.Err)
	}
}

func TestApplyCompletesInFlightCallAfterCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(150 * time.Millisecond)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := testApplier(t).Apply(ctx, request(srv.URL))
	if res.Status != StatusApplied || res.Attempts != 1 {
		t.Fatalf("in-flight call must run to completion, got %+v", res)
	}
}

func TestApplyObservesCancelBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		cancel()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	res := testApplier(t).Apply(ctx, request(srv.URL))
	if res.Status != StatusFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if calls != 1 || res.Attempts != 1 {
		t.Fatalf("attempts = %d, calls = %d, want 1 each", res.Attempts, calls)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", res.Err)
	}
}

func TestApplyDeleteAbsentSkips(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.NotFound(w, r)
	}))
	defer srv.Close()

	req := request(srv.URL)
	req.Method = http.MethodDelete
	req.Body = nil

	res := testApplier(t).Apply(context.Background(), req)
	if res.Status != StatusSkipped || res.Err != nil {
		t.Fatalf("delete of absent resource: %+v", res)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	// A 404 on any other method is still a rejection.
	res = testApplier(t).Apply(context.Background(), request(srv.URL))
	var rejected *DeviceRejectedError
	if res.Status != StatusFailed || !errors.As(res.Err, &rejected) {
		t.Fatalf("404 on PUT should reject, got %+v", res)
	}
}

func TestApplyRespectsRequestBudgetOverride(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	req := request(srv.URL)
	req.RetryBudget = 1

	res := testApplier(t).Apply(context.Background(), req)
	if res.Status != StatusFailed || calls != 1 {
		t.Fatalf("status = %s, calls = %d", res.Status, calls)
	}
}
