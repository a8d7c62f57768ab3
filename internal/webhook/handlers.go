package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"ifsyncd/internal/event"
	"ifsyncd/internal/ifname"
	"ifsyncd/internal/intent"
	"ifsyncd/internal/pipeline"
	"ifsyncd/internal/restconf"
)

// maxBodyBytes bounds webhook payloads. NetBox deliveries with full
// snapshots stay well under this.
const maxBodyBytes = 1 << 20

type syncResponse struct {
	Status   string `json:"status"`
	Attempts int    `json:"attempts,omitempty"`
	Error    string `json:"error,omitempty"`
}

// deadLetter is the envelope published for failed deliveries so they can be
// inspected and replayed later.
type deadLetter struct {
	ID         string          `json:"id"`
	ReceivedAt time.Time       `json:"received_at"`
	ObjectType string          `json:"object_type"`
	EventKind  string          `json:"event_kind"`
	Error      string          `json:"error"`
	Attempts   int             `json:"attempts"`
	Payload    json.RawMessage `json:"payload"`
}

func (a *API) handleEvent(want event.ObjectType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			respondError(w, http.StatusBadRequest, "read body: "+err.Error())
			return
		}

		ev, err := event.Normalize(body)
		if err != nil {
			a.recordOutcome(want, "rejected")
			respondError(w, statusForError(err), err.Error())
			return
		}
		if ev.Object() != want {
			a.recordOutcome(want, "rejected")
			respondError(w, http.StatusBadRequest,
				fmt.Sprintf("endpoint expects %s events, got %s", want, ev.Object()))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), a.config.EventDeadline)
		defer cancel()

		start := time.Now()
		var res pipeline.Result
		switch ev := ev.(type) {
		case *event.Interface:
			res = a.syncer.SyncInterface(ctx, ev)
		case *event.Address:
			res = a.syncer.SyncAddress(ctx, ev)
		default:
			respondError(w, http.StatusBadRequest, "unrecognised event")
			return
		}
		applyDuration.WithLabelValues(string(want)).Observe(time.Since(start).Seconds())

		a.respondResult(r.Context(), w, want, ev, body, res)
	}
}

func (a *API) respondResult(ctx context.Context, w http.ResponseWriter, objectType event.ObjectType, ev event.Event, payload []byte, res pipeline.Result) {
	switch res.Status {
	case restconf.StatusApplied:
		a.recordOutcome(objectType, "applied")
		respondJSON(w, http.StatusOK, syncResponse{Status: "applied", Attempts: res.Attempts})
	case restconf.StatusSkipped:
		a.recordOutcome(objectType, "skipped")
		respondJSON(w, http.StatusOK, syncResponse{Status: "skipped"})
	default:
		a.recordOutcome(objectType, "failed")
		a.publishDeadLetter(ctx, objectType, ev, payload, res)
		respondJSON(w, statusForError(res.Err), syncResponse{
			Status:   "failed",
			Attempts: res.Attempts,
			Error:    res.Err.Error(),
		})
	}
}

func (a *API) publishDeadLetter(ctx context.Context, objectType event.ObjectType, ev event.Event, payload []byte, res pipeline.Result) {
	if a.bus == nil {
		return
	}
	dl := deadLetter{
		ID:         uuid.New().String(),
		ReceivedAt: time.Now().UTC(),
		ObjectType: string(objectType),
		EventKind:  string(ev.EventKind()),
		Error:      res.Err.Error(),
		Attempts:   res.Attempts,
		Payload:    payload,
	}
	if err := a.bus.PublishJSON(ctx, a.config.DeadLetterSubject, dl); err != nil {
		a.log.Error().Err(err).Str("subject", a.config.DeadLetterSubject).
			Msg("publish dead letter")
		return
	}
	deadLettersTotal.Inc()
}

// statusForError maps pipeline failures onto HTTP status codes. Payload
// faults are the caller's problem, permanent apply failures need operator
// attention, and everything else is a transient upstream fault worth
// redelivering.
func statusForError(err error) int {
	var rejected *restconf.DeviceRejectedError
	var conflict *restconf.DeviceConflictError
	switch {
	case errors.Is(err, event.ErrMalformedPayload):
		return http.StatusBadRequest
	case errors.Is(err, event.ErrUnsupportedAssignment),
		errors.Is(err, ifname.ErrUnknownFormat),
		errors.Is(err, intent.ErrConflictingState),
		errors.Is(err, pipeline.ErrNoDeviceAddress),
		errors.As(err, &rejected),
		errors.As(err, &conflict):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func (a *API) recordOutcome(objectType event.ObjectType, result string) {
	eventsTotal.WithLabelValues(string(objectType), result).Inc()
}
