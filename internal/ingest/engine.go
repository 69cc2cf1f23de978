package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rossant/triagedeck/internal/clock"
	"github.com/rossant/triagedeck/internal/storage"
)

const (
	// MaxBatchSize bounds a single ingest request (spec §4.4).
	MaxBatchSize = 200
	maxNoteLen   = 2000
)

// Error codes surfaced on a per-event result. These map directly to the
// specific error codes in spec §6/§7.
const (
	ErrCodeInvalidDecisionID = "invalid_decision_id"
	ErrCodeInvalidNote       = "invalid_note"
	ErrCodeUnknownItem       = "unknown_item"
	ErrCodeValidation        = "validation_error"
)

// Event is a single reviewer decision submitted by a client.
type Event struct {
	EventID    string
	ItemID     string
	DecisionID string
	Note       string
	TSClient   int64
}

// Batch is a request to record one or more Events on behalf of a single
// caller. ClientID and SessionID are opaque: echoed in logs, never
// persisted as identifiers.
type Batch struct {
	ProjectID string
	UserID    string
	ClientID  string
	SessionID string
	Events    []Event
}

// Result is the outcome of applying a single event within a batch.
type Result struct {
	EventID   string `json:"event_id"`
	Outcome   string `json:"outcome"` // accepted | duplicate | rejected
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Response is the aggregate outcome of an ingest batch (spec §4.4,§6).
type Response struct {
	Acked     int      `json:"acked"`
	Accepted  int      `json:"accepted"`
	Duplicate int      `json:"duplicate"`
	Rejected  int      `json:"rejected"`
	ServerTS  int64    `json:"server_ts"`
	Results   []Result `json:"results"`
}

// ErrBatchTooLarge is returned when a caller submits more than
// MaxBatchSize events in a single request.
type ErrBatchTooLarge struct {
	Size int
}

func (e ErrBatchTooLarge) Error() string {
	return fmt.Sprintf("ingest: batch of %d events exceeds maximum of %d", e.Size, MaxBatchSize)
}

// Engine runs the validate/scope/clamp/apply/recompute pipeline of spec
// §4.4 over an ingest batch.
type Engine struct {
	store      Store
	clock      clock.Clock
	skewWindow time.Duration
}

// New returns an Engine backed by store, using clk for server time and
// clamping client timestamps to skewWindow around it.
func New(store Store, clk clock.Clock, skewWindow time.Duration) *Engine {
	return &Engine{store: store, clock: clk, skewWindow: skewWindow}
}

// Apply runs every event in batch in input order and returns the
// aggregate response. One rejected event never rolls back its peers
// (partial success); all events accepted by this call share the same
// ServerTS, sampled once.
func (e *Engine) Apply(ctx context.Context, batch Batch) (*Response, error) {
	if len(batch.Events) > MaxBatchSize {
		return nil, ErrBatchTooLarge{Size: len(batch.Events)}
	}

	schema, err := e.store.ActiveDecisionSchema(ctx, batch.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("ingest: load decision schema: %w", err)
	}

	now := e.clock.NowMS()
	resp := &Response{ServerTS: now, Results: make([]Result, len(batch.Events))}

	for i, ev := range batch.Events {
		result := e.applyOne(ctx, batch.ProjectID, batch.UserID, ev, schema, now)
		resp.Results[i] = result

		switch result.Outcome {
		case string(storage.OutcomeAccepted):
			resp.Accepted++
			resp.Acked++
		case string(storage.OutcomeDuplicate):
			resp.Duplicate++
			resp.Acked++
		default:
			resp.Rejected++
		}
	}

	return resp, nil
}

func (e *Engine) applyOne(
	ctx context.Context,
	projectID, userID string,
	ev Event,
	schema storage.DecisionSchema,
	now int64,
) Result {
	if errCode, msg := validateShape(ev, schema); errCode != "" {
		return rejected(ev.EventID, errCode, msg)
	}

	exists, err := e.store.ItemExists(ctx, projectID, ev.ItemID)
	if err != nil {
		return rejected(ev.EventID, ErrCodeValidation, err.Error())
	}

	if !exists {
		return rejected(ev.EventID, ErrCodeUnknownItem, "item does not exist in project")
	}

	tsEffective := clock.ClampSkew(ev.TSClient, now, e.skewWindow)

	outcome, err := e.store.ApplyEvent(ctx, storage.DecisionEvent{
		ProjectID:         projectID,
		UserID:            userID,
		EventID:           ev.EventID,
		ItemID:            ev.ItemID,
		DecisionID:        ev.DecisionID,
		Note:              ev.Note,
		TSClient:          ev.TSClient,
		TSClientEffective: tsEffective,
		TSServer:          now,
	})
	if err != nil {
		return rejected(ev.EventID, ErrCodeValidation, err.Error())
	}

	return Result{EventID: ev.EventID, Outcome: string(outcome)}
}

func validateShape(ev Event, schema storage.DecisionSchema) (code, message string) {
	if _, err := uuid.Parse(ev.EventID); err != nil {
		return ErrCodeValidation, "event_id must be a UUID"
	}

	if _, err := uuid.Parse(ev.ItemID); err != nil {
		return ErrCodeValidation, "item_id must be a UUID"
	}

	if len(ev.Note) > maxNoteLen {
		return ErrCodeInvalidNote, "note exceeds maximum length"
	}

	if !schema.AllowNotes && ev.Note != "" {
		return ErrCodeInvalidNote, "project schema does not allow notes"
	}

	if !isKnownChoice(schema, ev.DecisionID) {
		return ErrCodeInvalidDecisionID, "decision_id is not a valid choice for the active schema"
	}

	return "", ""
}

func isKnownChoice(schema storage.DecisionSchema, decisionID string) bool {
	for _, choice := range schema.Choices {
		if choice.ID == decisionID {
			return true
		}
	}

	return false
}

func rejected(eventID, code, message string) Result {
	return Result{EventID: eventID, Outcome: "rejected", ErrorCode: code, Error: message}
}
