package domain

import "encoding/json"

// EventKind represents the type of a session event.
type EventKind string

const (
	EventStageStarted  EventKind = "STAGE_STARTED"
	EventStageDone     EventKind = "STAGE_DONE"
	EventStageFailed   EventKind = "STAGE_FAILED"
	EventSessionStatus EventKind = "SESSION_STATUS"
	EventSessionDone   EventKind = "SESSION_DONE"
)

// Event is one entry in a session's live event stream. Sequence is
// monotonic per session, starting at 1; the synthetic catch-up event a
// new subscriber receives carries the sequence of the last published
// event instead of consuming a fresh number.
type Event struct {
	SessionID string          `json:"session_id"`
	Stage     string          `json:"stage,omitempty"` // empty for session-level events
	Kind      EventKind       `json:"kind"`
	Sequence  uint64          `json:"sequence"`
	Ts        int64           `json:"ts"` // Unix milliseconds
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// StageDonePayload is the payload for STAGE_DONE events.
type StageDonePayload struct {
	Stage string `json:"stage"`
	Value string `json:"value"`
}

// StageFailedPayload is the payload for STAGE_FAILED events.
type StageFailedPayload struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// SessionDonePayload is the payload for SESSION_DONE events.
type SessionDonePayload struct {
	Status SessionStatus          `json:"status"`
	Stages map[string]StageResult `json:"stages"`
}
