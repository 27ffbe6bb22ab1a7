// Package domain defines the core domain models for the tutoring orchestrator.
package domain

import "time"

// SessionStatus represents the derived status of a session.
//
// Status is never stored independently: it is computed from the stage
// results plus whether an image is present, so the reported status can
// never drift from actual pipeline progress.
type SessionStatus string

const (
	SessionStatusCreated       SessionStatus = "CREATED"
	SessionStatusImageReceived SessionStatus = "IMAGE_RECEIVED"
	SessionStatusProcessing    SessionStatus = "PROCESSING"
	SessionStatusAwaitingInput SessionStatus = "AWAITING_INPUT"
	SessionStatusCompleted     SessionStatus = "COMPLETED"
	SessionStatusFailed        SessionStatus = "FAILED"
)

// StageState represents the state of a single pipeline stage.
type StageState string

const (
	StagePending StageState = "pending"
	StageRunning StageState = "running"
	StageDone    StageState = "done"
	StageFailed  StageState = "failed"
)

// StageResult holds the runtime state of one stage within a task cycle.
// A stage only has a StageResult once a cycle that includes it has started.
type StageResult struct {
	State       StageState `json:"state"`
	Value       string     `json:"value,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at,omitzero"`
	CompletedAt time.Time  `json:"completed_at,omitzero"`
}

// Settled reports whether the stage has reached a terminal state.
func (r StageResult) Settled() bool {
	return r.State == StageDone || r.State == StageFailed
}

// Turn is a single message turn in a session's conversation history.
type Turn struct {
	Role      string    `json:"role"` // user, assistant
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Role identifies a logical model capability. Each pipeline stage is
// bound to exactly one role.
type Role string

const (
	RoleVision        Role = "vision"
	RoleDeepReasoning Role = "deep_reasoning"
	RoleQuickSummary  Role = "quick_summary"
)

// ModelOverride is a per-session replacement for one role's configured
// model. It only takes effect when it carries its own API key; a bare
// model name falls back to the server-side default.
type ModelOverride struct {
	Model  string `json:"model"`
	APIKey string `json:"api_key"`
}

// GuidedStep is one step of the guided tutoring plan, derived from the
// solving-steps breakdown of the current problem.
type GuidedStep struct {
	Index       int    `json:"index"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Question    string `json:"question"`
}

// GuideContext scopes a chat turn to the current guided tutoring step.
type GuideContext struct {
	Step  GuidedStep
	Total int
}

// GuideInfo describes the tutoring mode chosen for a session: the step
// plan for guided mode, or the stored solution for direct mode.
type GuideInfo struct {
	Mode   string       `json:"mode"` // "guided" or "direct"
	Steps  []GuidedStep `json:"steps,omitempty"`
	Answer string       `json:"answer,omitempty"`
}

// StageInput is the gathered input for one stage invocation: the outputs
// of its dependency stages plus the session context the prompt builder
// may need. The orchestrator assembles it under the session lock so a
// stage never observes a half-updated result map.
type StageInput struct {
	Outputs   map[string]string // dependency stage name -> output
	Question  string            // extracted question text, when available
	Message   string            // latest user message (message-triggered stages)
	History   []Turn
	Image     []byte
	ImageMIME string
	Guide     *GuideContext // set while guided tutoring is active
}

// DispatchedStage is a stage the session has marked running and handed
// to the orchestrator for execution.
type DispatchedStage struct {
	Name  string
	Role  Role
	Input StageInput
}

// SessionInfo is the client-facing description of a newly created session.
type SessionInfo struct {
	SessionID string    `json:"session_id"`
	Greeting  string    `json:"greeting,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// StatusSnapshot is a point-in-time view of a session's progress.
type StatusSnapshot struct {
	SessionID string                 `json:"session_id"`
	Status    SessionStatus          `json:"status"`
	Stages    map[string]StageResult `json:"stages"`
}
