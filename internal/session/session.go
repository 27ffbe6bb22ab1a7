// Package session holds the per-session state and the registry that
// owns session lifecycle. All mutation of a session's stage results
// goes through methods that hold the session lock, so the ready-set
// computation never observes a partially updated result map, and event
// publication happens in the same critical section as the state
// transition it reports.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/domain"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/graph"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/pubsub"
)

// guideKickoff is the synthetic message that starts the first guided
// turn. It never appears in the recorded conversation.
const guideKickoff = "开始"

// Session is one tutoring session: conversation context, the stage
// results of its current task cycle, and the event publisher feeding
// its subscribers.
type Session struct {
	id        string
	createdAt time.Time
	graph     *graph.Graph
	publisher *pubsub.Publisher
	overrides map[domain.Role]domain.ModelOverride // read-only after create

	mu          sync.Mutex
	lastActive  time.Time
	image       []byte
	imageMIME   string
	history     []domain.Turn
	lastMessage string
	results     map[string]domain.StageResult
	epochs      map[string]uint64
	imageCtx    context.Context
	cancelImage context.CancelFunc
	chatCtx     context.Context
	cancelChat  context.CancelFunc
	guide       *guideProgress
	closed      bool
}

// guideProgress tracks the session's position in the guided tutoring
// plan. Each completed chat turn advances one step.
type guideProgress struct {
	steps []domain.GuidedStep
	index int
	done  bool
}

func newSession(id string, g *graph.Graph, buffer int, overrides map[domain.Role]domain.ModelOverride) *Session {
	now := time.Now()
	chatCtx, cancelChat := context.WithCancel(context.Background())
	return &Session{
		id:         id,
		createdAt:  now,
		lastActive: now,
		graph:      g,
		publisher:  pubsub.New(id, buffer),
		overrides:  overrides,
		results:    make(map[string]domain.StageResult),
		epochs:     make(map[string]uint64),
		chatCtx:    chatCtx,
		cancelChat: cancelChat,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Graph returns the session's stage graph.
func (s *Session) Graph() *graph.Graph { return s.graph }

// Override returns the per-session model override for a role, if any.
// The override map is frozen at creation so no lock is needed.
func (s *Session) Override(role domain.Role) (domain.ModelOverride, bool) {
	ov, ok := s.overrides[role]
	return ov, ok
}

// Dispatch is one stage execution handed to the orchestrator: the
// gathered input plus the epoch and context scoping its lifetime. A
// completion is only accepted while its epoch is still the stage's
// current one.
type Dispatch struct {
	domain.DispatchedStage
	Epoch uint64
	Ctx   context.Context
}

// CycleUpdate describes the outcome of one serialized state change:
// the stages that became ready and were marked running, the events
// published while the lock was held, and whether the cycle reached a
// terminal state.
type CycleUpdate struct {
	Started  []Dispatch
	Events   []domain.Event
	Terminal bool
	Status   domain.SessionStatus
}

// BeginImageCycle stores the new image, resets every image-dependent
// stage, and dispatches the initial ready set. Re-dispatched stages get
// a fresh epoch so completions from the superseded run are ignored.
// Stages outside the image-dependent closure, including an in-flight
// chat reply, keep their state and epoch and settle normally. When
// cancelInFlight is set the previous image context is cancelled;
// otherwise superseded calls drain and their stale results are dropped
// on arrival.
func (s *Session) BeginImageCycle(image []byte, mime string, cancelInFlight bool) (CycleUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return CycleUpdate{}, domain.ErrSessionClosed
	}
	s.lastActive = time.Now()

	s.image = append([]byte(nil), image...)
	s.imageMIME = mime

	if cancelInFlight && s.cancelImage != nil {
		s.cancelImage()
	}
	s.imageCtx, s.cancelImage = context.WithCancel(context.Background())

	for _, name := range s.graph.ImageDependent() {
		st, _ := s.graph.Stage(name)
		if st.Trigger == graph.TriggerImage {
			s.results[name] = domain.StageResult{State: domain.StagePending}
		} else {
			delete(s.results, name)
		}
	}
	// A new problem voids the old step plan.
	s.guide = nil

	var upd CycleUpdate
	s.startReadyLocked(&upd)
	return upd, nil
}

// BeginMessageCycle appends the user turn and triggers the graph's
// message stages. A message stage already in flight is superseded: it
// is re-dispatched under a new epoch and the older completion is
// dropped when it lands. It fails with InvalidStateTransition when the
// graph has no message stages or a message stage's dependencies are
// not done yet (for example, a stage requiring extracted question text
// before any image was processed).
func (s *Session) BeginMessageCycle(content string) (CycleUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return CycleUpdate{}, domain.ErrSessionClosed
	}

	stages, err := s.messageStagesReadyLocked()
	if err != nil {
		return CycleUpdate{}, err
	}

	s.lastActive = time.Now()
	s.lastMessage = content
	s.history = append(s.history, domain.Turn{Role: "user", Content: content, CreatedAt: time.Now()})

	for _, st := range stages {
		s.results[st.Name] = domain.StageResult{State: domain.StagePending}
	}

	var upd CycleUpdate
	s.startReadyLocked(&upd)
	return upd, nil
}

// StartGuide switches the session into guided tutoring with the given
// step plan and dispatches the first guiding turn. The kickoff is
// synthetic, so no user turn is recorded.
func (s *Session) StartGuide(steps []domain.GuidedStep) (CycleUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return CycleUpdate{}, domain.ErrSessionClosed
	}
	if len(steps) == 0 {
		return CycleUpdate{}, domain.ErrInvalidStateTransition
	}

	stages, err := s.messageStagesReadyLocked()
	if err != nil {
		return CycleUpdate{}, err
	}

	s.lastActive = time.Now()
	s.guide = &guideProgress{steps: steps}
	s.lastMessage = guideKickoff

	for _, st := range stages {
		s.results[st.Name] = domain.StageResult{State: domain.StagePending}
	}

	var upd CycleUpdate
	s.startReadyLocked(&upd)
	return upd, nil
}

// GuideActive reports whether guided tutoring is in progress.
func (s *Session) GuideActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guide != nil && !s.guide.done
}

// EndGuide drops out of guided mode; subsequent messages get plain
// chat replies.
func (s *Session) EndGuide() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.guide != nil {
		s.guide.done = true
	}
}

// messageStagesReadyLocked returns the graph's message stages after
// checking every dependency is done.
func (s *Session) messageStagesReadyLocked() ([]graph.Stage, error) {
	stages := s.graph.Triggered(graph.TriggerMessage)
	if len(stages) == 0 {
		return nil, domain.ErrInvalidStateTransition
	}
	for _, st := range stages {
		for _, dep := range st.DependsOn {
			if s.results[dep].State != domain.StageDone {
				return nil, domain.ErrInvalidStateTransition
			}
		}
	}
	return stages, nil
}

// CompleteStage records the outcome of one stage execution. The update
// is discarded (ok=false) when the stage has been re-dispatched under
// a newer epoch or the session has closed. On failure, every stage
// transitively depending on the failed one is marked failed without
// being invoked. Newly ready stages are dispatched and terminal
// detection runs, all under the same lock.
func (s *Session) CompleteStage(epoch uint64, name, value string, stageErr error) (CycleUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return CycleUpdate{}, false
	}
	r, ok := s.results[name]
	if !ok || r.State != domain.StageRunning || epoch != s.epochs[name] {
		return CycleUpdate{}, false
	}
	s.lastActive = time.Now()

	var upd CycleUpdate
	now := time.Now()

	if stageErr == nil {
		r.State = domain.StageDone
		r.Value = value
		r.CompletedAt = now
		s.results[name] = r
		upd.Events = append(upd.Events, s.publisher.Publish(
			domain.EventStageDone, name, domain.StageDonePayload{Stage: name, Value: value}))

		if st, _ := s.graph.Stage(name); st.Trigger == graph.TriggerMessage {
			s.history = append(s.history, domain.Turn{Role: "assistant", Content: value, CreatedAt: now})
			if g := s.guide; g != nil && !g.done {
				g.index++
				if g.index >= len(g.steps) {
					g.done = true
				}
			}
		}
	} else {
		s.failStageLocked(&upd, name, stageErr.Error(), now)
	}

	s.startReadyLocked(&upd)

	if s.graph.IsTerminal(s.results) {
		upd.Terminal = true
		upd.Status = s.graph.DeriveStatus(s.results, len(s.image) > 0)
		upd.Events = append(upd.Events, s.publisher.Publish(
			domain.EventSessionDone, "", domain.SessionDonePayload{
				Status: upd.Status,
				Stages: s.resultsCopyLocked(),
			}))
	}
	return upd, true
}

// failStageLocked marks a stage failed and propagates the failure to
// every triggered stage downstream of it.
func (s *Session) failStageLocked(upd *CycleUpdate, name, errMsg string, now time.Time) {
	r := s.results[name]
	r.State = domain.StageFailed
	r.Error = errMsg
	r.CompletedAt = now
	s.results[name] = r
	upd.Events = append(upd.Events, s.publisher.Publish(
		domain.EventStageFailed, name, domain.StageFailedPayload{Stage: name, Error: errMsg}))

	for _, dep := range s.graph.Dependents(name) {
		dr, ok := s.results[dep]
		if !ok || dr.Settled() {
			continue
		}
		dr.State = domain.StageFailed
		dr.Error = domain.ErrDependencyFailed.Error() + ": " + name
		dr.CompletedAt = now
		s.results[dep] = dr
		upd.Events = append(upd.Events, s.publisher.Publish(
			domain.EventStageFailed, dep, domain.StageFailedPayload{Stage: dep, Error: dr.Error}))
	}
}

// startReadyLocked marks every ready stage running under a fresh
// epoch, publishes STAGE_STARTED for each, and gathers the inputs the
// orchestrator needs to execute them.
func (s *Session) startReadyLocked(upd *CycleUpdate) {
	for _, name := range s.graph.ReadyStages(s.results) {
		st, _ := s.graph.Stage(name)
		r := s.results[name]
		r.State = domain.StageRunning
		r.StartedAt = time.Now()
		s.results[name] = r
		s.epochs[name]++

		upd.Events = append(upd.Events, s.publisher.Publish(
			domain.EventStageStarted, name, map[string]string{"stage": name}))

		in := domain.StageInput{
			Outputs:  make(map[string]string, len(st.DependsOn)),
			Question: s.questionLocked(),
		}
		for _, dep := range st.DependsOn {
			in.Outputs[dep] = s.results[dep].Value
		}
		ctx := s.imageCtx
		if st.Trigger == graph.TriggerImage {
			in.Image = s.image
			in.ImageMIME = s.imageMIME
		} else {
			ctx = s.chatCtx
			in.Message = s.lastMessage
			// The current user turn rides in Message; history carries
			// only the turns before it.
			h := s.history
			if n := len(h); n > 0 && h[n-1].Role == "user" && h[n-1].Content == s.lastMessage {
				h = h[:n-1]
			}
			in.History = append([]domain.Turn(nil), h...)
			if g := s.guide; g != nil && !g.done {
				in.Guide = &domain.GuideContext{Step: g.steps[g.index], Total: len(g.steps)}
			}
		}
		upd.Started = append(upd.Started, Dispatch{
			DispatchedStage: domain.DispatchedStage{Name: name, Role: st.Role, Input: in},
			Epoch:           s.epochs[name],
			Ctx:             ctx,
		})
	}
}

// questionLocked returns the extracted question text once a vision
// stage has completed.
func (s *Session) questionLocked() string {
	for _, st := range s.graph.Stages() {
		if st.Role == domain.RoleVision && s.results[st.Name].State == domain.StageDone {
			return s.results[st.Name].Value
		}
	}
	return ""
}

func (s *Session) resultsCopyLocked() map[string]domain.StageResult {
	out := make(map[string]domain.StageResult, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out
}

// Snapshot returns the derived status and a copy of the stage results.
func (s *Session) Snapshot() domain.StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() domain.StatusSnapshot {
	return domain.StatusSnapshot{
		SessionID: s.id,
		Status:    s.graph.DeriveStatus(s.results, len(s.image) > 0),
		Stages:    s.resultsCopyLocked(),
	}
}

// StageValue returns the output of a stage that has completed.
func (s *Session) StageValue(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[name]
	if !ok || r.State != domain.StageDone {
		return "", false
	}
	return r.Value, true
}

// Subscribe attaches a new event subscriber. The catch-up status event
// is built and queued while the session lock is held, so it is always
// consistent with the events the subscriber will receive after it.
func (s *Session) Subscribe() (*pubsub.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrSessionClosed
	}
	s.lastActive = time.Now()
	return s.publisher.Subscribe(s.snapshotLocked())
}

// History returns a copy of the conversation history.
func (s *Session) History() []domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Turn(nil), s.history...)
}

// Touch refreshes the idle clock.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// CycleActive reports whether any stage of the current cycle is still
// pending or running. The registry's janitor never evicts an active
// session.
func (s *Session) CycleActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.results {
		if !r.Settled() {
			return true
		}
	}
	return false
}

// IdleFor reports whether the session has been idle longer than d.
func (s *Session) IdleFor(d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActive) > d
}

// closeIfIdle closes the session when it has been idle past ttl with
// no unsettled stage. The checks and the close happen under one lock,
// so a cycle started concurrently can never be torn down between a
// check and the close.
func (s *Session) closeIfIdle(ttl time.Duration) bool {
	s.mu.Lock()
	if s.closed || time.Since(s.lastActive) <= ttl {
		s.mu.Unlock()
		return false
	}
	for _, r := range s.results {
		if !r.Settled() {
			s.mu.Unlock()
			return false
		}
	}
	s.closeLocked()
	s.mu.Unlock()

	s.publisher.Close()
	return true
}

// Close cancels any in-flight stages, drops the image payload, and
// closes the publisher, ending all live subscriptions. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closeLocked()
	s.mu.Unlock()

	s.publisher.Close()
}

// closeLocked marks the session closed, which also orphans in-flight
// completions, and cancels both stage contexts.
func (s *Session) closeLocked() {
	s.closed = true
	if s.cancelImage != nil {
		s.cancelImage()
	}
	s.cancelChat()
	s.image = nil
}
