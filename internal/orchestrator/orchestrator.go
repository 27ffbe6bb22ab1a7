// Package orchestrator drives task cycles: it kicks off image and
// message cycles on a session, executes each dispatched stage against
// the model gateway with bounded retry, and feeds completions back so
// the next wave of stages is dispatched. It never mutates session
// state itself; every transition goes through the session's serialized
// update methods.
package orchestrator

import (
	"log"
	"time"

	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/config"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/domain"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/gateway"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/graph"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/guide"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/prompt"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/session"
)

// TraceSink receives published events and completed assistant turns
// for durable storage. Writes are best effort and must not block the
// pipeline.
type TraceSink interface {
	AppendEvents(sessionID string, events []domain.Event)
	AppendTurn(sessionID string, t domain.Turn)
}

// Orchestrator executes stage graphs against the model gateway.
type Orchestrator struct {
	gw      gateway.Gateway
	prompts *prompt.Builder
	sink    TraceSink
	policy  config.RestartPolicy
	retry   int
	backoff time.Duration
}

// New creates an orchestrator. sink may be nil when tracing is off.
func New(gw gateway.Gateway, prompts *prompt.Builder, sink TraceSink, p config.PipelineConfig) *Orchestrator {
	return &Orchestrator{
		gw:      gw,
		prompts: prompts,
		sink:    sink,
		policy:  p.RestartPolicy,
		retry:   p.RetryAttempts,
		backoff: p.RetryBackoff(),
	}
}

// StartImageCycle starts (or restarts) the image-triggered part of the
// graph. A restart follows the configured policy: cancel aborts the
// superseded cycle's in-flight calls, drain lets them finish and
// discards their results.
func (o *Orchestrator) StartImageCycle(s *session.Session, image []byte, mime string) error {
	upd, err := s.BeginImageCycle(image, mime, o.policy == config.RestartCancel)
	if err != nil {
		return err
	}
	o.trace(s.ID(), upd.Events)
	o.dispatch(s, upd)
	return nil
}

// StartMessageCycle triggers the message stages with the given user
// content. During guided tutoring, an escape phrase drops the session
// back to plain chat before the reply is dispatched.
func (o *Orchestrator) StartMessageCycle(s *session.Session, content string) error {
	if s.GuideActive() && guide.IsEscape(content) {
		s.EndGuide()
		log.Printf("INFO: guided mode ended by escape phrase: session=%s", s.ID())
	}
	upd, err := s.BeginMessageCycle(content)
	if err != nil {
		return err
	}
	o.trace(s.ID(), upd.Events)
	o.dispatch(s, upd)
	return nil
}

// StartGuidedCycle switches the session into step-by-step tutoring and
// dispatches the first guiding turn.
func (o *Orchestrator) StartGuidedCycle(s *session.Session, steps []domain.GuidedStep) error {
	upd, err := s.StartGuide(steps)
	if err != nil {
		return err
	}
	o.trace(s.ID(), upd.Events)
	o.dispatch(s, upd)
	return nil
}

// dispatch runs every newly started stage in its own goroutine.
func (o *Orchestrator) dispatch(s *session.Session, upd session.CycleUpdate) {
	for _, d := range upd.Started {
		go o.execute(s, d)
	}
}

// execute runs one stage to completion, retrying transient upstream
// failures, then reports the outcome and dispatches whatever became
// ready because of it.
func (o *Orchestrator) execute(s *session.Session, d session.Dispatch) {
	value, err := o.invoke(s, d)

	upd, ok := s.CompleteStage(d.Epoch, d.Name, value, err)
	if !ok {
		log.Printf("INFO: discarding stale completion: session=%s stage=%s epoch=%d", s.ID(), d.Name, d.Epoch)
		return
	}
	if err != nil {
		log.Printf("ERROR: stage failed: session=%s stage=%s err=%v", s.ID(), d.Name, err)
	}
	o.trace(s.ID(), upd.Events)
	if err == nil && o.sink != nil {
		if st, ok := s.Graph().Stage(d.Name); ok && st.Trigger == graph.TriggerMessage {
			o.sink.AppendTurn(s.ID(), domain.Turn{Role: "assistant", Content: value, CreatedAt: time.Now()})
		}
	}
	if upd.Terminal {
		log.Printf("INFO: cycle finished: session=%s status=%s", s.ID(), upd.Status)
	}
	o.dispatch(s, upd)
}

// invoke calls the gateway with up to retry attempts and a linearly
// growing backoff. Only transient failures (timeouts, 429, 5xx) are
// retried; a cancelled cycle stops immediately.
func (o *Orchestrator) invoke(s *session.Session, d session.Dispatch) (string, error) {
	ctx := d.Ctx
	req, err := o.prompts.Build(d.Name, d.Role, d.Input)
	if err != nil {
		return "", err
	}
	if ov, ok := s.Override(d.Role); ok {
		req.Override = &ov
	}

	var lastErr error
	for attempt := 1; attempt <= o.retry; attempt++ {
		value, err := o.gw.Invoke(ctx, req)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if !domain.IsRetryable(err) || ctx.Err() != nil {
			break
		}
		if attempt < o.retry {
			log.Printf("WARN: retrying stage %s (attempt %d/%d): %v", d.Name, attempt, o.retry, err)
			select {
			case <-ctx.Done():
				return "", lastErr
			case <-time.After(o.backoff * time.Duration(attempt)):
			}
		}
	}
	return "", lastErr
}

func (o *Orchestrator) trace(sessionID string, events []domain.Event) {
	if o.sink == nil || len(events) == 0 {
		return
	}
	o.sink.AppendEvents(sessionID, events)
}
