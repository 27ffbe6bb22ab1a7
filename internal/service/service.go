// Package service is the application layer the transports call into.
// It resolves sessions, validates inputs, kicks the orchestrator, and
// mirrors durable facts into the trace store.
package service

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/domain"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/graph"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/guide"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/orchestrator"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/pubsub"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/repository"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/session"
)

// Greeting is sent back on session creation so the client has
// something to render before the first image arrives.
const Greeting = "你好！我是你的生物学习助手。拍一张题目照片发给我，我们一起来分析。"

// Service wires the registry, orchestrator and trace store together.
type Service struct {
	registry *session.Registry
	orch     *orchestrator.Orchestrator
	store    *repository.SQLiteStore // nil when tracing is disabled
}

// New creates the service. store may be nil.
func New(registry *session.Registry, orch *orchestrator.Orchestrator, store *repository.SQLiteStore) *Service {
	return &Service{registry: registry, orch: orch, store: store}
}

// CreateSession registers a new session. overrides may be nil; when
// given, they replace the configured models for this session only.
func (s *Service) CreateSession(ctx context.Context, overrides map[domain.Role]domain.ModelOverride) domain.SessionInfo {
	sess := s.registry.Create(overrides)
	if s.store != nil {
		if err := s.store.CreateSession(ctx, sess.ID(), sess.CreatedAt()); err != nil {
			log.Printf("WARN: session trace write failed: %v", err)
		}
	}
	return domain.SessionInfo{SessionID: sess.ID(), Greeting: Greeting, CreatedAt: sess.CreatedAt()}
}

// UploadImage attaches a photographed problem to the session and
// starts (or restarts) the analysis cycle.
func (s *Service) UploadImage(id string, data []byte, mime string) error {
	if !strings.HasPrefix(mime, "image/") || len(data) == 0 {
		return domain.ErrUnsupportedMedia
	}
	sess := s.registry.Get(id)
	if sess == nil {
		return domain.ErrSessionNotFound
	}
	return s.orch.StartImageCycle(sess, data, mime)
}

// SendMessage appends a user chat turn and triggers the reply stages.
func (s *Service) SendMessage(id, content string) error {
	sess := s.registry.Get(id)
	if sess == nil {
		return domain.ErrSessionNotFound
	}
	if err := s.orch.StartMessageCycle(sess, content); err != nil {
		return err
	}
	if s.store != nil {
		s.store.AppendTurn(id, domain.Turn{Role: "user", Content: content, CreatedAt: time.Now()})
	}
	return nil
}

// StartGuide picks the tutoring mode once the analysis pipeline has
// finished. The student's choice text decides: "1" or 引导 selects
// step-by-step guidance built from the solving-steps breakdown, any
// other choice returns the stored solution outright. An empty choice
// defaults to guided.
func (s *Service) StartGuide(id, choice string) (domain.GuideInfo, error) {
	sess := s.registry.Get(id)
	if sess == nil {
		return domain.GuideInfo{}, domain.ErrSessionNotFound
	}

	if choice != "" && guide.ParseStyle(choice) == guide.StyleDirect {
		answer, ok := sess.StageValue(graph.StageDeepAnswer)
		if !ok {
			return domain.GuideInfo{}, domain.ErrInvalidStateTransition
		}
		return domain.GuideInfo{Mode: string(guide.StyleDirect), Answer: answer}, nil
	}

	chain, ok := sess.StageValue(graph.StageLogicChain)
	if !ok {
		return domain.GuideInfo{}, domain.ErrInvalidStateTransition
	}
	steps := guide.Steps(chain)
	if len(steps) == 0 {
		log.Printf("WARN: no usable steps in solving breakdown, answering directly: session=%s", id)
		answer, ok := sess.StageValue(graph.StageDeepAnswer)
		if !ok {
			return domain.GuideInfo{}, domain.ErrInvalidStateTransition
		}
		return domain.GuideInfo{Mode: string(guide.StyleDirect), Answer: answer}, nil
	}

	if err := s.orch.StartGuidedCycle(sess, steps); err != nil {
		return domain.GuideInfo{}, err
	}
	return domain.GuideInfo{Mode: string(guide.StyleGuided), Steps: steps}, nil
}

// Subscribe attaches a live event subscriber to the session.
func (s *Service) Subscribe(id string) (*pubsub.Subscriber, error) {
	sess := s.registry.Get(id)
	if sess == nil {
		return nil, domain.ErrSessionNotFound
	}
	return sess.Subscribe()
}

// Status returns the derived session status and per-stage results.
func (s *Service) Status(id string) (domain.StatusSnapshot, error) {
	sess := s.registry.Get(id)
	if sess == nil {
		return domain.StatusSnapshot{}, domain.ErrSessionNotFound
	}
	return sess.Snapshot(), nil
}

// Messages returns the conversation history, oldest first.
func (s *Service) Messages(id string) ([]domain.Turn, error) {
	sess := s.registry.Get(id)
	if sess == nil {
		return nil, domain.ErrSessionNotFound
	}
	return sess.History(), nil
}

// CloseSession ends a session and drops its live state. The persisted
// trace is retained.
func (s *Service) CloseSession(id string) error {
	if !s.registry.Evict(id) {
		return domain.ErrSessionNotFound
	}
	return nil
}
