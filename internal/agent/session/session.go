// Package session ties one conversation together: each submitted turn flows
// classifier -> dispatcher -> composer, and the answer is appended to the
// session's history.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/schema"
	"github.com/portfolio-agent-poc/server/internal/agent/classify"
	"github.com/portfolio-agent-poc/server/internal/agent/composer"
	"github.com/portfolio-agent-poc/server/internal/agent/dispatch"
	"github.com/portfolio-agent-poc/server/internal/agent/model"
	logx "github.com/portfolio-agent-poc/server/pkg/logger"
)

// ErrTurnSuperseded reports that a newer query arrived while this turn was
// in flight. The turn drained to completion but its answer was discarded and
// not recorded in history.
var ErrTurnSuperseded = errors.New("turn superseded by a newer query")

type Session struct {
	id              string
	classifier      *classify.Classifier
	dispatcher      *dispatch.Dispatcher
	composer        *composer.Composer
	history         model.ConversationRepository
	maxHistoryTurns int

	mu          sync.Mutex
	nextTurn    int
	currentTurn int
}

func New(id string, cl *classify.Classifier, d *dispatch.Dispatcher, cp *composer.Composer, history model.ConversationRepository, cfg model.ConversationConfig) *Session {
	maxTurns := cfg.History.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &Session{
		id:              id,
		classifier:      cl,
		dispatcher:      d,
		composer:        cp,
		history:         history,
		maxHistoryTurns: maxTurns,
		currentTurn:     -1,
	}
}

// Submit runs one user turn end to end. Tool failures degrade to partial or
// empty grounding; only a reasoning model failure surfaces as an error. When
// a newer submit supersedes this turn mid-flight, the in-flight work drains
// and ErrTurnSuperseded is returned instead of the answer.
func (s *Session) Submit(ctx context.Context, text string) (model.Answer, error) {
	s.mu.Lock()
	turn := s.nextTurn
	s.nextTurn++
	s.currentTurn = turn
	s.mu.Unlock()

	q := model.Query{Text: text, TurnIndex: turn, SessionID: s.id}

	// History is read-only input to the classifier; a load failure degrades
	// to classification without cross-turn references rather than failing
	// the turn.
	var past []*schema.Message
	if hist, err := s.history.LoadHistory(ctx, s.id); err != nil {
		logx.Warn().Err(err).Str("session", s.id).Msg("failed to load history, classifying without it")
	} else {
		past = trimTail(hist.Messages, s.maxHistoryTurns)
	}

	invocations := s.classifier.Classify(q, past)
	logx.Debug().Str("session", s.id).Int("turn", turn).Int("invocations", len(invocations)).Msg("query classified")

	results := s.dispatcher.Dispatch(ctx, invocations)

	// A turn superseded during dispatch drains here without paying for a
	// model call whose answer would be discarded anyway.
	if s.superseded(turn) {
		logx.Debug().Str("session", s.id).Int("turn", turn).Msg("turn superseded, skipping composition")
		return model.Answer{}, ErrTurnSuperseded
	}

	answer, err := s.composer.Compose(ctx, q, results)
	if err != nil {
		return model.Answer{}, err
	}

	if s.superseded(turn) {
		logx.Debug().Str("session", s.id).Int("turn", turn).Msg("turn superseded, discarding answer")
		return model.Answer{}, ErrTurnSuperseded
	}

	// Best effort: a history write failure must not cost the caller the
	// answer that was already produced.
	if err := s.history.AddMessage(ctx, s.id, model.UserMessage(q)); err != nil {
		logx.Warn().Err(err).Str("session", s.id).Msg("failed to record user turn")
	} else if err := s.history.AddMessage(ctx, s.id, model.AssistantMessage(answer)); err != nil {
		logx.Warn().Err(err).Str("session", s.id).Msg("failed to record answer")
	}

	return answer, nil
}

func (s *Session) superseded(turn int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTurn != turn
}

// trimTail keeps the most recent maxTurns messages.
func trimTail(messages []*schema.Message, maxTurns int) []*schema.Message {
	if len(messages) <= maxTurns {
		return messages
	}
	return messages[len(messages)-maxTurns:]
}
