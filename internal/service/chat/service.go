package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/zhouzirui/aiconfig-chat/backend/internal/model/chat"
	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/ai"
	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/aiconfig"
	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/judge"
)

var (
	ErrMessageRequired = errors.New("message is required")
	ErrSessionNotFound = errors.New("session not found")
)

// DefaultSessionID is used when a client does not name its session.
const DefaultSessionID = "default"

// SessionInitError reports that the chat config of a new session could not be resolved.
type SessionInitError struct {
	SessionID string
	Err       error
}

func (e *SessionInitError) Error() string {
	return fmt.Sprintf("failed to initialize chat session %q: %v", e.SessionID, e.Err)
}

func (e *SessionInitError) Unwrap() error {
	return e.Err
}

// Conversor runs a model call for a resolved config.
type Conversor interface {
	Converse(ctx context.Context, cfg aiconfig.Config, history []chat.Message) (*ai.Result, error)
}

// Options names the AI config keys used for every session.
type Options struct {
	ChatConfigKey  string
	JudgeConfigKey string
}

// TurnResult is the combined outcome of one chat turn.
type TurnResult struct {
	TurnID         string         `json:"turn_id"`
	Response       string         `json:"response"`
	Judge          *judge.Outcome `json:"judge"`
	JudgeAvailable bool           `json:"judge_available"`
	SessionID      string         `json:"session_id"`
	Model          string         `json:"model"`
	Duration       time.Duration  `json:"-"`
	Usage          aiconfig.Usage `json:"-"`
}

// Service keeps chat sessions in memory and runs conversation turns.
type Service struct {
	resolver  aiconfig.Resolver
	conversor Conversor
	evaluator *judge.Evaluator
	opts      Options
	logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	creating singleflight.Group
}

// NewService wires the session registry to its collaborators.
func NewService(resolver aiconfig.Resolver, conversor Conversor, evaluator *judge.Evaluator, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		resolver:  resolver,
		conversor: conversor,
		evaluator: evaluator,
		opts:      opts,
		logger:    logger,
		sessions:  make(map[string]*Session),
	}
}

// Lookup returns an existing session without creating one.
func (s *Service) Lookup(sessionID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	return session, ok
}

// GetOrCreate returns the session for sessionID, resolving its configs on first use.
// Concurrent first calls for the same id share a single creation. userID only matters
// for the call that creates the session.
func (s *Service) GetOrCreate(ctx context.Context, sessionID, userID string) (*Session, error) {
	if session, ok := s.Lookup(sessionID); ok {
		return session, nil
	}

	v, err, _ := s.creating.Do(sessionID, func() (any, error) {
		if session, ok := s.Lookup(sessionID); ok {
			return session, nil
		}
		session, err := s.create(ctx, sessionID, userID)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.sessions[sessionID] = session
		s.mu.Unlock()
		return session, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (s *Service) create(ctx context.Context, sessionID, userID string) (*Session, error) {
	identity := newIdentity(sessionID, userID)

	chatCfg, err := s.resolver.Resolve(ctx, identity, s.opts.ChatConfigKey, aiconfig.Disabled())
	if err != nil {
		return nil, &SessionInitError{SessionID: sessionID, Err: err}
	}

	var judgeCfg *aiconfig.Config
	if chatCfg.Enabled {
		judgeCfg = s.resolveJudge(ctx, identity)
	} else {
		s.logger.Warn("ai config is disabled for this context", "session_id", sessionID, "config_key", s.opts.ChatConfigKey)
	}

	session := newSession(sessionID, identity, chatCfg, judgeCfg)
	s.logger.Info("chat session created",
		"session_id", sessionID,
		"context_key", identity.Key(),
		"model", chatCfg.ModelName(),
		"judge_available", session.JudgeAvailable(),
	)
	return session, nil
}

func (s *Service) resolveJudge(ctx context.Context, identity aiconfig.Identity) *aiconfig.Config {
	if s.opts.JudgeConfigKey == "" {
		return nil
	}
	cfg, err := s.resolver.Resolve(ctx, identity, s.opts.JudgeConfigKey, aiconfig.Disabled())
	if err != nil {
		s.logger.Warn("judge config unavailable", "config_key", s.opts.JudgeConfigKey, "error", err)
		return nil
	}
	if !cfg.Enabled {
		s.logger.Info("judge config is disabled or not found", "config_key", s.opts.JudgeConfigKey)
	}
	return &cfg
}

// newIdentity derives the config-resolution identity of a session.
func newIdentity(sessionID, userID string) aiconfig.Identity {
	key := strings.TrimSpace(userID)
	if key == "" {
		key = "user-" + sessionID
	}
	return aiconfig.NewIdentity(key, map[string]string{
		"firstName": "User",
		"lastName":  "Demo",
		"email":     "user-" + sessionID + "@example.com",
	})
}

// Invoke appends message as a user turn, asks the chat model for a reply and appends
// it. When the model call fails the user turn is removed again, so the history keeps
// alternating user/assistant.
func (s *Service) Invoke(ctx context.Context, session *Session, message string) (*ai.Result, error) {
	session.mu.Lock()
	defer session.mu.Unlock()

	mark := session.conversation.Len()
	session.conversation.Append(chat.Message{Role: chat.RoleUser, Content: message})

	result, err := s.conversor.Converse(ctx, session.ChatConfig, session.conversation.Messages())
	if err != nil {
		session.conversation.Truncate(mark)
		return nil, err
	}

	session.conversation.Append(chat.Message{Role: chat.RoleAssistant, Content: result.Text})
	return result, nil
}

// Turn runs a full chat turn: session lookup, model reply and, when a judge is
// configured, the judge verdict.
func (s *Service) Turn(ctx context.Context, sessionID, userID, message string) (*TurnResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrMessageRequired
	}
	if sessionID == "" {
		sessionID = DefaultSessionID
	}

	session, err := s.GetOrCreate(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	judgeAvailable := session.JudgeAvailable()

	result, err := s.Invoke(ctx, session, message)
	if err != nil {
		s.logger.Error("chat turn failed", "session_id", sessionID, "error", err)
		return nil, err
	}

	turn := &TurnResult{
		TurnID:         uuid.NewString(),
		Response:       result.Text,
		JudgeAvailable: judgeAvailable,
		SessionID:      sessionID,
		Model:          session.ModelName(),
		Duration:       result.Duration,
		Usage:          result.Usage,
	}
	if judgeAvailable && s.evaluator != nil {
		turn.Judge = s.evaluator.Evaluate(ctx, session.JudgeConfig, session.Identity, message, result.Text)
	}

	attrs := []any{
		"session_id", sessionID,
		"turn_id", turn.TurnID,
		"model", turn.Model,
		"duration", result.Duration,
		"tokens", result.Usage.Total(),
	}
	if turn.Judge != nil && turn.Judge.AccuracyScore != nil {
		attrs = append(attrs, "accuracy", *turn.Judge.AccuracyScore)
	}
	s.logger.Info("chat turn completed", attrs...)
	return turn, nil
}

// History returns the conversation of an existing session.
func (s *Service) History(sessionID string) ([]chat.Message, string, error) {
	session, ok := s.Lookup(sessionID)
	if !ok {
		return nil, "", ErrSessionNotFound
	}
	return session.History(), session.ModelName(), nil
}

// Reset restores an existing session's conversation to its seed messages.
func (s *Service) Reset(sessionID string) error {
	session, ok := s.Lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	session.Reset()
	s.logger.Info("conversation reset", "session_id", sessionID)
	return nil
}
