package chat

import (
	"sync"
	"time"

	"github.com/zhouzirui/aiconfig-chat/backend/internal/model/chat"
	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/aiconfig"
	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/judge"
)

// Session binds one conversation to the configs resolved when it was created.
// Configs are resolved once and kept for the lifetime of the process.
type Session struct {
	ID          string
	Identity    aiconfig.Identity
	ChatConfig  aiconfig.Config
	JudgeConfig *aiconfig.Config
	CreatedAt   time.Time

	mu           sync.Mutex
	conversation *chat.Conversation
}

func newSession(id string, identity aiconfig.Identity, chatCfg aiconfig.Config, judgeCfg *aiconfig.Config) *Session {
	return &Session{
		ID:           id,
		Identity:     identity,
		ChatConfig:   chatCfg,
		JudgeConfig:  judgeCfg,
		CreatedAt:    time.Now().UTC(),
		conversation: chat.NewConversation(chatCfg.Messages),
	}
}

// History returns a copy of the conversation.
func (s *Session) History() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversation.Messages()
}

// Reset truncates the conversation to the seed messages of the chat config.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversation.Reset()
}

// JudgeAvailable reports whether turns of this session are judged.
func (s *Session) JudgeAvailable() bool {
	return judge.Available(s.JudgeConfig)
}

// ModelName returns the chat model name, or "Unknown".
func (s *Session) ModelName() string {
	return s.ChatConfig.ModelName()
}
