package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/aiconfig-chat/backend/internal/model/chat"
	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/aiconfig"
)

var (
	// ErrConfiguration reports a disabled config, a config without a model, or a
	// process started without inference credentials.
	ErrConfiguration = errors.New("ai config not usable")

	errEmptyResponse = errors.New("provider returned no message")
)

// InferenceError wraps a failed provider call.
type InferenceError struct {
	Model string
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("error invoking model %s: %v", e.Model, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// Result is the outcome of one successful model call.
type Result struct {
	Text     string
	Duration time.Duration
	Usage    aiconfig.Usage
}

// Invoker sends a conversation to the chat model selected by a resolved config.
type Invoker struct {
	chatModel model.BaseChatModel
	logger    *slog.Logger
}

// NewInvoker creates an Invoker. chatModel may be nil when the process runs without
// inference credentials; every call then fails with ErrConfiguration.
func NewInvoker(chatModel model.BaseChatModel, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{chatModel: chatModel, logger: logger}
}

// Converse sends history to the model of cfg and reports the call to cfg's tracker.
// It never modifies history.
func (inv *Invoker) Converse(ctx context.Context, cfg aiconfig.Config, history []chat.Message) (*Result, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("%w: config %q is disabled", ErrConfiguration, cfg.Key)
	}
	if !cfg.Usable() {
		return nil, fmt.Errorf("%w: config %q has no model", ErrConfiguration, cfg.Key)
	}
	if inv.chatModel == nil {
		return nil, fmt.Errorf("%w: chat model unavailable", ErrConfiguration)
	}

	modelName := cfg.Model.Name
	opts, ignored := modelOptions(cfg.Model)
	if len(ignored) > 0 {
		inv.logger.Debug("ignoring unsupported model parameters", "config_key", cfg.Key, "params", ignored)
	}

	tracker := cfg.TrackerOrNop()
	start := time.Now()
	resp, err := inv.chatModel.Generate(ctx, BuildMessages(history), opts...)
	duration := time.Since(start)

	if err == nil && resp == nil {
		err = errEmptyResponse
	}
	if err != nil {
		aiconfig.BestEffort(inv.logger, "track_error", func() {
			tracker.TrackDuration(duration)
			tracker.TrackError()
		})
		return nil, &InferenceError{Model: modelName, Err: err}
	}

	result := &Result{
		Text:     firstText(resp),
		Duration: duration,
		Usage:    usageOf(resp),
	}

	aiconfig.BestEffort(inv.logger, "track_success", func() {
		tracker.TrackDuration(duration)
		if result.Usage.Total() > 0 {
			tracker.TrackTokens(result.Usage)
		}
		tracker.TrackSuccess()
	})

	inv.logger.Debug("model call finished",
		"config_key", cfg.Key,
		"model", modelName,
		"duration", duration,
		"tokens", result.Usage.Total(),
	)
	return result, nil
}

// BuildMessages places every system message first, as the system prompt, followed by
// the remaining turns in their original order.
func BuildMessages(history []chat.Message) []*schema.Message {
	system := make([]*schema.Message, 0, 2)
	turns := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case chat.RoleSystem:
			system = append(system, schema.SystemMessage(msg.Content))
		case chat.RoleAssistant:
			turns = append(turns, schema.AssistantMessage(msg.Content, nil))
		default:
			turns = append(turns, schema.UserMessage(msg.Content))
		}
	}
	return append(system, turns...)
}

func firstText(msg *schema.Message) string {
	if msg.Content != "" {
		return msg.Content
	}
	for _, part := range msg.MultiContent {
		if part.Type == schema.ChatMessagePartTypeText && part.Text != "" {
			return part.Text
		}
	}
	return ""
}

func usageOf(msg *schema.Message) aiconfig.Usage {
	if msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return aiconfig.Usage{}
	}
	u := msg.ResponseMeta.Usage
	return aiconfig.Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  u.TotalTokens,
	}
}
