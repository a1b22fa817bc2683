// Package aitest provides a scripted eino chat model for tests.
package aitest

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Call captures one Generate invocation.
type Call struct {
	Input   []*schema.Message
	Options *model.Options
}

// HandlerFunc produces the reply for one call.
type HandlerFunc func(call Call) (*schema.Message, error)

// ChatModel implements model.BaseChatModel by delegating to a HandlerFunc.
type ChatModel struct {
	handler HandlerFunc

	mu    sync.Mutex
	calls []Call
}

var _ model.BaseChatModel = (*ChatModel)(nil)

// New returns a ChatModel driven by handler.
func New(handler HandlerFunc) *ChatModel {
	return &ChatModel{handler: handler}
}

// Reply returns a ChatModel that always answers text with the given token usage.
func Reply(text string, promptTokens, completionTokens int) *ChatModel {
	return New(func(Call) (*schema.Message, error) {
		return Message(text, promptTokens, completionTokens), nil
	})
}

// Fail returns a ChatModel whose calls all fail with err.
func Fail(err error) *ChatModel {
	return New(func(Call) (*schema.Message, error) {
		return nil, err
	})
}

// Message builds an assistant message carrying token usage.
func Message(text string, promptTokens, completionTokens int) *schema.Message {
	msg := schema.AssistantMessage(text, nil)
	if promptTokens > 0 || completionTokens > 0 {
		msg.ResponseMeta = &schema.ResponseMeta{
			FinishReason: "stop",
			Usage: &schema.TokenUsage{
				PromptTokens:     promptTokens,
				CompletionTokens: completionTokens,
				TotalTokens:      promptTokens + completionTokens,
			},
		}
	}
	return msg
}

// Generate implements model.BaseChatModel.
func (m *ChatModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	call := Call{
		Input:   append([]*schema.Message(nil), input...),
		Options: model.GetCommonOptions(&model.Options{}, opts...),
	}
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
	return m.handler(call)
}

// Stream implements model.BaseChatModel with a single-chunk stream.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// Calls returns the recorded calls.
func (m *ChatModel) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount returns how many times Generate ran.
func (m *ChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
