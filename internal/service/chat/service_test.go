package chat_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	modelchat "github.com/zhouzirui/aiconfig-chat/backend/internal/model/chat"
	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/ai"
	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/ai/aitest"
	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/aiconfig"
	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/aiconfig/aiconfigtest"
	chat "github.com/zhouzirui/aiconfig-chat/backend/internal/service/chat"
	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/judge"
)

const (
	chatKey  = "chat-assistant-config"
	judgeKey = "ld-ai-judge-accuracy"
)

var seed = []modelchat.Message{
	{Role: modelchat.RoleSystem, Content: "You are a helpful assistant."},
}

type fixture struct {
	svc       *chat.Service
	resolver  *aiconfigtest.Resolver
	chatModel *aitest.ChatModel
	telemetry *aiconfigtest.Telemetry
}

func newFixture(t *testing.T, configs map[string]aiconfig.Config, chatModel *aitest.ChatModel) fixture {
	t.Helper()
	resolver := aiconfigtest.NewResolver(configs)
	telemetry := &aiconfigtest.Telemetry{}
	invoker := ai.NewInvoker(chatModel, nil)
	evaluator := judge.NewEvaluator(invoker, telemetry, nil)
	svc := chat.NewService(resolver, invoker, evaluator, chat.Options{ChatConfigKey: chatKey, JudgeConfigKey: judgeKey}, nil)
	return fixture{svc: svc, resolver: resolver, chatModel: chatModel, telemetry: telemetry}
}

func chatOnly() map[string]aiconfig.Config {
	return map[string]aiconfig.Config{
		chatKey: {Enabled: true, Model: &aiconfig.ModelConfig{Name: "demo-model"}, Messages: seed},
	}
}

func withJudge() map[string]aiconfig.Config {
	configs := chatOnly()
	configs[judgeKey] = aiconfig.Config{Enabled: true, Model: &aiconfig.ModelConfig{Name: "judge-model"}}
	return configs
}

// routeByModel answers chat and judge calls differently.
func routeByModel(call aitest.Call) (*schema.Message, error) {
	if call.Options.Model != nil && *call.Options.Model == "judge-model" {
		return aitest.Message(`{"score": 90}`, 5, 1), nil
	}
	return aitest.Message("Hi there!", 10, 3), nil
}

func TestTurnWithoutJudge(t *testing.T) {
	f := newFixture(t, chatOnly(), aitest.Reply("Hello from the model", 4, 2))

	result, err := f.svc.Turn(context.Background(), "", "", "Hello")
	require.NoError(t, err)

	assert.Equal(t, "Hello from the model", result.Response)
	assert.False(t, result.JudgeAvailable)
	assert.Nil(t, result.Judge)
	assert.Equal(t, chat.DefaultSessionID, result.SessionID)
	assert.Equal(t, "demo-model", result.Model)
	assert.NotEmpty(t, result.TurnID)
	assert.Equal(t, 1, f.chatModel.CallCount())
	assert.Equal(t, 1, f.resolver.Calls(judgeKey), "judge config is resolved even when missing")
}

func TestTurnWithJudge(t *testing.T) {
	f := newFixture(t, withJudge(), aitest.New(routeByModel))

	result, err := f.svc.Turn(context.Background(), "s1", "alice", "Hello")
	require.NoError(t, err)

	assert.Equal(t, "Hi there!", result.Response)
	assert.True(t, result.JudgeAvailable)
	require.NotNil(t, result.Judge)
	require.NotNil(t, result.Judge.AccuracyScore)
	assert.InDelta(t, 0.9, *result.Judge.AccuracyScore, 1e-9)

	events, flushes := f.telemetry.Snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].ContextKey)
	assert.Equal(t, 1, flushes)

	history, _, err := f.svc.History("s1")
	require.NoError(t, err)
	assert.Len(t, history, len(seed)+2, "judge calls never touch the chat history")
}

func TestTurnRequiresMessage(t *testing.T) {
	f := newFixture(t, chatOnly(), aitest.Reply("x", 0, 0))

	_, err := f.svc.Turn(context.Background(), "s1", "", "   ")
	assert.ErrorIs(t, err, chat.ErrMessageRequired)

	_, ok := f.svc.Lookup("s1")
	assert.False(t, ok)
}

func TestHistoryGrowsTwoPerTurn(t *testing.T) {
	f := newFixture(t, chatOnly(), aitest.Reply("answer", 0, 0))
	ctx := context.Background()

	const turns = 3
	for i := 0; i < turns; i++ {
		_, err := f.svc.Turn(ctx, "s1", "", "question")
		require.NoError(t, err)
	}

	history, model, err := f.svc.History("s1")
	require.NoError(t, err)
	assert.Equal(t, "demo-model", model)
	require.Len(t, history, len(seed)+2*turns)
	assert.Equal(t, seed, history[:len(seed)])
	for i, msg := range history[len(seed):] {
		if i%2 == 0 {
			assert.Equal(t, modelchat.RoleUser, msg.Role)
		} else {
			assert.Equal(t, modelchat.RoleAssistant, msg.Role)
		}
	}

	lastCall := f.chatModel.Calls()[turns-1]
	assert.Len(t, lastCall.Input, len(seed)+2*turns-1, "the whole history is replayed")
}

func TestResetRestoresSeed(t *testing.T) {
	f := newFixture(t, chatOnly(), aitest.Reply("answer", 0, 0))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.svc.Turn(ctx, "s1", "", "question")
		require.NoError(t, err)
	}
	require.NoError(t, f.svc.Reset("s1"))

	history, _, err := f.svc.History("s1")
	require.NoError(t, err)
	assert.Equal(t, seed, history)
}

func TestResetUnknownSession(t *testing.T) {
	f := newFixture(t, chatOnly(), aitest.Reply("answer", 0, 0))

	assert.ErrorIs(t, f.svc.Reset("missing"), chat.ErrSessionNotFound)
	_, ok := f.svc.Lookup("missing")
	assert.False(t, ok)
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	f := newFixture(t, chatOnly(), aitest.Reply("answer", 0, 0))
	ctx := context.Background()

	first, err := f.svc.GetOrCreate(ctx, "s1", "alice")
	require.NoError(t, err)
	second, err := f.svc.GetOrCreate(ctx, "s1", "bob")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, "alice", second.Identity.Key())
	assert.Equal(t, 1, f.resolver.Calls(chatKey))

	_, err = f.svc.Invoke(ctx, first, "hello")
	require.NoError(t, err)
	assert.Len(t, second.History(), len(seed)+2)
}

func TestGetOrCreateSyntheticIdentity(t *testing.T) {
	f := newFixture(t, chatOnly(), aitest.Reply("answer", 0, 0))

	session, err := f.svc.GetOrCreate(context.Background(), "abc", "")
	require.NoError(t, err)

	assert.Equal(t, "user-abc", session.Identity.Key())
	email, _ := session.Identity.Attribute("email")
	assert.Equal(t, "user-abc@example.com", email)
	first, _ := session.Identity.Attribute("firstName")
	assert.Equal(t, "User", first)
}

func TestGetOrCreateConcurrentCreatesOnce(t *testing.T) {
	f := newFixture(t, chatOnly(), aitest.Reply("answer", 0, 0))
	f.resolver.Delay = 20 * time.Millisecond

	const workers = 16
	sessions := make([]*chat.Session, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := f.svc.GetOrCreate(context.Background(), "shared", "")
			assert.NoError(t, err)
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range sessions[1:] {
		assert.Same(t, sessions[0], s)
	}
	assert.Equal(t, 1, f.resolver.Calls(chatKey))
}

func TestGetOrCreateFailsWhenChatConfigUnresolvable(t *testing.T) {
	f := newFixture(t, chatOnly(), aitest.Reply("answer", 0, 0))
	f.resolver.Fail[chatKey] = true

	_, err := f.svc.GetOrCreate(context.Background(), "s1", "")
	var initErr *chat.SessionInitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "s1", initErr.SessionID)
	assert.ErrorIs(t, err, aiconfig.ErrResolve)

	_, ok := f.svc.Lookup("s1")
	assert.False(t, ok)
}

func TestDisabledChatConfigSkipsJudge(t *testing.T) {
	configs := withJudge()
	configs[chatKey] = aiconfig.Config{Enabled: false}
	f := newFixture(t, configs, aitest.Reply("never", 0, 0))

	session, err := f.svc.GetOrCreate(context.Background(), "s1", "")
	require.NoError(t, err)
	assert.False(t, session.JudgeAvailable())
	assert.Zero(t, f.resolver.Calls(judgeKey))
	assert.Equal(t, aiconfig.UnknownModel, session.ModelName())

	_, err = f.svc.Turn(context.Background(), "s1", "", "Hello")
	assert.ErrorIs(t, err, ai.ErrConfiguration)
	assert.Zero(t, f.chatModel.CallCount())
	assert.Len(t, session.History(), 0)
}

func TestJudgeConfigFailureLeavesJudgeUnavailable(t *testing.T) {
	f := newFixture(t, withJudge(), aitest.New(routeByModel))
	f.resolver.Fail[judgeKey] = true

	result, err := f.svc.Turn(context.Background(), "s1", "", "Hello")
	require.NoError(t, err)
	assert.False(t, result.JudgeAvailable)
	assert.Nil(t, result.Judge)
}

func TestDisabledJudgeMakesNoJudgeCall(t *testing.T) {
	configs := withJudge()
	configs[judgeKey] = aiconfig.Config{Enabled: false, Model: &aiconfig.ModelConfig{Name: "judge-model"}}
	f := newFixture(t, configs, aitest.New(routeByModel))

	result, err := f.svc.Turn(context.Background(), "s1", "", "Hello")
	require.NoError(t, err)
	assert.False(t, result.JudgeAvailable)
	assert.Nil(t, result.Judge)
	assert.Equal(t, 1, f.chatModel.CallCount())
}

func TestFailedTurnRollsBackUserMessage(t *testing.T) {
	var mu sync.Mutex
	fail := true
	chatModel := aitest.New(func(aitest.Call) (*schema.Message, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return nil, errors.New("throttled")
		}
		return aitest.Message("recovered", 0, 0), nil
	})
	f := newFixture(t, chatOnly(), chatModel)
	ctx := context.Background()

	_, err := f.svc.Turn(ctx, "s1", "", "first")
	var inferenceErr *ai.InferenceError
	require.ErrorAs(t, err, &inferenceErr)

	history, _, err := f.svc.History("s1")
	require.NoError(t, err)
	assert.Equal(t, seed, history)

	mu.Lock()
	fail = false
	mu.Unlock()

	_, err = f.svc.Turn(ctx, "s1", "", "second")
	require.NoError(t, err)

	calls := chatModel.Calls()
	last := calls[len(calls)-1].Input
	require.Len(t, last, len(seed)+1)
	assert.Equal(t, "second", last[len(last)-1].Content)
}

func TestHistoryUnknownSession(t *testing.T) {
	f := newFixture(t, chatOnly(), aitest.Reply("answer", 0, 0))

	_, _, err := f.svc.History("nope")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
}
