package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	modelchat "github.com/zhouzirui/aiconfig-chat/backend/internal/model/chat"
	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/ai"
	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/ai/aitest"
	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/aiconfig"
	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/aiconfig/aiconfigtest"
	chatservice "github.com/zhouzirui/aiconfig-chat/backend/internal/service/chat"
	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/judge"
)

const (
	chatKey  = "chat-assistant-config"
	judgeKey = "ld-ai-judge-accuracy"
)

func demoConfigs() map[string]aiconfig.Config {
	return map[string]aiconfig.Config{
		chatKey: {
			Enabled:  true,
			Model:    &aiconfig.ModelConfig{Name: "demo-model"},
			Messages: []modelchat.Message{{Role: modelchat.RoleSystem, Content: "You are a helpful assistant."}},
		},
	}
}

func setupRouter(t *testing.T, configs map[string]aiconfig.Config, chatModel *aitest.ChatModel) (*chi.Mux, *chatservice.Service, *aiconfigtest.Resolver) {
	t.Helper()
	resolver := aiconfigtest.NewResolver(configs)
	invoker := ai.NewInvoker(chatModel, nil)
	evaluator := judge.NewEvaluator(invoker, &aiconfigtest.Telemetry{}, nil)
	chatSvc := chatservice.NewService(resolver, invoker, evaluator, chatservice.Options{
		ChatConfigKey:  chatKey,
		JudgeConfigKey: judgeKey,
	}, nil)

	r := chi.NewRouter()
	New(chatSvc, nil).RegisterRoutes(r)
	return r, chatSvc, resolver
}

func doJSON(r http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	var payload []byte
	switch v := body.(type) {
	case nil:
	case string:
		payload = []byte(v)
	default:
		payload, _ = json.Marshal(v)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out), resp.Body.String())
	return out
}

func TestChatWithoutJudge(t *testing.T) {
	r, _, _ := setupRouter(t, demoConfigs(), aitest.Reply("Hi! How can I help?", 12, 6))

	resp := doJSON(r, http.MethodPost, "/chat", map[string]string{"message": "Hello"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	body := decode(t, resp)
	assert.Equal(t, "Hi! How can I help?", body["response"])
	assert.Equal(t, false, body["judge_available"])
	assert.Contains(t, body, "judge")
	assert.Nil(t, body["judge"])
	assert.Equal(t, "default", body["session_id"])
	assert.Equal(t, "demo-model", body["model"])
	assert.NotEmpty(t, body["turn_id"])
}

func TestChatWithJudge(t *testing.T) {
	configs := demoConfigs()
	configs[judgeKey] = aiconfig.Config{Enabled: true, Model: &aiconfig.ModelConfig{Name: "judge-model"}}
	chatModel := aitest.New(func(call aitest.Call) (*schema.Message, error) {
		if call.Options.Model != nil && *call.Options.Model == "judge-model" {
			return aitest.Message("Score: 8.5\nAccurate.", 20, 4), nil
		}
		return aitest.Message("Paris", 10, 1), nil
	})
	r, _, _ := setupRouter(t, configs, chatModel)

	resp := doJSON(r, http.MethodPost, "/chat", map[string]string{"message": "Capital of France?", "session_id": "s1"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	body := decode(t, resp)
	assert.Equal(t, "Paris", body["response"])
	assert.Equal(t, true, body["judge_available"])
	verdict, ok := body["judge"].(map[string]any)
	require.True(t, ok, "judge outcome expected, got %v", body["judge"])
	assert.Equal(t, 8.5, verdict["accuracy_score"])
	assert.Equal(t, "Score: 8.5\nAccurate.", verdict["evaluation"])
}

func TestChatMissingMessage(t *testing.T) {
	r, chatSvc, resolver := setupRouter(t, demoConfigs(), aitest.Reply("unused", 0, 0))

	for _, body := range []any{map[string]string{"session_id": "s1"}, map[string]string{"message": "", "session_id": "s1"}} {
		resp := doJSON(r, http.MethodPost, "/chat", body)
		assert.Equal(t, http.StatusBadRequest, resp.Code)
		assert.Equal(t, "Message is required", decode(t, resp)["error"])
	}

	_, ok := chatSvc.Lookup("s1")
	assert.False(t, ok)
	assert.Zero(t, resolver.Calls(chatKey))
}

func TestChatInvalidBody(t *testing.T) {
	r, _, _ := setupRouter(t, demoConfigs(), aitest.Reply("unused", 0, 0))

	resp := doJSON(r, http.MethodPost, "/chat", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestChatErrorStatus(t *testing.T) {
	t.Run("disabled config", func(t *testing.T) {
		r, _, _ := setupRouter(t, map[string]aiconfig.Config{chatKey: {Enabled: false}}, aitest.Reply("unused", 0, 0))
		resp := doJSON(r, http.MethodPost, "/chat", map[string]string{"message": "Hello"})
		assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
		assert.NotEmpty(t, decode(t, resp)["error"])
	})

	t.Run("provider failure", func(t *testing.T) {
		r, _, _ := setupRouter(t, demoConfigs(), aitest.Fail(errors.New("throttled")))
		resp := doJSON(r, http.MethodPost, "/chat", map[string]string{"message": "Hello"})
		assert.Equal(t, http.StatusBadGateway, resp.Code)
		assert.Contains(t, decode(t, resp)["error"], "throttled")
	})

	t.Run("session init failure", func(t *testing.T) {
		r, _, resolver := setupRouter(t, demoConfigs(), aitest.Reply("unused", 0, 0))
		resolver.Fail[chatKey] = true
		resp := doJSON(r, http.MethodPost, "/chat", map[string]string{"message": "Hello"})
		assert.Equal(t, http.StatusInternalServerError, resp.Code)
	})
}

func TestHistory(t *testing.T) {
	r, _, _ := setupRouter(t, demoConfigs(), aitest.Reply("Hi!", 1, 1))

	resp := doJSON(r, http.MethodGet, "/history?session_id=missing", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"history":[],"model":null}`, resp.Body.String())

	doJSON(r, http.MethodPost, "/chat", map[string]string{"message": "Hello", "session_id": "s1"})

	resp = doJSON(r, http.MethodGet, "/history?session_id=s1", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{
		"history": [
			{"role": "system", "content": "You are a helpful assistant."},
			{"role": "user", "content": "Hello"},
			{"role": "assistant", "content": "Hi!"}
		],
		"model": "demo-model"
	}`, resp.Body.String())
}

func TestReset(t *testing.T) {
	r, chatSvc, _ := setupRouter(t, demoConfigs(), aitest.Reply("Hi!", 1, 1))

	resp := doJSON(r, http.MethodPost, "/reset", map[string]string{"session_id": "missing"})
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "Session not found", decode(t, resp)["message"])
	_, ok := chatSvc.Lookup("missing")
	assert.False(t, ok)

	doJSON(r, http.MethodPost, "/chat", map[string]string{"message": "Hello"})

	resp = doJSON(r, http.MethodPost, "/reset", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "Conversation reset successfully", decode(t, resp)["message"])

	history, _, err := chatSvc.History(chatservice.DefaultSessionID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestModelCreatesSession(t *testing.T) {
	r, chatSvc, resolver := setupRouter(t, demoConfigs(), aitest.Reply("unused", 0, 0))

	for i := 0; i < 2; i++ {
		resp := doJSON(r, http.MethodGet, "/model?session_id=s2&user_id=alice", nil)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.JSONEq(t, `{"model":"demo-model","session_id":"s2"}`, resp.Body.String())
	}

	session, ok := chatSvc.Lookup("s2")
	require.True(t, ok)
	assert.Equal(t, "alice", session.Identity.Key())
	assert.Equal(t, 1, resolver.Calls(chatKey))
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		chatservice.ErrMessageRequired:                                      http.StatusBadRequest,
		chatservice.ErrSessionNotFound:                                      http.StatusNotFound,
		fmt.Errorf("%w: disabled", ai.ErrConfiguration):                     http.StatusServiceUnavailable,
		&ai.InferenceError{Model: "m", Err: errors.New("x")}:                http.StatusBadGateway,
		&chatservice.SessionInitError{SessionID: "s", Err: errors.New("x")}: http.StatusInternalServerError,
		errors.New("other"):                                                 http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, StatusFor(err), err.Error())
	}
}
