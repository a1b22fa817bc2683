package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/aiconfig-chat/backend/internal/model/chat"
	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/ai"
	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/aiconfig"
)

// AccuracyEvent is the custom metric carrying the judge score.
const AccuracyEvent = "ai-accuracy"

const (
	judgeInputTemplate = "Input: {input}\n\nOutput: {output}"
	failedEvaluation   = "Judge evaluation failed"
)

// Outcome is the judge verdict for one turn.
type Outcome struct {
	Evaluation    string
	AccuracyScore *float64
	Usage         aiconfig.Usage
	Error         string
}

// MarshalJSON renders failed outcomes as {"error": "..."}.
func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.Error != "" {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{o.Error})
	}
	return json.Marshal(struct {
		Evaluation    string         `json:"evaluation"`
		AccuracyScore *float64       `json:"accuracy_score"`
		Usage         aiconfig.Usage `json:"usage"`
	}{o.Evaluation, o.AccuracyScore, o.Usage})
}

// Conversor runs one model call for a resolved config without side effects on caller state.
type Conversor interface {
	Converse(ctx context.Context, cfg aiconfig.Config, history []chat.Message) (*ai.Result, error)
}

// Evaluator scores assistant replies with a separately configured judge model.
type Evaluator struct {
	conversor Conversor
	telemetry aiconfig.Telemetry
	template  prompt.ChatTemplate
	logger    *slog.Logger
}

// NewEvaluator creates an Evaluator. telemetry may be nil to skip score emission.
func NewEvaluator(conversor Conversor, telemetry aiconfig.Telemetry, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		conversor: conversor,
		telemetry: telemetry,
		template:  prompt.FromMessages(schema.FString, schema.UserMessage(judgeInputTemplate)),
		logger:    logger,
	}
}

// Available reports whether cfg can be used to judge a turn.
func Available(cfg *aiconfig.Config) bool {
	return cfg != nil && cfg.Enabled
}

// Evaluate judges response as an answer to userMessage. It returns nil, without
// calling any model, when cfg is nil or disabled. Judge failures never surface as
// errors; they produce an Outcome with Error set.
func (e *Evaluator) Evaluate(ctx context.Context, cfg *aiconfig.Config, id aiconfig.Identity, userMessage, response string) *Outcome {
	if !Available(cfg) {
		return nil
	}

	history, err := e.buildHistory(ctx, cfg.Messages, userMessage, response)
	if err != nil {
		e.logger.Warn("judge prompt rendering failed", "config_key", cfg.Key, "error", err)
		return &Outcome{Error: failedEvaluation}
	}

	result, err := e.conversor.Converse(ctx, *cfg, history)
	if err != nil {
		e.logger.Warn("judge invocation failed", "config_key", cfg.Key, "error", err)
		return &Outcome{Error: failedEvaluation}
	}

	score := ExtractScore(result.Text)
	if score != nil {
		e.emitScore(id, *score)
	} else {
		e.logger.Debug("judge verdict carried no score", "config_key", cfg.Key)
	}

	return &Outcome{
		Evaluation:    result.Text,
		AccuracyScore: score,
		Usage:         result.Usage,
	}
}

// buildHistory assembles the judge conversation: seed system messages, seed user
// messages as prior turns, then the rendered evaluation prompt. When the turns would
// not open with a user message only the evaluation prompt is kept.
func (e *Evaluator) buildHistory(ctx context.Context, seed []chat.Message, userMessage, response string) ([]chat.Message, error) {
	rendered, err := e.template.Format(ctx, map[string]any{
		"input":  userMessage,
		"output": response,
	})
	if err != nil {
		return nil, err
	}
	if len(rendered) == 0 {
		return nil, fmt.Errorf("judge template rendered no message")
	}
	evaluation := chat.Message{Role: chat.RoleUser, Content: rendered[0].Content}

	var system, turns []chat.Message
	for _, msg := range seed {
		switch msg.Role {
		case chat.RoleSystem:
			system = append(system, msg)
		case chat.RoleUser:
			turns = append(turns, msg)
		}
	}
	turns = append(turns, evaluation)
	if turns[0].Role != chat.RoleUser {
		turns = turns[len(turns)-1:]
	}
	return append(system, turns...), nil
}

func (e *Evaluator) emitScore(id aiconfig.Identity, score float64) {
	if e.telemetry == nil {
		return
	}
	aiconfig.BestEffort(e.logger, AccuracyEvent, func() {
		if err := e.telemetry.TrackMetric(AccuracyEvent, id, score); err != nil {
			e.logger.Warn("accuracy metric not tracked", "context_key", id.Key(), "error", err)
			return
		}
		e.telemetry.Flush()
	})
}
