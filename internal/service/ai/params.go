package ai

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/aiconfig"
)

// modelOptions turns a config's model name and free-form parameters into eino call
// options. Keys are accepted in camelCase and snake_case, either flat or nested under
// inferenceConfig. It also returns the keys it could not use, sorted.
func modelOptions(m *aiconfig.ModelConfig) ([]model.Option, []string) {
	opts := []model.Option{model.WithModel(m.Name)}
	var ignored []string
	applyParams(m.Parameters, &opts, &ignored)
	sort.Strings(ignored)
	return opts, ignored
}

func applyParams(params map[string]any, opts *[]model.Option, ignored *[]string) {
	for key, raw := range params {
		switch key {
		case "temperature":
			if v, ok := toFloat(raw); ok {
				*opts = append(*opts, model.WithTemperature(float32(v)))
				continue
			}
		case "topP", "top_p":
			if v, ok := toFloat(raw); ok {
				*opts = append(*opts, model.WithTopP(float32(v)))
				continue
			}
		case "maxTokens", "max_tokens":
			if v, ok := toFloat(raw); ok && v > 0 {
				*opts = append(*opts, model.WithMaxTokens(int(v)))
				continue
			}
		case "stop", "stopSequences", "stop_sequences":
			if v, ok := toStrings(raw); ok {
				*opts = append(*opts, model.WithStop(v))
				continue
			}
		case "inferenceConfig", "inference_config":
			if nested, ok := raw.(map[string]any); ok {
				applyParams(nested, opts, ignored)
				continue
			}
		}
		*ignored = append(*ignored, key)
	}
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toStrings(raw any) ([]string, bool) {
	switch v := raw.(type) {
	case string:
		return []string{v}, true
	case []string:
		return append([]string(nil), v...), true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
