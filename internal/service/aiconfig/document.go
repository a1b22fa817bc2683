package aiconfig

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/zhouzirui/aiconfig-chat/backend/internal/model/chat"
)

// document mirrors the JSON value served for an AI config flag.
type document struct {
	Meta struct {
		Enabled      bool   `json:"enabled" yaml:"enabled"`
		VariationKey string `json:"variationKey" yaml:"variationKey"`
		Version      int    `json:"version" yaml:"version"`
	} `json:"_ldMeta" yaml:"_ldMeta"`
	Model    *ModelConfig      `json:"model" yaml:"model"`
	Messages []documentMessage `json:"messages" yaml:"messages"`
}

type documentMessage struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

func decodeDocument(raw string) (*document, error) {
	doc := &document{}
	if err := json.Unmarshal([]byte(raw), doc); err != nil {
		return nil, fmt.Errorf("decode ai config: %w", err)
	}
	return doc, nil
}

// toConfig converts a decoded document into a Config for key.
func (d *document) toConfig(key string, logger *slog.Logger) Config {
	cfg := Config{
		Key:          key,
		Enabled:      d.Meta.Enabled,
		VariationKey: d.Meta.VariationKey,
		Version:      d.Meta.Version,
		Messages:     convertMessages(key, d.Messages, logger),
	}
	if d.Model != nil && d.Model.Name != "" {
		model := *d.Model
		cfg.Model = &model
	}
	return cfg
}

func convertMessages(key string, raw []documentMessage, logger *slog.Logger) []chat.Message {
	if len(raw) == 0 {
		return nil
	}
	messages := make([]chat.Message, 0, len(raw))
	for _, m := range raw {
		role, err := chat.ParseRole(m.Role)
		if err != nil {
			logger.Warn("dropping seed message", "config_key", key, "error", err)
			continue
		}
		messages = append(messages, chat.Message{Role: role, Content: m.Content})
	}
	return messages
}
