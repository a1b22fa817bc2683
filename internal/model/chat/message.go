package chat

import (
	"fmt"
	"strings"
)

// Role tags the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole normalises a raw role string coming from a remote config.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleSystem:
		return RoleSystem, nil
	case RoleUser:
		return RoleUser, nil
	case RoleAssistant:
		return RoleAssistant, nil
	default:
		return "", fmt.Errorf("unknown message role %q", raw)
	}
}

// Message is a single role-tagged turn. Ordering within a conversation is meaningful.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
