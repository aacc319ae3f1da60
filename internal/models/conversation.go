package models

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Label is the prefix used when a turn is rendered into a prompt.
func (r Role) Label() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// Turn is one entry of the conversation log. Turns are never mutated once appended.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Message is a single message sent to the completion service.
type Message struct {
	Role    Role
	Content string
}

// Mode selects how a question is answered.
type Mode string

const (
	ModeDocument Mode = "document"
	ModeGeneral  Mode = "general"
)

// ParseMode maps the wire value of a mode to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeDocument:
		return ModeDocument, nil
	case ModeGeneral:
		return ModeGeneral, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}
