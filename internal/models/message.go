package models

import "time"

// Role tags who produced a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChatTurn is one entry of the session transcript.
type ChatTurn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversational drops System turns, which are status lines for the reader and never part of the model history.
func Conversational(turns []ChatTurn) []ChatTurn {
	out := make([]ChatTurn, 0, len(turns))
	for _, t := range turns {
		if t.Role == RoleSystem {
			continue
		}
		out = append(out, t)
	}
	return out
}
