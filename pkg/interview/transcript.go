package interview

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-screener/pkg/protocol"
)

// Role identifies who spoke.
type Role string

const (
	RoleAgent Role = "agent"
	RoleUser  Role = "user"
)

// Origin tells participant answers apart from system-originated requests.
type Origin string

const (
	OriginBackend     Origin = "backend"
	OriginParticipant Origin = "participant"
	OriginSystem      Origin = "system"
)

// Message is one immutable transcript entry.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Origin    Origin `json:"origin"`
}

func newMessage(role Role, origin Origin, content, timestamp string) Message {
	if timestamp == "" {
		timestamp = time.Now().Format("2006-01-02T15:04:05.000000")
	}
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: timestamp,
		Origin:    origin,
	}
}

// Transcript is the ordered, append-only message log.
type Transcript []Message

func (t *Transcript) append(m Message) {
	*t = append(*t, m)
}

// retract removes the most recent participant answer, and only if it is
// the message with the given id. It is the single permitted removal.
func (t *Transcript) retract(id string) bool {
	for i := len(*t) - 1; i >= 0; i-- {
		m := (*t)[i]
		if m.Role != RoleUser || m.Origin != OriginParticipant {
			continue
		}
		if m.ID != id {
			return false
		}
		*t = slices.Delete(*t, i, i+1)
		return true
	}
	return false
}

// Find returns the message with the given id.
func (t Transcript) Find(id string) (Message, bool) {
	for _, m := range t {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

func userMessage(msg *protocol.UserMessage, origin Origin) Message {
	return newMessage(RoleUser, origin, msg.Content, msg.Timestamp)
}

func agentMessage(msg *protocol.AgentMessage) Message {
	return newMessage(RoleAgent, OriginBackend, msg.Content, msg.Timestamp)
}
