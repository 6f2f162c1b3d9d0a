// Package memory stores conversation history keyed by thread id.
package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/finagent/chat"
)

// Message is one persisted conversation message.
type Message struct {
	ID      string    `json:"id"`
	Role    chat.Role `json:"role"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

// Store persists thread history. Writes for the same thread are serialized
// by the store; callers may append concurrently.
type Store interface {
	// Load returns the thread's messages in append order. Unknown threads
	// have no messages.
	Load(ctx context.Context, threadID string) ([]Message, error)
	Append(ctx context.Context, threadID string, msgs ...Message) error
	// Prune removes every thread whose newest message is older than before
	// and returns the number of messages removed.
	Prune(ctx context.Context, before time.Time) (int, error)
	Close() error
}

// normalize fills in missing ids and timestamps.
func normalize(msgs []Message, now time.Time) []Message {
	out := make([]Message, len(msgs))
	for i, msg := range msgs {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.Time.IsZero() {
			msg.Time = now
		}
		msg.Time = msg.Time.UTC()
		out[i] = msg
	}
	return out
}
