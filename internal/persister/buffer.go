package persister

import (
	"sync"

	"marketchat/internal/domain"
)

// Buffer is the append-only holding area between broker consumption and the
// durable-store flush. A flush claims the entire contents and resets the
// buffer to empty in one critical section, before any I/O begins, so
// messages arriving during a flush accumulate into the new generation
// instead of racing with the in-flight batch.
type Buffer struct {
	mu       sync.Mutex
	messages []*domain.ChatMessage
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds a message and returns the new buffer length.
func (b *Buffer) Append(msg *domain.ChatMessage) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.messages = append(b.messages, msg)
	return len(b.messages)
}

// ClaimAndReset atomically swaps out the current contents for an empty
// buffer. Each message belongs to exactly one claimed batch.
func (b *Buffer) ClaimAndReset() []*domain.ChatMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	claimed := b.messages
	b.messages = nil
	return claimed
}

// Requeue prepends a failed batch so newer messages queue after it,
// preserving arrival order across retries.
func (b *Buffer) Requeue(batch []*domain.ChatMessage) {
	if len(batch) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.messages = append(batch[:len(batch):len(batch)], b.messages...)
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}
