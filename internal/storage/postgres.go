package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"marketchat/internal/domain"
)

// MessageLog writes accepted chat messages to Postgres. It is the source of
// truth for message history; everything upstream of it is best-effort.
type MessageLog struct {
	DB *sql.DB
}

func NewMessageLog(db *sql.DB) *MessageLog {
	return &MessageLog{DB: db}
}

// BulkInsert writes the batch as a single multi-row INSERT, preserving the
// slice order. One statement means one transaction: the batch lands
// atomically or not at all, which is what makes re-queue-on-failure safe.
func (r *MessageLog) BulkInsert(ctx context.Context, msgs []*domain.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO messages (
			id, conversation_id, sender_id, sender_type, content, created_at
		) VALUES `)

	args := make([]interface{}, 0, len(msgs)*6)
	for i, msg := range msgs {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 6
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6)
		args = append(args,
			msg.ID,
			msg.ConversationID,
			msg.SenderID,
			string(msg.SenderType),
			msg.Content,
			msg.CreatedAt,
		)
	}

	if _, err := r.DB.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to bulk insert %d messages: %w", len(msgs), err)
	}
	return nil
}
