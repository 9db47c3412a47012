package domain

import (
	"strings"
	"time"
)

const MaxMessageSize = 5000

// Role distinguishes the two parties of a conversation.
type Role string

const (
	RoleUser   Role = "user"
	RoleSeller Role = "seller"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleSeller
}

// Opposite returns the other party's role. Conversations are exactly
// two-party, so the receiver role is always the opposite of the sender's.
func (r Role) Opposite() Role {
	if r == RoleUser {
		return RoleSeller
	}
	return RoleUser
}

// Identity builds the role-namespaced participant key used by the connection
// registry, e.g. "user_42" or "seller_7". A user and a seller with
// coincidentally equal raw ids must never collide, so the raw id alone is
// never a key. The same token is what a client sends as its registration
// frame.
func Identity(role Role, id string) string {
	return string(role) + "_" + id
}

// ParseIdentity splits a registration token into role and raw participant id.
func ParseIdentity(token string) (Role, string, bool) {
	if id, ok := strings.CutPrefix(token, string(RoleUser)+"_"); ok && id != "" {
		return RoleUser, id, true
	}
	if id, ok := strings.CutPrefix(token, string(RoleSeller)+"_"); ok && id != "" {
		return RoleSeller, id, true
	}
	return "", "", false
}

// ChatMessage Invariants:
// 1. ConversationID and Content are required and non-empty.
// 2. CreatedAt is assigned by the receiving gateway at acceptance time, so
//    ordering stays consistent with arrival order at that node.
// 3. Immutable after creation: published once, consumed once, persisted once.
type ChatMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	SenderType     Role      `json:"senderType"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

func NewChatMessage(
	id string,
	conversationID string,
	senderID string,
	senderType Role,
	content string,
	now time.Time,
) (*ChatMessage, error) {

	if id == "" || conversationID == "" || senderID == "" {
		return nil, ErrInvalidMessage
	}

	if !senderType.Valid() {
		return nil, ErrInvalidSenderType
	}

	if content == "" {
		return nil, ErrEmptyContent
	}

	if len(content) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}

	return &ChatMessage{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderType:     senderType,
		Content:        content,
		CreatedAt:      now,
	}, nil
}
