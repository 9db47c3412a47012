package domain

import "time"

// Inbound frame kinds. The wire protocol is fire-and-forget: there is no
// ack/nack channel back to the sender, so invalid frames are dropped and
// logged, never answered. The transport provides no request correlation.
const (
	FrameMarkAsSeen = "MARK_AS_SEEN"
)

// Outbound frame kinds produced by the gateway.
const (
	FrameNewMessage        = "NEW_MESSAGE"
	FrameUnseenCountUpdate = "UNSEEN_COUNT_UPDATE"
)

// InboundFrame is the structured shape a registered connection sends.
// A frame with Type == FrameMarkAsSeen carries only ConversationID.
// Any other frame is interpreted as the implicit chat-message shape:
// { fromUserId/fromSellerId, toRecipientId, messageBody, conversationId, senderType }.
type InboundFrame struct {
	Type           string `json:"type,omitempty"`
	ConversationID string `json:"conversationId"`
	FromUserID     string `json:"fromUserId,omitempty"`
	FromSellerID   string `json:"fromSellerId,omitempty"`
	ToRecipientID  string `json:"toRecipientId,omitempty"`
	MessageBody    string `json:"messageBody,omitempty"`
	SenderType     Role   `json:"senderType,omitempty"`
}

// SenderID resolves the sender id for the declared sender type.
func (f *InboundFrame) SenderID() string {
	if f.SenderType == RoleSeller {
		return f.FromSellerID
	}
	return f.FromUserID
}

// ToChatMessage validates the chat-message shape and builds the canonical
// ChatMessage, stamping CreatedAt with the gateway-observed time.
func (f *InboundFrame) ToChatMessage(id string, now time.Time) (*ChatMessage, error) {
	if f.ToRecipientID == "" {
		return nil, ErrMissingRecipient
	}
	if !f.SenderType.Valid() {
		return nil, ErrInvalidSenderType
	}
	if f.SenderID() == "" {
		return nil, ErrMissingSender
	}
	return NewChatMessage(id, f.ConversationID, f.SenderID(), f.SenderType, f.MessageBody, now)
}

// OutboundFrame wraps every payload sent to a client.
type OutboundFrame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// UnseenCountPayload is the payload of an UNSEEN_COUNT_UPDATE frame.
type UnseenCountPayload struct {
	ConversationID string `json:"conversationId"`
	Count          int64  `json:"count"`
}
