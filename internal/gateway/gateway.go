package gateway

import (
	"context"
	"encoding/json"
	"time"

	"marketchat/internal/domain"
	"marketchat/internal/observability"
	"marketchat/internal/ws"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PresenceStore is the slice of the presence store the gateway consumes.
type PresenceStore interface {
	SetOnline(ctx context.Context, role domain.Role, participantID string) error
	SetOffline(ctx context.Context, role domain.Role, participantID string) error
	IncrUnseen(ctx context.Context, role domain.Role, conversationID string) (int64, error)
}

// Publisher is the broker publish side. Publishing is the only durability
// path for a message; a publish error is a hard failure for that message.
type Publisher interface {
	Publish(ctx context.Context, msg *domain.ChatMessage) error
}

// Gateway routes frames for registered connections. The wire protocol is
// fire-and-forget: invalid input is dropped and logged, never answered,
// and live delivery is best-effort at-most-once. Durability comes from the
// broker-persisted copy, not from redelivery.
type Gateway struct {
	registry  *ws.Registry
	presence  PresenceStore
	publisher Publisher
	seen      *seenCache
}

func New(registry *ws.Registry, presence PresenceStore, publisher Publisher) *Gateway {
	return &Gateway{
		registry:  registry,
		presence:  presence,
		publisher: publisher,
		seen:      newSeenCache(),
	}
}

func (g *Gateway) Registry() *ws.Registry {
	return g.registry
}

// Register completes the UNREGISTERED -> REGISTERED transition: the session
// enters the connection registry (superseding any prior entry for the same
// identity) and the presence flag is set with its TTL.
func (g *Gateway) Register(ctx context.Context, s *ws.Session) {
	g.registry.Register(s)

	role, id, ok := domain.ParseIdentity(s.Identity)
	if !ok {
		return
	}
	if err := g.presence.SetOnline(ctx, role, id); err != nil {
		observability.GetLogger(ctx).Error("presence: failed to set online",
			zap.String("identity", s.Identity), zap.Error(err))
	}
}

// Unregister handles the * -> CLOSED transition. The presence delete is
// best-effort: if it fails, the TTL still bounds staleness.
func (g *Gateway) Unregister(ctx context.Context, s *ws.Session) {
	g.registry.Remove(s)

	role, id, ok := domain.ParseIdentity(s.Identity)
	if !ok {
		return
	}
	if err := g.presence.SetOffline(ctx, role, id); err != nil {
		observability.GetLogger(ctx).Error("presence: failed to set offline",
			zap.String("identity", s.Identity), zap.Error(err))
	}
}

// HandleFrame processes one structured frame from a registered connection.
func (g *Gateway) HandleFrame(ctx context.Context, sender *ws.Session, raw []byte) {
	log := observability.GetLogger(ctx)

	var frame domain.InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		observability.FramesDroppedTotal.WithLabelValues("delivery", "malformed").Inc()
		log.Warn("gateway: dropping malformed frame", zap.String("identity", sender.Identity), zap.Error(err))
		return
	}

	switch frame.Type {
	case domain.FrameMarkAsSeen:
		g.handleMarkAsSeen(sender, &frame)
	case "":
		g.handleChatMessage(ctx, sender, &frame)
	default:
		// Unknown kinds are ignored.
	}
}

// handleMarkAsSeen clears the process-local unseen shortcut. This is only a
// fast-path cache: the authoritative counter reset is the explicit clear
// against the presence store, invoked by the recipient's message-list
// endpoint (an external collaborator). The two may transiently disagree and
// only the presence store is authoritative.
func (g *Gateway) handleMarkAsSeen(sender *ws.Session, frame *domain.InboundFrame) {
	g.seen.Clear(sender.Identity, frame.ConversationID)
}

func (g *Gateway) handleChatMessage(ctx context.Context, sender *ws.Session, frame *domain.InboundFrame) {
	log := observability.GetLogger(ctx)

	msg, err := frame.ToChatMessage(uuid.NewString(), time.Now().UTC())
	if err != nil {
		observability.FramesDroppedTotal.WithLabelValues("delivery", "invalid").Inc()
		log.Warn("gateway: dropping invalid chat frame",
			zap.String("identity", sender.Identity),
			zap.String("conversation_id", frame.ConversationID),
			zap.Error(err))
		return
	}

	receiverRole := msg.SenderType.Opposite()
	receiverIdentity := domain.Identity(receiverRole, frame.ToRecipientID)

	// Single authoritative increment point: acceptance time. The persister
	// never touches the counter. Counters are user-visible state, so a
	// failure is logged loudly rather than skipped silently.
	count, countErr := g.presence.IncrUnseen(ctx, receiverRole, msg.ConversationID)
	if countErr != nil {
		log.Error("gateway: unseen counter increment failed",
			zap.String("receiver", receiverIdentity),
			zap.String("conversation_id", msg.ConversationID),
			zap.Error(countErr))
	}
	g.seen.Mark(receiverIdentity, msg.ConversationID)

	// Live delivery: best-effort, at-most-once, exactly one NEW_MESSAGE to
	// the receiver. An unreachable recipient is not an error; the durable
	// path is independent of live reachability.
	if rcv := g.registry.Lookup(receiverIdentity); rcv != nil {
		if rcv.SendFrame(domain.OutboundFrame{Type: domain.FrameNewMessage, Payload: msg}) {
			observability.FramesDeliveredTotal.WithLabelValues("delivery", domain.FrameNewMessage).Inc()
		}
		if countErr == nil {
			if rcv.SendFrame(domain.OutboundFrame{Type: domain.FrameUnseenCountUpdate, Payload: domain.UnseenCountPayload{
				ConversationID: msg.ConversationID,
				Count:          count,
			}}) {
				observability.FramesDeliveredTotal.WithLabelValues("delivery", domain.FrameUnseenCountUpdate).Inc()
			}
		}
	}

	// Sender echo keeps another open tab of the same identity in sync.
	// Not a broadcast: conversations are exactly two-party.
	if own := g.registry.Lookup(sender.Identity); own != nil {
		if own.SendFrame(domain.OutboundFrame{Type: domain.FrameNewMessage, Payload: msg}) {
			observability.FramesDeliveredTotal.WithLabelValues("delivery", domain.FrameNewMessage).Inc()
		}
	}

	if err := g.publisher.Publish(ctx, msg); err != nil {
		// The message may have been delivered live but will never be
		// persisted. Logged with its ids for manual reconciliation.
		observability.BrokerPublishFailuresTotal.WithLabelValues("delivery").Inc()
		log.Error("gateway: broker publish failed, message not durable",
			zap.String("message_id", msg.ID),
			zap.String("conversation_id", msg.ConversationID),
			zap.String("sender", sender.Identity),
			zap.Error(err))
	}
}

// HasPendingUnseen reports the process-local shortcut state.
func (g *Gateway) HasPendingUnseen(identity, conversationID string) bool {
	return g.seen.Has(identity, conversationID)
}
