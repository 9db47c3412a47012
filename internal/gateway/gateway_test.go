package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"marketchat/internal/domain"
	"marketchat/internal/observability"
	"marketchat/internal/ws"

	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	observability.InitLogger("gateway-test")
	os.Exit(m.Run())
}

// fakePresence is an in-memory presence store double.
type fakePresence struct {
	mu      sync.Mutex
	online  map[string]bool
	counts  map[string]int64
	incrErr error
}

func newFakePresence() *fakePresence {
	return &fakePresence{
		online: make(map[string]bool),
		counts: make(map[string]int64),
	}
}

func (f *fakePresence) SetOnline(ctx context.Context, role domain.Role, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[domain.Identity(role, id)] = true
	return nil
}

func (f *fakePresence) SetOffline(ctx context.Context, role domain.Role, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.online, domain.Identity(role, id))
	return nil
}

func (f *fakePresence) IncrUnseen(ctx context.Context, role domain.Role, convID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.incrErr != nil {
		return 0, f.incrErr
	}
	key := string(role) + "_" + convID
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakePresence) count(role domain.Role, convID string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[string(role)+"_"+convID]
}

func (f *fakePresence) isOnline(identity string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[identity]
}

// capturePublisher records publishes instead of talking to Kafka.
type capturePublisher struct {
	mu        sync.Mutex
	published []*domain.ChatMessage
	err       error
}

func (p *capturePublisher) Publish(ctx context.Context, msg *domain.ChatMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, msg)
	return nil
}

func (p *capturePublisher) all() []*domain.ChatMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*domain.ChatMessage(nil), p.published...)
}

type decodedFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func drainFrames(t *testing.T, s *ws.Session) []decodedFrame {
	t.Helper()
	var out []decodedFrame
	for {
		select {
		case raw := <-s.SendQueue:
			var f decodedFrame
			if err := json.Unmarshal(raw, &f); err != nil {
				t.Fatalf("Failed to decode queued frame: %v", err)
			}
			out = append(out, f)
		default:
			return out
		}
	}
}

func setup() (*Gateway, *fakePresence, *capturePublisher) {
	pres := newFakePresence()
	pub := &capturePublisher{}
	return New(ws.NewRegistry(), pres, pub), pres, pub
}

func register(ctx context.Context, g *Gateway, sid, identity string) *ws.Session {
	s := ws.NewSession(sid, identity, nil)
	g.Register(ctx, s)
	return s
}

func chatFrame(convID, fromUserID, toRecipientID, body string) []byte {
	raw, _ := json.Marshal(domain.InboundFrame{
		ConversationID: convID,
		FromUserID:     fromUserID,
		ToRecipientID:  toRecipientID,
		MessageBody:    body,
		SenderType:     domain.RoleUser,
	})
	return raw
}

func TestTwoPartyRoundTrip(t *testing.T) {
	ctx := context.Background()
	g, pres, pub := setup()

	user := register(ctx, g, "s1", "user_42")
	seller := register(ctx, g, "s2", "seller_7")

	g.HandleFrame(ctx, user, chatFrame("c1", "42", "7", "hi"))

	// Receiver gets exactly one NEW_MESSAGE and one counter update
	got := drainFrames(t, seller)
	assert.Len(t, got, 2)
	assert.Equal(t, domain.FrameNewMessage, got[0].Type)

	var msg domain.ChatMessage
	assert.NoError(t, json.Unmarshal(got[0].Payload, &msg))
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, "c1", msg.ConversationID)
	assert.Equal(t, "42", msg.SenderID)
	assert.Equal(t, domain.RoleUser, msg.SenderType)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())

	assert.Equal(t, domain.FrameUnseenCountUpdate, got[1].Type)
	var count domain.UnseenCountPayload
	assert.NoError(t, json.Unmarshal(got[1].Payload, &count))
	assert.Equal(t, "c1", count.ConversationID)
	assert.Equal(t, int64(1), count.Count)

	// Sender gets exactly the echo, never more
	echo := drainFrames(t, user)
	assert.Len(t, echo, 1)
	assert.Equal(t, domain.FrameNewMessage, echo[0].Type)

	// Broker received one publish keyed by the conversation
	published := pub.all()
	assert.Len(t, published, 1)
	assert.Equal(t, "c1", published[0].ConversationID)

	assert.Equal(t, int64(1), pres.count(domain.RoleSeller, "c1"))
}

func TestOfflineRecipient(t *testing.T) {
	ctx := context.Background()
	g, pres, pub := setup()

	user := register(ctx, g, "s1", "user_42")

	// seller_7 never registered: no delivery error, durability unaffected
	g.HandleFrame(ctx, user, chatFrame("c1", "42", "7", "hi"))

	assert.Len(t, pub.all(), 1)
	assert.Equal(t, int64(1), pres.count(domain.RoleSeller, "c1"))

	// Sender still gets its echo
	assert.Len(t, drainFrames(t, user), 1)
}

func TestUnseenCounterMonotonic(t *testing.T) {
	ctx := context.Background()
	g, pres, _ := setup()

	user := register(ctx, g, "s1", "user_42")
	seller := register(ctx, g, "s2", "seller_7")

	const n = 5
	for i := 0; i < n; i++ {
		g.HandleFrame(ctx, user, chatFrame("c1", "42", "7", fmt.Sprintf("msg %d", i)))
	}

	// Single authoritative increment point: exactly N, not 2N
	assert.Equal(t, int64(n), pres.count(domain.RoleSeller, "c1"))

	// Counter updates delivered live count strictly upward 1..N
	var want int64 = 1
	for _, f := range drainFrames(t, seller) {
		if f.Type != domain.FrameUnseenCountUpdate {
			continue
		}
		var p domain.UnseenCountPayload
		assert.NoError(t, json.Unmarshal(f.Payload, &p))
		assert.Equal(t, want, p.Count)
		want++
	}
	assert.Equal(t, int64(n+1), want)
}

func TestMalformedFrameDropped(t *testing.T) {
	ctx := context.Background()
	g, _, pub := setup()

	user := register(ctx, g, "s1", "user_42")

	g.HandleFrame(ctx, user, []byte("not json at all"))

	assert.Empty(t, pub.all())
	assert.Empty(t, drainFrames(t, user))
}

func TestInvalidChatFrameDropped(t *testing.T) {
	ctx := context.Background()
	g, pres, pub := setup()

	user := register(ctx, g, "s1", "user_42")

	// Missing recipient
	g.HandleFrame(ctx, user, chatFrame("c1", "42", "", "hi"))
	// Empty content
	g.HandleFrame(ctx, user, chatFrame("c1", "42", "7", ""))
	// Missing conversation
	g.HandleFrame(ctx, user, chatFrame("", "42", "7", "hi"))

	assert.Empty(t, pub.all())
	assert.Equal(t, int64(0), pres.count(domain.RoleSeller, "c1"))
}

func TestUnknownFrameKindIgnored(t *testing.T) {
	ctx := context.Background()
	g, _, pub := setup()

	user := register(ctx, g, "s1", "user_42")
	g.HandleFrame(ctx, user, []byte(`{"type":"SOMETHING_ELSE","conversationId":"c1"}`))

	assert.Empty(t, pub.all())
	assert.Empty(t, drainFrames(t, user))
}

func TestMarkAsSeenClearsLocalShortcut(t *testing.T) {
	ctx := context.Background()
	g, _, _ := setup()

	user := register(ctx, g, "s1", "user_42")
	seller := register(ctx, g, "s2", "seller_7")

	g.HandleFrame(ctx, user, chatFrame("c1", "42", "7", "hi"))
	assert.True(t, g.HasPendingUnseen("seller_7", "c1"))

	g.HandleFrame(ctx, seller, []byte(`{"type":"MARK_AS_SEEN","conversationId":"c1"}`))
	assert.False(t, g.HasPendingUnseen("seller_7", "c1"))
}

func TestPublishFailureDoesNotBlockLiveDelivery(t *testing.T) {
	ctx := context.Background()
	g, _, pub := setup()
	pub.err = errors.New("broker down")

	user := register(ctx, g, "s1", "user_42")
	seller := register(ctx, g, "s2", "seller_7")

	g.HandleFrame(ctx, user, chatFrame("c1", "42", "7", "hi"))

	// Live path already completed before the publish failed
	assert.Len(t, drainFrames(t, seller), 2)
	assert.Len(t, drainFrames(t, user), 1)
}

func TestCounterFailureSkipsCountFrameOnly(t *testing.T) {
	ctx := context.Background()
	g, pres, pub := setup()
	pres.incrErr = errors.New("redis down")

	user := register(ctx, g, "s1", "user_42")
	seller := register(ctx, g, "s2", "seller_7")

	g.HandleFrame(ctx, user, chatFrame("c1", "42", "7", "hi"))

	// Message still delivered and published; only the count frame is omitted
	got := drainFrames(t, seller)
	assert.Len(t, got, 1)
	assert.Equal(t, domain.FrameNewMessage, got[0].Type)
	assert.Len(t, pub.all(), 1)
}

func TestRegisterSetsPresenceFlag(t *testing.T) {
	ctx := context.Background()
	g, pres, _ := setup()

	s := register(ctx, g, "s1", "user_42")
	assert.True(t, pres.isOnline("user_42"))

	g.Unregister(ctx, s)
	assert.False(t, pres.isOnline("user_42"))
	assert.Nil(t, g.Registry().Lookup("user_42"))
}
