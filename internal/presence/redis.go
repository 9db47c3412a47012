package presence

import (
	"context"
	"errors"
	"time"

	"marketchat/internal/domain"

	"github.com/redis/go-redis/v9"
)

// Store holds the two pieces of presence state:
//
//   - online:{role}:{participantId} — TTL'd flag; existence means reachable.
//     Absence is "offline". An abrupt disconnect that skips SetOffline is
//     recovered purely by TTL expiry; there is no heartbeat.
//   - unseen:{role}_{conversationId} — integer counter, no TTL, incremented
//     on message acceptance and cleared only by an explicit seen action.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func onlineKey(role domain.Role, participantID string) string {
	return "online:" + string(role) + ":" + participantID
}

func unseenKey(role domain.Role, conversationID string) string {
	return "unseen:" + string(role) + "_" + conversationID
}

func (s *Store) SetOnline(ctx context.Context, role domain.Role, participantID string) error {
	return s.client.Set(ctx, onlineKey(role, participantID), "1", s.ttl).Err()
}

func (s *Store) SetOffline(ctx context.Context, role domain.Role, participantID string) error {
	return s.client.Del(ctx, onlineKey(role, participantID)).Err()
}

func (s *Store) IsOnline(ctx context.Context, role domain.Role, participantID string) (bool, error) {
	n, err := s.client.Exists(ctx, onlineKey(role, participantID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IncrUnseen bumps the recipient's counter and returns the new value. Redis
// INCR is atomic, so concurrent gateways never lose an increment.
func (s *Store) IncrUnseen(ctx context.Context, role domain.Role, conversationID string) (int64, error) {
	return s.client.Incr(ctx, unseenKey(role, conversationID)).Result()
}

func (s *Store) UnseenCount(ctx context.Context, role domain.Role, conversationID string) (int64, error) {
	n, err := s.client.Get(ctx, unseenKey(role, conversationID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (s *Store) ClearUnseen(ctx context.Context, role domain.Role, conversationID string) error {
	return s.client.Del(ctx, unseenKey(role, conversationID)).Err()
}

// ReadAndClearUnseen is the read-and-clear used when the recipient opens the
// conversation: it returns the count and atomically resets it to zero.
func (s *Store) ReadAndClearUnseen(ctx context.Context, role domain.Role, conversationID string) (int64, error) {
	n, err := s.client.GetDel(ctx, unseenKey(role, conversationID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}
