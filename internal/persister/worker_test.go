package persister

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"marketchat/internal/domain"
	"marketchat/internal/observability"

	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	observability.InitLogger("persister-test")
	os.Exit(m.Run())
}

// recordingStore captures bulk inserts and can fail the first N attempts.
type recordingStore struct {
	mu        sync.Mutex
	batches   [][]*domain.ChatMessage
	failFirst int
}

func (s *recordingStore) BulkInsert(ctx context.Context, msgs []*domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFirst > 0 {
		s.failFirst--
		return errors.New("store unavailable")
	}
	s.batches = append(s.batches, append([]*domain.ChatMessage(nil), msgs...))
	return nil
}

func (s *recordingStore) all() [][]*domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

func ids(batch []*domain.ChatMessage) []string {
	out := make([]string, len(batch))
	for i, m := range batch {
		out[i] = m.ID
	}
	return out
}

func TestWorker_FlushWritesInOrder(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{}
	w := NewWorker(store, time.Hour, 1000)

	w.Append(ctx, msg("m1"))
	w.Append(ctx, msg("m2"))
	w.Append(ctx, msg("m3"))
	w.Flush(ctx)

	batches := store.all()
	assert.Len(t, batches, 1)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(batches[0]))
}

func TestWorker_FlushEmptyBufferIsNoop(t *testing.T) {
	store := &recordingStore{}
	w := NewWorker(store, time.Hour, 1000)

	w.Flush(context.Background())
	assert.Empty(t, store.all())
}

func TestWorker_RetryRequeuesWithoutLoss(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{failFirst: 1}
	w := NewWorker(store, time.Hour, 1000)

	w.Append(ctx, msg("m1"))
	w.Append(ctx, msg("m2"))
	w.Flush(ctx) // fails, batch re-queued at the front

	assert.Empty(t, store.all())

	// Messages arriving between the failure and the retry queue behind it
	w.Append(ctx, msg("m3"))
	w.Flush(ctx)

	batches := store.all()
	assert.Len(t, batches, 1)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(batches[0]))
}

func TestWorker_SizeThresholdFlushes(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{}
	w := NewWorker(store, time.Hour, 3)

	w.Append(ctx, msg("m1"))
	w.Append(ctx, msg("m2"))
	assert.Empty(t, store.all())

	w.Append(ctx, msg("m3")) // hits maxBatch

	batches := store.all()
	assert.Len(t, batches, 1)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(batches[0]))
}

func TestWorker_TimerFlushes(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{}
	w := NewWorker(store, 20*time.Millisecond, 1000)
	defer w.Stop(ctx)

	w.Append(ctx, msg("m1"))

	assert.Eventually(t, func() bool {
		return len(store.all()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"m1"}, ids(store.all()[0]))
}

func TestWorker_HandleParsesBrokerRecord(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{}
	w := NewWorker(store, time.Hour, 1000)

	record, err := json.Marshal(msg("m1"))
	assert.NoError(t, err)

	w.Handle(ctx, record)
	w.Handle(ctx, []byte("garbage")) // dropped, never buffered
	w.Flush(ctx)

	batches := store.all()
	assert.Len(t, batches, 1)
	assert.Equal(t, []string{"m1"}, ids(batches[0]))
}

func TestWorker_StopFlushesRemainder(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{}
	w := NewWorker(store, time.Hour, 1000)

	w.Append(ctx, msg("m1"))
	w.Stop(ctx)

	batches := store.all()
	assert.Len(t, batches, 1)
	assert.Equal(t, []string{"m1"}, ids(batches[0]))
}
