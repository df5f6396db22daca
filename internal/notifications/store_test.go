package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/lms-notifier/internal/realtime"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAnnouncer struct {
	mu   sync.Mutex
	seen []Record
	// called while the announcer runs, to prove no store lock is held
	hook func(Record)
}

func (a *recordingAnnouncer) Announce(_ context.Context, rec Record) {
	a.mu.Lock()
	a.seen = append(a.seen, rec)
	a.mu.Unlock()
	if a.hook != nil {
		a.hook(rec)
	}
}

func assignment(id int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"message":"New assignment %d","data":{"assignmentId":%d,"assignmentTitle":"HW %d","courseName":"Algebra"}}`, id, id, id))
}

func countUnread(records []Record) int {
	n := 0
	for _, r := range records {
		if !r.Read {
			n++
		}
	}
	return n
}

func TestStoreOnEventPrependsNewestFirst(t *testing.T) {
	store := NewStore(StoreParams{Identity: "42"})
	ctx := context.Background()

	const n = 5
	for i := 1; i <= n; i++ {
		_, ok := store.OnEvent(ctx, assignment(i))
		require.True(t, ok)
	}

	records := store.Records()
	require.Len(t, records, n)
	assert.Equal(t, n, store.UnreadCount())
	for i, rec := range records {
		assert.Equal(t, fmt.Sprint(n-i), rec.Payload.AssignmentID.String())
		assert.False(t, rec.Read)
		assert.NotEqual(t, uuid.Nil, rec.ID)
	}

	ids := map[uuid.UUID]struct{}{}
	for _, rec := range records {
		ids[rec.ID] = struct{}{}
	}
	assert.Len(t, ids, n, "record ids must be unique")
}

func TestStoreKeepsMalformedPayloads(t *testing.T) {
	store := NewStore(StoreParams{})
	rec, ok := store.OnEvent(context.Background(), json.RawMessage(`not json`))
	require.True(t, ok)
	assert.Empty(t, rec.Payload.AssignmentTitle)
	assert.True(t, json.Valid(rec.Raw))
	assert.Equal(t, 1, store.UnreadCount())

	rec, ok = store.OnEvent(context.Background(), nil)
	require.True(t, ok)
	assert.Nil(t, rec.Raw)
	assert.Equal(t, 2, store.Len())
}

func TestStoreThreeEventScenario(t *testing.T) {
	store := NewStore(StoreParams{Identity: "42"})
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		store.OnEvent(ctx, assignment(i))
	}
	records := store.Records()

	require.True(t, store.MarkAsRead(records[0].ID))
	assert.Equal(t, 2, store.UnreadCount())

	require.True(t, store.ClearNotification(records[1].ID))
	assert.Equal(t, 1, store.UnreadCount())
	assert.Equal(t, 2, store.Len())
}

func TestStoreMarkAsReadIsIdempotent(t *testing.T) {
	store := NewStore(StoreParams{})
	rec, _ := store.OnEvent(context.Background(), assignment(1))

	require.True(t, store.MarkAsRead(rec.ID))
	assert.False(t, store.MarkAsRead(rec.ID))
	assert.False(t, store.MarkAsRead(uuid.New()))
	assert.Equal(t, 0, store.UnreadCount())

	got, ok := store.Get(rec.ID)
	require.True(t, ok)
	assert.True(t, got.Read)
}

func TestStoreClearReadRecordKeepsUnread(t *testing.T) {
	store := NewStore(StoreParams{})
	a, _ := store.OnEvent(context.Background(), assignment(1))
	store.OnEvent(context.Background(), assignment(2))

	store.MarkAsRead(a.ID)
	require.True(t, store.ClearNotification(a.ID))
	assert.Equal(t, 1, store.UnreadCount())
	assert.False(t, store.ClearNotification(a.ID))
}

func TestStoreMarkAllAndClearAll(t *testing.T) {
	store := NewStore(StoreParams{})
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		store.OnEvent(ctx, assignment(i))
	}
	store.MarkAsRead(store.Records()[0].ID)

	assert.Equal(t, 3, store.MarkAllAsRead())
	assert.Equal(t, 0, store.UnreadCount())
	assert.Equal(t, 0, store.MarkAllAsRead())

	store.ClearAllNotifications()
	assert.Empty(t, store.Records())
	assert.Equal(t, 0, store.UnreadCount())
}

func TestStoreUnreadInvariantUnderRandomOps(t *testing.T) {
	store := NewStore(StoreParams{})
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	for step := 0; step < 500; step++ {
		records := store.Records()
		pick := func() uuid.UUID {
			if len(records) == 0 || rng.Intn(5) == 0 {
				return uuid.New()
			}
			return records[rng.Intn(len(records))].ID
		}
		switch rng.Intn(6) {
		case 0, 1:
			store.OnEvent(ctx, assignment(step))
		case 2:
			store.MarkAsRead(pick())
		case 3:
			store.ClearNotification(pick())
		case 4:
			if rng.Intn(4) == 0 {
				store.MarkAllAsRead()
			}
		case 5:
			if rng.Intn(10) == 0 {
				store.ClearAllNotifications()
			}
		}

		snap := store.Snapshot()
		if snap.UnreadCount != countUnread(snap.Records) {
			t.Fatalf("step %d: unread %d but %d unread records", step, snap.UnreadCount, countUnread(snap.Records))
		}
		if snap.UnreadCount < 0 {
			t.Fatalf("step %d: negative unread count", step)
		}
	}
}

func TestStoreAnnouncesAfterCommit(t *testing.T) {
	announcer := &recordingAnnouncer{}
	store := NewStore(StoreParams{Announcer: announcer})
	announcer.hook = func(rec Record) {
		// re-entrant calls must not deadlock and must see the committed record
		_, ok := store.Get(rec.ID)
		assert.True(t, ok)
		store.MarkAsRead(rec.ID)
	}

	store.OnEvent(context.Background(), assignment(1))
	require.Len(t, announcer.seen, 1)
	assert.Equal(t, 0, store.UnreadCount())
}

func TestStoreListenerUsesPushTimestamp(t *testing.T) {
	store := NewStore(StoreParams{})
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	err := store.Listener()(context.Background(), realtime.Push{
		Event:      EventNewAssignment,
		Payload:    assignment(9),
		ReceivedAt: at,
	})
	require.NoError(t, err)

	records := store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, at, records[0].ReceivedAt)
	assert.Equal(t, "HW 9", records[0].Payload.AssignmentTitle)
}

func TestStoreDedupeGuard(t *testing.T) {
	announcer := &recordingAnnouncer{}
	store := NewStore(StoreParams{
		Identity:  "42",
		Announcer: announcer,
		Guard:     NewMemoryGuard(time.Minute),
	})
	ctx := context.Background()

	_, ok := store.OnEvent(ctx, assignment(1))
	require.True(t, ok)
	_, ok = store.OnEvent(ctx, assignment(1))
	assert.False(t, ok)
	_, ok = store.OnEvent(ctx, assignment(2))
	assert.True(t, ok)

	assert.Equal(t, 2, store.Len())
	assert.Len(t, announcer.seen, 2)

	// payloads without a fingerprint always pass
	store.OnEvent(ctx, json.RawMessage(`{}`))
	store.OnEvent(ctx, json.RawMessage(`{}`))
	assert.Equal(t, 4, store.Len())
}

type failingGuard struct{}

func (failingGuard) CheckAndMark(context.Context, string, string) (bool, error) {
	return false, fmt.Errorf("redis: connection refused")
}

func TestStoreGuardErrorsFailOpen(t *testing.T) {
	store := NewStore(StoreParams{Guard: failingGuard{}})
	_, ok := store.OnEvent(context.Background(), assignment(1))
	assert.True(t, ok)
	assert.Equal(t, 1, store.Len())
}
