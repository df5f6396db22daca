package notifications

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/angelmondragon/lms-notifier/internal/realtime"
	"github.com/angelmondragon/lms-notifier/pkg/logger"
	"github.com/angelmondragon/lms-notifier/pkg/metrics"
	"github.com/google/uuid"
)

const (
	outcomeStored    = "stored"
	outcomeDuplicate = "duplicate"
)

// Announcer receives every committed record. Fanout is the production one.
type Announcer interface {
	Announce(ctx context.Context, rec Record)
}

type StoreParams struct {
	Identity  string
	Announcer Announcer
	Guard     Guard
	Logger    *logger.Logger
	Metrics   *metrics.NotifierMetrics
	Now       func() time.Time
}

// Store holds the notifications received for one identity, newest first.
// unread always equals the number of records with Read == false.
type Store struct {
	announcer Announcer
	guard     Guard
	logg      *logger.Logger
	metrics   *metrics.NotifierMetrics
	now       func() time.Time

	mu       sync.Mutex
	identity string
	records  []Record
	unread   int
}

func NewStore(params StoreParams) *Store {
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		announcer: params.Announcer,
		guard:     params.Guard,
		logg:      logg,
		metrics:   params.Metrics,
		now:       now,
		identity:  params.Identity,
	}
}

// Listener adapts the store to the connection manager's listener registry.
func (s *Store) Listener() realtime.Listener {
	return func(ctx context.Context, push realtime.Push) error {
		s.insert(ctx, push.Event, push.Payload, push.ReceivedAt)
		return nil
	}
}

// OnEvent records raw as a new unread notification and triggers the side
// channels once it is committed. It reports false only when the dedupe guard
// suppressed the event.
func (s *Store) OnEvent(ctx context.Context, raw json.RawMessage) (Record, bool) {
	return s.insert(ctx, EventNewAssignment, raw, time.Time{})
}

func (s *Store) insert(ctx context.Context, event string, raw json.RawMessage, receivedAt time.Time) (Record, bool) {
	payload := DecodePayload(raw)
	identity := s.Identity()
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"user_id":       identity,
		"event":         event,
		"assignment_id": payload.AssignmentID.String(),
	})

	if s.guard != nil {
		if fp := payload.Fingerprint(); fp != "" {
			dup, err := s.guard.CheckAndMark(ctx, identity, fp)
			switch {
			case err != nil:
				s.logg.Error(logCtx, "dedupe check failed; storing event", err)
			case dup:
				s.logg.Info(logCtx, "duplicate notification suppressed")
				s.metrics.IncNotification(outcomeDuplicate)
				return Record{}, false
			}
		}
	}

	if receivedAt.IsZero() {
		receivedAt = s.now()
	}
	rec := Record{
		ID:         newRecordID(),
		Event:      event,
		Payload:    payload,
		Raw:        cloneRaw(raw),
		ReceivedAt: receivedAt.UTC(),
	}

	s.mu.Lock()
	s.records = slices.Insert(s.records, 0, rec)
	s.unread++
	unread := s.unread
	s.mu.Unlock()

	s.metrics.IncNotification(outcomeStored)
	s.metrics.SetUnread(unread)
	s.logg.Info(logCtx, "notification stored")

	if s.announcer != nil {
		s.announcer.Announce(ctx, rec)
	}
	return rec, true
}

// MarkAsRead flips one unread record to read. Unknown ids and records that
// are already read leave the store unchanged.
func (s *Store) MarkAsRead(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx < 0 || s.records[idx].Read {
		return false
	}
	s.records[idx].Read = true
	s.decrementUnread()
	return true
}

// MarkAllAsRead returns how many records changed.
func (s *Store) MarkAllAsRead() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for i := range s.records {
		if !s.records[i].Read {
			s.records[i].Read = true
			changed++
		}
	}
	s.unread = 0
	s.metrics.SetUnread(0)
	return changed
}

// ClearNotification removes one record, adjusting the unread count when it
// had not been read yet.
func (s *Store) ClearNotification(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return false
	}
	wasUnread := !s.records[idx].Read
	s.records = slices.Delete(s.records, idx, idx+1)
	if wasUnread {
		s.decrementUnread()
	}
	return true
}

func (s *Store) ClearAllNotifications() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.unread = 0
	s.metrics.SetUnread(0)
}

func (s *Store) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Records returns a copy, newest first.
func (s *Store) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.records)
}

func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store) Get(id uuid.UUID) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return Record{}, false
	}
	return s.records[idx], true
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := slices.Clone(s.records)
	if records == nil {
		records = []Record{}
	}
	return Snapshot{
		Identity:    s.identity,
		Records:     records,
		UnreadCount: s.unread,
	}
}

// caller holds s.mu
func (s *Store) indexOf(id uuid.UUID) int {
	return slices.IndexFunc(s.records, func(r Record) bool { return r.ID == id })
}

// caller holds s.mu
func (s *Store) decrementUnread() {
	s.unread = max(s.unread-1, 0)
	s.metrics.SetUnread(s.unread)
}

// cloneRaw copies raw so later mutation by the caller cannot reach the
// store. Bodies that are not valid JSON are kept as a JSON string.
func cloneRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	if !json.Valid(raw) {
		quoted, _ := json.Marshal(string(raw))
		return quoted
	}
	return slices.Clone(raw)
}
