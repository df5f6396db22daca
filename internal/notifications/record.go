package notifications

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const EventNewAssignment = "new-assignment"

// Record is one received notification. Raw is the event body exactly as
// the server sent it; Payload is the best-effort typed view of it.
type Record struct {
	ID         uuid.UUID       `json:"id"`
	Event      string          `json:"event"`
	Payload    Payload         `json:"payload"`
	Raw        json.RawMessage `json:"raw,omitempty"`
	ReceivedAt time.Time       `json:"receivedAt"`
	Read       bool            `json:"read"`
}

// Snapshot is a consistent copy of the store taken under one lock.
type Snapshot struct {
	Identity    string   `json:"identity"`
	Records     []Record `json:"records"`
	UnreadCount int      `json:"unreadCount"`
}

func newRecordID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
