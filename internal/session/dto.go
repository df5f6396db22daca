package session

import (
	"github.com/angelmondragon/lms-notifier/internal/realtime"
)

// Credentials is whatever the signed-in client can prove about its user.
// UserID and CourseIDs win over anything resolved from Token or Cookie.
type Credentials struct {
	UserID    string
	Token     string
	Cookie    string
	CourseIDs []string
}

const (
	SourceExplicit = "explicit"
	SourceToken    = "token"
	SourceLMS      = "lms"
)

// LoginResult describes the identity a login resolved to.
type LoginResult struct {
	Identity  string   `json:"identity"`
	CourseIDs []string `json:"courseIds"`
	Source    string   `json:"source"`
	// Changed is false when the identity was already signed in.
	Changed bool `json:"changed"`
}

// Status is the session view served to UI clients.
type Status struct {
	Identity    string   `json:"identity"`
	State       string   `json:"state"`
	Connected   bool     `json:"connected"`
	Interest    []string `json:"interest"`
	Accepted    []string `json:"accepted"`
	Rejected    []string `json:"rejected"`
	UnreadCount int      `json:"unreadCount"`
}

func statusFrom(conn realtime.Status, unread int) Status {
	return Status{
		Identity:    conn.Identity,
		State:       conn.State.String(),
		Connected:   conn.State == realtime.Connected,
		Interest:    nonNil(conn.Interest),
		Accepted:    nonNil(conn.Accepted),
		Rejected:    nonNil(conn.Rejected),
		UnreadCount: unread,
	}
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
