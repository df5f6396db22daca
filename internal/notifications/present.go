package notifications

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DueDateLayout = "Jan 2, 2006, 03:04 PM"
	AgeDateLayout = "Jan 2, 2006"

	noDueDate         = "No due date"
	invalidDate       = "Invalid date"
	invalidDateFormat = "Invalid date format"
)

// View is the presentation shape of a record served to UI clients.
type View struct {
	ID           string    `json:"id"`
	Event        string    `json:"event"`
	AssignmentID string    `json:"assignmentId,omitempty"`
	Title        string    `json:"assignmentTitle,omitempty"`
	CourseName   string    `json:"courseName,omitempty"`
	TeacherName  string    `json:"teacherName,omitempty"`
	Message      string    `json:"message"`
	Due          string    `json:"due"`
	Age          string    `json:"age"`
	Link         string    `json:"link,omitempty"`
	ReceivedAt   time.Time `json:"receivedAt"`
	Read         bool      `json:"read"`
	Raw          any       `json:"raw,omitempty"`
}

// Present renders rec relative to now; times are shown in loc.
func Present(rec Record, now time.Time, loc *time.Location) View {
	v := View{
		ID:           rec.ID.String(),
		Event:        rec.Event,
		AssignmentID: rec.Payload.AssignmentID.String(),
		Title:        rec.Payload.AssignmentTitle,
		CourseName:   rec.Payload.CourseName,
		TeacherName:  rec.Payload.TeacherName,
		Message:      Message(rec),
		Due:          FormatDueDateIn(rec.Payload.DueDate, loc),
		Age:          RelativeAgeIn(rec.ReceivedAt, now, loc),
		ReceivedAt:   rec.ReceivedAt,
		Read:         rec.Read,
	}
	if v.AssignmentID != "" {
		v.Link = "/assignments?highlight=" + url.QueryEscape(v.AssignmentID)
	}
	if len(rec.Raw) > 0 {
		v.Raw = rec.Raw
	}
	return v
}

// BadgeLabel is the unread badge text: empty when nothing is unread and
// capped at "99+".
func BadgeLabel(unread int) string {
	switch {
	case unread <= 0:
		return ""
	case unread > 99:
		return "99+"
	default:
		return strconv.Itoa(unread)
	}
}

func RelativeAge(t, now time.Time) string {
	return RelativeAgeIn(t, now, time.Local)
}

func RelativeAgeIn(t, now time.Time, loc *time.Location) string {
	mins := int(now.Sub(t) / time.Minute)
	hours := mins / 60
	days := hours / 24
	switch {
	case mins < 1:
		return "Just now"
	case mins < 60:
		return fmt.Sprintf("%dm ago", mins)
	case hours < 24:
		return fmt.Sprintf("%dh ago", hours)
	case days < 7:
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.In(location(loc)).Format(AgeDateLayout)
	}
}

func FormatDueDate(v any) string {
	return FormatDueDateIn(v, time.Local)
}

// FormatDueDateIn accepts the shapes the LMS backend emits for due dates:
// a [year, month, day, hour, minute] array, ISO-8601 strings, SQL style
// "YYYY-MM-DD HH:MM[:SS]" strings and epoch milliseconds.
func FormatDueDateIn(v any, loc *time.Location) string {
	loc = location(loc)
	if isEmptyDue(v) {
		return noDueDate
	}

	var (
		t  time.Time
		ok bool
	)
	switch d := v.(type) {
	case []any:
		t, ok = dueFromParts(d, loc)
	case []int:
		parts := make([]any, len(d))
		for i, p := range d {
			parts[i] = float64(p)
		}
		t, ok = dueFromParts(parts, loc)
	case string:
		t, ok = dueFromString(strings.TrimSpace(d), loc)
	case float64:
		t, ok = dueFromMillis(d)
	case int64:
		t, ok = dueFromMillis(float64(d))
	case int:
		t, ok = dueFromMillis(float64(d))
	case json.Number:
		f, err := d.Float64()
		if err != nil {
			return invalidDate
		}
		t, ok = dueFromMillis(f)
	case time.Time:
		t, ok = d, true
	default:
		return invalidDateFormat
	}
	if !ok {
		return invalidDate
	}
	return t.In(loc).Format(DueDateLayout)
}

func isEmptyDue(v any) bool {
	switch d := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(d) == ""
	case bool:
		return !d
	case float64:
		return d == 0
	case int:
		return d == 0
	case int64:
		return d == 0
	}
	return false
}

func dueFromParts(parts []any, loc *time.Location) (time.Time, bool) {
	if len(parts) < 3 {
		return time.Time{}, false
	}
	nums := make([]int, 5)
	for i := 0; i < len(nums) && i < len(parts); i++ {
		f, ok := parts[i].(float64)
		if !ok || math.IsNaN(f) {
			return time.Time{}, false
		}
		nums[i] = int(f)
	}
	return time.Date(nums[0], time.Month(nums[1]), nums[2], nums[3], nums[4], 0, 0, loc), true
}

var (
	zonedLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04Z07:00"}
	localLayouts = []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"}
)

func dueFromString(s string, loc *time.Location) (time.Time, bool) {
	if !strings.ContainsAny(s, "TZ") {
		if !strings.Contains(s, "-") {
			return time.Time{}, false
		}
		s = strings.ReplaceAll(s, " ", "T")
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func dueFromMillis(ms float64) (time.Time, bool) {
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(ms)), true
}

func location(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}
