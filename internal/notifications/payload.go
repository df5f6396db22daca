package notifications

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/angelmondragon/lms-notifier/pkg/types"
)

// Payload is the typed view of a new-assignment event. The server nests the
// assignment fields under "data" and keeps the human readable text in
// "message"; flat payloads are accepted too. Fields that fail to decode stay
// empty and never reject the event.
type Payload struct {
	Type            string           `json:"type,omitempty"`
	Message         string           `json:"message,omitempty"`
	AssignmentID    types.FlexString `json:"assignmentId,omitempty"`
	AssignmentTitle string           `json:"assignmentTitle,omitempty"`
	CourseID        types.FlexString `json:"courseId,omitempty"`
	CourseName      string           `json:"courseName,omitempty"`
	TeacherName     string           `json:"teacherName,omitempty"`
	DueDate         any              `json:"dueDate,omitempty"`
}

// DecodePayload builds the typed view of raw. It never fails.
func DecodePayload(raw json.RawMessage) Payload {
	var p Payload
	top := decodeObject(raw)
	if top == nil {
		return p
	}
	p.apply(top)
	if nested := decodeObject(top["data"]); nested != nil {
		p.apply(nested)
	}
	return p
}

func (p *Payload) apply(fields map[string]json.RawMessage) {
	setString(&p.Type, fields["type"])
	setString(&p.Message, fields["message"])
	setFlex(&p.AssignmentID, fields["assignmentId"])
	setString(&p.AssignmentTitle, fields["assignmentTitle"])
	setFlex(&p.CourseID, fields["courseId"])
	setString(&p.CourseName, fields["courseName"])
	setString(&p.TeacherName, fields["teacherName"])
	if raw, ok := fields["dueDate"]; ok {
		var due any
		if err := json.Unmarshal(raw, &due); err == nil && due != nil {
			p.DueDate = due
		}
	}
}

// Fingerprint identifies the assignment announcement for the dedupe guard.
// It is empty when the payload carries neither an assignment id nor a course.
func (p Payload) Fingerprint() string {
	id := strings.TrimSpace(p.AssignmentID.String())
	course := strings.TrimSpace(p.CourseName)
	if id == "" && course == "" {
		return ""
	}
	return id + "|" + course
}

// Title returns the assignment title, or a generic label when absent.
func (p Payload) Title() string {
	if title := strings.TrimSpace(p.AssignmentTitle); title != "" {
		return title
	}
	return "assignment"
}

func decodeObject(raw json.RawMessage) map[string]json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil
	}
	return fields
}

func setString(dst *string, raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var v string
	if err := json.Unmarshal(raw, &v); err == nil && v != "" {
		*dst = v
	}
}

func setFlex(dst *types.FlexString, raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var v types.FlexString
	if err := json.Unmarshal(raw, &v); err == nil && v != "" {
		*dst = v
	}
}
