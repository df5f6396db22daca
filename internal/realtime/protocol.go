package realtime

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"

	"github.com/angelmondragon/lms-notifier/pkg/types"
)

// Server event names.
const (
	EventJoinCourses     = "join-courses"
	EventCoursesJoined   = "courses-joined"
	EventEnrollmentError = "enrollment-error"
	EventNewAssignment   = "new-assignment"
	EventJoinCourse      = "join-course"
	EventLeaveCourse     = "leave-course"
)

// wireID marshals as a JSON number when it is numeric so the server sees the
// same ids the LMS issued.
type wireID string

func (r wireID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(r), 10, 64); err == nil {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(r))
}

func toWireIDs(ids []string) []wireID {
	out := make([]wireID, len(ids))
	for i, id := range ids {
		out[i] = wireID(id)
	}
	return out
}

type joinCoursesRequest struct {
	UserID    wireID   `json:"userId"`
	CourseIDs []wireID `json:"courseIds"`
}

type joinCourseRequest struct {
	UserID   wireID `json:"userId"`
	CourseID wireID `json:"courseId"`
}

type coursesJoined struct {
	Enrolled []types.FlexString `json:"enrolledCourses"`
	Rejected []types.FlexString `json:"rejectedCourses"`
}

type enrollmentError struct {
	Message string `json:"message"`
}

// normalizeRooms trims ids, drops blanks and duplicates, keeping first-seen order.
func normalizeRooms(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

func withoutRooms(rooms, drop []string) []string {
	out := make([]string, 0, len(rooms))
	for _, r := range rooms {
		if !slices.Contains(drop, r) {
			out = append(out, r)
		}
	}
	return out
}
