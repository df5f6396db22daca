package auth

import (
	"strings"

	"github.com/angelmondragon/lms-notifier/pkg/types"
	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenClaims represents the LMS access token presented at login.
type AccessTokenClaims struct {
	UserID    types.FlexString   `json:"user_id,omitempty"`
	Username  string             `json:"username,omitempty"`
	Role      string             `json:"role,omitempty"`
	CourseIDs []types.FlexString `json:"course_ids,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the subscriber id carried by the token, preferring the
// explicit user_id claim over the registered subject.
func (c *AccessTokenClaims) Identity() string {
	if c == nil {
		return ""
	}
	if id := strings.TrimSpace(c.UserID.String()); id != "" {
		return id
	}
	return strings.TrimSpace(c.Subject)
}

func (c *AccessTokenClaims) Courses() []string {
	if c == nil {
		return nil
	}
	return types.FlexStrings(c.CourseIDs)
}
