package lms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/lms-notifier/pkg/errors"
	"github.com/angelmondragon/lms-notifier/pkg/types"
)

const (
	defaultTimeout              = 10 * time.Second
	currentUserPath             = "auth/me"
	responseBodyReadLimit int64 = 1024
)

var errBaseURLRequired = errors.New("lms base url is required")

// Client reads the signed-in user from the LMS REST backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the timeout on the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 && c.httpClient != nil {
			c.httpClient.Timeout = timeout
		}
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}

	client := &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Auth carries whichever credential the caller holds for the LMS: a bearer
// token, a session cookie header, or both.
type Auth struct {
	Token  string
	Cookie string
}

func (a Auth) empty() bool {
	return strings.TrimSpace(a.Token) == "" && strings.TrimSpace(a.Cookie) == ""
}

// User is the subset of /auth/me the notifier needs.
type User struct {
	ID                types.FlexString   `json:"id"`
	Username          string             `json:"username"`
	Role              string             `json:"role"`
	Authenticated     *bool              `json:"authenticated,omitempty"`
	EnrolledCourseIDs []types.FlexString `json:"enrolledCourseIds"`
}

func (u *User) CourseIDs() []string {
	if u == nil {
		return nil
	}
	return types.FlexStrings(u.EnrolledCourseIDs)
}

// CurrentUser fetches the signed-in user and their enrolled course ids.
func (c *Client) CurrentUser(ctx context.Context, auth Auth) (*User, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "lms client not configured")
	}
	if auth.empty() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "lms credentials are required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL(currentUserPath), nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build current user request")
	}
	req.Header.Set("Accept", "application/json")
	if token := strings.TrimSpace(auth.Token); token != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimPrefix(token, "Bearer "))
	}
	if cookie := strings.TrimSpace(auth.Cookie); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute current user request")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "lms rejected the credentials")
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "current user request failed")
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode current user response")
	}
	if user.Authenticated != nil && !*user.Authenticated {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "lms session is not authenticated")
	}
	if user.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "lms returned a user without an id")
	}
	return &user, nil
}

func (c *Client) buildURL(path string) string {
	return fmt.Sprintf("%s/%s", c.baseURL, strings.TrimLeft(path, "/"))
}
