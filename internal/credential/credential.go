package credential

import (
	"context"
	"fmt"
	"time"
)

// Credential is a bearer token for the visual-search API. It never leaves
// the process: only outbound clients read it.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

func (c Credential) String() string {
	return fmt.Sprintf("credential(expires %s)", c.ExpiresAt.Format(time.RFC3339))
}

// Grant is what a token exchange returns.
type Grant struct {
	AccessToken string
	ExpiresIn   time.Duration
}

type FetchFunc func(ctx context.Context) (Grant, error)

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

// Error reports a failed or malformed token exchange. Status is the HTTP
// status when the endpoint answered, zero on transport failure.
type Error struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("token exchange failed (status %d): %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("token exchange failed (status %d): %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}
