package utility

import (
	"context"
	"net/http"
	"time"

	"github.com/elektrummon/elektrummon/pkg/types"
)

// Provider defines the interface for reading consumption from a utility portal.
type Provider interface {
	// Authenticate logs in with the given credentials and returns a Session
	// that authenticates later requests.
	Authenticate(ctx context.Context, creds types.Credentials) (*Session, error)

	// FetchConsumption returns the hourly consumption of the given day.
	FetchConsumption(ctx context.Context, session *Session, day time.Time) (types.HourlyReading, error)
}

// Session is an authenticated connection to the portal. It holds the cookies
// set during login and is only good for a single refresh cycle.
type Session struct {
	client *http.Client
}

// NewSession wraps client in a Session. The client should have a cookie jar.
func NewSession(client *http.Client) *Session {
	return &Session{client: client}
}
