package utility

import (
	"errors"
	"fmt"
)

// Failure kinds returned by the Elektrum provider. Use errors.Is to match them.
var (
	// ErrTokenRetrieval means the login page was not 200 or did not contain
	// enough data-token markers.
	ErrTokenRetrieval = errors.New("token retrieval failed")
	// ErrAuthentication means the credential exchange was rejected.
	ErrAuthentication = errors.New("authentication failed")
	// ErrFetch means the consumption query was not 200 or was malformed.
	ErrFetch = errors.New("consumption fetch failed")
	// ErrNoData means the consumption query succeeded but had no readings.
	ErrNoData = errors.New("no consumption data")
	// ErrTransport means the request never got a response.
	ErrTransport = errors.New("transport error")
)

// ProviderError describes a failed step talking to the provider.
type ProviderError struct {
	Kind       error
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns both the kind and the underlying cause so errors.Is and
// errors.As match either of them.
func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ErrorKind returns a short, stable name for the failure kind of err.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTokenRetrieval):
		return "token_retrieval"
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	case errors.Is(err, ErrNoData):
		return "no_data"
	case errors.Is(err, ErrFetch):
		return "fetch"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "unknown"
	}
}
