package common

import (
	_ "embed"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

//go:embed VERSION
var version string

// BrowserUserAgent is sent to portals that reject non-browser clients.
const BrowserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:77.0) Gecko/20100101 Firefox/77.0"

// Version returns the embedded release version.
func Version() string {
	return strings.TrimSpace(version)
}

type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

// RoundTrip implements http.RoundTripper and sets the User-Agent unless the
// request already carries one.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.transport.RoundTrip(req)
	}
	// Clone the request to avoid modifying the original request's headers
	// which might be shared or reused
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(req)
}

// HTTPClient returns a default http client with an ElektrumMon user-agent set.
// A zero timeout leaves the client without a timeout.
func HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &userAgentTransport{
			transport: http.DefaultTransport,
			userAgent: "ElektrumMon/" + Version(),
		},
		Timeout: timeout,
	}
}

// SessionClient returns an http client with its own cookie jar and a
// browser-like user-agent. Redirects are followed and cookies set along the
// way are kept for later requests made with the same client.
func SessionClient(transport http.RoundTripper, timeout time.Duration) *http.Client {
	if transport == nil {
		transport = http.DefaultTransport
	}
	// cookiejar.New only fails when given options with a bad PublicSuffixList
	jar, _ := cookiejar.New(nil)
	return &http.Client{
		Transport: &userAgentTransport{
			transport: transport,
			userAgent: BrowserUserAgent,
		},
		Jar:     jar,
		Timeout: timeout,
	}
}
