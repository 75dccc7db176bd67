package utility

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/elektrummon/elektrummon/pkg/common"
	"github.com/elektrummon/elektrummon/pkg/log"
	"github.com/elektrummon/elektrummon/pkg/types"
	"github.com/levenlabs/go-lflag"
)

const (
	defaultLoginURL = "https://www.elektrum.lv/lv/autorizacija"
	defaultAuthURL  = "https://id.elektrum.lv/api/v1/authentication/credentials/authenticate"

	// pages are small, this only guards against a runaway body
	maxBodySize = 10 << 20
)

// Elektrum implements Provider for the Elektrum customer portal. Logging in is
// a two step handshake: a bearer token is scraped from the login page and then
// exchanged, together with the credentials, for session cookies.
type Elektrum struct {
	loginURL string
	authURL  string
	dataURL  string
	timeout  time.Duration

	// transport is used for every session, nil means http.DefaultTransport
	transport http.RoundTripper
}

var _ Provider = (*Elektrum)(nil)

// Configured registers the flags for the Elektrum provider and returns it.
func Configured() *Elektrum {
	e := &Elektrum{}
	loginURL := lflag.String("elektrum-login-url", defaultLoginURL, "URL of the Elektrum login page containing the data-token markers")
	authURL := lflag.String("elektrum-auth-url", defaultAuthURL, "URL of the Elektrum credential exchange endpoint")
	dataURL := lflag.RequiredString("elektrum-data-url", "URL of the Elektrum hourly consumption endpoint (queried with step=D&fromDate=Y-M-D)")
	timeout := lflag.Duration("elektrum-http-timeout", 0, "Timeout for each request to Elektrum. 0 means no timeout.")

	lflag.Do(func() {
		e.loginURL = *loginURL
		e.authURL = *authURL
		e.dataURL = *dataURL
		e.timeout = *timeout
		if err := e.Validate(); err != nil {
			panic(fmt.Sprintf("elektrum validation failed: %v", err))
		}
	})

	return e
}

// New returns an Elektrum provider using the given endpoints.
func New(loginURL, authURL, dataURL string) *Elektrum {
	return &Elektrum{
		loginURL: loginURL,
		authURL:  authURL,
		dataURL:  dataURL,
	}
}

// Validate ensures the configuration is valid.
func (e *Elektrum) Validate() error {
	for name, u := range map[string]string{
		"elektrum-login-url": e.loginURL,
		"elektrum-auth-url":  e.authURL,
		"elektrum-data-url":  e.dataURL,
	} {
		if u == "" {
			return fmt.Errorf("%s is required", name)
		}
		if _, err := url.Parse(u); err != nil {
			return fmt.Errorf("failed to parse %s (%s): %w", name, u, err)
		}
	}
	if e.timeout < 0 {
		return fmt.Errorf("elektrum-http-timeout cannot be negative")
	}
	return nil
}

func (e *Elektrum) newSession() *Session {
	return NewSession(common.SessionClient(e.transport, e.timeout))
}

// Authenticate fetches a login token and exchanges it together with the
// credentials for an authenticated Session.
func (e *Elektrum) Authenticate(ctx context.Context, creds types.Credentials) (*Session, error) {
	if !creds.Valid() {
		log.Ctx(ctx).ErrorContext(ctx, "missing elektrum username or password")
		return nil, &ProviderError{Kind: ErrAuthentication, Op: "authenticate", Err: errors.New("missing username or password")}
	}

	s := e.newSession()

	token, err := e.getAuthToken(ctx, s)
	if err != nil {
		return nil, err
	}

	if err := e.exchangeCredentials(ctx, s, creds, token); err != nil {
		return nil, err
	}
	log.Ctx(ctx).DebugContext(ctx, "elektrum login success", slog.String("username", creds.Username))
	return s, nil
}

func (e *Elektrum) getAuthToken(ctx context.Context, s *Session) (string, error) {
	const op = "get login page"

	req, err := http.NewRequestWithContext(ctx, "GET", e.loginURL, nil)
	if err != nil {
		return "", &ProviderError{Kind: ErrTokenRetrieval, Op: op, Err: err}
	}

	body, status, err := s.do(req)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "error fetching elektrum login page", slog.String("url", e.loginURL), slog.Any("error", err))
		return "", &ProviderError{Kind: ErrTransport, Op: op, Err: err}
	}
	if status != http.StatusOK {
		log.Ctx(ctx).ErrorContext(ctx, "failed to retrieve authentication token", slog.Int("status", status))
		return "", &ProviderError{Kind: ErrTokenRetrieval, Op: op, StatusCode: status}
	}

	token, err := ExtractLoginToken(string(body))
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to retrieve authentication token", slog.Any("error", err))
		return "", err
	}
	return token, nil
}

func (e *Elektrum) exchangeCredentials(ctx context.Context, s *Session, creds types.Credentials, token string) error {
	const op = "exchange credentials"

	data := url.Values{}
	data.Set("email", creds.Username)
	data.Set("password", creds.Password)
	data.Set("captcha", "")

	req, err := http.NewRequestWithContext(ctx, "POST", e.authURL, strings.NewReader(data.Encode()))
	if err != nil {
		return &ProviderError{Kind: ErrAuthentication, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,lv;q=0.8")
	req.Header.Set("Authorization", "Bearer "+token)

	_, status, err := s.do(req)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "error in elektrum authenticate", slog.Any("error", err))
		return &ProviderError{Kind: ErrTransport, Op: op, Err: err}
	}
	if status != http.StatusOK {
		log.Ctx(ctx).ErrorContext(ctx, "elektrum authentication failed", slog.Int("status", status))
		return &ProviderError{Kind: ErrAuthentication, Op: op, StatusCode: status}
	}
	return nil
}

// do sends req with the session's client and returns the body and status.
// Only failures to get or read a response are returned as errors.
func (s *Session) do(req *http.Request) ([]byte, int, error) {
	if s == nil || s.client == nil {
		return nil, 0, errors.New("nil session")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
