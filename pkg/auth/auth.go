// Package auth implements the Authenticator: credential exchange, session
// expiry detection, and single-flight refresh with an escalating failure
// policy.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/pandora-cas/goclient/pkg/util"
)

// MaxConsecutiveFailures is the number of consecutive BadCredentials
// refresh failures after which the Account escalates to closed(auth_failure).
const MaxConsecutiveFailures = 3

// Transport is the subset of pkg/transport.Transport the Authenticator needs.
type Transport interface {
	PostForm(ctx context.Context, path string, form url.Values) ([]byte, error)
}

// Authenticator exchanges credentials for a session and keeps it fresh.
type Authenticator struct {
	username  string
	password  string
	transport Transport

	mu                  sync.Mutex
	sessionID           string
	consecutiveFailures int
	refreshing          chan struct{} // non-nil while a refresh is in flight
	refreshErr          error         // outcome of the most recently completed refresh
}

// New creates an Authenticator bound to one credential pair and Transport.
func New(username, password string, t Transport) *Authenticator {
	return &Authenticator{username: username, password: password, transport: t}
}

// SessionID returns the server-assigned session id from the last successful
// login/refresh, or "" if never authenticated.
func (a *Authenticator) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// Login exchanges credentials for a session cookie. The cookie itself is
// captured by the Transport's cookie jar; Login only records the
// session_id the server reports and resets the failure counter.
func (a *Authenticator) Login(ctx context.Context) error {
	body, err := a.transport.PostForm(ctx, "/api/users/login", url.Values{
		"login":    []string{a.username},
		"password": []string{a.password},
	})
	if err != nil {
		return classifyLoginError(err)
	}

	sessionID, err := parseSessionID(body)
	if err != nil {
		return util.NewAuthError("malformed login response", err)
	}

	a.mu.Lock()
	a.sessionID = sessionID
	a.consecutiveFailures = 0
	a.mu.Unlock()
	return nil
}

// classifyLoginError maps a transport/HTTP failure to one of the named
// auth failure kinds.
func classifyLoginError(err error) error {
	var statusErr *util.HTTPStatusError
	if !errors.As(err, &statusErr) {
		return util.NewAuthError("upstream unavailable", util.ErrUpstreamUnavailable)
	}
	switch statusErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		if strings.Contains(strings.ToLower(statusErr.Body), "captcha") {
			return util.NewAuthError("captcha required", util.ErrCaptchaRequired)
		}
		if strings.Contains(strings.ToLower(statusErr.Body), "locked") {
			return util.NewAuthError("account locked", util.ErrAccountLocked)
		}
		return util.NewAuthError("bad credentials", util.ErrAuth)
	case http.StatusTooManyRequests:
		return util.NewAuthError("account locked", util.ErrAccountLocked)
	default:
		if statusErr.StatusCode >= 500 {
			return util.NewAuthError("upstream unavailable", util.ErrUpstreamUnavailable)
		}
		return util.NewAuthError("bad credentials", util.ErrAuth)
	}
}

// IsExpired recognises session expiry from an HTTP probe response: a 401
// status or the upstream's body-level expiry marker.
func (a *Authenticator) IsExpired(statusCode int, body string) bool {
	if statusCode == http.StatusUnauthorized {
		return true
	}
	return strings.Contains(strings.ToLower(body), "auth_expired") ||
		strings.Contains(strings.ToLower(body), "session expired")
}

// IsExpiredCloseCode recognises the WebSocket close codes the upstream uses
// to signal session expiry mid-stream.
func IsExpiredCloseCode(code int) bool {
	return code == 4001 || code == 1008
}

// Refresh is idempotent and single-flight: at most one refresh is ever in
// flight per Authenticator; concurrent callers wait on it and share its
// result instead of issuing their own login.
func (a *Authenticator) Refresh(ctx context.Context) error {
	a.mu.Lock()
	if a.refreshing != nil {
		done := a.refreshing
		a.mu.Unlock()
		select {
		case <-done:
			return a.lastRefreshErr()
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for in-flight refresh", util.ErrCancelled)
		}
	}
	done := make(chan struct{})
	a.refreshing = done
	a.mu.Unlock()

	err := a.Login(ctx)

	a.mu.Lock()
	// Only BadCredentials counts toward escalation; transient upstream
	// trouble retries forever under backoff.
	if errors.Is(err, util.ErrAuth) {
		a.consecutiveFailures++
	}
	a.refreshErr = err
	a.refreshing = nil
	a.mu.Unlock()

	close(done)
	return err
}

// lastRefreshErr returns the outcome of the refresh a caller just waited on.
func (a *Authenticator) lastRefreshErr() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshErr
}

// ShouldEscalate reports whether consecutive refresh failures have reached
// MaxConsecutiveFailures, meaning the Account must transition to
// closed(auth_failure) rather than retry again.
func (a *Authenticator) ShouldEscalate() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.consecutiveFailures >= MaxConsecutiveFailures
}

func parseSessionID(body []byte) (string, error) {
	// The upstream's login response does not always carry an explicit
	// session_id field; when absent, callers rely solely on the cookie jar
	// and this returns "" without error.
	s := string(body)
	const marker = `"session_id":"`
	idx := strings.Index(s, marker)
	if idx < 0 {
		return "", nil
	}
	start := idx + len(marker)
	end := strings.Index(s[start:], `"`)
	if end < 0 {
		return "", fmt.Errorf("truncated session_id in login response")
	}
	return s[start : start+end], nil
}
