// Package transport is the single HTTP/WebSocket client per Account: one
// http.Client with a cookie jar scoped to the service host, a bounded
// semaphore over concurrent HTTP calls, and a WebSocket dialer that shares
// the same jar so the stream authenticates with whatever cookie the last
// login/refresh installed.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pandora-cas/goclient/pkg/util"
)

const (
	// DefaultTimeout is the per-request HTTP timeout.
	DefaultTimeout = 15 * time.Second
	// MaxConcurrentRequests bounds in-flight HTTP calls per Account.
	MaxConcurrentRequests = 4
)

// Transport is the per-Account HTTP/WebSocket client.
type Transport struct {
	baseURL   string
	userAgent string
	client    *http.Client
	jar       http.CookieJar
	sem       chan struct{}
}

// New creates a Transport against baseURL (e.g. "https://pro.p-on.ru"),
// sending userAgent on every request.
func New(baseURL, userAgent string) (*Transport, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	return &Transport{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		client:    &http.Client{Timeout: DefaultTimeout, Jar: jar},
		jar:       jar,
		sem:       make(chan struct{}, MaxConcurrentRequests),
	}, nil
}

// Jar exposes the cookie jar shared by HTTP requests and the WebSocket dialer.
func (t *Transport) Jar() http.CookieJar { return t.jar }

func (t *Transport) acquire(ctx context.Context) error {
	select {
	case t.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for a request slot", util.ErrCancelled)
	}
}

func (t *Transport) release() { <-t.sem }

// Get issues an authenticated GET to path with query parameters and returns
// the response body, or a classified HttpError.
func (t *Transport) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := t.acquire(ctx); err != nil {
		return nil, err
	}
	defer t.release()

	u := t.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building GET %s: %v", util.ErrTransport, path, err)
	}
	req.Header.Set("User-Agent", t.userAgent)
	return t.do(req, http.MethodGet, path)
}

// PostForm issues an authenticated POST with an application/x-www-form-urlencoded body.
func (t *Transport) PostForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	if err := t.acquire(ctx); err != nil {
		return nil, err
	}
	defer t.release()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: building POST %s: %v", util.ErrTransport, path, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", t.userAgent)
	return t.do(req, http.MethodPost, path)
}

func (t *Transport) do(req *http.Request, method, path string) ([]byte, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", util.ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s %s body: %v", util.ErrTransport, method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, util.NewHTTPStatusError(method, path, resp.StatusCode, string(body))
	}
	return body, nil
}

// OpenWS dials the WebSocket endpoint at path, sharing this Transport's
// cookie jar so the connection carries the session cookie.
func (t *Transport) OpenWS(ctx context.Context, path string) (*websocket.Conn, *http.Response, error) {
	wsURL := toWebSocketURL(t.baseURL) + path

	header := http.Header{}
	header.Set("User-Agent", t.userAgent)
	if u, err := url.Parse(t.baseURL); err == nil {
		for _, c := range t.jar.Cookies(u) {
			header.Add("Cookie", c.Name+"="+c.Value)
		}
	}

	dialer := websocket.Dialer{HandshakeTimeout: DefaultTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, resp, util.NewHTTPStatusError(http.MethodGet, path, resp.StatusCode, "")
		}
		return nil, resp, fmt.Errorf("%w: dialing %s: %v", util.ErrTransport, path, err)
	}
	return conn, resp, nil
}

func toWebSocketURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	default:
		return httpURL
	}
}
