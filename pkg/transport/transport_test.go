package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/pandora-cas/goclient/pkg/util"
)

func TestGetReturnsBodyOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tr, err := New(srv.URL, "test-agent")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	body, err := tr.Get(context.Background(), "/api/updates", url.Values{"ts": []string{"0"}})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("body = %q", body)
	}
}

func TestGetReturnsHTTPStatusErrorOn4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("expired"))
	}))
	defer srv.Close()

	tr, _ := New(srv.URL, "test-agent")
	_, err := tr.Get(context.Background(), "/api/updates", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var statusErr *util.HTTPStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected *util.HTTPStatusError, got %T", err)
	}
	if statusErr.StatusCode != 401 {
		t.Errorf("StatusCode = %d, want 401", statusErr.StatusCode)
	}
	if !errors.Is(err, util.ErrAuth) {
		t.Errorf("expected 401 to unwrap to ErrAuth")
	}
}

func TestPostFormSendsEncodedBody(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotBody = r.FormValue("command")
		w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	tr, _ := New(srv.URL, "test-agent")
	_, err := tr.PostForm(context.Background(), "/api/devices/command", url.Values{
		"id": []string{"1234"}, "command": []string{"4"},
	})
	if err != nil {
		t.Fatalf("PostForm: %v", err)
	}
	if gotBody != "4" {
		t.Errorf("command form field = %q, want 4", gotBody)
	}
}

func TestCookieJarPersistsAcrossRequests(t *testing.T) {
	var sawCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc123"})
			w.Write([]byte("ok"))
			return
		}
		if c, err := r.Cookie("session"); err == nil {
			sawCookie = c.Value
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	tr, _ := New(srv.URL, "test-agent")
	if _, err := tr.PostForm(context.Background(), "/login", url.Values{}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := tr.Get(context.Background(), "/api/updates", nil); err != nil {
		t.Fatalf("get: %v", err)
	}
	if sawCookie != "abc123" {
		t.Errorf("expected the session cookie to be replayed, got %q", sawCookie)
	}
}

func TestGetCancelledContextAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	tr, _ := New(srv.URL, "test-agent")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Get(ctx, "/api/updates", nil)
	if err == nil {
		t.Fatal("expected an error for a cancelled context")
	}
}

func TestToWebSocketURL(t *testing.T) {
	cases := map[string]string{
		"https://pro.p-on.ru": "wss://pro.p-on.ru",
		"http://localhost:8080": "ws://localhost:8080",
	}
	for in, want := range cases {
		if got := toWebSocketURL(in); got != want {
			t.Errorf("toWebSocketURL(%q) = %q, want %q", in, got, want)
		}
	}
}
