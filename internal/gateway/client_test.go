package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"copy-relay/internal/config"
)

func newTestClient(restURL string) *Client {
	return NewClient(config.ExchangeConfig{
		RestURL: restURL,
		Retry: config.RetryConfig{
			MaxAttempts: 3,
			MinDelay:    time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
	}, nil)
}

func TestClient_NewSessionToken(t *testing.T) {
	var gotMethod, gotPath, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-MBX-APIKEY")
		w.Write([]byte(`{"listenKey":"abc123"}`))
	}))
	defer server.Close()

	token, err := newTestClient(server.URL).NewSessionToken(context.Background(), Credentials{APIKey: "trader-key"})
	if err != nil {
		t.Fatalf("NewSessionToken returned error: %v", err)
	}
	if token != "abc123" {
		t.Errorf("expected token abc123, got %q", token)
	}
	if gotMethod != http.MethodPost || gotPath != "/api/v3/userDataStream" {
		t.Errorf("unexpected request %s %s", gotMethod, gotPath)
	}
	if gotKey != "trader-key" {
		t.Errorf("api key header not set, got %q", gotKey)
	}
}

func TestClient_NewSessionToken_RejectedCredentials(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"code":-2014,"msg":"API-key format invalid."}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).NewSessionToken(context.Background(), Credentials{APIKey: "bad"})
	if !errors.Is(err, ErrTokenRejected) {
		t.Fatalf("expected ErrTokenRejected, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("rejected credentials must not be retried, got %d calls", calls.Load())
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"listenKey":"recovered"}`))
	}))
	defer server.Close()

	token, err := newTestClient(server.URL).NewSessionToken(context.Background(), Credentials{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewSessionToken returned error: %v", err)
	}
	if token != "recovered" {
		t.Errorf("expected token recovered, got %q", token)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestClient_KeepAliveAndClosePassListenKey(t *testing.T) {
	type call struct {
		method    string
		listenKey string
	}
	var calls []call
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, call{method: r.Method, listenKey: r.URL.Query().Get("listenKey")})
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	creds := Credentials{APIKey: "k"}
	if err := client.KeepAliveToken(context.Background(), creds, "tok-1"); err != nil {
		t.Fatalf("KeepAliveToken returned error: %v", err)
	}
	if err := client.CloseToken(context.Background(), creds, "tok-1"); err != nil {
		t.Fatalf("CloseToken returned error: %v", err)
	}

	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].method != http.MethodPut || calls[0].listenKey != "tok-1" {
		t.Errorf("unexpected keepalive call: %+v", calls[0])
	}
	if calls[1].method != http.MethodDelete || calls[1].listenKey != "tok-1" {
		t.Errorf("unexpected close call: %+v", calls[1])
	}
}
