package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "quackcore/internal/errors"
	"quackcore/pkg/capability"
	"quackcore/pkg/session"
)

func openPlugin(t *testing.T, apiBase, tokenURL string) *Plugin {
	t.Helper()
	p := New().(*Plugin)
	err := p.Configure(map[string]any{
		"api_base":      apiBase,
		"token_url":     tokenURL,
		"client_id":     "id",
		"client_secret": "secret",
		"page_size":     2,
	})
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := p.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return p
}

func TestAuthenticateExchangesRefreshToken(t *testing.T) {
	var gotGrant, gotRefresh string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm failed: %v", err)
		}
		gotGrant = r.PostFormValue("grant_type")
		gotRefresh = r.PostFormValue("refresh_token")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fresh-access",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	p := openPlugin(t, srv.URL, srv.URL)
	token, err := p.Authenticate(context.Background(), "stored-refresh")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if gotGrant != "refresh_token" || gotRefresh != "stored-refresh" {
		t.Fatalf("unexpected exchange: grant=%q refresh=%q", gotGrant, gotRefresh)
	}
	if token.AccessToken != "fresh-access" || token.Expiry.IsZero() {
		t.Fatalf("unexpected token %+v", token)
	}
}

func TestAuthenticateWithoutRefreshTokenFails(t *testing.T) {
	p := openPlugin(t, "http://unused", "http://unused")
	_, err := p.Authenticate(context.Background(), "")
	if !errors.Is(err, xerrors.New(xerrors.CodeAuthFailed, "")) {
		t.Fatalf("expected AUTH_FAILED, got %v", err)
	}
}

func TestListMessagesPaginates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Query().Get("pageToken") {
		case "":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"messages": []map[string]string{
					{"id": "m1", "threadId": "t1"},
					{"id": "m2", "threadId": "t1"},
				},
				"nextPageToken": "page2",
			})
		case "page2":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"messages": []map[string]string{{"id": "m3", "threadId": "t2"}},
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	p := openPlugin(t, srv.URL, srv.URL)
	ctx := session.WithToken(context.Background(), "tok")

	pager, err := p.Paginate(ctx, OpListMessages, nil)
	if err != nil {
		t.Fatalf("Paginate failed: %v", err)
	}

	first, err := pager.Next(ctx)
	if err != nil {
		t.Fatalf("first Next failed: %v", err)
	}
	if len(first.Items) != 2 || first.NextToken != "page2" {
		t.Fatalf("unexpected first page %+v", first)
	}
	second, err := pager.Next(ctx)
	if err != nil {
		t.Fatalf("second Next failed: %v", err)
	}
	if len(second.Items) != 1 || second.NextToken != "" {
		t.Fatalf("unexpected second page %+v", second)
	}
	final, err := pager.Next(ctx)
	if err != nil || final != nil {
		t.Fatalf("expected exhausted pager, got %+v, err %v", final, err)
	}
}

func TestCallWithoutTokenFails(t *testing.T) {
	p := openPlugin(t, "http://unused", "http://unused")
	_, err := p.Call(context.Background(), OpGetMessage, map[string]any{"id": "m1"})
	if !errors.Is(err, xerrors.New(xerrors.CodeAuthFailed, "")) {
		t.Fatalf("expected AUTH_FAILED, got %v", err)
	}
}

func TestRejectedTokenIsAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := openPlugin(t, srv.URL, srv.URL)
	ctx := session.WithToken(context.Background(), "stale")
	_, err := p.Call(ctx, OpGetMessage, map[string]any{"id": "m1"})
	if !errors.Is(err, xerrors.New(xerrors.CodeAuthFailed, "")) {
		t.Fatalf("expected AUTH_FAILED, got %v", err)
	}
}

func TestThrottledRequestIsRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := openPlugin(t, srv.URL, srv.URL)
	ctx := session.WithToken(context.Background(), "tok")
	_, err := p.Call(ctx, OpGetMessage, map[string]any{"id": "m1"})
	if !errors.Is(err, xerrors.New(xerrors.CodeRateLimited, "")) {
		t.Fatalf("expected RATE_LIMITED, got %v", err)
	}
}

func TestSendMessageEncodesPayload(t *testing.T) {
	var raw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Raw string `json:"raw"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		raw = body.Raw
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "sent-1"})
	}))
	defer srv.Close()

	p := openPlugin(t, srv.URL, srv.URL)
	ctx := session.WithToken(context.Background(), "tok")
	payload, err := p.Call(ctx, OpSendMessage, map[string]any{
		"to": "duck@example.com", "subject": "hi", "body": "quack",
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if raw == "" {
		t.Fatal("expected a raw RFC 2822 payload")
	}
	sent, ok := payload.(map[string]any)
	if !ok || sent["id"] != "sent-1" {
		t.Fatalf("unexpected response %v", payload)
	}
}

func TestOperationsDeclareSendNotIdempotent(t *testing.T) {
	p := New().(*Plugin)
	var send *capability.Operation
	for _, op := range p.Operations() {
		if op.Name == OpSendMessage {
			copied := op
			send = &copied
		}
	}
	if send == nil || send.Idempotent {
		t.Fatal("send_message must be declared non-idempotent")
	}
}
