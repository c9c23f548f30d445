package adapters

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mediarr/internal/kit"
)

func testPayload() kit.Payload {
	return kit.Payload{
		Event:   kit.EventIssueReported,
		Subject: "New issue: subtitles out of sync",
		Message: "Reported on The Long Goodbye (1973)",
		URL:     "https://portal.example/issues/42",
	}
}

func TestDiscordSendBuildsEmbed(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("body is not JSON: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a := &DiscordAdapter{Client: srv.Client()}
	cfg := map[string]string{"webhook_url": srv.URL}
	if err := a.Send(context.Background(), cfg, testPayload()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	embeds, ok := got["embeds"].([]any)
	if !ok || len(embeds) != 1 {
		t.Fatalf("embeds = %v, want one embed", got["embeds"])
	}
	embed := embeds[0].(map[string]any)
	if embed["title"] != "New issue: subtitles out of sync" {
		t.Fatalf("embed title = %v", embed["title"])
	}
}

func TestWebhookSendNon2xxSurfacesBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "upstream exploded")
	}))
	defer srv.Close()

	a := &WebhookAdapter{Client: srv.Client()}
	err := a.Send(context.Background(), map[string]string{"url": srv.URL}, testPayload())
	if err == nil {
		t.Fatal("Send succeeded on 502")
	}
	if !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "upstream exploded") {
		t.Fatalf("error %q missing status or body", err)
	}
}

func TestWebhookSendAuthHeader(t *testing.T) {
	t.Parallel()

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("X-Api-Key")
	}))
	defer srv.Close()

	a := &WebhookAdapter{Client: srv.Client()}
	cfg := map[string]string{
		"url":         srv.URL,
		"auth_header": "X-Api-Key",
		"auth_token":  "sekrit",
	}
	if err := a.Send(context.Background(), cfg, testPayload()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAuth != "sekrit" {
		t.Fatalf("auth header = %q, want sekrit", gotAuth)
	}
}

func TestWebhookSendTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server can watch for the client
		// disconnect; otherwise the context is never cancelled.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	a := &WebhookAdapter{Client: srv.Client()}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := a.Send(ctx, map[string]string{"url": srv.URL}, testPayload())
	if err == nil {
		t.Fatal("Send succeeded past the deadline")
	}
}

func TestValidateWebhookStyle(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		adapter Adapter
		cfg     map[string]string
		wantErr bool
	}{
		{"discord ok", &DiscordAdapter{}, map[string]string{"webhook_url": "https://discord.com/api/webhooks/1/x"}, false},
		{"discord missing url", &DiscordAdapter{}, map[string]string{}, true},
		{"discord bad scheme", &DiscordAdapter{}, map[string]string{"webhook_url": "ftp://nope"}, true},
		{"slack ok", &SlackAdapter{}, map[string]string{"webhook_url": "https://hooks.slack.com/services/x"}, false},
		{"slack blank url", &SlackAdapter{}, map[string]string{"webhook_url": "   "}, true},
		{"webhook ok", &WebhookAdapter{}, map[string]string{"url": "http://10.0.0.5/hook"}, false},
		{"webhook missing url", &WebhookAdapter{}, map[string]string{"auth_token": "x"}, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.adapter.Validate(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
