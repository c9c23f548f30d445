package adapters

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestPushoverSendForm(t *testing.T) {
	t.Parallel()

	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
	}))
	defer srv.Close()

	a := &PushoverAdapter{Client: srv.Client(), BaseURL: srv.URL}
	cfg := map[string]string{"token": "app-token", "user": "user-key", "sound": "pushover"}
	if err := a.Send(context.Background(), cfg, testPayload()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if form.Get("token") != "app-token" || form.Get("user") != "user-key" {
		t.Fatalf("credentials not in form: %v", form)
	}
	if form.Get("title") == "" || form.Get("message") == "" {
		t.Fatalf("title/message missing: %v", form)
	}
	if form.Get("sound") != "pushover" {
		t.Fatalf("sound = %q", form.Get("sound"))
	}
}

func TestPushbulletSendTokenHeader(t *testing.T) {
	t.Parallel()

	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("Access-Token")
	}))
	defer srv.Close()

	a := &PushbulletAdapter{Client: srv.Client(), BaseURL: srv.URL}
	cfg := map[string]string{"access_token": "pb-token"}
	if err := a.Send(context.Background(), cfg, testPayload()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotToken != "pb-token" {
		t.Fatalf("Access-Token = %q", gotToken)
	}
}

func TestNtfySendTopicAndAuth(t *testing.T) {
	t.Parallel()

	var (
		gotPath  string
		gotTitle string
		gotAuth  string
		gotBody  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTitle = r.Header.Get("Title")
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	}))
	defer srv.Close()

	a := &NtfyAdapter{Client: srv.Client()}
	cfg := map[string]string{"url": srv.URL, "topic": "mediarr", "token": "tk_abc"}
	p := testPayload()
	if err := a.Send(context.Background(), cfg, p); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotPath != "/mediarr" {
		t.Fatalf("path = %q, want /mediarr", gotPath)
	}
	if gotTitle != p.Subject {
		t.Fatalf("Title header = %q", gotTitle)
	}
	if gotAuth != "Bearer tk_abc" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotBody != p.Message {
		t.Fatalf("body = %q", gotBody)
	}
}

func TestGotifySendTokenHeader(t *testing.T) {
	t.Parallel()

	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Gotify-Key")
	}))
	defer srv.Close()

	a := &GotifyAdapter{Client: srv.Client()}
	cfg := map[string]string{"url": srv.URL, "token": "gk"}
	if err := a.Send(context.Background(), cfg, testPayload()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotPath != "/message" || gotKey != "gk" {
		t.Fatalf("path=%q key=%q", gotPath, gotKey)
	}
}

func TestValidatePushKinds(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		adapter Adapter
		cfg     map[string]string
		wantErr bool
	}{
		{"pushover ok", &PushoverAdapter{}, map[string]string{"token": "t", "user": "u"}, false},
		{"pushover missing user", &PushoverAdapter{}, map[string]string{"token": "t"}, true},
		{"pushover bad priority", &PushoverAdapter{}, map[string]string{"token": "t", "user": "u", "priority": "9"}, true},
		{"pushbullet ok", &PushbulletAdapter{}, map[string]string{"access_token": "x"}, false},
		{"pushbullet missing token", &PushbulletAdapter{}, map[string]string{}, true},
		{"ntfy ok bearer", &NtfyAdapter{}, map[string]string{"url": "https://ntfy.sh", "topic": "t", "token": "x"}, false},
		{"ntfy conflicting auth", &NtfyAdapter{}, map[string]string{"url": "https://ntfy.sh", "topic": "t", "token": "x", "username": "u"}, true},
		{"gotify ok", &GotifyAdapter{}, map[string]string{"url": "https://push.example", "token": "x"}, false},
		{"telegram ok", &TelegramAdapter{}, map[string]string{"bot_token": "123:abc", "chat_id": "-100123"}, false},
		{"telegram non-numeric chat", &TelegramAdapter{}, map[string]string{"bot_token": "123:abc", "chat_id": "general"}, true},
		{"email ok", &EmailAdapter{}, map[string]string{"host": "smtp.example", "port": "587", "from": "a@b.c", "to": "d@e.f"}, false},
		{"email bad port", &EmailAdapter{}, map[string]string{"host": "smtp.example", "port": "99999", "from": "a@b.c", "to": "d@e.f"}, true},
		{"email bad encryption", &EmailAdapter{}, map[string]string{"host": "smtp.example", "port": "25", "from": "a@b.c", "to": "d@e.f", "encryption": "rot13"}, true},
		{"webpush ok", &WebPushAdapter{}, map[string]string{
			"endpoint": "https://push.example/sub", "p256dh": "k", "auth": "a",
			"vapid_public": "pub", "vapid_private": "priv",
		}, false},
		{"webpush missing keys", &WebPushAdapter{}, map[string]string{"endpoint": "https://push.example/sub"}, true},
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
