package adapters

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"mediarr/internal/kit"
)

// PushoverAdapter submits a message to the Pushover API.
//
// Config: token, user (both required), sound, priority (optional; priority
// is the Pushover scale -2..2).
type PushoverAdapter struct {
	Client *http.Client

	// BaseURL is overridable for tests; empty means the public API.
	BaseURL string
}

const pushoverAPI = "https://api.pushover.net/1/messages.json"

func (a *PushoverAdapter) Kind() kit.EndpointKind { return kit.KindPushover }

func (a *PushoverAdapter) Validate(cfg map[string]string) error {
	if err := requireKeys(cfg, "token", "user"); err != nil {
		return err
	}
	if p := strings.TrimSpace(cfg["priority"]); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < -2 || n > 2 {
			return &configError{field: "priority", reason: "must be an integer between -2 and 2"}
		}
	}
	return nil
}

func (a *PushoverAdapter) Send(ctx context.Context, cfg map[string]string, p kit.Payload) error {
	form := url.Values{}
	form.Set("token", cfg["token"])
	form.Set("user", cfg["user"])
	form.Set("title", p.Subject)
	form.Set("message", p.Message)
	if p.URL != "" {
		form.Set("url", p.URL)
	}
	if s := strings.TrimSpace(cfg["sound"]); s != "" {
		form.Set("sound", s)
	}
	if pr := strings.TrimSpace(cfg["priority"]); pr != "" {
		form.Set("priority", pr)
	}

	endpoint := a.BaseURL
	if endpoint == "" {
		endpoint = pushoverAPI
	}
	return postRaw(ctx, a.Client, endpoint, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), nil)
}

// PushbulletAdapter pushes a note through the Pushbullet API.
//
// Config: access_token (required), channel_tag (optional).
type PushbulletAdapter struct {
	Client  *http.Client
	BaseURL string
}

const pushbulletAPI = "https://api.pushbullet.com/v2/pushes"

func (a *PushbulletAdapter) Kind() kit.EndpointKind { return kit.KindPushbullet }

func (a *PushbulletAdapter) Validate(cfg map[string]string) error {
	return requireKeys(cfg, "access_token")
}

func (a *PushbulletAdapter) Send(ctx context.Context, cfg map[string]string, p kit.Payload) error {
	body := map[string]any{
		"type":  "note",
		"title": p.Subject,
		"body":  p.Message,
	}
	if tag := strings.TrimSpace(cfg["channel_tag"]); tag != "" {
		body["channel_tag"] = tag
	}

	endpoint := a.BaseURL
	if endpoint == "" {
		endpoint = pushbulletAPI
	}
	header := http.Header{"Access-Token": []string{cfg["access_token"]}}
	return postJSON(ctx, a.Client, endpoint, body, header)
}

// NtfyAdapter publishes to an ntfy topic. Authentication is optional and
// either basic (username+password) or bearer (token).
//
// Config: url, topic (required); username+password or token (optional).
type NtfyAdapter struct {
	Client *http.Client
}

func (a *NtfyAdapter) Kind() kit.EndpointKind { return kit.KindNtfy }

func (a *NtfyAdapter) Validate(cfg map[string]string) error {
	if err := requireKeys(cfg, "url", "topic"); err != nil {
		return err
	}
	if err := validateHTTPURL(cfg["url"]); err != nil {
		return err
	}
	if cfg["token"] != "" && cfg["username"] != "" {
		return &configError{field: "token", reason: "token and username/password are mutually exclusive"}
	}
	return nil
}

func (a *NtfyAdapter) Send(ctx context.Context, cfg map[string]string, p kit.Payload) error {
	endpoint := strings.TrimRight(cfg["url"], "/") + "/" + url.PathEscape(cfg["topic"])

	header := http.Header{}
	header.Set("Title", p.Subject)
	if p.URL != "" {
		header.Set("Click", p.URL)
	}
	switch {
	case cfg["token"] != "":
		header.Set("Authorization", "Bearer "+cfg["token"])
	case cfg["username"] != "":
		req, _ := http.NewRequest(http.MethodGet, endpoint, nil)
		req.SetBasicAuth(cfg["username"], cfg["password"])
		header.Set("Authorization", req.Header.Get("Authorization"))
	}
	return postRaw(ctx, a.Client, endpoint, "text/plain", strings.NewReader(p.Message), header)
}

// GotifyAdapter posts a message to a Gotify server.
//
// Config: url, token (required).
type GotifyAdapter struct {
	Client *http.Client
}

func (a *GotifyAdapter) Kind() kit.EndpointKind { return kit.KindGotify }

func (a *GotifyAdapter) Validate(cfg map[string]string) error {
	if err := requireKeys(cfg, "url", "token"); err != nil {
		return err
	}
	return validateHTTPURL(cfg["url"])
}

func (a *GotifyAdapter) Send(ctx context.Context, cfg map[string]string, p kit.Payload) error {
	endpoint := strings.TrimRight(cfg["url"], "/") + "/message"
	body := map[string]any{
		"title":    p.Subject,
		"message":  p.Message,
		"priority": 5,
	}
	header := http.Header{"X-Gotify-Key": []string{cfg["token"]}}
	return postJSON(ctx, a.Client, endpoint, body, header)
}

type configError struct {
	field  string
	reason string
}

func (e *configError) Error() string {
	return "config field " + strconv.Quote(e.field) + ": " + e.reason
}
