// Package adapters holds one transport adapter per notification channel
// kind. An adapter converts the generic event payload into a
// channel-specific request.
//
// Adapters keep no mutable state across calls; everything they need comes
// from the read-only endpoint config and the payload. One send failing must
// never influence another in-flight send.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mediarr/internal/kit"
)

// ErrSubscriptionGone marks a push delivery that failed because the
// subscription no longer exists (HTTP 404/410 from the push service).
// Callers use it as a garbage-collection signal for stored subscriptions.
var ErrSubscriptionGone = errors.New("push subscription gone")

// Adapter is the single-operation contract every channel implements.
type Adapter interface {
	Kind() kit.EndpointKind
	// Validate checks the endpoint config against the kind's required
	// field schema. It runs at save time, before the endpoint is
	// considered deliverable.
	Validate(cfg map[string]string) error
	// Send delivers one payload. The context carries the per-send
	// timeout; any non-nil return is a delivery failure.
	Send(ctx context.Context, cfg map[string]string, p kit.Payload) error
}

// Registry resolves endpoint kinds to adapters.
type Registry struct {
	adapters map[kit.EndpointKind]Adapter
}

// NewRegistry builds a registry with all built-in adapters sharing one HTTP
// client. Pass nil to use a client with a sane default timeout.
func NewRegistry(client *http.Client) *Registry {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	r := &Registry{adapters: map[kit.EndpointKind]Adapter{}}
	r.Register(
		&DiscordAdapter{Client: client},
		&SlackAdapter{Client: client},
		&WebhookAdapter{Client: client},
		&PushoverAdapter{Client: client},
		&PushbulletAdapter{Client: client},
		&NtfyAdapter{Client: client},
		&GotifyAdapter{Client: client},
		&TelegramAdapter{Client: client},
		&EmailAdapter{},
		&WebPushAdapter{Client: client},
	)
	return r
}

func (r *Registry) Register(as ...Adapter) {
	for _, a := range as {
		r.adapters[a.Kind()] = a
	}
}

// Get returns the adapter for kind, or an error for unknown kinds.
func (r *Registry) Get(kind kit.EndpointKind) (Adapter, error) {
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("no adapter for endpoint kind %q", kind)
	}
	return a, nil
}

// Kinds lists registered kinds (admin introspection).
func (r *Registry) Kinds() []kit.EndpointKind {
	out := make([]kit.EndpointKind, 0, len(r.adapters))
	for k := range r.adapters {
		out = append(out, k)
	}
	return out
}

// ---- shared helpers ----

// requireKeys is the validation workhorse: every listed key must be present
// and non-blank in cfg.
func requireKeys(cfg map[string]string, keys ...string) error {
	for _, k := range keys {
		if strings.TrimSpace(cfg[k]) == "" {
			return fmt.Errorf("missing required config field %q", k)
		}
	}
	return nil
}

const maxErrBody = 1024

// postJSON issues a JSON POST and treats any non-2xx status as a delivery
// failure, surfacing a bounded slice of the response body.
func postJSON(ctx context.Context, client *http.Client, url string, body any, header http.Header) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return postRaw(ctx, client, url, "application/json", bytes.NewReader(raw), header)
}

func postRaw(ctx context.Context, client *http.Client, url, contentType string, body io.Reader, header http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", "mediarr/1.0")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(preview)))
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrBody))
	return nil
}

// eventColor maps event categories to the embed color used by chat
// channels. Values are plain 24-bit RGB.
func eventColor(t kit.EventMask) int {
	switch t {
	case kit.EventRequestApproved, kit.EventRequestAutoApproved, kit.EventMediaAvailable, kit.EventIssueResolved:
		return 0x2ecc71 // green
	case kit.EventRequestDeclined, kit.EventMediaFailed, kit.EventJobFailed:
		return 0xe74c3c // red
	case kit.EventIssueReported, kit.EventIssueReopened:
		return 0xe67e22 // orange
	default:
		return 0x3498db // blue
	}
}
