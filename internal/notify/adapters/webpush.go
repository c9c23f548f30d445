package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"mediarr/internal/kit"
)

// WebPushAdapter signs a push payload with the portal's VAPID keypair and
// submits it to the browser subscription endpoint.
//
// Config: endpoint, p256dh, auth, vapid_public, vapid_private (required),
// subscriber (optional contact mailto/URL).
//
// A 404/410 from the push service means the subscription is dead; that is
// surfaced as ErrSubscriptionGone so the caller can deactivate the stored
// subscription. Persisting that decision is not the adapter's job.
type WebPushAdapter struct {
	Client *http.Client
}

func (a *WebPushAdapter) Kind() kit.EndpointKind { return kit.KindWebPush }

func (a *WebPushAdapter) Validate(cfg map[string]string) error {
	if err := requireKeys(cfg, "endpoint", "p256dh", "auth", "vapid_public", "vapid_private"); err != nil {
		return err
	}
	return validateHTTPURL(cfg["endpoint"])
}

func (a *WebPushAdapter) Send(ctx context.Context, cfg map[string]string, p kit.Payload) error {
	body, err := json.Marshal(map[string]string{
		"title": p.Subject,
		"body":  p.Message,
		"icon":  p.Image,
		"url":   p.URL,
		"event": p.Event.String(),
	})
	if err != nil {
		return fmt.Errorf("encode push payload: %w", err)
	}

	sub := &webpush.Subscription{
		Endpoint: cfg["endpoint"],
		Keys: webpush.Keys{
			P256dh: cfg["p256dh"],
			Auth:   cfg["auth"],
		},
	}
	subscriber := cfg["subscriber"]
	if subscriber == "" {
		subscriber = "mailto:admin@localhost"
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, sub, &webpush.Options{
		Subscriber:      subscriber,
		VAPIDPublicKey:  cfg["vapid_public"],
		VAPIDPrivateKey: cfg["vapid_private"],
		TTL:             60,
		HTTPClient:      a.Client,
	})
	if err != nil {
		return fmt.Errorf("webpush send: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("endpoint %s: %w", cfg["endpoint"], ErrSubscriptionGone)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("push service status %d", resp.StatusCode)
	}
	return nil
}
