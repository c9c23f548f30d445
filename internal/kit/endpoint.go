package kit

import (
	"time"

	"github.com/google/uuid"
)

// EndpointKind identifies the transport adapter an endpoint is delivered
// through. Values are persisted; do not rename.
type EndpointKind string

const (
	KindDiscord    EndpointKind = "discord"
	KindSlack      EndpointKind = "slack"
	KindWebhook    EndpointKind = "webhook"
	KindPushover   EndpointKind = "pushover"
	KindPushbullet EndpointKind = "pushbullet"
	KindNtfy       EndpointKind = "ntfy"
	KindGotify     EndpointKind = "gotify"
	KindTelegram   EndpointKind = "telegram"
	KindEmail      EndpointKind = "email"
	KindWebPush    EndpointKind = "webpush"
)

// Endpoint is a configured notification delivery target.
//
// Config holds the channel-specific settings (URLs, tokens, credentials);
// each kind has its own required-field schema, validated before the endpoint
// is accepted by the store.
type Endpoint struct {
	ID        uuid.UUID         `json:"id"`
	Name      string            `json:"name"`
	Kind      EndpointKind      `json:"kind"`
	Enabled   bool              `json:"enabled"`
	Types     EventMask         `json:"types"`
	Config    map[string]string `json:"config"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// UserAssignment links a user to an endpoint for user-scoped events.
type UserAssignment struct {
	UserID     int64     `json:"user_id"`
	EndpointID uuid.UUID `json:"endpoint_id"`
}

// DeliveryAttempt is the outcome of invoking one adapter for one endpoint.
// It only lives long enough to aggregate a dispatch summary.
type DeliveryAttempt struct {
	EndpointID uuid.UUID
	Kind       EndpointKind
	OK         bool
	Err        error
}

// DispatchSummary aggregates one dispatch cycle for logging.
type DispatchSummary struct {
	Matched   int `json:"matched"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}
