package adapters

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"mediarr/internal/kit"
)

// DiscordAdapter posts an embed to a Discord webhook URL.
//
// Config: webhook_url (required), username (optional override).
type DiscordAdapter struct {
	Client *http.Client
}

func (a *DiscordAdapter) Kind() kit.EndpointKind { return kit.KindDiscord }

func (a *DiscordAdapter) Validate(cfg map[string]string) error {
	if err := requireKeys(cfg, "webhook_url"); err != nil {
		return err
	}
	return validateHTTPURL(cfg["webhook_url"])
}

type discordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	URL         string              `json:"url,omitempty"`
	Color       int                 `json:"color"`
	Footer      *discordEmbedFooter `json:"footer,omitempty"`
	Thumbnail   *discordEmbedImage  `json:"thumbnail,omitempty"`
}

type discordEmbedFooter struct {
	Text string `json:"text"`
}

type discordEmbedImage struct {
	URL string `json:"url"`
}

func (a *DiscordAdapter) Send(ctx context.Context, cfg map[string]string, p kit.Payload) error {
	embed := discordEmbed{
		Title:       p.Subject,
		Description: p.Message,
		URL:         p.URL,
		Color:       eventColor(p.Event),
		Footer:      &discordEmbedFooter{Text: "mediarr"},
	}
	if p.Image != "" {
		embed.Thumbnail = &discordEmbedImage{URL: p.Image}
	}
	body := map[string]any{"embeds": []discordEmbed{embed}}
	if u := strings.TrimSpace(cfg["username"]); u != "" {
		body["username"] = u
	}
	return postJSON(ctx, a.Client, cfg["webhook_url"], body, nil)
}

// SlackAdapter posts an attachment to a Slack incoming webhook.
//
// Config: webhook_url (required), channel (optional override).
type SlackAdapter struct {
	Client *http.Client
}

func (a *SlackAdapter) Kind() kit.EndpointKind { return kit.KindSlack }

func (a *SlackAdapter) Validate(cfg map[string]string) error {
	if err := requireKeys(cfg, "webhook_url"); err != nil {
		return err
	}
	return validateHTTPURL(cfg["webhook_url"])
}

type slackAttachment struct {
	Title     string `json:"title"`
	TitleLink string `json:"title_link,omitempty"`
	Text      string `json:"text,omitempty"`
	Color     string `json:"color,omitempty"`
	Footer    string `json:"footer,omitempty"`
	ThumbURL  string `json:"thumb_url,omitempty"`
}

func (a *SlackAdapter) Send(ctx context.Context, cfg map[string]string, p kit.Payload) error {
	att := slackAttachment{
		Title:     p.Subject,
		TitleLink: p.URL,
		Text:      p.Message,
		Color:     hexColor(eventColor(p.Event)),
		Footer:    "mediarr",
		ThumbURL:  p.Image,
	}
	body := map[string]any{"attachments": []slackAttachment{att}}
	if ch := strings.TrimSpace(cfg["channel"]); ch != "" {
		body["channel"] = ch
	}
	return postJSON(ctx, a.Client, cfg["webhook_url"], body, nil)
}

// WebhookAdapter posts the raw event payload to an arbitrary URL. This is
// the escape hatch for systems we have no dedicated adapter for.
//
// Config: url (required), auth_header (optional header name, defaults to
// Authorization when auth_token is set), auth_token (optional).
type WebhookAdapter struct {
	Client *http.Client
}

func (a *WebhookAdapter) Kind() kit.EndpointKind { return kit.KindWebhook }

func (a *WebhookAdapter) Validate(cfg map[string]string) error {
	if err := requireKeys(cfg, "url"); err != nil {
		return err
	}
	return validateHTTPURL(cfg["url"])
}

func (a *WebhookAdapter) Send(ctx context.Context, cfg map[string]string, p kit.Payload) error {
	body := map[string]any{
		"event":   p.Event.String(),
		"subject": p.Subject,
		"message": p.Message,
	}
	if p.URL != "" {
		body["url"] = p.URL
	}
	if p.Image != "" {
		body["image"] = p.Image
	}
	if len(p.Extra) > 0 {
		body["extra"] = p.Extra
	}

	var header http.Header
	if tok := strings.TrimSpace(cfg["auth_token"]); tok != "" {
		name := strings.TrimSpace(cfg["auth_header"])
		if name == "" {
			name = "Authorization"
		}
		header = http.Header{name: []string{tok}}
	}
	return postJSON(ctx, a.Client, cfg["url"], body, header)
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &url.Error{Op: "parse", URL: raw, Err: errNotHTTP}
	}
	return nil
}

var errNotHTTP = &schemeError{}

type schemeError struct{}

func (*schemeError) Error() string { return "url scheme must be http or https" }

func hexColor(c int) string {
	const hexdigits = "0123456789abcdef"
	b := make([]byte, 7)
	b[0] = '#'
	for i := 6; i >= 1; i-- {
		b[i] = hexdigits[c&0xf]
		c >>= 4
	}
	return string(b)
}
