package adapters

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	gomail "github.com/wneessen/go-mail"

	"mediarr/internal/kit"
)

// EmailAdapter submits a message over SMTP. A fresh transport session is
// opened per send; there is no connection pooling.
//
// Config: host, port, from, to (required); username, password, encryption
// ("none", "starttls", "tls"; default "starttls") optional.
type EmailAdapter struct{}

func (a *EmailAdapter) Kind() kit.EndpointKind { return kit.KindEmail }

func (a *EmailAdapter) Validate(cfg map[string]string) error {
	if err := requireKeys(cfg, "host", "port", "from", "to"); err != nil {
		return err
	}
	port, err := strconv.Atoi(strings.TrimSpace(cfg["port"]))
	if err != nil || port < 1 || port > 65535 {
		return &configError{field: "port", reason: "must be a valid TCP port"}
	}
	switch strings.ToLower(strings.TrimSpace(cfg["encryption"])) {
	case "", "none", "starttls", "tls":
	default:
		return &configError{field: "encryption", reason: `must be one of "none", "starttls", "tls"`}
	}
	return nil
}

func (a *EmailAdapter) Send(ctx context.Context, cfg map[string]string, p kit.Payload) error {
	msg := gomail.NewMsg()
	if err := msg.From(cfg["from"]); err != nil {
		return fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(splitAddrs(cfg["to"])...); err != nil {
		return fmt.Errorf("to address: %w", err)
	}
	msg.Subject(p.Subject)
	msg.SetBodyString(gomail.TypeTextPlain, p.Message)
	msg.AddAlternativeString(gomail.TypeTextHTML, renderHTMLBody(p))

	port, _ := strconv.Atoi(strings.TrimSpace(cfg["port"]))
	opts := []gomail.Option{gomail.WithPort(port)}
	switch strings.ToLower(strings.TrimSpace(cfg["encryption"])) {
	case "none":
		opts = append(opts, gomail.WithTLSPolicy(gomail.NoTLS))
	case "tls":
		opts = append(opts, gomail.WithSSL())
	default:
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	}
	if user := cfg["username"]; user != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(user),
			gomail.WithPassword(cfg["password"]),
		)
	}

	client, err := gomail.NewClient(cfg["host"], opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func splitAddrs(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func renderHTMLBody(p kit.Payload) string {
	var b strings.Builder
	b.WriteString("<h2>")
	b.WriteString(html.EscapeString(p.Subject))
	b.WriteString("</h2><p>")
	b.WriteString(html.EscapeString(p.Message))
	b.WriteString("</p>")
	if p.URL != "" {
		b.WriteString(`<p><a href="`)
		b.WriteString(html.EscapeString(p.URL))
		b.WriteString(`">Open in mediarr</a></p>`)
	}
	return b.String()
}
