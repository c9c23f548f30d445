package adapters

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"mediarr/internal/kit"
)

// TelegramAdapter sends a message through a Telegram bot.
//
// Config: bot_token, chat_id (required), thread_id (optional forum topic).
type TelegramAdapter struct {
	Client *http.Client
}

func (a *TelegramAdapter) Kind() kit.EndpointKind { return kit.KindTelegram }

func (a *TelegramAdapter) Validate(cfg map[string]string) error {
	if err := requireKeys(cfg, "bot_token", "chat_id"); err != nil {
		return err
	}
	if _, err := strconv.ParseInt(strings.TrimSpace(cfg["chat_id"]), 10, 64); err != nil {
		return &configError{field: "chat_id", reason: "must be a numeric chat id"}
	}
	if tid := strings.TrimSpace(cfg["thread_id"]); tid != "" {
		if _, err := strconv.Atoi(tid); err != nil {
			return &configError{field: "thread_id", reason: "must be a numeric topic id"}
		}
	}
	return nil
}

func (a *TelegramAdapter) Send(ctx context.Context, cfg map[string]string, p kit.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Offline settings skip the getMe round-trip; request deadlines come
	// from the shared HTTP client.
	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg["bot_token"],
		Offline: true,
		Client:  a.Client,
	})
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}

	chatID, _ := strconv.ParseInt(strings.TrimSpace(cfg["chat_id"]), 10, 64)

	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(p.Subject))
	b.WriteString("</b>")
	if p.Message != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(p.Message))
	}
	if p.URL != "" {
		b.WriteString("\n")
		b.WriteString(p.URL)
	}

	opts := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	}
	if tid := strings.TrimSpace(cfg["thread_id"]); tid != "" {
		n, _ := strconv.Atoi(tid)
		opts.ThreadID = n
	}

	if _, err := bot.Send(tele.ChatID(chatID), b.String(), opts); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
