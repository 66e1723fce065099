package notify

import (
	"context"
	"fmt"
	"html"
	"net/http"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat
// ID.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		apiBase: telegramAPI,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: senderTimeout},
	}
}

// Send calls sendMessage with the title in bold. Text is HTML-escaped so
// question text cannot break the message markup.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, t.client, "telegram", fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token), map[string]any{
		"chat_id":                  t.chatID,
		"text":                     fmt.Sprintf("<b>%s</b>\n%s", html.EscapeString(title), html.EscapeString(message)),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
