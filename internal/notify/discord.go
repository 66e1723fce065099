package notify

import (
	"context"
	"net/http"
	"strings"
)

// Embed colours per title prefix; anything else is neutral grey.
const (
	colorSettled = 0x2ecc71
	colorAlert   = 0xe74c3c
	colorNeutral = 0x95a5a6
)

// DiscordSender delivers notifications as embeds on a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: senderTimeout},
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type discordMessage struct {
	Username        string         `json:"username"`
	Embeds          []discordEmbed `json:"embeds"`
	AllowedMentions struct {
		Parse []string `json:"parse"`
	} `json:"allowed_mentions"`
}

// Send posts one embed. Mentions are disabled since market questions are
// user-visible text.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	msg := discordMessage{
		Username: "opinionbook",
		Embeds:   []discordEmbed{{Title: title, Description: message, Color: embedColor(title)}},
	}
	msg.AllowedMentions.Parse = []string{}
	return postJSON(ctx, d.client, "discord", d.webhookURL, msg)
}

func embedColor(title string) int {
	switch {
	case strings.HasPrefix(title, "Market settled"):
		return colorSettled
	case strings.HasPrefix(title, "Market halted"), strings.HasPrefix(title, "Oracle unavailable"):
		return colorAlert
	default:
		return colorNeutral
	}
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
