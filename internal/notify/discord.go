package notify

import (
	"context"
	"net/http"
	"time"

	"github.com/alanyoungcy/cryptoboard/internal/domain"
)

// Embed side-bar colours.
const (
	colorDegraded  = 0xE74C3C
	colorRecovered = 0x2ECC71
	colorNeutral   = 0x95A5A6
)

// DiscordSender delivers notifications via a Discord webhook as a single
// embed coloured by event.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
}

type discordPayload struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Footer      *discordFooter `json:"footer,omitempty"`
}

type discordFooter struct {
	Text string `json:"text"`
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		username:   "cryptoboard",
		client:     defaultHTTPClient(),
	}
}

// Send posts msg to the webhook. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, msg Message) error {
	embed := discordEmbed{
		Title:       msg.Title,
		Description: msg.Body,
		Color:       embedColor(msg.Event),
	}
	if !msg.Time.IsZero() {
		embed.Timestamp = msg.Time.UTC().Format(time.RFC3339)
	}
	if msg.Event != "" {
		embed.Footer = &discordFooter{Text: msg.Event}
	}
	return postJSON(ctx, d.client, "discord", d.webhookURL, discordPayload{
		Username: d.username,
		Embeds:   []discordEmbed{embed},
	})
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}

func embedColor(event string) int {
	switch event {
	case domain.EventListingDegraded:
		return colorDegraded
	case domain.EventListingRecovered:
		return colorRecovered
	default:
		return colorNeutral
	}
}
