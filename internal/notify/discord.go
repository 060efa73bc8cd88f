package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Discord webhooks allow roughly five requests per two seconds.
const discordRequestsPerSecond = 2.5

type DiscordWebhook struct {
	httpClient *http.Client
	url        string
	username   string
	limiter    *rate.Limiter
}

func NewDiscordWebhook(url string) *DiscordWebhook {
	return &DiscordWebhook{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		url:      url,
		username: "Checkout Ledger",
		limiter:  rate.NewLimiter(rate.Limit(discordRequestsPerSecond), 5),
	}
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Timestamp   string              `json:"timestamp"`
	Footer      *discordEmbedFooter `json:"footer,omitempty"`
}

type discordEmbedFooter struct {
	Text string `json:"text"`
}

type discordPayload struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

func (d *DiscordWebhook) Send(ctx context.Context, n Notification) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("discord rate limit wait: %w", err)
	}

	fields := make([]discordEmbedField, 0, len(n.Fields))
	for _, f := range n.Fields {
		if f.Value == "" {
			continue
		}
		fields = append(fields, discordEmbedField{Name: f.Name, Value: f.Value, Inline: true})
	}

	payload := discordPayload{
		Username: d.username,
		Embeds: []discordEmbed{{
			Title:       n.Title,
			Description: n.Message,
			Color:       embedColor(n.Kind),
			Fields:      fields,
			Timestamp:   n.CreatedAt.Format(time.RFC3339),
			Footer:      &discordEmbedFooter{Text: n.ID},
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("discord webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord webhook error %d: %s", resp.StatusCode, string(b))
	}

	return nil
}

func embedColor(kind string) int {
	switch kind {
	case KindOrderCreated:
		return 0x2ecc71
	case KindOrderPaymentFailed:
		return 0xe74c3c
	default:
		return 0x3498db
	}
}
