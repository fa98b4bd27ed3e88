package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// NopChat is used when no webhook URL is configured.
type NopChat struct{}

func (NopChat) SendChat(context.Context, ChatMessage) error {
	return ErrNotConfigured
}

// SlackWebhook posts messages to a Slack-compatible incoming webhook.
type SlackWebhook struct {
	url        string
	httpClient *http.Client
}

func NewSlackWebhook(url string, timeout time.Duration) ChatSender {
	url = strings.TrimSpace(url)
	if url == "" {
		return NopChat{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &SlackWebhook{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type slackPayload struct {
	Text    string `json:"text"`
	Channel string `json:"channel,omitempty"`
}

func (s *SlackWebhook) SendChat(ctx context.Context, msg ChatMessage) error {
	body, err := json.Marshal(slackPayload{Text: msg.Text, Channel: msg.Channel})
	if err != nil {
		return fmt.Errorf("failed to encode chat message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
