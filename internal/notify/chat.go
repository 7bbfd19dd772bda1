package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ChatWebhookSender posts a completion message to a chat webhook URL. No
// chat SDK exists anywhere in the example pack this module was learned
// from, so this one transport is built directly on net/http — the
// documented stdlib exception (see DESIGN.md).
type ChatWebhookSender struct {
	url    string
	client *http.Client
}

func NewChatWebhookSender(url string) *ChatWebhookSender {
	return &ChatWebhookSender{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

type chatPayload struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

func (s *ChatWebhookSender) Send(ctx context.Context, channel, subject, body string) error {
	payload, err := json.Marshal(chatPayload{Channel: channel, Text: subject + "\n" + body})
	if err != nil {
		return fmt.Errorf("encode chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send chat webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("chat webhook returned status %d", resp.StatusCode)
	}
	return nil
}
