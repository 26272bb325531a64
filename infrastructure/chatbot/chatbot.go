// Package chatbot is the chat-bot notification sink (spec.md §6):
// `sendMessage(userId, text, {parse_mode})`, time-bounded by
// NOTIFICATION_TIMEOUT (8 s). Uses the same webhook-delivery idiom as
// the rest of this codebase: a plain net/http client and a JSON body,
// sent in a single attempt with no retry.
package chatbot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wafleet/sessionfleet/config"
)

// Sink is the narrow contract C2 calls on permanent disconnects to
// notify the affected session's user.
type Sink interface {
	SendMessage(ctx context.Context, userID, text, parseMode string) error
}

// HTTPSink posts a JSON payload to a single configured webhook endpoint
// standing in for the chat-bot's own send API; any downstream bot
// transport (Telegram, Slack, in-house) can sit behind the same URL.
type HTTPSink struct {
	url    string
	client *http.Client
}

func NewHTTPSink(url string) *HTTPSink {
	return &HTTPSink{
		url:    url,
		client: &http.Client{Timeout: config.NotificationTimeout},
	}
}

type notifyPayload struct {
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// SendMessage races a NOTIFICATION_TIMEOUT timer (spec §5); a caller
// context with a shorter deadline still wins.
func (s *HTTPSink) SendMessage(ctx context.Context, userID, text, parseMode string) error {
	if s.url == "" {
		return nil // no sink configured; treated as a no-op, not an error
	}

	ctx, cancel := context.WithTimeout(ctx, config.NotificationTimeout)
	defer cancel()

	body, err := json.Marshal(notifyPayload{UserID: userID, Text: text, ParseMode: parseMode})
	if err != nil {
		return fmt.Errorf("chatbot: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("chatbot: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("chatbot: notify %s: %w", userID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("chatbot: notify %s returned status %d", userID, resp.StatusCode)
	}
	return nil
}

// NoopSink discards notifications. fleet.New does not use it: with no
// sink supplied it builds an HTTPSink with an empty URL, which is also
// a no-op.
type NoopSink struct{}

func (NoopSink) SendMessage(ctx context.Context, userID, text, parseMode string) error {
	logrus.WithField("user_id", userID).Debug("[CHATBOT] notification dropped: no sink configured")
	return nil
}
