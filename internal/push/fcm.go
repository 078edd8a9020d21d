// Package push sends best-effort push notifications to riders. Failures are
// logged and swallowed; nothing here may propagate to the ingestion path.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Notifier delivers a notification to whatever devices the rider has
// registered. Delivery is best-effort.
type Notifier interface {
	SendPushNotification(ctx context.Context, riderID, title, body string) error
}

// FCMClient posts to the FCM legacy HTTP endpoint, addressing riders through
// per-rider topics so the core never handles device tokens.
type FCMClient struct {
	serverKey string
	endpoint  string
	client    *http.Client
	logger    *slog.Logger
}

var _ Notifier = (*FCMClient)(nil)

func NewFCMClient(serverKey, endpoint string, logger *slog.Logger) *FCMClient {
	return &FCMClient{
		serverKey: serverKey,
		endpoint:  endpoint,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger.With(slog.String("component", "push_fcm")),
	}
}

type fcmMessage struct {
	To           string          `json:"to"`
	Notification fcmNotification `json:"notification"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (c *FCMClient) SendPushNotification(ctx context.Context, riderID, title, body string) error {
	if c.serverKey == "" {
		// Not configured; mirrors the upstream placeholder behavior.
		c.logger.Debug("Push service not configured, skipping notification", slog.String("riderID", riderID))
		return nil
	}

	payload, err := json.Marshal(fcmMessage{
		To:           "/topics/rider-" + riderID,
		Notification: fcmNotification{Title: title, Body: body},
	})
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+c.serverKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send push notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push provider returned status %d", resp.StatusCode)
	}
	return nil
}
