// Package notifier sends customer shipment notifications through the
// external notification service.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

type Notification struct {
	EventID        string  `json:"event_id"`
	Template       string  `json:"template"`
	ShipmentID     string  `json:"shipment_id"`
	OrderID        *string `json:"order_id,omitempty"`
	OrderNumber    *string `json:"order_number,omitempty"`
	Recipient      *string `json:"recipient,omitempty"`
	TrackingNumber string  `json:"tracking_number"`
	CarrierCode    string  `json:"carrier_code"`
	TrackingURL    string  `json:"tracking_url,omitempty"`
	Status         string  `json:"status"`
	StatusDetail   *string `json:"status_detail,omitempty"`
}

// TemplateFor: шаблон уведомления по каноническому статусу.
func TemplateFor(status string) string {
	return "shipment_" + status
}

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Send posts the notification; EventID goes out as Idempotency-Key so a redelivered
// event is not sent twice by the notification service either.
func (c *Client) Send(ctx context.Context, n Notification) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return errors.Wrap(err, "parse base url")
	}
	u.Path = "/v1/notifications"

	body, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "marshal")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", n.EventID)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	// 409: уже отправлено по этому Idempotency-Key
	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("notifier http %d", resp.StatusCode)
	}
	return nil
}

// LogSender is used when no notification service is configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, n Notification) error {
	slog.Info("customer notification (log only)",
		"event_id", n.EventID, "template", n.Template, "tracking_number", n.TrackingNumber, "status", n.Status)
	return nil
}
