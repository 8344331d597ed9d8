// Package notification предоставляет клиент внешнего канала уведомлений.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client инкапсулирует HTTP-взаимодействие с каналом доставки уведомлений.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

type event struct {
	UserID  int64  `json:"user_id"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewClient создаёт HTTP-клиент канала уведомлений по указанному адресу.
func NewClient(baseURL string) *Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = 5 * time.Second
	c.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: c,
	}
}

// Send доставляет событие "пользователю начислено/списано" в канал уведомлений.
func (c *Client) Send(ctx context.Context, userID int64, message, kind string) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("notification client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(event{
		UserID:  userID,
		Message: message,
		Type:    kind,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	url := base + "/api/notifications"

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
