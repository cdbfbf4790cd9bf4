// Package notifier delivers deployment outcomes to evaluation endpoints.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/appforge/forge/pkg/forged/metrics"
	"github.com/appforge/forge/pkg/retry"
)

// Notification is the payload delivered to an evaluation endpoint.
type Notification struct {
	Email         string `json:"email"`
	Task          string `json:"task"`
	Round         int    `json:"round"`
	Nonce         string `json:"nonce"`
	Status        string `json:"status"`
	RepositoryURL string `json:"repo_url"`
	CommitSHA     string `json:"commit_sha"`
	PagesURL      string `json:"pages_url"`
}

type Client interface {
	Notify(ctx context.Context, endpoint string, notification *Notification) error
}

type client struct {
	httpClient *http.Client
}

func New(timeout time.Duration) Client {
	return &client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Notify posts the notification to the evaluation endpoint. Any failure
// is retryable; the receiving end decides how to treat repeats.
func (c *client) Notify(ctx context.Context, endpoint string, notification *Notification) error {
	if len(endpoint) == 0 {
		return nil
	}

	body, err := json.Marshal(notification)
	if err != nil {
		return retry.Abort(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return retry.Abort(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify evaluation endpoint: %s", err)
	}
	defer resp.Body.Close()

	metrics.NotifierRequest(resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("evaluation endpoint responded with %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	return nil
}
