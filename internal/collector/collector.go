// Package collector forwards completed onboarding responses to the external
// response-collector endpoint.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/synthtutor/internal/domain"
)

// payload is the collector's wire shape; timestamp is Unix milliseconds.
type payload struct {
	Name      string           `json:"name"`
	Responses domain.Responses `json:"responses"`
	Timestamp int64            `json:"timestamp"`
}

// Collector posts response records to the collector URL.
type Collector struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Collector. A nil httpClient uses a 10 second timeout.
func New(url string, httpClient *http.Client, logger *slog.Logger) *Collector {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{url: url, httpClient: httpClient, logger: logger}
}

// Persist sends rec. Any non-2xx status is an error.
func (c *Collector) Persist(ctx context.Context, rec domain.ResponseRecord) error {
	body, err := json.Marshal(payload{
		Name:      rec.Name,
		Responses: rec.Responses,
		Timestamp: rec.Timestamp.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode response record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create collector request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("collector request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("collector status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	c.logger.Debug("responses stored", "name", rec.Name)
	return nil
}
