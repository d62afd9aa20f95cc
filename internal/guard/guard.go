// Package guard screens generated text through a content filter before it
// is surfaced to learners.
package guard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrBlocked is returned when the filter rejects generated content.
var ErrBlocked = errors.New("content blocked by filter")

// Filter screens generated text. Check returns nil for acceptable content,
// ErrBlocked (possibly wrapped with a reason) for rejected content, and any
// other error for filter-service failures.
type Filter interface {
	Check(ctx context.Context, text string) error
}

// Noop accepts everything. Used when no filter service is configured.
type Noop struct{}

var _ Filter = Noop{}

func (Noop) Check(ctx context.Context, text string) error { return nil }

const defaultTimeout = 10 * time.Second

// Client calls an external moderation endpoint: POST {baseURL}/moderate with
// {"text": ...}, expecting {"flagged": bool, "reason": string}.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ Filter = (*Client)(nil)

// NewClient creates a moderation client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

type moderateRequest struct {
	Text string `json:"text"`
}

type moderateResponse struct {
	Flagged bool   `json:"flagged"`
	Reason  string `json:"reason"`
}

// Check posts text to the moderation endpoint. A flagged verdict returns an
// error wrapping ErrBlocked with the service's reason.
func (c *Client) Check(ctx context.Context, text string) error {
	body, err := json.Marshal(moderateRequest{Text: text})
	if err != nil {
		return fmt.Errorf("marshaling moderation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/moderate", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating moderation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("executing moderation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("moderation service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var verdict moderateResponse
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return fmt.Errorf("decoding moderation response: %w", err)
	}

	if verdict.Flagged {
		if verdict.Reason != "" {
			return fmt.Errorf("%w: %s", ErrBlocked, verdict.Reason)
		}
		return ErrBlocked
	}
	return nil
}
