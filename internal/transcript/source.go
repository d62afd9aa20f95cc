package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Source fetches transcripts for a video in order of language preference.
// The caption backend is an external collaborator; this package only defines
// the boundary and an HTTP client for it.
type Source interface {
	Fetch(ctx context.Context, videoID string, languages []string) (Transcript, error)
}

// UnavailableError reports that no transcript exists in any of the requested
// languages, carrying the languages the video does have.
type UnavailableError struct {
	VideoID   string
	Requested []string
	Available []string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("no transcript for %s in %v (available: %v)",
		e.VideoID, e.Requested, e.Available)
}

// Client talks to a caption service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client targeting the given caption service base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// fetchResponse mirrors the JSON returned by GET /transcripts/{id}.
type fetchResponse struct {
	VideoID   string   `json:"video_id"`
	Language  string   `json:"language"`
	Lines     []Line   `json:"lines"`
	Available []string `json:"available_languages"`
}

// Fetch retrieves the transcript for videoID, trying languages in order.
// A 404 response carrying available_languages becomes an *UnavailableError.
func (c *Client) Fetch(ctx context.Context, videoID string, languages []string) (Transcript, error) {
	q := url.Values{}
	for _, lang := range languages {
		q.Add("lang", lang)
	}

	endpoint := fmt.Sprintf("%s/transcripts/%s?%s", c.baseURL, url.PathEscape(videoID), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Transcript{}, fmt.Errorf("creating transcript request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Transcript{}, fmt.Errorf("fetching transcript for %s: %w", videoID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fallthrough to decode below
	case http.StatusNotFound:
		var body fetchResponse
		// Best effort: a bare 404 still yields an UnavailableError.
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return Transcript{}, &UnavailableError{
			VideoID:   videoID,
			Requested: languages,
			Available: body.Available,
		}
	default:
		return Transcript{}, fmt.Errorf("transcript fetch for %s: unexpected status %d", videoID, resp.StatusCode)
	}

	var body fetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Transcript{}, fmt.Errorf("decoding transcript response: %w", err)
	}

	return New(videoID, body.Language, body.Lines)
}

var _ Source = (*Client)(nil)
