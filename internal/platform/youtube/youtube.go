package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"jukebox/internal/platform"
)

// DefaultBaseURL is the YouTube Data API v3 root.
const DefaultBaseURL = "https://www.googleapis.com/youtube/v3"

// DefaultTimeout bounds a single search.
const DefaultTimeout = 10 * time.Second

// Config holds YouTube search configuration.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client implements platform.Searcher using the Data API search endpoint.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a new YouTube search client. A nil httpClient uses a
// default client; the per-search timeout comes from cfg either way.
func New(cfg Config, httpClient *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{cfg: cfg, http: httpClient}
}

// Name returns the platform name.
func (c *Client) Name() string {
	return "youtube"
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

// searchResponse is the subset of the search.list response we read.
type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
	} `json:"items"`
}

// Search returns the id of the top video result for query, or "" when the
// API found nothing.
func (c *Client) Search(ctx context.Context, query string) (string, error) {
	if !c.Configured() {
		return "", platform.ErrMissingCredential
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	q := url.Values{}
	q.Set("part", "snippet")
	q.Set("maxResults", "1")
	q.Set("q", query)
	q.Set("type", "video")
	q.Set("key", c.cfg.APIKey)

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/search?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", platform.ErrUpstream, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", fmt.Errorf("%w after %s", platform.ErrTimeout, c.cfg.Timeout)
		}
		return "", fmt.Errorf("%w: %v", platform.ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if isTimeout(err) {
			return "", fmt.Errorf("%w after %s", platform.ErrTimeout, c.cfg.Timeout)
		}
		return "", fmt.Errorf("%w: read body: %v", platform.ErrUpstream, err)
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: %s", platform.ErrQuotaExceeded, strings.TrimSpace(string(body)))
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%w: status %d", platform.ErrUpstream, resp.StatusCode)
	}

	var out searchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", platform.ErrUpstream, err)
	}
	if len(out.Items) == 0 {
		return "", nil
	}
	return out.Items[0].ID.VideoID, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ExtractVideoID accepts a bare video id or a YouTube watch/short URL and
// returns the video id.
func ExtractVideoID(input string) (string, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", false
	}
	if isYouTubeID(trimmed) {
		return trimmed, true
	}
	if !strings.Contains(trimmed, "youtube.com") && !strings.Contains(trimmed, "youtu.be") {
		return "", false
	}

	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", false
	}

	var id string
	switch {
	case strings.HasSuffix(u.Host, "youtu.be"):
		id = strings.Trim(u.Path, "/")
	case strings.HasPrefix(u.Path, "/shorts/"), strings.HasPrefix(u.Path, "/embed/"):
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) >= 2 {
			id = parts[1]
		}
	default:
		id = u.Query().Get("v")
	}

	if !isYouTubeID(id) {
		return "", false
	}
	return id, true
}

func isYouTubeID(value string) bool {
	if len(value) != 11 {
		return false
	}
	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			continue
		}
		return false
	}
	return true
}
