// Package backend is the client for the remote farm-data service that owns
// farmer profiles, farm activity logs and alerts. Nothing is persisted
// locally; every call is a blocking HTTP round trip with a timeout.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/54b3r/krishisakhi-go/internal/config"
	"github.com/54b3r/krishisakhi-go/internal/logging"
)

// DefaultBaseURL is the farm-data service used when FARM_API_BASE_URL is unset.
const DefaultBaseURL = "https://farmvichardatabase.onrender.com"

// DefaultTimeout bounds every backend request.
const DefaultTimeout = 15 * time.Second

// ErrNotFound is returned when a user has no farm profile.
var ErrNotFound = errors.New("backend: not found")

// StatusError is returned for a non-2xx response.
type StatusError struct {
	// Method and URL identify the failed request.
	Method string
	URL    string
	// StatusCode is the HTTP status returned by the service.
	StatusCode int
	// Body is a prefix of the response body, for diagnostics.
	Body string
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: %s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Config holds the settings for constructing a Client.
type Config struct {
	// BaseURL is the service root, without a trailing slash.
	BaseURL string
	// Token is an optional bearer token.
	Token string
	// Timeout bounds each request (default 15s).
	Timeout time.Duration
}

// ConfigFromEnv reads FARM_API_BASE_URL and FARM_API_TOKEN.
func ConfigFromEnv() Config {
	return Config{
		BaseURL: config.Env("FARM_API_BASE_URL", DefaultBaseURL),
		Token:   config.Env("FARM_API_TOKEN", ""),
	}
}

// Client talks to the farm-data service. It is safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New returns a Client for cfg.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Profile returns the user's primary farm profile: the first farm listed
// for the user. ErrNotFound is returned when the user has no farms.
func (c *Client) Profile(ctx context.Context, userID string) (Profile, error) {
	var farms []Profile
	path := "/api/users/" + url.PathEscape(userID) + "/farms/"
	if err := c.do(ctx, http.MethodGet, path, nil, &farms); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: user %q", ErrNotFound, userID)
		}
		return nil, err
	}
	if len(farms) == 0 || farms[0] == nil {
		return nil, fmt.Errorf("%w: user %q has no farms", ErrNotFound, userID)
	}
	logging.FromContext(ctx).Debug("backend: fetched profile",
		slog.String("user_id", userID),
		slog.Int("farms", len(farms)),
	)
	return farms[0], nil
}

// SaveLog records an activity for a farm and returns the stored document.
func (c *Client) SaveLog(ctx context.Context, farmID string, entry any) (map[string]any, error) {
	var saved map[string]any
	path := "/api/farms/" + url.PathEscape(farmID) + "/activities"
	if err := c.do(ctx, http.MethodPost, path, entry, &saved); err != nil {
		return nil, err
	}
	return saved, nil
}

// Alerts returns the user's alerts. Entries missing a required field are
// skipped with a warning.
func (c *Client) Alerts(ctx context.Context, userID string) ([]Alert, error) {
	var raw []json.RawMessage
	path := "/api/users/" + url.PathEscape(userID) + "/alerts/"
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	log := logging.FromContext(ctx)
	alerts := make([]Alert, 0, len(raw))
	for i, r := range raw {
		var a Alert
		if err := json.Unmarshal(r, &a); err != nil {
			log.Warn("backend: skipping malformed alert", slog.Int("index", i), slog.Any("error", err))
			continue
		}
		if missing := a.missingField(); missing != "" {
			log.Warn("backend: skipping invalid alert", slog.Int("index", i), slog.String("missing", missing))
			continue
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// Ping checks that the service answers at all. Any HTTP response counts.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("backend: create ping request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend: ping: %w", err)
	}
	resp.Body.Close()
	return nil
}

// do sends a JSON request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend: marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("backend: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	logging.FromContext(ctx).Debug("backend: request complete",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, URL: u, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode %s %s: %w", method, u, err)
	}
	return nil
}
