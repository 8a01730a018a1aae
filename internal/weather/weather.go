// Package weather fetches current conditions for a farmer's village from
// OpenWeather. The report feeds dashboard predictions and, through them,
// the answer prompt.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/54b3r/krishisakhi-go/internal/config"
)

// DefaultBaseURL is the OpenWeather current-weather endpoint.
const DefaultBaseURL = "https://api.openweathermap.org/data/2.5/weather"

// DefaultTimeout bounds each weather request.
const DefaultTimeout = 10 * time.Second

var (
	// ErrNotFound is returned when OpenWeather rejects the location.
	ErrNotFound = errors.New("weather: location not found")
	// ErrUnavailable is returned when the service cannot be reached.
	ErrUnavailable = errors.New("weather: service unreachable")
	// ErrMalformed is returned when the response lacks expected fields.
	ErrMalformed = errors.New("weather: incomplete weather data")
	// ErrNoAPIKey is returned when no API key is configured.
	ErrNoAPIKey = errors.New("weather: OPENWEATHER_API_KEY is not set")
)

// Report is the subset of current conditions the assistant uses.
type Report struct {
	// Temperature is in degrees Celsius.
	Temperature float64 `json:"temperature"`
	// Weather is the title-cased description ("Light Rain").
	Weather string `json:"weather"`
	// Humidity is relative humidity in percent.
	Humidity int `json:"humidity"`
	// Rain is precipitation over the last hour in mm.
	Rain float64 `json:"rain"`
}

// Provider returns current weather for a village.
type Provider interface {
	Current(ctx context.Context, village string) (Report, error)
}

// Client is the OpenWeather Provider. It is safe for concurrent use.
type Client struct {
	apiKey  string
	baseURL string
	country string
	http    *http.Client
}

// Config holds the settings for constructing a Client.
type Config struct {
	// APIKey is the OpenWeather key.
	APIKey string
	// BaseURL overrides the endpoint (tests).
	BaseURL string
	// Country is the ISO country appended to the village (default IN).
	Country string
	// Timeout bounds each request (default 10s).
	Timeout time.Duration
}

// New returns a Client.
func New(cfg Config) *Client {
	c := &Client{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		country: cfg.Country,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.country == "" {
		c.country = "IN"
	}
	if c.http.Timeout <= 0 {
		c.http.Timeout = DefaultTimeout
	}
	return c
}

// NewFromEnv returns a Client keyed by OPENWEATHER_API_KEY.
func NewFromEnv() *Client {
	return New(Config{APIKey: config.Env("OPENWEATHER_API_KEY", "")})
}

// owResponse is the part of the OpenWeather payload that is read.
type owResponse struct {
	Main *struct {
		Temp     *float64 `json:"temp"`
		Humidity int      `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Rain struct {
		OneHour float64 `json:"1h"`
	} `json:"rain"`
}

var titler = cases.Title(language.English)

// Current implements Provider.
func (c *Client) Current(ctx context.Context, village string) (Report, error) {
	if c.apiKey == "" {
		return Report{}, ErrNoAPIKey
	}
	q := url.Values{}
	q.Set("q", village+","+c.country)
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Report{}, fmt.Errorf("weather: create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Report{}, fmt.Errorf("%w: %q (HTTP %d)", ErrNotFound, village, resp.StatusCode)
	}

	var body owResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Report{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if body.Main == nil || body.Main.Temp == nil {
		return Report{}, fmt.Errorf("%w: missing main.temp", ErrMalformed)
	}
	if len(body.Weather) == 0 {
		return Report{}, fmt.Errorf("%w: missing weather[0]", ErrMalformed)
	}

	return Report{
		Temperature: *body.Main.Temp,
		Weather:     titler.String(strings.TrimSpace(body.Weather[0].Description)),
		Humidity:    body.Main.Humidity,
		Rain:        body.Rain.OneHour,
	}, nil
}
