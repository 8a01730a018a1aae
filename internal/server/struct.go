package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/krishisakhi-go/internal/assistant"
	"github.com/54b3r/krishisakhi-go/internal/backend"
	"github.com/54b3r/krishisakhi-go/internal/farmlog"
	"github.com/54b3r/krishisakhi-go/internal/translate"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8000).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// cover a full pipeline run (several model calls).
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// RequestTimeout bounds each pipeline request (chat, logs, transcribe).
	// Defaults to 3 minutes if zero.
	RequestTimeout time.Duration
	// MaxUploadBytes caps multipart bodies (audio and images).
	// Defaults to 20 MiB if zero.
	MaxUploadBytes int64
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on pipeline
	// endpoints (requests/second). Defaults to 2 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 5 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all /api/* routes except health
	// and readiness. If empty, authentication is disabled.
	APIKey string
	// MetricsRegistry receives the server's collectors. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Chatter answers chat turns. *assistant.Assistant satisfies it.
type Chatter interface {
	Chat(ctx context.Context, req assistant.ChatRequest) (assistant.Answer, error)
}

// LogRecorder structures and saves farm activity logs.
// *farmlog.Recorder satisfies it.
type LogRecorder interface {
	FromNotes(ctx context.Context, userID, notes string) (farmlog.Result, error)
	FromVoice(ctx context.Context, userID string, audio []byte) (farmlog.Result, error)
}

// AlertSource lists proactive alerts. *backend.Client satisfies it.
type AlertSource interface {
	Alerts(ctx context.Context, userID string) ([]backend.Alert, error)
}

// Transcriber turns recorded speech into text. speech.Service satisfies it.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, languageCode string) (string, error)
}

// Services are the pipeline collaborators behind the routes. A nil field
// disables the routes that need it; they answer 503.
type Services struct {
	Chat        Chatter
	Logs        LogRecorder
	Alerts      AlertSource
	Transcriber Transcriber
	// Languages lists the configured language codes. Defaults to
	// translate.DefaultLanguages.
	Languages translate.Languages
}

// Server is the HTTP adapter over the farming assistant.
type Server struct {
	// svc holds the pipeline collaborators.
	svc Services
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the server's Prometheus collectors.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// logRequest is the JSON body for POST /api/logs/{user_id}.
type logRequest struct {
	// Notes is the farmer's free-form description of the work done.
	Notes string `json:"notes"`
}

// transcribeResponse is the JSON response for POST /api/voice/transcribe.
type transcribeResponse struct {
	TranscribedText string `json:"transcribed_text"`
	LanguageCode    string `json:"language_code"`
}

// language is one entry of the GET /api/languages response.
type language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// languagesResponse is the JSON response for GET /api/languages.
type languagesResponse struct {
	Languages []language `json:"languages"`
}

// alertsResponse is the JSON response for GET /api/alerts/{user_id}.
type alertsResponse struct {
	Alerts []backend.Alert `json:"alerts"`
}

// errorResponse is the JSON body of every rejected request.
type errorResponse struct {
	// Error is a human-readable message.
	Error string `json:"error"`
	// Reason is a stable machine-readable code (no_input, not_found, ...).
	Reason string `json:"reason"`
}
