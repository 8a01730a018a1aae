package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/krishisakhi-go/internal/config"
	"github.com/54b3r/krishisakhi-go/internal/logging"
	"github.com/54b3r/krishisakhi-go/internal/server"
	"github.com/54b3r/krishisakhi-go/internal/tracing"
	"github.com/54b3r/krishisakhi-go/internal/version"
)

// NewServeCmd constructs the `sakhi serve` command, which starts the HTTP API
// used by the farmer app.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Krishi Sakhi HTTP API",
		Long: `Start the Krishi Sakhi HTTP API.

Routes:
  POST /api/chat/{user_id}         multipart: text_query, language_code, image_file, audio_file
  POST /api/logs/{user_id}         JSON: {"notes": "..."}
  POST /api/logs/voice/{user_id}   multipart: audio_file
  POST /api/voice/transcribe       multipart: audio_file, language_code
  GET  /api/alerts/{user_id}
  GET  /api/health, /api/ready, /metrics

Set SAKHI_API_KEY to require a Bearer token on the /api routes.

Examples:
  sakhi serve
  sakhi serve --host 0.0.0.0 --port 9000
  MODEL_PROVIDER=ollama INDEX_BACKEND=qdrant sakhi serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)
			log.Info("serve starting", slog.String("version", version.String()))

			// Langfuse tracing is opt-in, no-op if keys are absent.
			flush, ok := tracing.Setup(tracing.ConfigFromEnv())
			defer flush()
			if ok {
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			svc, err := buildServices(ctx, log, prometheus.DefaultRegisterer)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer svc.close()

			services := server.Services{
				Chat:      svc.assistant,
				Logs:      svc.recorder,
				Alerts:    svc.farm,
				Languages: svc.assistant.Languages(),
			}
			if svc.transcriber != nil {
				services.Transcriber = svc.transcriber
			}

			if !cmd.Flags().Changed("host") {
				host = config.Env("SAKHI_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = config.EnvInt("SAKHI_PORT", port)
			}

			srv, err := server.New(services, &server.Config{
				Host:           host,
				Port:           port,
				RequestTimeout: config.EnvDuration("SAKHI_REQUEST_TIMEOUT", 0),
				Logger:         log,
				Pingers:        svc.pingers,
				RateLimit:      float64(config.EnvFloat32("SAKHI_RATE_LIMIT", 0)),
				RateBurst:      config.EnvInt("SAKHI_RATE_BURST", 0),
				APIKey:         config.Env("SAKHI_API_KEY", ""),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (env SAKHI_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8000, "TCP port to listen on (env SAKHI_PORT)")

	return cmd
}
