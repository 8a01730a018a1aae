package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/krishisakhi-go/internal/backend"
	"github.com/54b3r/krishisakhi-go/internal/farmlog"
	"github.com/54b3r/krishisakhi-go/internal/logging"
	"github.com/54b3r/krishisakhi-go/internal/speech"
)

// NewLogCmd constructs the `sakhi log` command, which structures a farm
// activity note and saves it to the farmer's activity log.
func NewLogCmd() *cobra.Command {
	var (
		userID    string
		audioPath string
	)

	cmd := &cobra.Command{
		Use:   "log --user ID [notes]",
		Short: "Record a farm activity from free-form notes or a voice note",
		Long: `Turn a farmer's note into a structured activity log entry and save it.

The note is extracted into {log_type, date, crop_name, summary, details}
using the farmer's profile for context, then written to the farm API.
A voice note is transcribed in the profile's preferred language first.

Examples:
  sakhi log --user ramesh_123 "applied 10kg urea to the paddy field today"
  sakhi log --user ramesh_123 --audio note.wav`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			notes := strings.TrimSpace(strings.Join(args, " "))
			if notes == "" && audioPath == "" {
				return fmt.Errorf("log: notes or --audio is required")
			}

			gen, _, err := buildGenerator(ctx, log)
			if err != nil {
				return fmt.Errorf("log: %w", err)
			}

			var transcriber speech.Transcriber
			if audioPath != "" {
				stt, err := speech.NewFromEnv(ctx)
				if err != nil {
					return fmt.Errorf("log: %w", err)
				}
				defer func() { _ = stt.Close() }()
				transcriber = stt
			}

			recorder := farmlog.NewRecorder(farmlog.NewExtractor(gen), backend.New(backend.ConfigFromEnv()), transcriber)

			var res farmlog.Result
			if audioPath != "" {
				audio, err := os.ReadFile(audioPath)
				if err != nil {
					return fmt.Errorf("log: %w", err)
				}
				res, err = recorder.FromVoice(ctx, userID, audio)
				if err != nil {
					return fmt.Errorf("log: %w", err)
				}
			} else if res, err = recorder.FromNotes(ctx, userID, notes); err != nil {
				return fmt.Errorf("log: %w", err)
			}

			log.Info("activity recorded",
				slog.String("user_id", userID),
				slog.String("log_type", res.Log.LogType),
				slog.String("date", res.Log.Date),
			)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(res)
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "Farmer id in the farm API")
	cmd.Flags().StringVar(&audioPath, "audio", "", "Path to a recorded voice note")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
