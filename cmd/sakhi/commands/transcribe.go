package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/54b3r/krishisakhi-go/internal/speech"
)

// NewTranscribeCmd constructs the `sakhi transcribe` command.
func NewTranscribeCmd() *cobra.Command {
	var lang string

	cmd := &cobra.Command{
		Use:   "transcribe [audio-file]",
		Short: "Transcribe a recorded voice note",
		Long: `Transcribe a WAV, OGG/Opus, FLAC or WebM recording.

The provider is selected with SPEECH_PROVIDER (google or gemini). Google
Cloud Speech reads the service-account key from GOOGLE_APPLICATION_CREDENTIALS.

Examples:
  sakhi transcribe question.wav
  sakhi transcribe --lang ml note.ogg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			audio, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("transcribe: %w", err)
			}

			stt, err := speech.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("transcribe: %w", err)
			}
			defer func() { _ = stt.Close() }()

			text, err := stt.Transcribe(ctx, audio, lang)
			if err != nil {
				return fmt.Errorf("transcribe: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
			return err
		},
	}

	cmd.Flags().StringVarP(&lang, "lang", "l", "en", "Spoken language code (hi, ml, ta, ...)")

	return cmd
}
