package commands

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/krishisakhi-go/internal/assistant"
	"github.com/54b3r/krishisakhi-go/internal/logging"
)

// NewAskCmd constructs the `sakhi ask` command, which answers a single
// question and prints the answer to stdout.
func NewAskCmd() *cobra.Command {
	var (
		lang      string
		userID    string
		imagePath string
		audioPath string
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask Krishi Sakhi a farming question",
		Long: `Ask a farming question in any supported language.

Without --user the question is answered from the knowledge base alone. With
--user the farmer's profile, current weather and dashboard predictions are
loaded from the farm API and folded into the answer, and --audio may replace
the typed question.

Examples:
  sakhi ask "How do I control stem borer in paddy?"
  sakhi ask --lang ml "തെങ്ങിന്റെ ഓല മഞ്ഞളിക്കുന്നു, എന്ത് ചെയ്യണം?"
  sakhi ask --image leaf.jpg "What is this disease?"
  sakhi ask --user ramesh_123 --audio question.ogg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" && audioPath == "" {
				return fmt.Errorf("ask: a question or --audio is required")
			}
			if audioPath != "" && userID == "" {
				return fmt.Errorf("ask: --audio requires --user (the spoken language comes from the profile)")
			}

			var image []byte
			var imageMIME string
			if imagePath != "" {
				b, err := os.ReadFile(imagePath)
				if err != nil {
					return fmt.Errorf("ask: %w", err)
				}
				image, imageMIME = b, http.DetectContentType(b)
			}

			svc, err := buildServices(ctx, log, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer svc.close()

			var ans assistant.Answer
			if userID != "" {
				req := assistant.ChatRequest{
					UserID:       userID,
					Text:         question,
					LanguageCode: lang,
					Image:        image,
					ImageMIME:    imageMIME,
				}
				if audioPath != "" {
					if req.Audio, err = os.ReadFile(audioPath); err != nil {
						return fmt.Errorf("ask: %w", err)
					}
				}
				ans, err = svc.assistant.Chat(ctx, req)
			} else {
				if lang == "" {
					lang = "en"
				}
				ans, err = svc.assistant.Answer(ctx, assistant.Query{
					Text:      question,
					Language:  lang,
					Image:     image,
					ImageMIME: imageMIME,
				})
			}
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			if ans.TranscribedText != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "heard: %s\n", ans.TranscribedText)
			}
			if len(ans.Degraded) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "note: answered without %s\n", strings.Join(ans.Degraded, ", "))
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), ans.ResponseText)
			return err
		},
	}

	cmd.Flags().StringVarP(&lang, "lang", "l", "", "Language code of the question and answer (default: en, or the profile language with --user)")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "Farmer id in the farm API; enables profile, weather and predictions")
	cmd.Flags().StringVar(&imagePath, "image", "", "Path to a crop photo")
	cmd.Flags().StringVar(&audioPath, "audio", "", "Path to a recorded question (requires --user)")

	return cmd
}
