package assistant

import (
	"fmt"
	"strings"
)

// promptInput is everything the composite answer prompt embeds.
type promptInput struct {
	Language    string
	Profile     string
	Predictions string
	Image       string
	Context     string
	Question    string
}

const answerTemplate = `You are 'Krishi Sakhi', an AI farming assistant. Your final response MUST be in %[1]s.
Analyze all the following information to provide a helpful and actionable solution. For every statement or recommendation you make, provide the reasoning behind it based on the user's context.

Farmer's Profile: %[2]s
Today's Predictions: %[3]s
Analysis of Uploaded Image: %[4]s
Relevant Knowledge (in English): %[5]s
Farmer's Question (translated to English): "%[6]s"

Based on all the above information, provide a comprehensive answer in %[1]s.
The answer has to be to the point, only answering the given question "%[6]s". No extra information. Only answer the asked question and give a small, to the point reasoning for it with no extra analysis. Provide everything in proper markdown.`

// buildPrompt renders the composite prompt. Empty sections render as N/A.
func buildPrompt(in promptInput) string {
	return fmt.Sprintf(answerTemplate,
		in.Language,
		orNA(in.Profile),
		orNA(in.Predictions),
		orNA(in.Image),
		orNA(in.Context),
		strings.TrimSpace(in.Question),
	)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
