// Package llm issues the single-turn generations every pipeline stage
// makes: one user message in, one text answer out, bounded by a per-call
// timeout. Stages never share conversation state.
//
// Structured calls bind a single tool and force the model to call it, so
// the reply is the tool's JSON arguments rather than free text.
package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/krishisakhi-go/internal/logging"
)

// DefaultTimeout bounds a model call when the caller passes zero.
const DefaultTimeout = 60 * time.Second

// Client wraps a chat model with the per-call timeout. It is safe for
// concurrent use if the underlying model is.
type Client struct {
	// model is the backend built by the provider factory.
	model model.BaseChatModel
	// timeout bounds every Generate call.
	timeout time.Duration
}

// New returns a Client. A non-positive timeout selects DefaultTimeout.
func New(m model.BaseChatModel, timeout time.Duration) (*Client, error) {
	if m == nil {
		return nil, fmt.Errorf("llm: chat model must not be nil")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{model: m, timeout: timeout}, nil
}

// Text sends prompt as a single user message and returns the trimmed reply.
func (c *Client) Text(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, schema.UserMessage(prompt))
}

// WithImage sends prompt together with an inline image and returns the
// trimmed reply.
func (c *Client) WithImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	b64 := base64.StdEncoding.EncodeToString(image)
	msg := &schema.Message{
		Role: schema.User,
		UserInputMultiContent: []schema.MessageInputPart{
			{Type: schema.ChatMessagePartTypeText, Text: prompt},
			{
				Type: schema.ChatMessagePartTypeImageURL,
				Image: &schema.MessageInputImage{
					MessagePartCommon: schema.MessagePartCommon{
						Base64Data: &b64,
						MIMEType:   mimeType,
					},
				},
			},
		},
	}
	return c.generate(ctx, msg)
}

// Tool describes the JSON object a structured call must produce.
type Tool struct {
	// Name is the function name the model is forced to call.
	Name string
	// Desc tells the model what the object records.
	Desc string
	// Params are the object's fields.
	Params map[string]*schema.ParameterInfo
}

// Structured sends prompt with tool bound and tool choice forced, and
// returns the JSON arguments of the resulting call. Models without tool
// calling get the plain prompt, which must then describe the shape itself.
func (c *Client) Structured(ctx context.Context, prompt string, tool Tool) (string, error) {
	tcm, ok := c.model.(model.ToolCallingChatModel)
	if !ok {
		return c.Text(ctx, prompt)
	}
	bound, err := tcm.WithTools([]*schema.ToolInfo{{
		Name:        tool.Name,
		Desc:        tool.Desc,
		ParamsOneOf: schema.NewParamsOneOfByParams(tool.Params),
	}})
	if err != nil {
		return "", fmt.Errorf("llm: bind tool %s: %w", tool.Name, err)
	}

	out, err := c.call(ctx, bound, schema.UserMessage(prompt), model.WithToolChoice(schema.ToolChoiceForced))
	if err != nil {
		return "", err
	}
	for _, tc := range out.ToolCalls {
		if tc.Function.Name == tool.Name || tc.Function.Name == "" {
			return strings.TrimSpace(tc.Function.Arguments), nil
		}
	}
	// Some backends answer forced calls inline.
	return strings.TrimSpace(out.Content), nil
}

// runInfo labels generations for callback handlers registered globally
// (Langfuse tracing).
var runInfo = &callbacks.RunInfo{
	Name:      "krishi-sakhi",
	Type:      "Sakhi",
	Component: components.ComponentOfChatModel,
}

func (c *Client) generate(ctx context.Context, msg *schema.Message) (string, error) {
	out, err := c.call(ctx, c.model, msg)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Content), nil
}

func (c *Client) call(ctx context.Context, m model.BaseChatModel, msg *schema.Message, opts ...model.Option) (*schema.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx = callbacks.InitCallbacks(ctx, runInfo)

	start := time.Now()
	out, err := m.Generate(ctx, []*schema.Message{msg}, opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: generate: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("llm: generate: empty response")
	}
	logging.FromContext(ctx).Debug("llm: generation complete",
		slog.Duration("duration", time.Since(start)),
		slog.Int("chars", len(out.Content)),
		slog.Int("tool_calls", len(out.ToolCalls)),
	)
	return out, nil
}
