// Package llmtest provides a scripted chat model for tests of the pipeline
// stages. It never touches the network.
package llmtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Responder produces the reply for one call. prompt is the text of the user
// message; images counts inline image parts.
type Responder func(prompt string, images int) (string, error)

// Model is a model.ToolCallingChatModel that answers with a Responder and
// records every prompt it was given. When a call forces a bound tool, the
// reply is returned as that tool's arguments.
type Model struct {
	respond Responder

	mu      sync.Mutex
	prompts []string
	images  int
	forced  []string
}

var _ model.ToolCallingChatModel = (*Model)(nil)

// bound is a Model with tools attached by WithTools.
type bound struct {
	*Model
	tools []*schema.ToolInfo
}

// New returns a Model answering with respond.
func New(respond Responder) *Model {
	return &Model{respond: respond}
}

// Fixed returns a Model that always replies with reply.
func Fixed(reply string) *Model {
	return New(func(string, int) (string, error) { return reply, nil })
}

// Failing returns a Model whose every call fails with err.
func Failing(err error) *Model {
	return New(func(string, int) (string, error) { return "", err })
}

// WithTools implements model.ToolCallingChatModel.
func (m *Model) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	if len(tools) == 0 {
		return nil, errors.New("llmtest: no tools to bind")
	}
	return &bound{Model: m, tools: tools}, nil
}

// WithTools implements model.ToolCallingChatModel.
func (b *bound) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return b.Model.WithTools(tools)
}

// Generate implements model.BaseChatModel.
func (b *bound) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return b.generate(ctx, input, b.tools, opts)
}

// Generate implements model.BaseChatModel.
func (m *Model) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return m.generate(ctx, input, nil, opts)
}

func (m *Model) generate(ctx context.Context, input []*schema.Message, tools []*schema.ToolInfo, opts []model.Option) (*schema.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sb strings.Builder
	images := 0
	for _, msg := range input {
		sb.WriteString(msg.Content)
		for _, part := range msg.UserInputMultiContent {
			switch part.Type {
			case schema.ChatMessagePartTypeText:
				sb.WriteString(part.Text)
			case schema.ChatMessagePartTypeImageURL:
				images++
			}
		}
	}
	prompt := sb.String()

	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.images += images
	m.mu.Unlock()

	reply, err := m.respond(prompt, images)
	if err != nil {
		return nil, err
	}

	common := model.GetCommonOptions(&model.Options{}, opts...)
	if len(tools) > 0 && common.ToolChoice != nil && *common.ToolChoice == schema.ToolChoiceForced {
		m.mu.Lock()
		m.forced = append(m.forced, tools[0].Name)
		m.mu.Unlock()
		return schema.AssistantMessage("", []schema.ToolCall{{
			ID:       "call-1",
			Type:     "function",
			Function: schema.FunctionCall{Name: tools[0].Name, Arguments: reply},
		}}), nil
	}
	return schema.AssistantMessage(reply, nil), nil
}

// Stream implements model.BaseChatModel. The pipeline never streams.
func (m *Model) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("llmtest: streaming not supported")
}

// ForcedTools returns the tool names of calls that forced a tool, in call
// order.
func (m *Model) ForcedTools() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.forced...)
}

// Calls returns the number of Generate calls made so far.
func (m *Model) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Prompts returns a copy of every prompt received, in call order.
func (m *Model) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Images returns the total number of image parts received.
func (m *Model) Images() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.images
}

// CountPrefix returns how many prompts start with prefix.
func (m *Model) CountPrefix(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.prompts {
		if strings.HasPrefix(p, prefix) {
			n++
		}
	}
	return n
}
