// Package farmlog converts a farmer's free-form notes, typed or spoken,
// into a structured activity log and records it with the farm backend.
package farmlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/krishisakhi-go/internal/backend"
	"github.com/54b3r/krishisakhi-go/internal/llm"
	"github.com/54b3r/krishisakhi-go/internal/logging"
	"github.com/54b3r/krishisakhi-go/internal/structured"
)

// DateLayout is the format of Entry.Date.
const DateLayout = "2006-01-02"

var (
	// ErrStructuring is returned when the model reply cannot be turned into
	// a valid Entry.
	ErrStructuring = errors.New("farmlog: failed to structure log")
	// ErrNoInput is returned when there are no notes to structure.
	ErrNoInput = errors.New("farmlog: no notes provided")
)

// Entry is a structured activity log.
type Entry struct {
	LogType  string            `json:"log_type"`
	Date     string            `json:"date"`
	CropName *string           `json:"crop_name"`
	Summary  string            `json:"summary"`
	Details  map[string]string `json:"details"`
}

// Tool is the function the model is forced to call with the entry.
var Tool = llm.Tool{
	Name: "record_activity_log",
	Desc: "Record one structured farm activity log entry extracted from the farmer's notes.",
	Params: map[string]*schema.ParameterInfo{
		"log_type": {Type: schema.String, Required: true,
			Desc: "Kind of activity, e.g. Sowing, Irrigation, Fertilizer Application, Pest Control, Harvest."},
		"date": {Type: schema.String,
			Desc: "Date of the activity as YYYY-MM-DD. Today's date if the notes do not mention one."},
		"crop_name": {Type: schema.String,
			Desc: "Crop the activity concerns. Omit when no crop is involved."},
		"summary": {Type: schema.String, Required: true,
			Desc: "One-sentence summary of the activity."},
		"details": {Type: schema.Object,
			Desc: "Specifics such as quantities and product names, as string values."},
	},
}

// Schema checks the arguments of the model's call. details may come back
// as a string; Extract coerces it.
var Schema = structured.Schema{
	"type":     "object",
	"required": []string{"log_type", "summary"},
	"properties": map[string]any{
		"log_type":  map[string]any{"type": "string", "minLength": 1},
		"date":      map[string]any{"type": "string"},
		"crop_name": map[string]any{"type": []string{"string", "null"}},
		"summary":   map[string]any{"type": "string"},
		"details":   map[string]any{"type": []string{"object", "string", "null"}},
	},
}

const promptTemplate = `You are an agricultural data entry specialist. Analyze the following farmer's notes and convert them into a structured log entry.

Farmer's Profile Context:
- Primary Crop: %s
- Location: %s, %s

Farmer's Notes:
"%s"

Your task is to populate the structured log format. Infer the log_type, crop_name, date, and any specific details like quantities or product names.
If the date is not mentioned, use today's date: %s.
The details field MUST be a JSON object of string values, not a string.

Return only a JSON object matching this JSON Schema:
%s`

// Generator makes a tool-constrained model call. *llm.Client satisfies it.
type Generator interface {
	Structured(ctx context.Context, prompt string, tool llm.Tool) (string, error)
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithClock replaces time.Now, which supplies the default date.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

// Extractor turns notes into an Entry with one model call.
type Extractor struct {
	gen Generator
	now func() time.Time
}

// NewExtractor returns an Extractor.
func NewExtractor(gen Generator, opts ...Option) *Extractor {
	e := &Extractor{gen: gen, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Today returns the extractor's current date as YYYY-MM-DD.
func (e *Extractor) Today() string {
	return e.now().Format(DateLayout)
}

// Prompt renders the extraction prompt for notes.
func (e *Extractor) Prompt(notes string, profile backend.Profile) string {
	return fmt.Sprintf(promptTemplate,
		profile.PrimaryCrop("N/A"),
		profile.Get("village", "N/A"),
		profile.Get("state", "N/A"),
		notes,
		e.Today(),
		Schema.String(),
	)
}

// Extract structures notes. The returned Entry always has a date and a
// non-nil Details map.
func (e *Extractor) Extract(ctx context.Context, notes string, profile backend.Profile) (Entry, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return Entry{}, ErrNoInput
	}
	raw, err := e.gen.Structured(ctx, e.Prompt(notes, profile), Tool)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrStructuring, err)
	}

	var reply struct {
		LogType  string          `json:"log_type"`
		Date     string          `json:"date"`
		CropName *string         `json:"crop_name"`
		Summary  string          `json:"summary"`
		Details  json.RawMessage `json:"details"`
	}
	if err := structured.Decode(raw, Schema, &reply); err != nil {
		logging.FromContext(ctx).Warn("farmlog: unusable model reply", slog.Any("error", err))
		return Entry{}, fmt.Errorf("%w: %w", ErrStructuring, err)
	}

	entry := Entry{
		LogType:  strings.TrimSpace(reply.LogType),
		Date:     strings.TrimSpace(reply.Date),
		CropName: reply.CropName,
		Summary:  strings.TrimSpace(reply.Summary),
		Details:  coerceDetails(reply.Details),
	}
	if date, ok := normaliseDate(entry.Date); ok {
		entry.Date = date
	} else {
		if entry.Date != "" {
			logging.FromContext(ctx).Warn("farmlog: unrecognised date, using today", slog.String("date", entry.Date))
		}
		entry.Date = e.Today()
	}
	return entry, nil
}

// dateLayouts are the date forms accepted from the model, tried in order.
// Day-first forms follow Indian usage.
var dateLayouts = []string{
	DateLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"2 January 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

// normaliseDate rewrites s as YYYY-MM-DD. It reports false for an empty
// or unrecognised date.
func normaliseDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(DateLayout), true
		}
	}
	// A date-time with an unparsed suffix still starts with its date.
	if len(s) > len(DateLayout) {
		if t, err := time.Parse(DateLayout, s[:len(DateLayout)]); err == nil {
			return t.Format(DateLayout), true
		}
	}
	return "", false
}

// coerceDetails returns details as a string map. Non-string values are
// rendered as JSON; a string that is not itself a JSON object becomes
// {"note": s}.
func coerceDetails(raw json.RawMessage) map[string]string {
	out := map[string]string{}
	if len(raw) == 0 || string(raw) == "null" {
		return out
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return out
		}
		if strings.HasPrefix(s, "{") {
			if m := coerceDetails(json.RawMessage(s)); len(m) > 0 {
				return m
			}
		}
		out["note"] = s
		return out
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return out
	}
	for k, v := range m {
		var str string
		if err := json.Unmarshal(v, &str); err == nil {
			out[k] = str
			continue
		}
		out[k] = string(v)
	}
	return out
}
