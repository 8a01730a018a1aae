package farmlog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/54b3r/krishisakhi-go/internal/backend"
	"github.com/54b3r/krishisakhi-go/internal/logging"
	"github.com/54b3r/krishisakhi-go/internal/speech"
)

// Store is the part of the farm backend the recorder uses.
type Store interface {
	Profile(ctx context.Context, userID string) (backend.Profile, error)
	SaveLog(ctx context.Context, farmID string, entry any) (map[string]any, error)
}

// Activity is the document posted to the backend for one log entry.
type Activity struct {
	FarmID       string            `json:"farmId"`
	ActivityType string            `json:"activityType"`
	Description  string            `json:"description"`
	Summary      string            `json:"summary"`
	Date         string            `json:"date"`
	CropName     *string           `json:"cropName"`
	Details      map[string]string `json:"details"`
	Timestamp    string            `json:"timestamp"`
}

// Result is the outcome of recording a log.
type Result struct {
	// TranscribedText is set for voice logs.
	TranscribedText string `json:"transcribed_text,omitempty"`
	// Log is the structured entry.
	Log Entry `json:"structured_log"`
	// Saved is the document returned by the backend.
	Saved map[string]any `json:"saved,omitempty"`
}

// Recorder structures notes for a user and saves them to the user's farm.
type Recorder struct {
	extractor   *Extractor
	store       Store
	transcriber speech.Transcriber
	now         func() time.Time
}

// NewRecorder returns a Recorder. transcriber may be nil when voice logs are
// not served.
func NewRecorder(extractor *Extractor, store Store, transcriber speech.Transcriber) *Recorder {
	return &Recorder{extractor: extractor, store: store, transcriber: transcriber, now: extractor.now}
}

// FromNotes structures typed notes and saves them.
func (r *Recorder) FromNotes(ctx context.Context, userID, notes string) (Result, error) {
	profile, err := r.store.Profile(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	return r.record(ctx, userID, profile, notes)
}

// FromVoice transcribes a spoken note in the farmer's preferred language,
// then structures and saves it.
func (r *Recorder) FromVoice(ctx context.Context, userID string, audio []byte) (Result, error) {
	if r.transcriber == nil {
		return Result{}, fmt.Errorf("farmlog: no transcriber configured")
	}
	profile, err := r.store.Profile(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	text, err := r.transcriber.Transcribe(ctx, audio, profile.PreferredLanguage())
	if err != nil {
		return Result{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, fmt.Errorf("%w: transcription was empty", ErrNoInput)
	}
	res, err := r.record(ctx, userID, profile, text)
	res.TranscribedText = text
	return res, err
}

func (r *Recorder) record(ctx context.Context, userID string, profile backend.Profile, notes string) (Result, error) {
	entry, err := r.extractor.Extract(ctx, notes, profile)
	if err != nil {
		return Result{}, err
	}

	farmID := profile.FarmID()
	if farmID == "" {
		farmID = userID
	}
	saved, err := r.store.SaveLog(ctx, farmID, Activity{
		FarmID:       farmID,
		ActivityType: entry.LogType,
		Description:  notes,
		Summary:      entry.Summary,
		Date:         entry.Date,
		CropName:     entry.CropName,
		Details:      entry.Details,
		Timestamp:    r.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return Result{Log: entry}, fmt.Errorf("farmlog: save log: %w", err)
	}
	logging.FromContext(ctx).Info("farmlog: log recorded",
		slog.String("user_id", userID),
		slog.String("farm_id", farmID),
		slog.String("log_type", entry.LogType),
	)
	return Result{Log: entry, Saved: saved}, nil
}
