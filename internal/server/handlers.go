package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/54b3r/krishisakhi-go/internal/assistant"
	"github.com/54b3r/krishisakhi-go/internal/backend"
	"github.com/54b3r/krishisakhi-go/internal/farmlog"
	"github.com/54b3r/krishisakhi-go/internal/logging"
	"github.com/54b3r/krishisakhi-go/internal/speech"
)

// Rejection reasons carried in errorResponse.Reason.
const (
	reasonNoInput          = "no_input"
	reasonNotFound         = "not_found"
	reasonStructuring      = "structuring_failed"
	reasonEmptyAudio       = "empty_audio"
	reasonUnsupportedAudio = "unsupported_audio"
	reasonBadRequest       = "bad_request"
	reasonTimeout          = "timeout"
	reasonUnavailable      = "unavailable"
	reasonInternal         = "internal"
)

// classify maps a pipeline error onto an HTTP status and reason.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, assistant.ErrNoInput), errors.Is(err, farmlog.ErrNoInput):
		return http.StatusBadRequest, reasonNoInput
	case errors.Is(err, speech.ErrEmptyAudio):
		return http.StatusBadRequest, reasonEmptyAudio
	case errors.Is(err, speech.ErrUnsupportedAudio):
		return http.StatusBadRequest, reasonUnsupportedAudio
	case errors.Is(err, backend.ErrNotFound):
		return http.StatusNotFound, reasonNotFound
	case errors.Is(err, farmlog.ErrStructuring):
		return http.StatusBadGateway, reasonStructuring
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, reasonTimeout
	default:
		return http.StatusInternalServerError, reasonInternal
	}
}

// fail logs err and writes the classified rejection. Server errors hide the
// internal message from the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, handler string, err error) {
	status, reason := classify(err)
	log := logging.FromContext(r.Context())
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error(handler+" failed", slog.String("reason", reason), slog.Any("error", err))
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	} else {
		log.Info(handler+" rejected", slog.String("reason", reason), slog.Any("error", err))
	}
	writeError(w, r, status, reason, msg)
}

// pipelineContext bounds a pipeline request by cfg.RequestTimeout.
func (s *Server) pipelineContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
}

// parseMultipart parses a multipart body within cfg.MaxUploadBytes.
func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, reasonBadRequest, "upload too large")
			return false
		}
		writeError(w, r, http.StatusBadRequest, reasonBadRequest, "invalid multipart body")
		return false
	}
	return true
}

// formFile reads an optional uploaded file. A missing field returns nil data
// and no error.
func formFile(r *http.Request, field string) ([]byte, string, error) {
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", field, err)
	}
	defer func(f multipart.File) { _ = f.Close() }(f)

	b, err := io.ReadAll(f)
	if err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", field, err)
	}
	return b, hdr.Header.Get("Content-Type"), nil
}

// handleChat handles POST /api/chat/{user_id}. The multipart body carries
// text_query and/or audio_file, an optional image_file and language_code.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.svc.Chat == nil {
		writeError(w, r, http.StatusServiceUnavailable, reasonUnavailable, "chat is not configured")
		return
	}
	if !s.parseMultipart(w, r) {
		return
	}

	audio, _, err := formFile(r, "audio_file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, reasonBadRequest, err.Error())
		return
	}
	image, imageMIME, err := formFile(r, "image_file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, reasonBadRequest, err.Error())
		return
	}

	req := assistant.ChatRequest{
		UserID:       r.PathValue("user_id"),
		Text:         strings.TrimSpace(r.FormValue("text_query")),
		LanguageCode: strings.TrimSpace(r.FormValue("language_code")),
		Audio:        audio,
		Image:        image,
		ImageMIME:    imageMIME,
	}
	if req.Text == "" && len(req.Audio) == 0 {
		writeError(w, r, http.StatusBadRequest, reasonNoInput, "no query provided")
		return
	}
	s.noteLanguage(r, req.LanguageCode)

	ctx, cancel := s.pipelineContext(r)
	defer cancel()

	ans, err := s.svc.Chat.Chat(ctx, req)
	if err != nil {
		s.metrics.chatRequestsTotal.WithLabelValues("error").Inc()
		s.fail(w, r, "chat", err)
		return
	}
	outcome := "ok"
	if len(ans.Degraded) > 0 {
		outcome = "degraded"
	}
	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	writeJSON(w, r, http.StatusOK, ans)
}

// handleLog handles POST /api/logs/{user_id} with a JSON {"notes": ...} body.
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	if s.svc.Logs == nil {
		writeError(w, r, http.StatusServiceUnavailable, reasonUnavailable, "activity logs are not configured")
		return
	}
	var req logRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, reasonBadRequest, "invalid request body")
		return
	}

	ctx, cancel := s.pipelineContext(r)
	defer cancel()

	res, err := s.svc.Logs.FromNotes(ctx, r.PathValue("user_id"), req.Notes)
	if err != nil {
		s.fail(w, r, "log", err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleVoiceLog handles POST /api/logs/voice/{user_id} with a multipart
// audio_file.
func (s *Server) handleVoiceLog(w http.ResponseWriter, r *http.Request) {
	if s.svc.Logs == nil {
		writeError(w, r, http.StatusServiceUnavailable, reasonUnavailable, "activity logs are not configured")
		return
	}
	if !s.parseMultipart(w, r) {
		return
	}
	audio, _, err := formFile(r, "audio_file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, reasonBadRequest, err.Error())
		return
	}
	if len(audio) == 0 {
		writeError(w, r, http.StatusBadRequest, reasonEmptyAudio, "audio_file is required")
		return
	}

	ctx, cancel := s.pipelineContext(r)
	defer cancel()

	res, err := s.svc.Logs.FromVoice(ctx, r.PathValue("user_id"), audio)
	if err != nil {
		s.fail(w, r, "voice log", err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleTranscribe handles POST /api/voice/transcribe. language_code
// defaults to en.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.svc.Transcriber == nil {
		writeError(w, r, http.StatusServiceUnavailable, reasonUnavailable, "speech-to-text is not configured")
		return
	}
	if !s.parseMultipart(w, r) {
		return
	}
	audio, _, err := formFile(r, "audio_file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, reasonBadRequest, err.Error())
		return
	}
	lang := strings.TrimSpace(r.FormValue("language_code"))
	if lang == "" {
		lang = "en"
	}
	s.noteLanguage(r, lang)

	ctx, cancel := s.pipelineContext(r)
	defer cancel()

	text, err := s.svc.Transcriber.Transcribe(ctx, audio, lang)
	if err != nil {
		s.fail(w, r, "transcribe", err)
		return
	}
	writeJSON(w, r, http.StatusOK, transcribeResponse{TranscribedText: text, LanguageCode: lang})
}

// handleAlerts handles GET /api/alerts/{user_id}.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.svc.Alerts == nil {
		writeError(w, r, http.StatusServiceUnavailable, reasonUnavailable, "alerts are not configured")
		return
	}
	alerts, err := s.svc.Alerts.Alerts(r.Context(), r.PathValue("user_id"))
	if err != nil {
		s.fail(w, r, "alerts", err)
		return
	}
	if alerts == nil {
		alerts = []backend.Alert{}
	}
	writeJSON(w, r, http.StatusOK, alertsResponse{Alerts: alerts})
}

// handleLanguages handles GET /api/languages.
func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	codes := s.svc.Languages.Codes()
	out := languagesResponse{Languages: make([]language, 0, len(codes))}
	for _, code := range codes {
		out.Languages = append(out.Languages, language{Code: code, Name: s.svc.Languages.Name(code)})
	}
	writeJSON(w, r, http.StatusOK, out)
}

// noteLanguage logs a language code missing from the configured table.
// Such codes are still served; prompts name the language by its code.
func (s *Server) noteLanguage(r *http.Request, code string) {
	if code == "" || s.svc.Languages.Supported(code) {
		return
	}
	logging.FromContext(r.Context()).Info("unlisted language code",
		slog.String("language_code", code),
		slog.Any("configured", s.svc.Languages.Codes()),
	)
}
