package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kinemalab/kinema/internal/lesson"
	"github.com/kinemalab/kinema/internal/quiz"
	"github.com/kinemalab/kinema/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// LessonService abstracts the orchestration layer for the transport handlers.
type LessonService interface {
	Explain(ctx context.Context, text string) (lesson.Result, error)
	CheckAnswer(ctx context.Context, id quiz.TaskID, userAnswer string) (lesson.AnswerResult, error)
	Regenerate(ctx context.Context, id quiz.TaskID) (lesson.Result, error)
}

// HistoryReader lists recent lessons for the history endpoint.
type HistoryReader interface {
	RecentLessons(limit int) ([]storage.Lesson, error)
}

type Deps struct {
	Lessons   LessonService
	Registry  *quiz.Registry
	History   HistoryReader // optional; if nil, /history returns an empty list
	VideoDir  string
	ModelName string
}

type ExplainRequest struct {
	Text string `json:"text"`
}

type AnswerRequest struct {
	TaskID     string `json:"task_id"`
	UserAnswer string `json:"user_answer"`
}

type RegenerateRequest struct {
	TaskID string `json:"task_id"`
}

// NewRouter returns the HTTP handler serving the lesson API and rendered
// videos.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(CORS)

	r.Get("/health", handleHealth(deps))
	r.Post("/explain", handleExplain(deps))
	r.Post("/answer", handleAnswer(deps))
	r.Post("/regenerate", handleRegenerate(deps))
	r.Get("/video/{filename}", handleVideo(deps))
	r.Get("/history", handleHistory(deps))

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":     "ok",
			"live_tasks": deps.Registry.Len(),
			"model":      deps.ModelName,
		})
	}
}

func handleExplain(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ExplainRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}

		res, err := deps.Lessons.Explain(r.Context(), req.Text)
		if err != nil {
			httpError(w, http.StatusBadGateway, "generation_error", "explanation failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	}
}

func handleAnswer(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req AnswerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.TaskID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "task_id is required")
			return
		}
		if strings.TrimSpace(req.UserAnswer) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_answer is required")
			return
		}

		res, err := deps.Lessons.CheckAnswer(r.Context(), quiz.TaskID(req.TaskID), req.UserAnswer)
		if errors.Is(err, lesson.ErrTaskNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "quiz task not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "generation_error", "answer check failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	}
}

func handleRegenerate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req RegenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.TaskID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "task_id is required")
			return
		}

		res, err := deps.Lessons.Regenerate(r.Context(), quiz.TaskID(req.TaskID))
		if errors.Is(err, lesson.ErrTaskNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "quiz task not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "generation_error", "regeneration failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	}
}

// handleVideo serves rendered artifacts with byte-range support, so the
// poller's first-byte probes and a browser's seek requests both work.
// Filenames are reduced to their base name; path traversal cannot escape the
// video directory.
func handleVideo(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Base(chi.URLParam(r, "filename"))
		if name == "." || name == string(filepath.Separator) {
			httpError(w, http.StatusNotFound, "not_found", "video not found")
			return
		}

		f, err := os.Open(filepath.Join(deps.VideoDir, name))
		if err != nil {
			httpError(w, http.StatusNotFound, "not_found", "video %s not found", name)
			return
		}
		defer f.Close()

		st, err := f.Stat()
		if err != nil || st.IsDir() {
			httpError(w, http.StatusNotFound, "not_found", "video %s not found", name)
			return
		}

		w.Header().Set("Content-Type", "video/mp4")
		http.ServeContent(w, r, name, st.ModTime(), f)
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 10, 100)

		var (
			lessons []storage.Lesson
			err     error
		)
		if deps.History != nil {
			lessons, err = deps.History.RecentLessons(limit)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to list lessons: %v", err)
				return
			}
		}
		if lessons == nil {
			lessons = []storage.Lesson{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(lessons)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
