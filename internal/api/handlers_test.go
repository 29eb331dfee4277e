package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kinemalab/kinema/internal/lesson"
	"github.com/kinemalab/kinema/internal/quiz"
	"github.com/kinemalab/kinema/internal/storage"
)

type stubLessons struct {
	explainFn func(ctx context.Context, text string) (lesson.Result, error)
	checkFn   func(ctx context.Context, id quiz.TaskID, answer string) (lesson.AnswerResult, error)
	regenFn   func(ctx context.Context, id quiz.TaskID) (lesson.Result, error)
}

func (s *stubLessons) Explain(ctx context.Context, text string) (lesson.Result, error) {
	return s.explainFn(ctx, text)
}

func (s *stubLessons) CheckAnswer(ctx context.Context, id quiz.TaskID, answer string) (lesson.AnswerResult, error) {
	return s.checkFn(ctx, id, answer)
}

func (s *stubLessons) Regenerate(ctx context.Context, id quiz.TaskID) (lesson.Result, error) {
	return s.regenFn(ctx, id)
}

type stubHistory struct {
	lessons  []storage.Lesson
	err      error
	gotLimit int
}

func (s *stubHistory) RecentLessons(limit int) ([]storage.Lesson, error) {
	s.gotLimit = limit
	if s.err != nil {
		return nil, s.err
	}
	return s.lessons, nil
}

type routerFixture struct {
	handler  http.Handler
	lessons  *stubLessons
	history  *stubHistory
	registry *quiz.Registry
	videoDir string
}

func setupRouter(t *testing.T) *routerFixture {
	t.Helper()

	lessons := &stubLessons{
		explainFn: func(ctx context.Context, text string) (lesson.Result, error) {
			return lesson.Result{
				TaskID:   "abc12345",
				VideoURL: "/video/GeneratedScene_abc12345.mp4",
				Question: "What is tested?",
				Answer:   "the router",
			}, nil
		},
		checkFn: func(ctx context.Context, id quiz.TaskID, answer string) (lesson.AnswerResult, error) {
			return lesson.AnswerResult{Result: lesson.ResultCorrect}, nil
		},
		regenFn: func(ctx context.Context, id quiz.TaskID) (lesson.Result, error) {
			return lesson.Result{
				TaskID:   "def67890",
				VideoURL: "/video/GeneratedScene_def67890.mp4",
				Question: "What is simpler?",
				Answer:   "this",
			}, nil
		},
	}
	history := &stubHistory{}
	registry := quiz.NewRegistry()
	videoDir := t.TempDir()

	handler := NewRouter(Deps{
		Lessons:   lessons,
		Registry:  registry,
		History:   history,
		VideoDir:  videoDir,
		ModelName: "mistral-medium-latest",
	})

	return &routerFixture{
		handler:  handler,
		lessons:  lessons,
		history:  history,
		registry: registry,
		videoDir: videoDir,
	}
}

func jsonReq(method, target, body string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) (message, errType string) {
	t.Helper()
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode error envelope: %v", err)
	}
	return envelope.Error.Message, envelope.Error.Type
}

func TestHealth(t *testing.T) {
	fx := setupRouter(t)
	fx.registry.Create("Q1?", "a1", "topic one")
	fx.registry.Create("Q2?", "a2", "topic two")

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if body["live_tasks"] != float64(2) {
		t.Errorf("live_tasks = %v, want 2", body["live_tasks"])
	}
	if body["model"] != "mistral-medium-latest" {
		t.Errorf("model = %v, want mistral-medium-latest", body["model"])
	}
}

func TestExplain(t *testing.T) {
	fx := setupRouter(t)

	var gotText string
	fx.lessons.explainFn = func(ctx context.Context, text string) (lesson.Result, error) {
		gotText = text
		return lesson.Result{
			TaskID:   "abc12345",
			VideoURL: "/video/GeneratedScene_abc12345.mp4",
			Question: "What holds planets in orbit?",
			Answer:   "gravity",
		}, nil
	}

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, jsonReq(http.MethodPost, "/explain", `{"text": "gravity"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if gotText != "gravity" {
		t.Errorf("service got text %q, want %q", gotText, "gravity")
	}

	var res lesson.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if res.TaskID != "abc12345" {
		t.Errorf("task_id = %q, want abc12345", res.TaskID)
	}
	if res.VideoURL != "/video/GeneratedScene_abc12345.mp4" {
		t.Errorf("video_url = %q", res.VideoURL)
	}
	if res.Question != "What holds planets in orbit?" {
		t.Errorf("question = %q", res.Question)
	}
}

func TestExplainEmptyText(t *testing.T) {
	fx := setupRouter(t)

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, jsonReq(http.MethodPost, "/explain", `{"text": "   "}`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if _, errType := decodeError(t, rec); errType != "invalid_request_error" {
		t.Errorf("error type = %q, want invalid_request_error", errType)
	}
}

func TestExplainBadJSON(t *testing.T) {
	fx := setupRouter(t)

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, jsonReq(http.MethodPost, "/explain", `{"text": `))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestExplainGenerationFailure(t *testing.T) {
	fx := setupRouter(t)
	fx.lessons.explainFn = func(ctx context.Context, text string) (lesson.Result, error) {
		return lesson.Result{}, fmt.Errorf("model unavailable")
	}

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, jsonReq(http.MethodPost, "/explain", `{"text": "gravity"}`))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	msg, errType := decodeError(t, rec)
	if errType != "generation_error" {
		t.Errorf("error type = %q, want generation_error", errType)
	}
	if !strings.Contains(msg, "model unavailable") {
		t.Errorf("error message = %q, want model failure detail", msg)
	}
}

func TestAnswerCorrect(t *testing.T) {
	fx := setupRouter(t)

	var gotID quiz.TaskID
	var gotAnswer string
	fx.lessons.checkFn = func(ctx context.Context, id quiz.TaskID, answer string) (lesson.AnswerResult, error) {
		gotID, gotAnswer = id, answer
		return lesson.AnswerResult{Result: lesson.ResultCorrect}, nil
	}

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, jsonReq(http.MethodPost, "/answer", `{"task_id": "abc12345", "user_answer": "gravity"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if gotID != quiz.TaskID("abc12345") {
		t.Errorf("service got id %q, want abc12345", gotID)
	}
	if gotAnswer != "gravity" {
		t.Errorf("service got answer %q, want gravity", gotAnswer)
	}

	var res lesson.AnswerResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if res.Result != lesson.ResultCorrect {
		t.Errorf("result = %q, want %q", res.Result, lesson.ResultCorrect)
	}
}

func TestAnswerIncorrectReplacement(t *testing.T) {
	fx := setupRouter(t)
	fx.lessons.checkFn = func(ctx context.Context, id quiz.TaskID, answer string) (lesson.AnswerResult, error) {
		return lesson.AnswerResult{
			Result:   lesson.ResultIncorrect,
			TaskID:   "def67890",
			Question: "What is simpler?",
			VideoURL: "/video/GeneratedScene_def67890.mp4",
		}, nil
	}

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, jsonReq(http.MethodPost, "/answer", `{"task_id": "abc12345", "user_answer": "wrong"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var res lesson.AnswerResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if res.Result != lesson.ResultIncorrect {
		t.Errorf("result = %q, want %q", res.Result, lesson.ResultIncorrect)
	}
	if res.TaskID != quiz.TaskID("def67890") {
		t.Errorf("replacement task_id = %q, want def67890", res.TaskID)
	}
	if res.Question != "What is simpler?" {
		t.Errorf("replacement question = %q", res.Question)
	}
}

func TestAnswerUnknownTask(t *testing.T) {
	fx := setupRouter(t)
	fx.lessons.checkFn = func(ctx context.Context, id quiz.TaskID, answer string) (lesson.AnswerResult, error) {
		return lesson.AnswerResult{}, fmt.Errorf("%w: %s", lesson.ErrTaskNotFound, id)
	}

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, jsonReq(http.MethodPost, "/answer", `{"task_id": "missing1", "user_answer": "x"}`))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if _, errType := decodeError(t, rec); errType != "not_found" {
		t.Errorf("error type = %q, want not_found", errType)
	}
}

func TestAnswerMissingFields(t *testing.T) {
	fx := setupRouter(t)

	for name, body := range map[string]string{
		"no task_id":     `{"user_answer": "gravity"}`,
		"no user_answer": `{"task_id": "abc12345"}`,
		"blank answer":   `{"task_id": "abc12345", "user_answer": "  "}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			fx.handler.ServeHTTP(rec, jsonReq(http.MethodPost, "/answer", body))

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestRegenerate(t *testing.T) {
	fx := setupRouter(t)

	var gotID quiz.TaskID
	fx.lessons.regenFn = func(ctx context.Context, id quiz.TaskID) (lesson.Result, error) {
		gotID = id
		return lesson.Result{
			TaskID:   "def67890",
			VideoURL: "/video/GeneratedScene_def67890.mp4",
			Question: "What is simpler?",
			Answer:   "this",
		}, nil
	}

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, jsonReq(http.MethodPost, "/regenerate", `{"task_id": "abc12345"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if gotID != quiz.TaskID("abc12345") {
		t.Errorf("service got id %q, want abc12345", gotID)
	}

	var res lesson.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if res.TaskID != "def67890" {
		t.Errorf("task_id = %q, want def67890", res.TaskID)
	}
}

func TestRegenerateUnknownTask(t *testing.T) {
	fx := setupRouter(t)
	fx.lessons.regenFn = func(ctx context.Context, id quiz.TaskID) (lesson.Result, error) {
		return lesson.Result{}, fmt.Errorf("%w: %s", lesson.ErrTaskNotFound, id)
	}

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, jsonReq(http.MethodPost, "/regenerate", `{"task_id": "missing1"}`))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRegenerateFailure(t *testing.T) {
	fx := setupRouter(t)
	fx.lessons.regenFn = func(ctx context.Context, id quiz.TaskID) (lesson.Result, error) {
		return lesson.Result{}, fmt.Errorf("render timed out")
	}

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, jsonReq(http.MethodPost, "/regenerate", `{"task_id": "abc12345"}`))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
}

func TestVideoServesFile(t *testing.T) {
	fx := setupRouter(t)

	const content = "FAKEMP4DATA!"
	name := "GeneratedScene_abc12345.mp4"
	if err := os.WriteFile(filepath.Join(fx.videoDir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write video file: %v", err)
	}

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/video/"+name, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Body.String(); got != content {
		t.Errorf("body = %q, want %q", got, content)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("Content-Type = %q, want video/mp4", ct)
	}
	if ar := rec.Header().Get("Accept-Ranges"); ar != "bytes" {
		t.Errorf("Accept-Ranges = %q, want bytes", ar)
	}
}

func TestVideoRangeRequest(t *testing.T) {
	fx := setupRouter(t)

	const content = "FAKEMP4DATA!"
	name := "GeneratedScene_abc12345.mp4"
	if err := os.WriteFile(filepath.Join(fx.videoDir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write video file: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/video/"+name, nil)
	req.Header.Set("Range", "bytes=0-3")
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusPartialContent)
	}
	if got := rec.Body.String(); got != "FAKE" {
		t.Errorf("body = %q, want %q", got, "FAKE")
	}
	wantRange := fmt.Sprintf("bytes 0-3/%d", len(content))
	if cr := rec.Header().Get("Content-Range"); cr != wantRange {
		t.Errorf("Content-Range = %q, want %q", cr, wantRange)
	}
}

func TestVideoNotFound(t *testing.T) {
	fx := setupRouter(t)

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/video/missing.mp4", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if _, errType := decodeError(t, rec); errType != "not_found" {
		t.Errorf("error type = %q, want not_found", errType)
	}
}

func TestVideoTraversalConfined(t *testing.T) {
	fx := setupRouter(t)

	const secret = "do not serve"
	outside := filepath.Join(filepath.Dir(fx.videoDir), "outside.mp4")
	if err := os.WriteFile(outside, []byte(secret), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/video/..%2Foutside.mp4", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if strings.Contains(rec.Body.String(), secret) {
		t.Error("file outside the video directory was served")
	}
}

func TestHistory(t *testing.T) {
	fx := setupRouter(t)
	fx.history.lessons = []storage.Lesson{
		{ID: "les-02", Concept: "entropy", CreatedAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)},
		{ID: "les-01", Concept: "gravity", CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if fx.history.gotLimit != 10 {
		t.Errorf("default limit = %d, want 10", fx.history.gotLimit)
	}

	var lessons []storage.Lesson
	if err := json.NewDecoder(rec.Body).Decode(&lessons); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(lessons) != 2 {
		t.Fatalf("got %d lessons, want 2", len(lessons))
	}
	if lessons[0].ID != "les-02" {
		t.Errorf("first lesson = %q, want les-02", lessons[0].ID)
	}
}

func TestHistoryLimit(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 10},
		{"?limit=3", 3},
		{"?limit=500", 100},
		{"?limit=banana", 10},
		{"?limit=-1", 10},
	}

	for _, tt := range tests {
		t.Run("limit"+tt.query, func(t *testing.T) {
			fx := setupRouter(t)
			rec := httptest.NewRecorder()
			fx.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history"+tt.query, nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			if fx.history.gotLimit != tt.want {
				t.Errorf("limit = %d, want %d", fx.history.gotLimit, tt.want)
			}
		})
	}
}

func TestHistoryWithoutStore(t *testing.T) {
	handler := NewRouter(Deps{
		Lessons:   &stubLessons{},
		Registry:  quiz.NewRegistry(),
		VideoDir:  t.TempDir(),
		ModelName: "mistral-medium-latest",
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestHistoryStoreError(t *testing.T) {
	fx := setupRouter(t)
	fx.history.err = fmt.Errorf("database locked")

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if _, errType := decodeError(t, rec); errType != "api_error" {
		t.Errorf("error type = %q, want api_error", errType)
	}
}

func TestCORSPreflight(t *testing.T) {
	fx := setupRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/explain", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "POST") {
		t.Errorf("Access-Control-Allow-Methods = %q, want POST allowed", got)
	}
}

func TestCORSHeadersOnResponses(t *testing.T) {
	fx := setupRouter(t)

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}
