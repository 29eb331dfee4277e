// Package lesson orchestrates one explanation round: prompt the model for a
// scene script and a quiz in parallel, render the video, register the quiz
// task, and drive the simplified re-explanation loop when an answer is wrong.
package lesson

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kinemalab/kinema/internal/decode"
	"github.com/kinemalab/kinema/internal/mistral"
	"github.com/kinemalab/kinema/internal/prompt"
	"github.com/kinemalab/kinema/internal/quiz"
	"github.com/kinemalab/kinema/internal/retry"
	"github.com/kinemalab/kinema/internal/storage"
)

var (
	// ErrTaskNotFound means the task id is unknown: either it never existed
	// or the round already ended.
	ErrTaskNotFound = errors.New("quiz task not found")

	// ErrArtifactUnavailable means a render reported success but the served
	// video never became reachable within the probe budget.
	ErrArtifactUnavailable = errors.New("rendered video did not become available")
)

// Answer-check verdicts.
const (
	ResultCorrect   = "correct"
	ResultIncorrect = "incorrect"
)

// ModelClient produces text from chat messages.
type ModelClient interface {
	Chat(ctx context.Context, model string, messages []mistral.Message) (string, error)
}

// Renderer turns a scene script into a served video file name.
type Renderer interface {
	Render(ctx context.Context, script string) (string, error)
}

// Prober reports whether a URL starts serving bytes within its budget.
type Prober interface {
	Wait(ctx context.Context, url string) bool
}

// Recorder appends to the lesson history. Optional: a nil Recorder disables
// history without changing lesson behavior.
type Recorder interface {
	SaveLesson(l storage.Lesson) error
	UpdateLessonOutcome(id, outcome string) error
}

// Result is the outcome of a successful generation round.
type Result struct {
	TaskID   quiz.TaskID `json:"task_id"`
	VideoURL string      `json:"video_url"`
	Question string      `json:"question"`
	Answer   string      `json:"answer"`
}

// AnswerResult is the outcome of checking a user's answer. On an incorrect
// answer with a successful simplified regeneration, TaskID/Question/VideoURL
// describe the replacement round; on regeneration failure Detail explains
// what happened and the original task stays open.
type AnswerResult struct {
	Result   string      `json:"result"`
	TaskID   quiz.TaskID `json:"task_id,omitempty"`
	Question string      `json:"question,omitempty"`
	VideoURL string      `json:"video_url,omitempty"`
	Detail   string      `json:"detail,omitempty"`
}

// Deps wires a Service. Registry is required; History may be nil.
type Deps struct {
	Model     ModelClient
	ModelName string
	Renderer  Renderer
	Prober    Prober
	Registry  *quiz.Registry
	History   Recorder
	Retry     retry.Policy
	BaseURL   string
}

// Service coordinates model, renderer, prober, registry, and history for the
// explain / answer / regenerate operations.
type Service struct {
	model     ModelClient
	modelName string
	renderer  Renderer
	prober    Prober
	registry  *quiz.Registry
	history   Recorder
	retry     retry.Policy
	baseURL   string
}

// NewService creates a Service from its dependencies.
func NewService(deps Deps) *Service {
	baseURL := strings.TrimRight(deps.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	return &Service{
		model:     deps.Model,
		modelName: deps.ModelName,
		renderer:  deps.Renderer,
		prober:    deps.Prober,
		registry:  deps.Registry,
		history:   deps.History,
		retry:     deps.Retry,
		baseURL:   baseURL,
	}
}

// VideoPath returns the serving path for a rendered artifact file name.
func VideoPath(filename string) string {
	return "/video/" + filename
}

// Explain runs the full generation round for a concept:
//  1. Script and quiz model calls fan out in parallel.
//  2. A quiz task is registered (the registry issues the id).
//  3. The scene script is rendered; on failure the task is removed again so
//     no task outlives a failed generation.
//  4. The lesson is recorded in history.
func (s *Service) Explain(ctx context.Context, text string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, errors.New("nothing to explain: empty text")
	}

	a, err := s.generateAssets(ctx, prompt.Script(text), text)
	if err != nil {
		return Result{}, err
	}
	return s.buildLesson(ctx, text, a, storage.LessonKindInitial)
}

// CheckAnswer judges userAnswer against the task's expected answer. A correct
// answer ends the round. An incorrect answer triggers a simplified
// re-explanation under the retry policy; on success the task is replaced, on
// exhaustion the original task stays open and Detail says why.
func (s *Service) CheckAnswer(ctx context.Context, id quiz.TaskID, userAnswer string) (AnswerResult, error) {
	task, ok := s.registry.Get(id)
	if !ok {
		return AnswerResult{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	if answersMatch(userAnswer, task.Answer) {
		s.registry.Remove(id)
		s.updateOutcome(id.String(), storage.OutcomeCorrect)
		slog.Info("answer correct", "task_id", id)
		return AnswerResult{Result: ResultCorrect}, nil
	}

	slog.Info("answer incorrect, generating simpler explanation", "task_id", id)
	replacement, filename, err := s.rebuildSimpler(ctx, task)
	if err != nil {
		return AnswerResult{
			Result:   ResultIncorrect,
			TaskID:   task.ID,
			Question: task.Question,
			Detail:   fmt.Sprintf("simpler explanation unavailable (%s); the original question is still open", err),
		}, nil
	}

	return AnswerResult{
		Result:   ResultIncorrect,
		TaskID:   replacement.ID,
		Question: replacement.Question,
		VideoURL: VideoPath(filename),
	}, nil
}

// Regenerate re-explains the task's concept in simpler terms without judging
// an answer, replacing the task on success.
func (s *Service) Regenerate(ctx context.Context, id quiz.TaskID) (Result, error) {
	task, ok := s.registry.Get(id)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	replacement, filename, err := s.rebuildSimpler(ctx, task)
	if err != nil {
		return Result{}, err
	}
	return Result{
		TaskID:   replacement.ID,
		VideoURL: VideoPath(filename),
		Question: replacement.Question,
		Answer:   replacement.Answer,
	}, nil
}

// assets is what one generation round needs from the model: a cleaned scene
// script and a decoded quiz pair.
type assets struct {
	script string
	qa     decode.QA
}

// generateAssets issues the script and quiz model calls in parallel. A quiz
// call failure never fails the round: the decoder's fallback synthesizes a
// question from the concept. A script failure is fatal since there is nothing
// to render.
func (s *Service) generateAssets(ctx context.Context, scriptMsgs []mistral.Message, concept string) (assets, error) {
	var out assets

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		raw, err := s.model.Chat(gctx, s.modelName, scriptMsgs)
		if err != nil {
			return fmt.Errorf("generating scene script: %w", err)
		}
		script := decode.StripFences(raw)
		if script == "" {
			return errors.New("model returned an empty scene script")
		}
		out.script = script
		return nil
	})
	g.Go(func() error {
		raw, err := s.model.Chat(gctx, s.modelName, prompt.Quiz(concept))
		if err != nil {
			slog.Warn("quiz generation failed, falling back to synthesized question", "error", err)
			raw = ""
		}
		out.qa = decode.Decode(raw, concept)
		return nil
	})
	if err := g.Wait(); err != nil {
		return assets{}, err
	}
	return out, nil
}

// buildLesson registers the quiz task, renders the script, and records the
// round. On render failure the just-created task is removed before the error
// returns.
func (s *Service) buildLesson(ctx context.Context, concept string, a assets, kind string) (Result, error) {
	task := s.registry.Create(a.qa.Question, a.qa.Answer, concept)

	filename, err := s.renderer.Render(ctx, a.script)
	if err != nil {
		s.registry.Remove(task.ID)
		return Result{}, fmt.Errorf("rendering explanation: %w", err)
	}

	s.recordLesson(storage.Lesson{
		ID:        task.ID.String(),
		Concept:   concept,
		Question:  task.Question,
		Answer:    task.Answer,
		VideoFile: filename,
		Kind:      kind,
	})

	slog.Info("lesson ready", "task_id", task.ID, "video", filename)
	return Result{
		TaskID:   task.ID,
		VideoURL: VideoPath(filename),
		Question: task.Question,
		Answer:   task.Answer,
	}, nil
}

// rebuildSimpler produces a simplified replacement round for old under the
// retry policy. Each attempt regenerates assets, renders, and waits for the
// served URL to answer; only after all of that succeeds is the old task
// swapped out. The caller keeps the old task when the error return is
// non-nil.
func (s *Service) rebuildSimpler(ctx context.Context, old quiz.Task) (quiz.Task, string, error) {
	var (
		built    assets
		filename string
	)
	attempts, err := s.retry.Execute(ctx, func(ctx context.Context) error {
		a, err := s.generateAssets(ctx, prompt.SimplerScript(old.Concept), old.Concept)
		if err != nil {
			return err
		}
		name, err := s.renderer.Render(ctx, a.script)
		if err != nil {
			return err
		}
		if !s.prober.Wait(ctx, s.baseURL+VideoPath(name)) {
			return fmt.Errorf("%w: %s", ErrArtifactUnavailable, name)
		}
		built, filename = a, name
		return nil
	})
	if err != nil {
		slog.Warn("simpler explanation failed",
			"task_id", old.ID,
			"attempts", len(attempts),
			"error", err,
		)
		return quiz.Task{}, "", err
	}

	replacement := s.registry.Replace(old.ID, built.qa.Question, built.qa.Answer, old.Concept)
	s.updateOutcome(old.ID.String(), storage.OutcomeReplaced)
	s.recordLesson(storage.Lesson{
		ID:        replacement.ID.String(),
		Concept:   old.Concept,
		Question:  replacement.Question,
		Answer:    replacement.Answer,
		VideoFile: filename,
		Kind:      storage.LessonKindSimplified,
	})

	slog.Info("task replaced with simpler round", "old_task_id", old.ID, "task_id", replacement.ID)
	return replacement, filename, nil
}

func (s *Service) recordLesson(l storage.Lesson) {
	if s.history == nil {
		return
	}
	if err := s.history.SaveLesson(l); err != nil {
		slog.Warn("recording lesson history", "lesson_id", l.ID, "error", err)
	}
}

func (s *Service) updateOutcome(id, outcome string) {
	if s.history == nil {
		return
	}
	if err := s.history.UpdateLessonOutcome(id, outcome); err != nil && !errors.Is(err, storage.ErrNotFound) {
		slog.Warn("updating lesson outcome", "lesson_id", id, "outcome", outcome, "error", err)
	}
}

// normalizeAnswer lowers, trims, collapses inner whitespace, and strips
// trailing sentence punctuation so "The Hypotenuse." matches "the hypotenuse".
func normalizeAnswer(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, ".!")
}

// answersMatch accepts an exact normalized match or a user answer that
// contains the expected answer, so "it is the hypotenuse" passes for
// "hypotenuse". An empty user answer never matches.
func answersMatch(got, want string) bool {
	got = normalizeAnswer(got)
	want = normalizeAnswer(want)
	if got == "" {
		return false
	}
	return got == want || strings.Contains(got, want)
}
