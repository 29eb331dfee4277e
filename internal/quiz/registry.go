// Package quiz tracks live quiz rounds. A task exists exactly while its
// question is awaiting an answer; answering or superseding removes it, so
// absence from the registry is the terminal state. Nothing here is persisted:
// the registry lives and dies with the process.
package quiz

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskID is an opaque task identifier. It is a distinct type so ids cannot be
// mixed up with question or answer text at call sites.
type TaskID string

func (id TaskID) String() string { return string(id) }

// NewTaskID returns a fresh opaque identifier, an 8-character UUID prefix.
// Uniqueness over a process lifetime is probabilistic, not guaranteed.
func NewTaskID() TaskID {
	return TaskID(uuid.New().String()[:8])
}

// Task is one live quiz round: the question asked about a generated lesson,
// the expected answer, and the concept text that produced it.
type Task struct {
	ID        TaskID
	Question  string
	Answer    string
	Concept   string
	CreatedAt time.Time
}

// Registry is the single source of truth for pending quizzes. All operations
// are safe for concurrent use; Replace performs its remove/insert pair under
// one lock acquisition.
type Registry struct {
	mu    sync.RWMutex
	tasks map[TaskID]Task
}

// NewRegistry returns an empty registry. Callers own the instance and pass it
// explicitly to the layers that need it.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[TaskID]Task)}
}

// Create registers a new task under a fresh id and returns it.
func (r *Registry) Create(question, answer, concept string) Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insert(question, answer, concept)
}

// Get looks up a task by id. Absence is a normal outcome, not an error.
func (r *Registry) Get(id TaskID) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	return t, ok
}

// Remove deletes a task. Removing an id that is not present is a no-op.
func (r *Registry) Remove(id TaskID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
}

// Replace removes oldID and registers a replacement for the same quiz round.
// The old entry is gone before the new one is inserted, and no other
// operation can interleave between the two.
func (r *Registry) Replace(oldID TaskID, question, answer, concept string) Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, oldID)
	return r.insert(question, answer, concept)
}

// Len returns the number of live tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// insert assumes r.mu is held for writing.
func (r *Registry) insert(question, answer, concept string) Task {
	t := Task{
		ID:        NewTaskID(),
		Question:  question,
		Answer:    answer,
		Concept:   concept,
		CreatedAt: time.Now().UTC(),
	}
	r.tasks[t.ID] = t
	return t
}
