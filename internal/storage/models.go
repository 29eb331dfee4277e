package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Lesson kinds.
const (
	LessonKindInitial    = "initial"
	LessonKindSimplified = "simplified"
)

// Lesson outcomes.
const (
	OutcomePending  = "pending"
	OutcomeCorrect  = "correct"
	OutcomeReplaced = "replaced"
)

// Lesson is one generated explanation and its quiz round, logged for
// history. Live quiz state is never persisted; this table only records what
// was generated and how each round ended. The struct doubles as the history
// endpoint's wire format.
type Lesson struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Concept   string    `json:"concept"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	VideoFile string    `json:"video_file"`
	Kind      string    `json:"kind"`    // "initial" or "simplified"
	Outcome   string    `json:"outcome"` // "pending", "correct", or "replaced"
}
