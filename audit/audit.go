// Package audit records completed research runs.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	errorskg "github.com/sweetpotato0/ai-research/errors"
	"github.com/sweetpotato0/ai-research/research"
)

// Run is the stored record of one pipeline run.
type Run struct {
	ID          string               `json:"id" bson:"_id"`
	Question    string               `json:"question" bson:"question"`
	EndUserID   string               `json:"end_user_id,omitempty" bson:"end_user_id,omitempty"`
	Evaluation  string               `json:"evaluation" bson:"evaluation"`
	Overall     float64              `json:"overall" bson:"overall"`
	LoopCount   int                  `json:"loop_count" bson:"loop_count"`
	Sources     int                  `json:"sources" bson:"sources"`
	FinalAnswer string               `json:"final_answer" bson:"final_answer"`
	Error       string               `json:"error,omitempty" bson:"error,omitempty"`
	State       *research.QueryState `json:"state,omitempty" bson:"state,omitempty"`
	StartedAt   time.Time            `json:"started_at" bson:"started_at"`
	FinishedAt  time.Time            `json:"finished_at" bson:"finished_at"`
}

// NewRun builds a record for a finished run. runErr is the error Run returned, if any.
func NewRun(question, endUserID string, st research.QueryState, runErr error, startedAt time.Time) *Run {
	run := &Run{
		ID:         uuid.NewString(),
		Question:   question,
		EndUserID:  endUserID,
		StartedAt:  startedAt.UTC(),
		FinishedAt: time.Now().UTC(),
	}
	if runErr != nil {
		run.Error = runErr.Error()
		return run
	}
	state := st.Clone()
	run.State = &state
	run.Evaluation = st.Evaluation
	run.LoopCount = st.LoopCount
	run.Sources = len(st.Cited())
	run.FinalAnswer = st.FinalAnswer
	if st.Scores != nil {
		run.Overall = st.Scores.Overall
	}
	return run
}

// Sink persists run records.
type Sink interface {
	Record(ctx context.Context, run *Run) error
	// Recent returns up to limit runs, newest first.
	Recent(ctx context.Context, limit int) ([]*Run, error)
	// Get returns the run with id, or an error wrapping errors.ErrNotFound.
	Get(ctx context.Context, id string) (*Run, error)
	Close(ctx context.Context) error
}

// Nop discards every record.
type Nop struct{}

func (Nop) Record(context.Context, *Run) error { return nil }

func (Nop) Recent(context.Context, int) ([]*Run, error) { return nil, nil }

func (Nop) Get(_ context.Context, id string) (*Run, error) { return nil, notFound(id) }

func (Nop) Close(context.Context) error { return nil }

func notFound(id string) error {
	return fmt.Errorf("%w: run %q", errorskg.ErrNotFound, id)
}

// MemorySink keeps the most recent runs in process memory.
type MemorySink struct {
	mu   sync.RWMutex
	runs []*Run
	max  int
}

// NewMemorySink creates a sink holding at most max runs (100 when max <= 0).
func NewMemorySink(max int) *MemorySink {
	if max <= 0 {
		max = 100
	}
	return &MemorySink{max: max}
}

// Record implements Sink.
func (s *MemorySink) Record(_ context.Context, run *Run) error {
	if run == nil {
		return fmt.Errorf("run cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = append(s.runs, run)
	if len(s.runs) > s.max {
		s.runs = s.runs[len(s.runs)-s.max:]
	}
	return nil
}

// Recent implements Sink.
func (s *MemorySink) Recent(_ context.Context, limit int) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.runs) {
		limit = len(s.runs)
	}
	out := make([]*Run, 0, limit)
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.runs[i])
	}
	return out, nil
}

// Get implements Sink.
func (s *MemorySink) Get(_ context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.runs) - 1; i >= 0; i-- {
		if s.runs[i].ID == id {
			return s.runs[i], nil
		}
	}
	return nil, notFound(id)
}

// Close implements Sink.
func (s *MemorySink) Close(context.Context) error { return nil }
