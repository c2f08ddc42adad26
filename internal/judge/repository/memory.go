package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"judgecore/internal/judge/model"
	"judgecore/internal/judge/verdict"
)

// MemoryStore implements the submission, problem and score repositories in process.
// It backs single-node deployments and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	submissions map[string]*model.Submission
	problems    map[int64]model.Problem
	testCases   map[int64][]model.TestCase
	scores      map[int64]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		submissions: make(map[string]*model.Submission),
		problems:    make(map[int64]model.Problem),
		testCases:   make(map[int64][]model.TestCase),
		scores:      make(map[int64]int64),
	}
}

// PutProblem registers a problem and its test cases.
func (m *MemoryStore) PutProblem(problem model.Problem, cases []model.TestCase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.problems[problem.ID] = problem
	sorted := append([]model.TestCase(nil), cases...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Ordinal < sorted[j].Ordinal })
	m.testCases[problem.ID] = sorted
}

func (m *MemoryStore) Create(_ context.Context, submission *model.Submission) error {
	if err := validateSubmission(submission); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.submissions[submission.ID]; ok {
		return fmt.Errorf("submission %s already exists", submission.ID)
	}
	now := time.Now().UTC()
	if submission.CreatedAt.IsZero() {
		submission.CreatedAt = now
	}
	submission.UpdatedAt = now
	m.submissions[submission.ID] = cloneSubmission(submission)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, submissionID string) (*model.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.submissions[submissionID]
	if !ok {
		return nil, ErrSubmissionNotFound
	}
	return cloneSubmission(sub), nil
}

func (m *MemoryStore) Snapshot(_ context.Context, submissionID string) (model.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.submissions[submissionID]
	if !ok {
		return model.Snapshot{}, ErrSubmissionNotFound
	}
	return model.Snapshot{
		SubmissionID: submissionID,
		Verdict:      sub.Verdict,
		Results:      append([]model.TestCaseResult(nil), sub.Results...),
	}, nil
}

func (m *MemoryStore) AppendResult(_ context.Context, submissionID string, result model.TestCaseResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.submissions[submissionID]
	if !ok {
		return ErrSubmissionNotFound
	}
	for _, existing := range sub.Results {
		if existing.Ordinal == result.Ordinal {
			return ErrResultConflict
		}
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	sub.Results = append(sub.Results, result)
	sort.SliceStable(sub.Results, func(i, j int) bool { return sub.Results[i].Ordinal < sub.Results[j].Ordinal })
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) Finalize(_ context.Context, submissionID string, f Finalization) (FinalizeResult, error) {
	if !f.Verdict.IsTerminal() {
		return FinalizeResult{}, fmt.Errorf("%w: Pending -> %s", verdict.ErrInvalidTransition, f.Verdict)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.submissions[submissionID]
	if !ok {
		return FinalizeResult{}, ErrSubmissionNotFound
	}
	if err := verdict.Transition(sub.Verdict, f.Verdict); err != nil {
		if errors.Is(err, verdict.ErrInvalidTransition) {
			return FinalizeResult{}, nil
		}
		return FinalizeResult{}, err
	}
	sub.Verdict = f.Verdict
	sub.ExecutionTimeMs = f.ExecutionTimeMs
	sub.MemoryUsedKB = f.MemoryUsedKB
	sub.UpdatedAt = time.Now().UTC()

	out := FinalizeResult{Applied: true}
	if f.Verdict != verdict.Accepted {
		return out, nil
	}
	for id, other := range m.submissions {
		if id != submissionID && other.AuthorID == sub.AuthorID && other.ProblemID == sub.ProblemID &&
			other.Verdict == verdict.Accepted {
			return out, nil
		}
	}
	m.scores[sub.AuthorID] += f.Points
	out.Awarded = true
	return out, nil
}

func (m *MemoryStore) GetScore(_ context.Context, userID int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scores[userID], nil
}

func (m *MemoryStore) GetProblem(_ context.Context, problemID int64) (*model.Problem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	problem, ok := m.problems[problemID]
	if !ok {
		return nil, ErrProblemNotFound
	}
	return &problem, nil
}

func (m *MemoryStore) ListTestCases(_ context.Context, problemID int64) ([]model.TestCase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.TestCase(nil), m.testCases[problemID]...), nil
}

// Ping lets the memory store stand in for a database in readiness checks.
func (m *MemoryStore) Ping(context.Context) error { return nil }

func cloneSubmission(sub *model.Submission) *model.Submission {
	out := *sub
	out.Results = append([]model.TestCaseResult(nil), sub.Results...)
	if sub.ExecutionTimeMs != nil {
		v := *sub.ExecutionTimeMs
		out.ExecutionTimeMs = &v
	}
	if sub.MemoryUsedKB != nil {
		v := *sub.MemoryUsedKB
		out.MemoryUsedKB = &v
	}
	return &out
}
