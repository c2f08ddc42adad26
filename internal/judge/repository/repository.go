// Package repository persists submissions, problems and author scores.
package repository

import (
	"context"
	"errors"

	"judgecore/internal/judge/model"
	"judgecore/internal/judge/verdict"
	appErr "judgecore/pkg/errors"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrProblemNotFound    = errors.New("problem not found")
	// ErrResultConflict means another writer already recorded this ordinal.
	ErrResultConflict = appErr.New(appErr.ResultConflict).WithMessage("test case result already recorded")
)

// Finalization is the terminal state written once per submission.
type Finalization struct {
	Verdict         verdict.Verdict
	ExecutionTimeMs *int64
	MemoryUsedKB    *int64

	// Points is credited when an Accepted verdict is the author's first for the problem.
	Points int64
}

// FinalizeResult reports what Finalize changed.
type FinalizeResult struct {
	// Applied is false when the submission was no longer Pending.
	Applied bool
	// Awarded is true when this call credited the author for the problem.
	Awarded bool
}

// SubmissionRepository is the worker and stream contract over submissions.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *model.Submission) error
	// Get returns the submission with its ordered results.
	Get(ctx context.Context, submissionID string) (*model.Submission, error)
	// Snapshot reads verdict and results so that a terminal verdict is never seen without its results.
	Snapshot(ctx context.Context, submissionID string) (model.Snapshot, error)
	// AppendResult stores one result; a duplicate ordinal returns ErrResultConflict.
	AppendResult(ctx context.Context, submissionID string, result model.TestCaseResult) error
	// Finalize moves a Pending submission to a terminal verdict.
	// Accepted credits the author once per problem in the same transaction.
	Finalize(ctx context.Context, submissionID string, f Finalization) (FinalizeResult, error)
}

// ProblemRepository reads problem limits and ordered test cases.
type ProblemRepository interface {
	GetProblem(ctx context.Context, problemID int64) (*model.Problem, error)
	ListTestCases(ctx context.Context, problemID int64) ([]model.TestCase, error)
}

// ScoreRepository reads author scores.
type ScoreRepository interface {
	GetScore(ctx context.Context, userID int64) (int64, error)
}
