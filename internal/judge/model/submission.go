package model

import (
	"time"

	"judgecore/internal/judge/sandbox"
	"judgecore/internal/judge/verdict"
)

// Submission is one judged program.
type Submission struct {
	ID              string           `json:"id"`
	ProblemID       int64            `json:"problemId"`
	AuthorID        int64            `json:"authorId"`
	Language        sandbox.Language `json:"language"`
	SourceCode      string           `json:"-"`
	SourceKey       string           `json:"sourceKey,omitempty"`
	Verdict         verdict.Verdict  `json:"verdict"`
	Results         []TestCaseResult `json:"results"`
	ExecutionTimeMs *int64           `json:"executionTimeMs,omitempty"`
	MemoryUsedKB    *int64           `json:"memoryUsedKb,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// PassedCount counts passing results.
func (s *Submission) PassedCount() int {
	n := 0
	for _, r := range s.Results {
		if r.Passed {
			n++
		}
	}
	return n
}

// TestCaseResult is the outcome of one test case, appended in ordinal order.
type TestCaseResult struct {
	Ordinal         int             `json:"ordinal"`
	Passed          bool            `json:"passed"`
	Input           string          `json:"input"`
	ExpectedOutput  string          `json:"expectedOutput"`
	ActualOutput    string          `json:"actualOutput"`
	ExecutionTimeMs int64           `json:"executionTimeMs"`
	MemoryKB        *int64          `json:"memoryKb,omitempty"`
	Verdict         verdict.Verdict `json:"verdict"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Snapshot is a consistent read of verdict and results.
type Snapshot struct {
	SubmissionID string
	Verdict      verdict.Verdict
	Results      []TestCaseResult
}
