// Package service implements the judge worker.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"judgecore/internal/judge/model"
	"judgecore/internal/judge/queue"
	"judgecore/internal/judge/repository"
	"judgecore/internal/judge/sandbox"
	"judgecore/internal/judge/verdict"
	appErr "judgecore/pkg/errors"
	"judgecore/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultTimeLimit = time.Second

// SourceLoader fetches archived source code.
type SourceLoader interface {
	Load(ctx context.Context, key string) (string, error)
}

// Service judges submissions, one job at a time per caller.
type Service struct {
	submissions      repository.SubmissionRepository
	problems         repository.ProblemRepository
	sandbox          sandbox.Sandbox
	sources          SourceLoader
	persistTimeout   time.Duration
	defaultTimeLimit time.Duration
}

// Config holds service dependencies and settings.
type Config struct {
	Submissions repository.SubmissionRepository
	Problems    repository.ProblemRepository
	Sandbox     sandbox.Sandbox
	// Sources is optional; submissions without inline code need it.
	Sources          SourceLoader
	PersistTimeout   time.Duration
	DefaultTimeLimit time.Duration
}

// NewService creates a new judge service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem repository is required")
	}
	if cfg.Sandbox == nil {
		return nil, fmt.Errorf("sandbox is required")
	}
	if cfg.DefaultTimeLimit <= 0 {
		cfg.DefaultTimeLimit = defaultTimeLimit
	}
	return &Service{
		submissions:      cfg.Submissions,
		problems:         cfg.Problems,
		sandbox:          cfg.Sandbox,
		sources:          cfg.Sources,
		persistTimeout:   cfg.PersistTimeout,
		defaultTimeLimit: cfg.DefaultTimeLimit,
	}, nil
}

// run carries the state of one judge attempt.
type run struct {
	job        queue.Job
	submission *model.Submission
	machine    *verdict.Machine
	next       int
	maxTimeMs  *int64
	maxMemory  *int64
	points     int64
}

// Judge processes one delivered job.
//
// A nil return acknowledges the job. A returned error asks the queue to retry;
// the submission stays Pending unless this was the final attempt.
func (s *Service) Judge(ctx context.Context, job queue.Job) error {
	start := time.Now()
	logger.Info(ctx, "judge job started", zap.String("submission_id", job.SubmissionID), zap.Int("attempt", job.Attempt))

	var submission *model.Submission
	err := s.persist(ctx, func(ctx context.Context) error {
		var err error
		submission, err = s.submissions.Get(ctx, job.SubmissionID)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			logger.Warn(ctx, "judge job for unknown submission", zap.String("submission_id", job.SubmissionID))
			return nil
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "load submission failed")
	}
	if submission.Verdict.IsTerminal() {
		logger.Info(ctx, "submission already judged, skipping",
			zap.String("submission_id", job.SubmissionID),
			zap.String("verdict", string(submission.Verdict)),
		)
		return nil
	}

	r := &run{job: job, submission: submission, next: len(submission.Results)}
	err = s.execute(ctx, r)
	if err != nil {
		return s.fail(ctx, r, err)
	}
	logger.Info(ctx, "judge job finished",
		zap.String("submission_id", job.SubmissionID),
		zap.String("verdict", string(r.machine.Verdict())),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

func (s *Service) execute(ctx context.Context, r *run) error {
	sub := r.submission
	problem, err := s.problems.GetProblem(ctx, sub.ProblemID)
	if err != nil {
		if errors.Is(err, repository.ErrProblemNotFound) {
			return appErr.Newf(appErr.ProblemNotFound, "problem %d not found", sub.ProblemID)
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "load problem failed")
	}
	cases, err := s.problems.ListTestCases(ctx, sub.ProblemID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "load test cases failed")
	}
	r.machine = verdict.NewMachine(len(cases))
	r.points = problem.Points
	if len(cases) == 0 {
		return appErr.Newf(appErr.TestCaseNotFound, "problem %d has no test cases", sub.ProblemID)
	}

	// Resume after the prefix persisted by an earlier attempt.
	for _, prev := range sub.Results {
		r.machine.Replay(prev.Verdict)
		r.track(prev)
	}
	if r.machine.Done() {
		return s.finalize(ctx, r)
	}
	if r.next > len(cases) {
		return appErr.Newf(appErr.JudgeSystemError, "submission has %d results for %d test cases", r.next, len(cases))
	}

	source := sub.SourceCode
	if source == "" && sub.SourceKey != "" {
		if s.sources == nil {
			return appErr.New(appErr.StorageError).WithMessage("source store is not configured")
		}
		source, err = s.sources.Load(ctx, sub.SourceKey)
		if err != nil {
			return appErr.Wrapf(err, appErr.StorageError, "load source failed")
		}
	}

	timeLimit := s.defaultTimeLimit
	if problem.TimeLimitMs > 0 {
		timeLimit = time.Duration(problem.TimeLimitMs) * time.Millisecond
	}

	for i := r.next; i < len(cases); i++ {
		tc := cases[i]
		outcome, err := s.sandbox.Execute(ctx, sub.Language, source, tc.Input, timeLimit)
		if err != nil {
			return err
		}
		result, caseResult := evaluate(i, tc, outcome, problem)
		contribution, done := r.machine.Observe(caseResult)
		result.Verdict = contribution

		if err := s.persist(ctx, func(ctx context.Context) error {
			return s.submissions.AppendResult(ctx, sub.ID, result)
		}); err != nil {
			return err
		}
		r.next = i + 1
		r.track(result)
		if done {
			break
		}
	}
	return s.finalize(ctx, r)
}

func (s *Service) finalize(ctx context.Context, r *run) error {
	final := r.machine.Verdict()
	f := repository.Finalization{Verdict: final, Points: r.points}
	if final != verdict.CompilationError {
		f.ExecutionTimeMs = r.maxTimeMs
		f.MemoryUsedKB = r.maxMemory
	}
	var res repository.FinalizeResult
	err := s.persist(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.submissions.Finalize(ctx, r.submission.ID, f)
		return err
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "finalize submission failed")
	}
	if !res.Applied {
		logger.Warn(ctx, "submission finalized by another worker", zap.String("submission_id", r.submission.ID))
		return nil
	}
	if res.Awarded {
		logger.Info(ctx, "score awarded",
			zap.Int64("author_id", r.submission.AuthorID),
			zap.Int64("problem_id", r.submission.ProblemID),
		)
	}
	return nil
}

// fail applies the failure policy: retry while attempts remain, otherwise record SystemError.
func (s *Service) fail(ctx context.Context, r *run, cause error) error {
	if errors.Is(cause, repository.ErrResultConflict) {
		logger.Warn(ctx, "result already recorded by another worker, stopping",
			zap.String("submission_id", r.submission.ID))
		return nil
	}

	retryable := appErr.IsRetryable(cause)
	if retryable && !r.job.Final() {
		logger.Warn(ctx, "judge attempt failed, will retry",
			zap.String("submission_id", r.submission.ID),
			zap.Int("attempt", r.job.Attempt),
			zap.Int("max_attempts", r.job.MaxAttempts),
			zap.Error(cause),
		)
		return cause
	}

	logger.Error(ctx, "judge failed, recording system error",
		zap.String("submission_id", r.submission.ID),
		zap.Int("attempt", r.job.Attempt),
		zap.Bool("retryable", retryable),
		zap.Error(cause),
	)
	if r.machine != nil && r.machine.Done() {
		// Every result is recorded; only the verdict write failed.
		return s.finalize(ctx, r)
	}
	entry := model.TestCaseResult{
		Ordinal:      r.next,
		Passed:       false,
		ActualOutput: failureMessage(cause),
		Verdict:      verdict.SystemError,
	}
	if err := s.persist(ctx, func(ctx context.Context) error {
		return s.submissions.AppendResult(ctx, r.submission.ID, entry)
	}); err != nil {
		if errors.Is(err, repository.ErrResultConflict) {
			return nil
		}
		logger.Error(ctx, "record failure entry failed", zap.String("submission_id", r.submission.ID), zap.Error(err))
	}
	if r.machine == nil {
		r.machine = verdict.NewMachine(0)
	}
	r.machine.Fail()
	if err := s.finalize(ctx, r); err != nil {
		logger.Error(ctx, "record system error failed", zap.String("submission_id", r.submission.ID), zap.Error(err))
		return err
	}
	if retryable {
		// Hand the error back so the queue dead-letters the job with it.
		return cause
	}
	return nil
}

func (s *Service) persist(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.persistTimeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	defer cancel()
	return fn(ctx)
}

func (r *run) track(result model.TestCaseResult) {
	if r.maxTimeMs == nil || result.ExecutionTimeMs > *r.maxTimeMs {
		v := result.ExecutionTimeMs
		r.maxTimeMs = &v
	}
	if result.MemoryKB != nil && (r.maxMemory == nil || *result.MemoryKB > *r.maxMemory) {
		v := *result.MemoryKB
		r.maxMemory = &v
	}
}

func evaluate(ordinal int, tc model.TestCase, outcome sandbox.Outcome, problem *model.Problem) (model.TestCaseResult, verdict.CaseResult) {
	result := model.TestCaseResult{
		Ordinal:         ordinal,
		Input:           tc.Input,
		ExpectedOutput:  tc.ExpectedOutput,
		ExecutionTimeMs: outcome.ElapsedMs,
		MemoryKB:        outcome.MemoryKB,
	}
	overMemory := problem.MemoryLimitKB > 0 && outcome.MemoryKB != nil && *outcome.MemoryKB > problem.MemoryLimitKB

	switch outcome.Kind {
	case sandbox.OutcomeCompileFailure:
		result.ActualOutput = outcome.Diagnostic
		result.ExecutionTimeMs = 0
		result.MemoryKB = nil
		return result, verdict.CaseCompileError
	case sandbox.OutcomeTimeout:
		result.ActualOutput = fmt.Sprintf("time limit exceeded after %dms", outcome.ElapsedMs)
		return result, verdict.CaseTimeout
	case sandbox.OutcomeRuntimeFailure:
		result.ActualOutput = outcome.Message
		if overMemory {
			return result, verdict.CaseMemoryExceeded
		}
		return result, verdict.CaseRuntimeError
	default:
		result.ActualOutput = outcome.Stdout
		if overMemory {
			return result, verdict.CaseMemoryExceeded
		}
		if !verdict.OutputMatches(outcome.Stdout, tc.ExpectedOutput) {
			return result, verdict.CaseWrongAnswer
		}
		result.Passed = true
		return result, verdict.CasePassed
	}
}

func failureMessage(err error) string {
	var e *appErr.Error
	if errors.As(err, &e) && e.Message != "" {
		if e.Err != nil {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}
	return err.Error()
}
