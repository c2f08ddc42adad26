package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"judgecore/internal/common/db"
	"judgecore/internal/judge/model"
	"judgecore/internal/judge/sandbox"
	"judgecore/internal/judge/verdict"
)

const submissionColumns = "id, problem_id, author_id, language, source_code, source_key, verdict, execution_time_ms, memory_used_kb, created_at, updated_at"

const resultColumns = "ordinal, passed, input, expected_output, actual_output, execution_time_ms, memory_kb, verdict, created_at"

// SQLSubmissionRepository implements SubmissionRepository and ScoreRepository over MySQL or PostgreSQL.
type SQLSubmissionRepository struct {
	db db.Database
}

// NewSQLSubmissionRepository creates a SQL-backed submission repository.
func NewSQLSubmissionRepository(database db.Database) *SQLSubmissionRepository {
	return &SQLSubmissionRepository{db: database}
}

// Create inserts a submission record.
func (r *SQLSubmissionRepository) Create(ctx context.Context, submission *model.Submission) error {
	if err := validateSubmission(submission); err != nil {
		return err
	}
	now := time.Now().UTC()
	if submission.CreatedAt.IsZero() {
		submission.CreatedAt = now
	}
	submission.UpdatedAt = now
	query := `
		INSERT INTO submissions
		(id, problem_id, author_id, language, source_code, source_key, verdict, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(ctx, query,
		submission.ID,
		submission.ProblemID,
		submission.AuthorID,
		string(submission.Language),
		submission.SourceCode,
		submission.SourceKey,
		string(submission.Verdict),
		submission.CreatedAt,
		submission.UpdatedAt,
	)
	return err
}

// Get retrieves a submission with its results.
func (r *SQLSubmissionRepository) Get(ctx context.Context, submissionID string) (*model.Submission, error) {
	if submissionID == "" {
		return nil, errors.New("submissionID is required")
	}
	query := "SELECT " + submissionColumns + " FROM submissions WHERE id = ? LIMIT 1"
	row := r.db.QueryRow(ctx, query, submissionID)
	submission := &model.Submission{}
	var (
		language, verdictValue string
		sourceCode, sourceKey  sql.NullString
		execTime, memory       sql.NullInt64
	)
	if err := row.Scan(
		&submission.ID,
		&submission.ProblemID,
		&submission.AuthorID,
		&language,
		&sourceCode,
		&sourceKey,
		&verdictValue,
		&execTime,
		&memory,
		&submission.CreatedAt,
		&submission.UpdatedAt,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	submission.Language = sandbox.Language(language)
	submission.SourceCode = sourceCode.String
	submission.SourceKey = sourceKey.String
	submission.Verdict = verdict.Verdict(verdictValue)
	submission.ExecutionTimeMs = nullInt(execTime)
	submission.MemoryUsedKB = nullInt(memory)

	results, err := r.listResults(ctx, r.db, submissionID)
	if err != nil {
		return nil, err
	}
	submission.Results = results
	return submission, nil
}

// Snapshot reads the verdict before the results. Results are committed before the
// verdict turns terminal, so a terminal verdict read here is followed by a complete list.
func (r *SQLSubmissionRepository) Snapshot(ctx context.Context, submissionID string) (model.Snapshot, error) {
	var verdictValue string
	err := r.db.QueryRow(ctx, "SELECT verdict FROM submissions WHERE id = ? LIMIT 1", submissionID).Scan(&verdictValue)
	if err != nil {
		if db.IsNoRows(err) {
			return model.Snapshot{}, ErrSubmissionNotFound
		}
		return model.Snapshot{}, err
	}
	results, err := r.listResults(ctx, r.db, submissionID)
	if err != nil {
		return model.Snapshot{}, err
	}
	return model.Snapshot{
		SubmissionID: submissionID,
		Verdict:      verdict.Verdict(verdictValue),
		Results:      results,
	}, nil
}

func (r *SQLSubmissionRepository) listResults(ctx context.Context, q db.Querier, submissionID string) ([]model.TestCaseResult, error) {
	rows, err := q.Query(ctx, "SELECT "+resultColumns+" FROM submission_results WHERE submission_id = ? ORDER BY ordinal", submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]model.TestCaseResult, 0)
	for rows.Next() {
		var (
			res          model.TestCaseResult
			memory       sql.NullInt64
			verdictValue string
		)
		if err := rows.Scan(
			&res.Ordinal,
			&res.Passed,
			&res.Input,
			&res.ExpectedOutput,
			&res.ActualOutput,
			&res.ExecutionTimeMs,
			&memory,
			&verdictValue,
			&res.CreatedAt,
		); err != nil {
			return nil, err
		}
		res.MemoryKB = nullInt(memory)
		res.Verdict = verdict.Verdict(verdictValue)
		results = append(results, res)
	}
	return results, rows.Err()
}

// AppendResult inserts one result row keyed by (submission_id, ordinal).
func (r *SQLSubmissionRepository) AppendResult(ctx context.Context, submissionID string, result model.TestCaseResult) error {
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO submission_results
		(submission_id, ordinal, passed, input, expected_output, actual_output, execution_time_ms, memory_kb, verdict, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(ctx, query,
		submissionID,
		result.Ordinal,
		result.Passed,
		result.Input,
		result.ExpectedOutput,
		result.ActualOutput,
		result.ExecutionTimeMs,
		result.MemoryKB,
		string(result.Verdict),
		result.CreatedAt,
	)
	if err != nil {
		if _, dup := r.db.Dialect().UniqueViolation(err); dup {
			return ErrResultConflict
		}
		return err
	}
	return nil
}

// Finalize writes the terminal verdict; see SubmissionRepository.
func (r *SQLSubmissionRepository) Finalize(ctx context.Context, submissionID string, f Finalization) (FinalizeResult, error) {
	if !f.Verdict.IsTerminal() {
		return FinalizeResult{}, fmt.Errorf("%w: Pending -> %s", verdict.ErrInvalidTransition, f.Verdict)
	}
	var out FinalizeResult
	err := r.db.Transaction(ctx, func(tx db.Transaction) error {
		var authorID, problemID int64
		if err := tx.QueryRow(ctx, "SELECT author_id, problem_id FROM submissions WHERE id = ?", submissionID).
			Scan(&authorID, &problemID); err != nil {
			if db.IsNoRows(err) {
				return ErrSubmissionNotFound
			}
			return err
		}

		if f.Verdict == verdict.Accepted {
			// Serializes concurrent Accepted finalizations for the same author.
			ensure := r.db.Dialect().InsertIgnore("INSERT INTO user_scores (user_id, score) VALUES (?, 0)")
			if _, err := tx.Exec(ctx, ensure, authorID); err != nil {
				return err
			}
			var score int64
			if err := tx.QueryRow(ctx, "SELECT score FROM user_scores WHERE user_id = ? FOR UPDATE", authorID).Scan(&score); err != nil {
				return err
			}
		}

		res, err := tx.Exec(ctx, `
			UPDATE submissions
			SET verdict = ?, execution_time_ms = ?, memory_used_kb = ?, updated_at = ?
			WHERE id = ? AND verdict = ?
		`, string(f.Verdict), f.ExecutionTimeMs, f.MemoryUsedKB, time.Now().UTC(), submissionID, string(verdict.Pending))
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		out.Applied = true

		if f.Verdict != verdict.Accepted {
			return nil
		}
		var one int
		err = tx.QueryRow(ctx, `
			SELECT 1 FROM submissions
			WHERE author_id = ? AND problem_id = ? AND verdict = ? AND id <> ?
			LIMIT 1
		`, authorID, problemID, string(verdict.Accepted), submissionID).Scan(&one)
		if err == nil {
			return nil
		}
		if !db.IsNoRows(err) {
			return err
		}
		if _, err := tx.Exec(ctx, "UPDATE user_scores SET score = score + ? WHERE user_id = ?", f.Points, authorID); err != nil {
			return err
		}
		out.Awarded = true
		return nil
	})
	if err != nil {
		return FinalizeResult{}, err
	}
	return out, nil
}

// GetScore returns the author's score, zero when no row exists.
func (r *SQLSubmissionRepository) GetScore(ctx context.Context, userID int64) (int64, error) {
	var score int64
	err := r.db.QueryRow(ctx, "SELECT score FROM user_scores WHERE user_id = ?", userID).Scan(&score)
	if err != nil {
		if db.IsNoRows(err) {
			return 0, nil
		}
		return 0, err
	}
	return score, nil
}

func validateSubmission(submission *model.Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	if submission.ID == "" {
		return errors.New("submission id is required")
	}
	if submission.ProblemID <= 0 {
		return errors.New("problemID is required")
	}
	if submission.AuthorID <= 0 {
		return errors.New("authorID is required")
	}
	if submission.Language == "" {
		return errors.New("language is required")
	}
	if submission.SourceCode == "" && submission.SourceKey == "" {
		return errors.New("source is required")
	}
	if submission.Verdict != verdict.Pending {
		return fmt.Errorf("new submission must be Pending, got %s", submission.Verdict)
	}
	return nil
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
