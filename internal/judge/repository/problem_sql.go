package repository

import (
	"context"

	"judgecore/internal/common/db"
	"judgecore/internal/judge/model"
)

// SQLProblemRepository reads problems and test cases owned by the problem service.
type SQLProblemRepository struct {
	db db.Database
}

func NewSQLProblemRepository(database db.Database) *SQLProblemRepository {
	return &SQLProblemRepository{db: database}
}

func (r *SQLProblemRepository) GetProblem(ctx context.Context, problemID int64) (*model.Problem, error) {
	problem := &model.Problem{}
	err := r.db.QueryRow(ctx,
		"SELECT id, title, time_limit_ms, memory_limit_kb, points FROM problems WHERE id = ? LIMIT 1", problemID,
	).Scan(&problem.ID, &problem.Title, &problem.TimeLimitMs, &problem.MemoryLimitKB, &problem.Points)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrProblemNotFound
		}
		return nil, err
	}
	return problem, nil
}

func (r *SQLProblemRepository) ListTestCases(ctx context.Context, problemID int64) ([]model.TestCase, error) {
	rows, err := r.db.Query(ctx,
		"SELECT problem_id, ordinal, input, expected_output FROM test_cases WHERE problem_id = ? ORDER BY ordinal", problemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cases := make([]model.TestCase, 0)
	for rows.Next() {
		var tc model.TestCase
		if err := rows.Scan(&tc.ProblemID, &tc.Ordinal, &tc.Input, &tc.ExpectedOutput); err != nil {
			return nil, err
		}
		cases = append(cases, tc)
	}
	return cases, rows.Err()
}
