package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"judgecore/internal/common/cache"
	"judgecore/internal/judge/model"
)

const (
	defaultProblemCacheTTL      = 10 * time.Minute
	defaultProblemCacheEmptyTTL = time.Minute
	problemCacheKeyPrefix       = "judge:problem:"
)

// CachedProblemRepository puts a cache-aside layer in front of a ProblemRepository.
type CachedProblemRepository struct {
	next     ProblemRepository
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewCachedProblemRepository wraps next; zero TTLs use defaults.
func NewCachedProblemRepository(next ProblemRepository, cacheClient cache.Cache, ttl, emptyTTL time.Duration) *CachedProblemRepository {
	if ttl <= 0 {
		ttl = defaultProblemCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultProblemCacheEmptyTTL
	}
	return &CachedProblemRepository{next: next, cache: cacheClient, ttl: ttl, emptyTTL: emptyTTL}
}

func (r *CachedProblemRepository) GetProblem(ctx context.Context, problemID int64) (*model.Problem, error) {
	problem, err := cache.GetWithCached[*model.Problem](
		ctx,
		r.cache,
		fmt.Sprintf("%s%d", problemCacheKeyPrefix, problemID),
		r.ttl,
		r.emptyTTL,
		func(p *model.Problem) bool { return p == nil },
		marshalJSON[*model.Problem],
		unmarshalJSON[*model.Problem],
		func(ctx context.Context) (*model.Problem, error) {
			p, err := r.next.GetProblem(ctx, problemID)
			if errors.Is(err, ErrProblemNotFound) {
				return nil, nil
			}
			return p, err
		},
	)
	if err != nil {
		return nil, err
	}
	if problem == nil {
		return nil, ErrProblemNotFound
	}
	return problem, nil
}

func (r *CachedProblemRepository) ListTestCases(ctx context.Context, problemID int64) ([]model.TestCase, error) {
	return cache.GetWithCached[[]model.TestCase](
		ctx,
		r.cache,
		fmt.Sprintf("%s%d:cases", problemCacheKeyPrefix, problemID),
		r.ttl,
		r.emptyTTL,
		func(cases []model.TestCase) bool { return len(cases) == 0 },
		marshalJSON[[]model.TestCase],
		unmarshalJSON[[]model.TestCase],
		func(ctx context.Context) ([]model.TestCase, error) {
			return r.next.ListTestCases(ctx, problemID)
		},
	)
}

func marshalJSON[T any](v T) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalJSON[T any](data string) (T, error) {
	var v T
	err := json.Unmarshal([]byte(data), &v)
	return v, err
}
