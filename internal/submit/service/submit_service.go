package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"judgecore/internal/common/cache"
	"judgecore/internal/judge/model"
	"judgecore/internal/judge/repository"
	"judgecore/internal/judge/sandbox"
	"judgecore/internal/judge/verdict"
	appErr "judgecore/pkg/errors"
	"judgecore/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	idempotencyKeyPrefix  = "submit:idempotency:"
	rateUserKeyPrefix     = "submit:rate:user:"
	rateIPKeyPrefix       = "submit:rate:ip:"
	processingMarker      = "processing"
	defaultIdempotencyTTL = 10 * time.Minute
	defaultMaxCodeBytes   = 64 << 10
)

// SourceSaver archives source code and returns its object key.
type SourceSaver interface {
	Save(ctx context.Context, submissionID, source string) (string, error)
}

// Enqueuer hands a submission to the judge queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, submissionID string) error
}

// RateLimitConfig holds throttling configuration.
type RateLimitConfig struct {
	UserMax int           `yaml:"userMax"`
	IPMax   int           `yaml:"ipMax"`
	Window  time.Duration `yaml:"window"`
}

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	DB      time.Duration `yaml:"db"`
	Cache   time.Duration `yaml:"cache"`
	MQ      time.Duration `yaml:"mq"`
	Storage time.Duration `yaml:"storage"`
}

// Settings are the tunables of the intake path.
type Settings struct {
	MaxCodeBytes   int             `yaml:"maxCodeBytes"`
	IdempotencyTTL time.Duration   `yaml:"idempotencyTTL"`
	RateLimit      RateLimitConfig `yaml:"rateLimit"`
	Timeouts       TimeoutConfig   `yaml:"timeouts"`

	// Languages limits accepted languages; empty accepts every known language.
	Languages []sandbox.Language `yaml:"languages"`
}

// Config holds submit service dependencies and settings.
type Config struct {
	Submissions repository.SubmissionRepository
	Problems    repository.ProblemRepository
	Scores      repository.ScoreRepository
	Queue       Enqueuer
	// Sources is optional; without it source code is stored inline.
	Sources SourceSaver
	// Cache is optional; without it rate limiting and idempotency are off.
	Cache cache.Cache

	Settings
}

// SubmitService handles submission intake and dispatch.
type SubmitService struct {
	submissions repository.SubmissionRepository
	problems    repository.ProblemRepository
	scores      repository.ScoreRepository
	queue       Enqueuer
	sources     SourceSaver
	cache       cache.Cache
	languages   map[sandbox.Language]struct{}

	maxCodeBytes   int
	idempotencyTTL time.Duration
	rateLimit      RateLimitConfig
	timeouts       TimeoutConfig
}

// SubmitInput describes a submission request.
type SubmitInput struct {
	ProblemID      int64
	UserID         int64
	Language       string
	SourceCode     string
	IdempotencyKey string
	ClientIP       string
}

// NewSubmitService creates a new submit service.
func NewSubmitService(cfg Config) (*SubmitService, error) {
	if cfg.Submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem repository is required")
	}
	if cfg.Scores == nil {
		return nil, fmt.Errorf("score repository is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("judge queue is required")
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = defaultIdempotencyTTL
	}
	var languages map[sandbox.Language]struct{}
	if len(cfg.Languages) > 0 {
		languages = make(map[sandbox.Language]struct{}, len(cfg.Languages))
		for _, lang := range cfg.Languages {
			languages[lang] = struct{}{}
		}
	}
	return &SubmitService{
		submissions:    cfg.Submissions,
		problems:       cfg.Problems,
		scores:         cfg.Scores,
		queue:          cfg.Queue,
		sources:        cfg.Sources,
		cache:          cfg.Cache,
		languages:      languages,
		maxCodeBytes:   cfg.MaxCodeBytes,
		idempotencyTTL: cfg.IdempotencyTTL,
		rateLimit:      cfg.RateLimit,
		timeouts:       cfg.Timeouts,
	}, nil
}

// Submit creates a Pending submission and enqueues it for judging.
// A repeated idempotency key returns the submission created by the first request.
func (s *SubmitService) Submit(ctx context.Context, input SubmitInput) (*model.Submission, error) {
	lang, err := s.validateInput(input)
	if err != nil {
		return nil, err
	}
	if err := s.checkProblem(ctx, input.ProblemID); err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(ctx, input.UserID, input.ClientIP); err != nil {
		return nil, err
	}

	acquired, existingID, err := s.acquireIdempotency(ctx, input.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if !acquired && existingID != "" {
		logger.Info(ctx, "duplicate submission request", zap.String("submission_id", existingID))
		return s.GetSubmission(ctx, existingID)
	}

	submission := &model.Submission{
		ID:         uuid.NewString(),
		ProblemID:  input.ProblemID,
		AuthorID:   input.UserID,
		Language:   lang,
		SourceCode: input.SourceCode,
		Verdict:    verdict.Pending,
		CreatedAt:  time.Now().UTC(),
	}

	if s.sources != nil {
		key, err := s.uploadSource(ctx, submission.ID, input.SourceCode)
		if err != nil {
			s.releaseIdempotency(ctx, input.IdempotencyKey, acquired)
			return nil, err
		}
		submission.SourceKey = key
		submission.SourceCode = ""
	}

	if err := s.createSubmission(ctx, submission); err != nil {
		s.releaseIdempotency(ctx, input.IdempotencyKey, acquired)
		return nil, err
	}

	// The Pending row exists before the job, so a worker never sees an unknown id.
	if err := s.enqueue(ctx, submission.ID); err != nil {
		s.releaseIdempotency(ctx, input.IdempotencyKey, acquired)
		return nil, err
	}

	s.finalizeIdempotency(ctx, input.IdempotencyKey, submission.ID, acquired)
	logger.Info(ctx, "submission accepted",
		zap.String("submission_id", submission.ID),
		zap.Int64("problem_id", submission.ProblemID),
		zap.String("language", string(submission.Language)),
	)
	return submission, nil
}

// GetSubmission returns the persisted submission with its results.
func (s *SubmitService) GetSubmission(ctx context.Context, submissionID string) (*model.Submission, error) {
	if strings.TrimSpace(submissionID) == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	submission, err := s.submissions.Get(ctxDB.ctx, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, appErr.New(appErr.SubmissionNotFound)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}
	return submission, nil
}

// GetScore returns how many distinct problems the user has solved.
func (s *SubmitService) GetScore(ctx context.Context, userID int64) (int64, error) {
	if userID <= 0 {
		return 0, appErr.ValidationError("user_id", "required")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	score, err := s.scores.GetScore(ctxDB.ctx, userID)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.DatabaseError, "get score failed")
	}
	return score, nil
}

func (s *SubmitService) validateInput(input SubmitInput) (sandbox.Language, error) {
	if input.ProblemID <= 0 {
		return "", appErr.ValidationError("problem_id", "required")
	}
	if input.UserID <= 0 {
		return "", appErr.ValidationError("user_id", "required")
	}
	if strings.TrimSpace(input.Language) == "" {
		return "", appErr.ValidationError("language", "required")
	}
	if strings.TrimSpace(input.SourceCode) == "" {
		return "", appErr.ValidationError("source_code", "required")
	}
	if len(input.SourceCode) > s.maxCodeBytes {
		return "", appErr.New(appErr.CodeTooLarge).WithMessagef("source code exceeds %d bytes", s.maxCodeBytes)
	}
	lang, ok := sandbox.ParseLanguage(input.Language)
	if !ok {
		return "", appErr.New(appErr.LanguageNotSupported).WithDetail("language", input.Language)
	}
	if s.languages != nil {
		if _, ok := s.languages[lang]; !ok {
			return "", appErr.New(appErr.LanguageNotSupported).WithDetail("language", input.Language)
		}
	}
	return lang, nil
}

func (s *SubmitService) checkProblem(ctx context.Context, problemID int64) error {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if _, err := s.problems.GetProblem(ctxDB.ctx, problemID); err != nil {
		if errors.Is(err, repository.ErrProblemNotFound) {
			return appErr.New(appErr.ProblemNotFound)
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "get problem failed")
	}
	return nil
}

func (s *SubmitService) acquireIdempotency(ctx context.Context, key string) (bool, string, error) {
	key = strings.TrimSpace(key)
	if key == "" || s.cache == nil {
		return true, "", nil
	}
	cacheKey := idempotencyKeyPrefix + key
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()

	existing, err := s.cache.Get(ctxCache.ctx, cacheKey)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "read idempotency key failed")
	}
	if existing != "" && existing != processingMarker {
		return false, existing, nil
	}

	ok, err := s.cache.SetNX(ctxCache.ctx, cacheKey, processingMarker, s.idempotencyTTL)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "reserve idempotency key failed")
	}
	if ok {
		return true, "", nil
	}
	existing, err = s.cache.Get(ctxCache.ctx, cacheKey)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "read idempotency key failed")
	}
	if existing != "" && existing != processingMarker {
		return false, existing, nil
	}
	return false, "", appErr.New(appErr.TooManyRequests).WithMessage("request is processing")
}

func (s *SubmitService) finalizeIdempotency(ctx context.Context, key, submissionID string, acquired bool) {
	if !acquired || s.cache == nil || strings.TrimSpace(key) == "" {
		return
	}
	cacheKey := idempotencyKeyPrefix + strings.TrimSpace(key)
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.cache.Set(ctxCache.ctx, cacheKey, submissionID, s.idempotencyTTL); err != nil {
		logger.Warn(ctx, "update idempotency key failed", zap.Error(err))
	}
}

func (s *SubmitService) releaseIdempotency(ctx context.Context, key string, acquired bool) {
	if !acquired || s.cache == nil || strings.TrimSpace(key) == "" {
		return
	}
	cacheKey := idempotencyKeyPrefix + strings.TrimSpace(key)
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.cache.Del(ctxCache.ctx, cacheKey); err != nil {
		logger.Warn(ctx, "release idempotency key failed", zap.Error(err))
	}
}

func (s *SubmitService) checkRateLimit(ctx context.Context, userID int64, clientIP string) error {
	if s.cache == nil || s.rateLimit.Window <= 0 || (s.rateLimit.UserMax <= 0 && s.rateLimit.IPMax <= 0) {
		return nil
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()

	if s.rateLimit.UserMax > 0 {
		if err := s.checkRateCounter(ctxCache.ctx, fmt.Sprintf("%s%d", rateUserKeyPrefix, userID), s.rateLimit.UserMax); err != nil {
			return err
		}
	}
	if s.rateLimit.IPMax > 0 && clientIP != "" {
		if err := s.checkRateCounter(ctxCache.ctx, rateIPKeyPrefix+clientIP, s.rateLimit.IPMax); err != nil {
			return err
		}
	}
	return nil
}

func (s *SubmitService) checkRateCounter(ctx context.Context, key string, max int) error {
	count, err := s.cache.IncrWindow(ctx, key, s.rateLimit.Window)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	if count > int64(max) {
		return appErr.New(appErr.SubmitTooFrequently)
	}
	return nil
}

func (s *SubmitService) uploadSource(ctx context.Context, submissionID, source string) (string, error) {
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	key, err := s.sources.Save(ctxStorage.ctx, submissionID, source)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "upload source failed")
	}
	return key, nil
}

func (s *SubmitService) createSubmission(ctx context.Context, submission *model.Submission) error {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if err := s.submissions.Create(ctxDB.ctx, submission); err != nil {
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "create submission failed")
	}
	return nil
}

func (s *SubmitService) enqueue(ctx context.Context, submissionID string) error {
	ctxMQ := withTimeout(ctx, s.timeouts.MQ)
	defer ctxMQ.cancel()
	if err := s.queue.Enqueue(ctxMQ.ctx, submissionID); err != nil {
		logger.Error(ctx, "enqueue submission failed", zap.String("submission_id", submissionID), zap.Error(err))
		if appErr.GetCode(err) == appErr.JudgeQueueFull {
			return err
		}
		return appErr.Wrapf(err, appErr.QueueError, "enqueue submission failed")
	}
	return nil
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
