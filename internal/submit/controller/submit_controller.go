package controller

import (
	"strconv"
	"strings"
	"time"

	"judgecore/internal/judge/model"
	"judgecore/internal/submit/service"
	"judgecore/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// SubmitController handles submission HTTP endpoints.
type SubmitController struct {
	submitService *service.SubmitService
}

// NewSubmitController creates a new SubmitController.
func NewSubmitController(submitService *service.SubmitService) *SubmitController {
	return &SubmitController{submitService: submitService}
}

// Create handles submission requests.
func (h *SubmitController) Create(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	submission, err := h.submitService.Submit(c.Request.Context(), service.SubmitInput{
		ProblemID:      req.ProblemID,
		UserID:         req.UserID,
		Language:       req.Language,
		SourceCode:     req.SourceCode,
		IdempotencyKey: strings.TrimSpace(c.GetHeader("Idempotency-Key")),
		ClientIP:       c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Accepted(c, SubmitResponse{
		SubmissionID: submission.ID,
		Verdict:      string(submission.Verdict),
		CreatedAt:    submission.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// Get returns one submission with its results.
func (h *SubmitController) Get(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	submission, err := h.submitService.GetSubmission(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, newSubmissionResponse(submission))
}

// Score returns a user's solved-problem count.
func (h *SubmitController) Score(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || userID <= 0 {
		response.BadRequest(c, "Invalid user id")
		return
	}
	score, err := h.submitService.GetScore(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, ScoreResponse{UserID: userID, Score: score})
}

// SubmitRequest defines submission payload.
type SubmitRequest struct {
	ProblemID  int64  `json:"problem_id" binding:"required"`
	UserID     int64  `json:"user_id" binding:"required"`
	Language   string `json:"language" binding:"required"`
	SourceCode string `json:"source_code" binding:"required"`
}

// SubmitResponse defines submission response payload.
type SubmitResponse struct {
	SubmissionID string `json:"submission_id"`
	Verdict      string `json:"verdict"`
	CreatedAt    string `json:"created_at"`
}

// SubmissionResponse is the status view of a submission.
type SubmissionResponse struct {
	SubmissionID    string                 `json:"submission_id"`
	ProblemID       int64                  `json:"problem_id"`
	UserID          int64                  `json:"user_id"`
	Language        string                 `json:"language"`
	Verdict         string                 `json:"verdict"`
	Passed          int                    `json:"passed"`
	ExecutionTimeMs *int64                 `json:"execution_time_ms,omitempty"`
	MemoryUsedKB    *int64                 `json:"memory_used_kb,omitempty"`
	Results         []model.TestCaseResult `json:"results"`
	CreatedAt       string                 `json:"created_at"`
	UpdatedAt       string                 `json:"updated_at"`
}

// ScoreResponse defines score query payload.
type ScoreResponse struct {
	UserID int64 `json:"user_id"`
	Score  int64 `json:"score"`
}

func newSubmissionResponse(s *model.Submission) SubmissionResponse {
	results := s.Results
	if results == nil {
		results = []model.TestCaseResult{}
	}
	return SubmissionResponse{
		SubmissionID:    s.ID,
		ProblemID:       s.ProblemID,
		UserID:          s.AuthorID,
		Language:        string(s.Language),
		Verdict:         string(s.Verdict),
		Passed:          s.PassedCount(),
		ExecutionTimeMs: s.ExecutionTimeMs,
		MemoryUsedKB:    s.MemoryUsedKB,
		Results:         results,
		CreatedAt:       s.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       s.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
