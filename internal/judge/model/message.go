package model

// JudgeMessage is the queue payload for a judge job.
type JudgeMessage struct {
	SubmissionID string `json:"submission_id"`
	EnqueuedAt   int64  `json:"enqueued_at"`
}
