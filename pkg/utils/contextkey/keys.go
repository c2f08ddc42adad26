package contextkey

// key is a private type to avoid context key collisions across packages.
type key string

const (
	TraceID   key = "trace_id"
	RequestID key = "request_id"
	UserID    key = "user_id"

	// Judge-scoped keys set by the job consumer.
	SubmissionID key = "submission_id"
	Attempt      key = "attempt"
)

// LogFields lists the keys copied into every log entry, in output order.
var LogFields = []key{TraceID, RequestID, UserID, SubmissionID, Attempt}

// Name returns the field name used in logs.
func (k key) Name() string {
	return string(k)
}
