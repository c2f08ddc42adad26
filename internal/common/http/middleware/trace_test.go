package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	commonmw "judgecore/internal/common/http/middleware"
	"judgecore/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

type traceResponse struct {
	TraceID      string `json:"trace_id"`
	CtxTraceID   string `json:"ctx_trace_id"`
	CtxRequestID string `json:"ctx_request_id"`
	CtxUserID    string `json:"ctx_user_id"`
}

func TestTraceContextMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(commonmw.TraceContextMiddleware(), commonmw.RequestLogger())
	router.GET("/trace", func(c *gin.Context) {
		traceID, _ := c.Get("trace_id")
		ctx := c.Request.Context()
		c.JSON(http.StatusOK, traceResponse{
			TraceID:      toString(traceID),
			CtxTraceID:   toString(ctx.Value(contextkey.TraceID)),
			CtxRequestID: toString(ctx.Value(contextkey.RequestID)),
			CtxUserID:    toString(ctx.Value(contextkey.UserID)),
		})
	})

	cases := []struct {
		name            string
		headers         map[string]string
		expectedTraceID string
		expectedUserID  string
	}{
		{name: "generate ids"},
		{
			name: "preserve trace and user id",
			headers: map[string]string{
				"X-Trace-Id": "trace-123",
				"X-User-Id":  "42",
			},
			expectedTraceID: "trace-123",
			expectedUserID:  "42",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/trace", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			var resp traceResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.TraceID == "" || resp.TraceID != resp.CtxTraceID {
				t.Fatalf("trace id mismatch: %+v", resp)
			}
			if resp.CtxRequestID == "" {
				t.Fatalf("request id missing from context")
			}
			if tc.expectedTraceID != "" && resp.TraceID != tc.expectedTraceID {
				t.Fatalf("trace id = %s, want %s", resp.TraceID, tc.expectedTraceID)
			}
			if resp.CtxUserID != tc.expectedUserID {
				t.Fatalf("user id = %q, want %q", resp.CtxUserID, tc.expectedUserID)
			}
			if rec.Header().Get("X-Trace-Id") != resp.TraceID {
				t.Fatalf("trace header not echoed")
			}
		})
	}
}

func toString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
