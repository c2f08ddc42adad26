package controller

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"judgecore/internal/judge/stream"
	"judgecore/internal/submit/service"
	"judgecore/pkg/utils/logger"
	"judgecore/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const wsWriteTimeout = 5 * time.Second

// StreamController pushes judge progress over SSE or WebSocket.
type StreamController struct {
	submitService *service.SubmitService
	streamer      *stream.Streamer
	upgrader      websocket.Upgrader
}

// NewStreamController creates a new StreamController.
func NewStreamController(submitService *service.SubmitService, streamer *stream.Streamer) *StreamController {
	return &StreamController{
		submitService: submitService,
		streamer:      streamer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Events streams results as server-sent events.
func (h *StreamController) Events(c *gin.Context) {
	submissionID := c.Param("id")
	// Reject unknown ids with a normal error body before the stream starts.
	if _, err := h.submitService.GetSubmission(c.Request.Context(), submissionID); err != nil {
		response.Error(c, err)
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.String(http.StatusInternalServerError, "streaming unsupported")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	flusher.Flush()

	sink := &sseSink{w: c.Writer, flusher: flusher}
	if err := h.streamer.Run(c.Request.Context(), submissionID, sink); err != nil {
		logger.Warn(c.Request.Context(), "event stream ended with error", zap.String("submission_id", submissionID), zap.Error(err))
	}
}

// WebSocket streams results as JSON text frames.
func (h *StreamController) WebSocket(c *gin.Context) {
	submissionID := c.Param("id")
	if _, err := h.submitService.GetSubmission(c.Request.Context(), submissionID); err != nil {
		response.Error(c, err)
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	// Reads only detect the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sink := &wsSink{conn: conn}
	if err := h.streamer.Run(ctx, submissionID, sink); err != nil {
		logger.Warn(ctx, "websocket stream ended with error", zap.String("submission_id", submissionID), zap.Error(err))
	}
	deadline := time.Now().Add(wsWriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

type sseSink struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

func (s *sseSink) Send(event stream.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.write("data: " + string(body) + "\n\n")
}

func (s *sseSink) Keepalive() error {
	return s.write(": keep-alive\n\n")
}

func (s *sseSink) write(data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(event stream.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(event)
}

func (s *wsSink) Keepalive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}
