package controller_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"judgecore/internal/common/mq"
	"judgecore/internal/judge/model"
	"judgecore/internal/judge/queue"
	"judgecore/internal/judge/repository"
	"judgecore/internal/judge/sandbox"
	"judgecore/internal/judge/stream"
	"judgecore/internal/judge/verdict"
	"judgecore/internal/submit/controller"
	"judgecore/internal/submit/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type envelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

func newServer(t *testing.T, deps map[string]controller.Pinger) (*httptest.Server, *repository.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repository.NewMemoryStore()
	store.PutProblem(model.Problem{ID: 1, Title: "A+B", TimeLimitMs: 1000}, []model.TestCase{
		{ProblemID: 1, Ordinal: 0, Input: "2 3", ExpectedOutput: "5"},
		{ProblemID: 1, Ordinal: 1, Input: "1 1", ExpectedOutput: "2"},
	})
	broker := mq.NewMemoryQueue()
	t.Cleanup(func() { _ = broker.Close() })
	svc, err := service.NewSubmitService(service.Config{
		Submissions: store,
		Problems:    store,
		Scores:      store,
		Queue:       queue.New(broker, queue.Config{}),
	})
	if err != nil {
		t.Fatalf("NewSubmitService: %v", err)
	}
	streamer := stream.NewStreamer(store, store, stream.Config{PollInterval: 5 * time.Millisecond, KeepaliveInterval: time.Hour})

	router := gin.New()
	controller.RegisterRoutes(router,
		controller.NewSubmitController(svc),
		controller.NewStreamController(svc, streamer),
		controller.NewHealthController(deps),
	)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, store
}

func judged(t *testing.T, store *repository.MemoryStore, id string) {
	t.Helper()
	ctx := context.Background()
	err := store.Create(ctx, &model.Submission{
		ID: id, ProblemID: 1, AuthorID: 3, Language: sandbox.LanguageC, SourceCode: "int main(){}", Verdict: verdict.Pending,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := store.AppendResult(ctx, id, model.TestCaseResult{Ordinal: i, Passed: true, Verdict: verdict.Accepted}); err != nil {
			t.Fatalf("AppendResult: %v", err)
		}
	}
	if _, err := store.Finalize(ctx, id, repository.Finalization{Verdict: verdict.Accepted, Points: 10}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
}

func decode(t *testing.T, resp *http.Response, into interface{}) envelope {
	t.Helper()
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if into != nil {
		if err := json.Unmarshal(env.Data, into); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return env
}

func TestCreateAndGetSubmission(t *testing.T) {
	srv, _ := newServer(t, nil)

	body := `{"problem_id":1,"user_id":3,"language":"cpp","source_code":"int main(){return 0;}"}`
	resp, err := http.Post(srv.URL+"/api/v1/submissions", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var created controller.SubmitResponse
	decode(t, resp, &created)
	if created.SubmissionID == "" || created.Verdict != string(verdict.Pending) {
		t.Fatalf("created = %+v", created)
	}

	resp, err = http.Get(srv.URL + "/api/v1/submissions/" + created.SubmissionID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var view controller.SubmissionResponse
	decode(t, resp, &view)
	if view.Language != "cpp" || view.Verdict != string(verdict.Pending) || len(view.Results) != 0 {
		t.Fatalf("view = %+v", view)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	srv, _ := newServer(t, nil)
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "malformed", body: `{`, status: http.StatusBadRequest},
		{name: "unsupported language", body: `{"problem_id":1,"user_id":3,"language":"cobol","source_code":"x"}`, status: http.StatusBadRequest},
		{name: "unknown problem", body: `{"problem_id":9,"user_id":3,"language":"c","source_code":"x"}`, status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/v1/submissions", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestGetUnknownSubmission(t *testing.T) {
	srv, _ := newServer(t, nil)
	for _, path := range []string{"/api/v1/submissions/nope", "/api/v1/submissions/nope/stream"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("GET %s status = %d", path, resp.StatusCode)
		}
	}
}

func TestScore(t *testing.T) {
	srv, store := newServer(t, nil)
	judged(t, store, "s1")

	resp, err := http.Get(srv.URL + "/api/v1/users/3/score")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var score controller.ScoreResponse
	decode(t, resp, &score)
	if score.UserID != 3 || score.Score != 10 {
		t.Fatalf("score = %+v", score)
	}

	resp, err = http.Get(srv.URL + "/api/v1/users/abc/score")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestEventStream(t *testing.T) {
	srv, store := newServer(t, nil)
	judged(t, store, "s1")

	resp, err := http.Get(srv.URL + "/api/v1/submissions/s1/stream")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	var events []stream.Event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev stream.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("decode event %q: %v", line, err)
		}
		events = append(events, ev)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	if events[0].Type != stream.EventResult || events[1].Type != stream.EventResult {
		t.Fatalf("events = %+v", events)
	}
	summary := events[2].Summary
	if summary == nil || summary.Verdict != verdict.Accepted || summary.Total != 2 || summary.Passed != 2 {
		t.Fatalf("summary = %+v", events[2])
	}
}

func TestWebSocketStream(t *testing.T) {
	srv, store := newServer(t, nil)
	judged(t, store, "s1")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/submissions/s1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	var types []stream.EventType
	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var ev stream.Event
		if err := conn.ReadJSON(&ev); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				break
			}
			t.Fatalf("ReadJSON: %v", err)
		}
		types = append(types, ev.Type)
	}
	want := []stream.EventType{stream.EventResult, stream.EventResult, stream.EventSummary}
	if len(types) != len(want) {
		t.Fatalf("event types = %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event types = %v", types)
		}
	}
}

func TestHealth(t *testing.T) {
	healthy := pingerFunc(func(context.Context) error { return nil })
	broken := pingerFunc(func(context.Context) error { return errors.New("down") })

	srv, _ := newServer(t, map[string]controller.Pinger{"db": healthy})
	for path, want := range map[string]int{"/healthz": http.StatusOK, "/readyz": http.StatusOK} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("GET %s status = %d", path, resp.StatusCode)
		}
	}

	srv, _ = newServer(t, map[string]controller.Pinger{"db": healthy, "redis": broken})
	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	if resp.StatusCode != http.StatusServiceUnavailable || !strings.Contains(buf.String(), "redis") {
		t.Fatalf("readyz = %d %s", resp.StatusCode, buf.String())
	}
}
