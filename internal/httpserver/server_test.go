package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Muchemi254/ai-mock-interviewer/internal/config"
	"github.com/Muchemi254/ai-mock-interviewer/internal/decision"
	"github.com/Muchemi254/ai-mock-interviewer/internal/session"
	"github.com/Muchemi254/ai-mock-interviewer/internal/speech"
)

func testConfig() config.Config {
	return config.Config{
		HTTPAddress:       ":0",
		TTSEngine:         "elevenlabs",
		InterviewDeadline: time.Minute,
		ItemTarget:        5 * time.Second,
		ItemMax:           10 * time.Second,
		ItemWeight:        1,
		CoverageThreshold: 0.6,
		MaxFollowUps:      1,
		MinFollowUpCost:   time.Second,
		SynthTimeout:      5 * time.Second,
		ScoreTimeout:      time.Second,
		SilenceWindow:     time.Second,
	}
}

// fakeSpeech answers a scripted sequence and mirrors every spoken utterance
// as one binary frame to the sink. With turns set, each answer is released
// only after the client side signals a turn (fed audio or an explicit
// cutoff), so a scripted interview can never outrun the WebSocket client.
type fakeSpeech struct {
	mu      sync.Mutex
	sink    speech.Sink
	answers []string
	spoken  []string
	turns   chan struct{}
}

func (f *fakeSpeech) Connect() error { return nil }
func (f *fakeSpeech) Close() error   { return nil }

func (f *fakeSpeech) Speak(_ context.Context, text string) error {
	f.mu.Lock()
	f.spoken = append(f.spoken, text)
	f.mu.Unlock()
	f.sink.WritePCM([]byte{0, 0, 0, 0})
	return nil
}

func (f *fakeSpeech) Listen(ctx context.Context, _ time.Duration) (string, error) {
	if f.turns != nil {
		select {
		case <-f.turns:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	if len(f.answers) > 0 {
		a := f.answers[0]
		f.answers = f.answers[1:]
		f.mu.Unlock()
		return a, nil
	}
	f.mu.Unlock()
	// Out of scripted answers: hold the line until the session lets go.
	<-ctx.Done()
	return "", ctx.Err()
}

func (f *fakeSpeech) signalTurn() {
	if f.turns == nil {
		return
	}
	select {
	case f.turns <- struct{}{}:
	default:
	}
}

func (f *fakeSpeech) FeedPCM16KLE([]byte) error { f.signalTurn(); return nil }
func (f *fakeSpeech) Cutoff()                   { f.signalTurn() }

type memPublisher struct {
	mu        sync.Mutex
	summaries []session.Summary
}

func (p *memPublisher) PublishExchange(context.Context, string, session.Exchange) error { return nil }

func (p *memPublisher) PublishSummary(_ context.Context, s session.Summary) error {
	p.mu.Lock()
	p.summaries = append(p.summaries, s)
	p.mu.Unlock()
	return nil
}

func (p *memPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.summaries)
}

func newTestServer(answers []string) (*Server, *memPublisher) {
	return newServerWith(answers, false)
}

// newServerWith builds the test server; gated makes the fake listener wait
// for a client turn signal before each scripted answer.
func newServerWith(answers []string, gated bool) (*Server, *memPublisher) {
	pub := &memPublisher{}
	srv := New(testConfig(), Deps{
		Publisher: pub,
		Scorer:    decision.KeywordScorer{},
		NewSpeech: func(sink speech.Sink) Speech {
			f := &fakeSpeech{sink: sink, answers: append([]string(nil), answers...)}
			if gated {
				f.turns = make(chan struct{}, 4)
			}
			return f
		},
	})
	return srv, pub
}

func postJSON(srv *Server, path, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	return w
}

const twoItemBody = `{
	"candidate_id": "cand-1",
	"job_id": "job-1",
	"items": [
		{"id": "q1", "topic": "technical", "question": "Tell me about a system you scaled."},
		{"id": "q2", "topic": "behavioral", "question": "Describe a conflict you resolved."}
	]
}`

func createSession(t *testing.T, srv *Server) string {
	t.Helper()
	w := postJSON(srv, "/sessions", twoItemBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp createResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatalf("expected a session id")
	}
	return resp.SessionID
}

func TestServer_Healthz(t *testing.T) {
	srv, _ := newTestServer(nil)
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCreateSession_BadJSON(t *testing.T) {
	srv, _ := newTestServer(nil)
	if w := postJSON(srv, "/sessions", "not-json"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreateSession_MissingIdentifiers(t *testing.T) {
	srv, _ := newTestServer(nil)
	if w := postJSON(srv, "/sessions", `{"candidate_id":"c"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreateSession_NoItemsNoMatcher(t *testing.T) {
	srv, _ := newTestServer(nil)
	w := postJSON(srv, "/sessions", `{"candidate_id":"c","job_id":"j"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestCreateSession_InvalidPlan(t *testing.T) {
	srv, _ := newTestServer(nil)
	body := `{"candidate_id":"c","job_id":"j","items":[{"id":"q1","topic":"technical","question":""}]}`
	if w := postJSON(srv, "/sessions", body); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}

func TestCreateSession_InvalidDeadline(t *testing.T) {
	srv, _ := newTestServer(nil)
	body := `{"candidate_id":"c","job_id":"j","deadline":"soon","items":[{"question":"Q?"}]}`
	if w := postJSON(srv, "/sessions", body); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	srv, _ := newTestServer(nil)
	r := httptest.NewRequest(http.MethodGet, "/sessions/nope", nil)
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAbortSession_NotFound(t *testing.T) {
	srv, _ := newTestServer(nil)
	if w := postJSON(srv, "/sessions/nope/abort", `{}`); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestCreateGetAbortLifecycle(t *testing.T) {
	srv, pub := newTestServer(nil)
	id := createSession(t, srv)

	r := httptest.NewRequest(http.MethodGet, "/sessions/"+id, nil)
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var sum session.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.Phase != session.PhaseCreated {
		t.Fatalf("expected created phase, got %s", sum.Phase)
	}

	if w := postJSON(srv, "/sessions/"+id+"/abort", `{"reason":"no_show"}`); w.Code != http.StatusOK {
		t.Fatalf("expected 200 on abort, got %d", w.Code)
	}

	w2 := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/sessions/"+id, nil))
	if err := json.Unmarshal(w2.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.Phase != session.PhaseAborted || sum.AbortReason != "no_show" {
		t.Fatalf("expected aborted/no_show, got %s/%s", sum.Phase, sum.AbortReason)
	}
	if pub.count() != 1 {
		t.Fatalf("expected 1 published summary, got %d", pub.count())
	}
}

func TestStream_UnknownSession(t *testing.T) {
	srv, _ := newTestServer(nil)
	ts := httptest.NewServer(srv.Echo)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/sessions/nope/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		conn.Close()
		t.Fatalf("expected handshake failure for unknown session")
	}
}

func TestStream_FullInterview(t *testing.T) {
	srv, pub := newServerWith([]string{
		"I sharded the database and added a cache tier.",
		"I got both sides in a room and we agreed on ownership.",
	}, true)
	ts := httptest.NewServer(srv.Echo)
	defer ts.Close()

	id := createSession(t, srv)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/sessions/" + id + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close()

	var (
		questions []wsEvent
		phases    []string
		audio     int
		fed       bool
	)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		mt, data, rerr := conn.ReadMessage()
		if rerr != nil {
			break // server closes the channel when the session ends
		}
		switch mt {
		case websocket.BinaryMessage:
			audio++
		case websocket.TextMessage:
			var ev wsEvent
			if json.Unmarshal(data, &ev) != nil {
				continue
			}
			switch ev.Type {
			case "question":
				questions = append(questions, ev)
			case "phase":
				phases = append(phases, ev.Phase)
			}
			// Exercise the inbound path once the first question proves the
			// channel is live; writing before that races the fast fake
			// interview finishing and closing the connection.
			if !fed && ev.Type == "question" {
				fed = true
				if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 320)); err != nil {
					t.Fatalf("send audio: %v", err)
				}
				if err := conn.WriteJSON(wsControl{Type: "end_of_turn"}); err != nil {
					t.Fatalf("send control: %v", err)
				}
			}
		}
	}

	if len(questions) != 2 {
		t.Fatalf("expected 2 question events, got %d: %+v", len(questions), questions)
	}
	if questions[0].ItemID != "q1" || questions[1].ItemID != "q2" {
		t.Fatalf("unexpected question order: %+v", questions)
	}
	if audio == 0 {
		t.Fatalf("expected synthesized audio frames")
	}
	if len(phases) == 0 || phases[len(phases)-1] != string(session.PhaseCompleted) {
		t.Fatalf("expected final phase completed, got %v", phases)
	}

	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/"+id, nil))
	var sum session.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.Phase != session.PhaseCompleted {
		t.Fatalf("expected completed, got %s", sum.Phase)
	}
	if len(sum.Exchanges) != 2 {
		t.Fatalf("expected 2 exchanges, got %d", len(sum.Exchanges))
	}
	if pub.count() != 1 {
		t.Fatalf("expected 1 published summary, got %d", pub.count())
	}
}

func TestStream_ClientAbortControl(t *testing.T) {
	// No scripted answers: the fake listener blocks until the session's
	// call context is canceled, which only the abort does here.
	srv, _ := newTestServer(nil)
	ts := httptest.NewServer(srv.Echo)
	defer ts.Close()

	id := createSession(t, srv)
	sess := srv.deps.Registry.Get(id)
	if sess == nil {
		t.Fatalf("session not registered")
	}

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/sessions/" + id + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(wsControl{Type: "abort", Reason: "changed_mind"}); err != nil {
		t.Fatalf("send abort: %v", err)
	}

	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not terminate after abort control")
	}

	sum := sess.Summary()
	if sum.Phase != session.PhaseAborted {
		t.Fatalf("expected aborted, got %s", sum.Phase)
	}
	if sum.AbortReason != "changed_mind" {
		t.Fatalf("expected abort reason preserved, got %q", sum.AbortReason)
	}
}
