package httpserver

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Muchemi254/ai-mock-interviewer/internal/clock"
	"github.com/Muchemi254/ai-mock-interviewer/internal/config"
	"github.com/Muchemi254/ai-mock-interviewer/internal/decision"
	"github.com/Muchemi254/ai-mock-interviewer/internal/plan"
	"github.com/Muchemi254/ai-mock-interviewer/internal/session"
	"github.com/Muchemi254/ai-mock-interviewer/internal/speech"
)

// attachGrace is how long a created session waits for its candidate
// channel before it is abandoned.
const attachGrace = 2 * time.Minute

// Speech is the per-session voice channel the orchestrator drives. It is
// satisfied by *speech.Adapter.
type Speech interface {
	Connect() error
	Close() error
	Speak(ctx context.Context, text string) error
	Listen(ctx context.Context, window time.Duration) (string, error)
	FeedPCM16KLE(pcm []byte) error
	Cutoff()
}

// Deps are the server's injectable collaborators.
type Deps struct {
	Registry  *session.Registry
	Source    plan.Source // nil when no matcher endpoint is configured
	Publisher session.Publisher
	Scorer    decision.Scorer
	Clock     clock.Clock
	// NewSpeech builds the speech stack for one session, synthesized audio
	// flowing to the given sink.
	NewSpeech func(sink speech.Sink) Speech
}

// Server bundles the echo router and live session bookkeeping.
type Server struct {
	Echo *echo.Echo

	cfg  config.Config
	deps Deps

	mu   sync.Mutex
	live map[string]*liveSession
}

// liveSession tracks the plan and candidate channel for one session between
// creation and terminal phase.
type liveSession struct {
	sess     *session.Session
	plan     *plan.Plan
	bridge   *speechBridge
	port     *candidatePort
	deadline time.Duration
	started  bool
}

// New constructs the HTTP server with routes.
func New(cfg config.Config, deps Deps) *Server {
	if deps.Registry == nil {
		deps.Registry = session.NewRegistry()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Scorer == nil {
		deps.Scorer = decision.KeywordScorer{}
	}
	if deps.NewSpeech == nil {
		deps.NewSpeech = func(sink speech.Sink) Speech {
			transcriber := speech.NewStreamTranscriber(cfg.AssemblyAIKey, cfg.SilenceWindow)
			return speech.NewAdapter(newSynthesizer(cfg), transcriber, sink, speech.Options{
				SynthTimeout: cfg.SynthTimeout,
				Interrupter:  speech.NewInterrupter(),
			})
		}
	}

	s := &Server{
		cfg:  cfg,
		deps: deps,
		live: make(map[string]*liveSession),
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/sessions", s.createSession)
	e.GET("/sessions/:id", s.getSession)
	e.POST("/sessions/:id/abort", s.abortSession)
	e.GET("/sessions/:id/stream", s.streamSession)

	s.Echo = e
	return s
}

// Drain aborts every live session so candidates get a clean hangup before
// the HTTP listener stops.
func (s *Server) Drain() {
	s.deps.Registry.AbortAll("server_shutdown")
}

// newSynthesizer selects the TTS engine from config.
func newSynthesizer(cfg config.Config) speech.Synthesizer {
	if cfg.TTSEngine == "deepgram" {
		return speech.NewDeepgramSynthesizer(cfg.DeepgramKey, cfg.DeepgramModel)
	}
	return speech.NewElevenLabsSynthesizer(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID)
}

type createRequest struct {
	CandidateID string           `json:"candidate_id"`
	JobID       string           `json:"job_id"`
	Items       []createPlanItem `json:"items,omitempty"`
	Deadline    string           `json:"deadline,omitempty"`
}

type createPlanItem struct {
	ID            string  `json:"id"`
	Topic         string  `json:"topic"`
	Question      string  `json:"question"`
	Rubric        string  `json:"rubric"`
	MinSeconds    int     `json:"min_seconds"`
	TargetSeconds int     `json:"target_seconds"`
	MaxSeconds    int     `json:"max_seconds"`
	Weight        float64 `json:"weight"`
}

type createResponse struct {
	SessionID string `json:"session_id"`
}

// createSession fetches (or accepts) the question plan and registers a new
// session. The interview itself begins when the candidate channel connects.
func (s *Server) createSession(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.CandidateID == "" || req.JobID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "candidate_id and job_id are required"})
	}

	p, err := s.resolvePlan(c.Request().Context(), req)
	if err != nil {
		log.Printf("resolve plan failed: %v", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "could not obtain question plan"})
	}
	if err := p.Validate(); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	}

	deadline := s.cfg.InterviewDeadline
	if req.Deadline != "" {
		d, perr := time.ParseDuration(req.Deadline)
		if perr != nil || d <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid deadline"})
		}
		deadline = d
	}

	id := uuid.NewString()
	bridge := &speechBridge{}
	port := &candidatePort{}
	engine := decision.NewEngine(s.deps.Scorer, decision.Options{
		CoverageThreshold: s.cfg.CoverageThreshold,
		MinFollowUpCost:   s.cfg.MinFollowUpCost,
		MaxFollowUps:      s.cfg.MaxFollowUps,
		ScoreTimeout:      s.cfg.ScoreTimeout,
	})
	events := session.Events{
		OnPhase: func(p session.Phase) {
			port.sendEvent(wsEvent{Type: "phase", Phase: string(p)})
		},
		OnQuestion: func(item *plan.Item, text string, followUp bool) {
			port.sendEvent(wsEvent{Type: "question", ItemID: item.ID, Topic: item.Topic, Text: text, FollowUp: followUp})
		},
	}
	sess := session.New(id, req.CandidateID, req.JobID, s.deps.Clock, bridge, bridge, engine, s.deps.Publisher, events, session.Config{})
	if err := s.deps.Registry.Put(sess); err != nil {
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}

	ls := &liveSession{sess: sess, plan: p, bridge: bridge, port: port, deadline: deadline}
	s.mu.Lock()
	s.live[id] = ls
	s.mu.Unlock()

	// Candidates that never connect must not hold a slot forever.
	attachTimer := s.deps.Clock.AfterFunc(attachGrace, func() {
		s.mu.Lock()
		started := ls.started
		s.mu.Unlock()
		if !started {
			sess.Abort("candidate_never_connected")
		}
	})

	// Live bookkeeping is dropped once the session reaches a terminal
	// phase; the registry keeps the session for summary reads.
	go func() {
		<-sess.Done()
		attachTimer.Stop()
		s.mu.Lock()
		delete(s.live, id)
		s.mu.Unlock()
	}()

	c.Response().Header().Set(echo.HeaderLocation, "/sessions/"+id)
	return c.JSON(http.StatusCreated, createResponse{SessionID: id})
}

// resolvePlan prefers inline items and falls back to the matcher service.
func (s *Server) resolvePlan(ctx context.Context, req createRequest) (*plan.Plan, error) {
	if len(req.Items) > 0 {
		items := make([]*plan.Item, 0, len(req.Items))
		for _, it := range req.Items {
			id := it.ID
			if id == "" {
				id = uuid.NewString()
			}
			items = append(items, &plan.Item{
				ID:       id,
				Topic:    it.Topic,
				Question: it.Question,
				Rubric:   it.Rubric,
				Min:      secondsOr(it.MinSeconds, s.cfg.ItemMin),
				Target:   secondsOr(it.TargetSeconds, s.cfg.ItemTarget),
				Max:      secondsOr(it.MaxSeconds, s.cfg.ItemMax),
				Weight:   weightOr(it.Weight, s.cfg.ItemWeight),
			})
		}
		return plan.New(items), nil
	}
	if s.deps.Source == nil {
		return nil, fmt.Errorf("no inline items and no matcher configured")
	}
	return s.deps.Source.Fetch(ctx, req.CandidateID, req.JobID)
}

func secondsOr(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func weightOr(w, def float64) float64 {
	if w <= 0 {
		return def
	}
	return w
}

func (s *Server) lookup(id string) *liveSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live[id]
}

func (s *Server) getSession(c echo.Context) error {
	if sess := s.deps.Registry.Get(c.Param("id")); sess != nil {
		return c.JSON(http.StatusOK, sess.Summary())
	}
	return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
}

type abortRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) abortSession(c echo.Context) error {
	sess := s.deps.Registry.Get(c.Param("id"))
	if sess == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}
	var req abortRequest
	_ = c.Bind(&req)
	if req.Reason == "" {
		req.Reason = "operator_abort"
	}
	sess.Abort(req.Reason)
	return c.JSON(http.StatusOK, map[string]string{"status": "aborted"})
}
