package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Muchemi254/ai-mock-interviewer/internal/budget"
	"github.com/Muchemi254/ai-mock-interviewer/internal/clock"
	"github.com/Muchemi254/ai-mock-interviewer/internal/decision"
	"github.com/Muchemi254/ai-mock-interviewer/internal/plan"
	"github.com/Muchemi254/ai-mock-interviewer/internal/speech"
)

// ErrNotListening rejects a transcript delivered outside the listening
// window.
var ErrNotListening = errors.New("session is not listening")

// ErrAlreadyStarted rejects a second Start on the same session.
var ErrAlreadyStarted = errors.New("session already started")

// Config carries the orchestration options for one session.
type Config struct {
	Greeting string
	Closing  string
	// ShutdownSpeechTimeout bounds the closing statement after the global
	// deadline has already canceled in-flight calls.
	ShutdownSpeechTimeout time.Duration
}

// Session owns the canonical state of one interview and is its sole writer.
// A single goroutine drives all transitions; collaborators communicate
// through channels and cancellation.
type Session struct {
	ID          string
	CandidateID string
	JobID       string

	clk       clock.Clock
	speaker   Speaker
	listener  Listener
	decider   Decider
	publisher Publisher
	events    Events
	cfg       Config

	mu          sync.Mutex
	phase       Phase
	plan        *plan.Plan
	exchanges   []Exchange
	warnings    []Warning
	abortReason string
	startedAt   time.Time
	endedAt     time.Time
	deadline    time.Time
	budget      budget.State
	followUps   map[string]int

	calls         context.Context
	cancelCalls   context.CancelFunc
	deadlineTimer clock.Timer
	deadlineHit   atomic.Bool
	abortHit      atomic.Bool
	transcriptCh  chan string
	done          chan struct{}
	started       bool
}

// New builds a session in the Created phase.
func New(id, candidateID, jobID string, clk clock.Clock, speaker Speaker, listener Listener, decider Decider, publisher Publisher, events Events, cfg Config) *Session {
	if cfg.Greeting == "" {
		cfg.Greeting = "Welcome, and thanks for joining. Let's get started."
	}
	if cfg.Closing == "" {
		cfg.Closing = "That's all we have time for today. Thank you for your answers, we will be in touch."
	}
	if cfg.ShutdownSpeechTimeout <= 0 {
		cfg.ShutdownSpeechTimeout = 15 * time.Second
	}
	return &Session{
		ID:           id,
		CandidateID:  candidateID,
		JobID:        jobID,
		clk:          clk,
		speaker:      speaker,
		listener:     listener,
		decider:      decider,
		publisher:    publisher,
		events:       events,
		cfg:          cfg,
		phase:        PhaseCreated,
		followUps:    make(map[string]int),
		transcriptCh: make(chan string, 1),
		done:         make(chan struct{}),
	}
}

// Start validates the plan, schedules the global deadline timer and launches
// the interview loop. It fails with plan.ErrInvalidPlan on a malformed plan.
func (s *Session) Start(p *plan.Plan, deadline time.Duration) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	// An abort that raced ahead of Start still wins, even if its inline
	// finalize has not committed the terminal phase yet.
	if s.started || s.phase.Terminal() || s.abortReason != "" {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.plan = p
	s.startedAt = s.clk.Now()
	s.deadline = s.startedAt.Add(deadline)
	s.calls, s.cancelCalls = context.WithCancel(context.Background())
	s.deadlineTimer = s.clk.AfterFunc(deadline, s.OnDeadline)
	s.mu.Unlock()

	s.setPhase(PhaseGreeting)
	go s.run()
	return nil
}

// OnDeadline forces the session toward Closing. It is the single mechanism
// guaranteeing termination within the global deadline and is idempotent:
// calls after the first are no-ops.
func (s *Session) OnDeadline() {
	if !s.deadlineHit.CompareAndSwap(false, true) {
		return
	}
	log.Printf("session %s: global deadline fired", s.ID)
	s.mu.Lock()
	cancel := s.cancelCalls
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Abort moves the session to Aborted from any non-terminal phase. The first
// reason wins.
func (s *Session) Abort(reason string) {
	s.mu.Lock()
	if s.phase.Terminal() {
		s.mu.Unlock()
		return
	}
	if s.abortReason == "" {
		s.abortReason = reason
	}
	started := s.started
	cancel := s.cancelCalls
	s.mu.Unlock()

	s.abortHit.Store(true)
	log.Printf("session %s: abort requested: %s", s.ID, reason)
	if cancel != nil {
		cancel()
	}
	if !started {
		// No loop is running; finalize inline.
		s.finalize()
	}
}

// OnTranscript injects a finalized candidate utterance. It is valid only
// while the session is listening.
func (s *Session) OnTranscript(text string) error {
	s.mu.Lock()
	listening := s.phase == PhaseListening
	s.mu.Unlock()
	if !listening {
		return fmt.Errorf("%w (phase %s)", ErrNotListening, s.Phase())
	}
	select {
	case s.transcriptCh <- text:
		return nil
	default:
		return fmt.Errorf("%w: transcript already pending", ErrNotListening)
	}
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Done closes when the session reaches a terminal phase.
func (s *Session) Done() <-chan struct{} { return s.done }

// Summary snapshots the session for the API and for persistence.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryLocked()
}

func (s *Session) summaryLocked() Summary {
	sum := Summary{
		ID:          s.ID,
		CandidateID: s.CandidateID,
		JobID:       s.JobID,
		Phase:       s.phase,
		StartedAt:   s.startedAt,
		EndedAt:     s.endedAt,
		Deadline:    s.deadline,
		Exchanges:   append([]Exchange(nil), s.exchanges...),
		Warnings:    append([]Warning(nil), s.warnings...),
		AbortReason: s.abortReason,
		Budget:      s.budget,
	}
	if s.plan != nil {
		for _, it := range s.plan.Items() {
			sum.Items = append(sum.Items, it.Status)
		}
	}
	return sum
}

// stopping reports whether the deadline fired or an abort was requested.
func (s *Session) stopping() bool { return s.calls.Err() != nil }

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	if s.phase.Terminal() || s.phase == p {
		s.mu.Unlock()
		return
	}
	old := s.phase
	s.phase = p
	s.mu.Unlock()
	log.Printf("session %s: %s -> %s", s.ID, old, p)
	if s.events.OnPhase != nil {
		s.events.OnPhase(p)
	}
}

// run is the interview loop. It is the only goroutine that transitions the
// session and it always ends in exactly one terminal phase.
func (s *Session) run() {
	s.speakSafe(s.calls, s.cfg.Greeting)

	// First allocation happens before any delivery so an impossible budget
	// is resolved (by skipping) up front.
	s.reallocate()

	for !s.stopping() {
		item := s.nextItem()
		if item == nil {
			break
		}
		s.runItem(item)
	}
	s.shutdown()
}

// nextItem pulls and activates the next pending item, or returns nil when
// the plan is exhausted.
func (s *Session) nextItem() *plan.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.plan.NextPending()
	if item == nil {
		return nil
	}
	if err := s.plan.Activate(item); err != nil {
		log.Printf("session %s: activate %s: %v", s.ID, item.ID, err)
		return nil
	}
	return item
}

// runItem drives one plan item through deliver/listen/decide, including the
// follow-up loop, and then advances.
func (s *Session) runItem(item *plan.Item) {
	itemStart := s.clk.Now()
	question := item.Question
	depth := 0

	for {
		if depth == 0 {
			s.setPhase(PhaseDelivering)
		} else {
			s.setPhase(PhaseFollowingUp)
		}
		if s.events.OnQuestion != nil {
			s.events.OnQuestion(item, question, depth > 0)
		}
		s.speakSafe(s.calls, question)
		if s.stopping() {
			s.completeItem(item, plan.StatusSkipped)
			return
		}

		// Drop any transcript left over from a previous round before
		// accepting new ones.
		select {
		case <-s.transcriptCh:
		default:
		}
		s.setPhase(PhaseListening)
		roundStart := s.clk.Now()
		window := s.listenWindow(item, itemStart)
		transcript, err := s.awaitAnswer(window)
		if err != nil && s.stopping() {
			// Deadline or abort canceled the call; close without
			// fabricating an exchange for an answer that never happened.
			s.completeItem(item, plan.StatusSkipped)
			return
		}
		if err != nil {
			if !errors.Is(err, speech.ErrSpeechTimeout) {
				log.Printf("session %s: listen failed on %s: %v", s.ID, item.ID, err)
			}
			transcript = "" // sentinel: no answer captured
		}

		s.setPhase(PhaseDeciding)
		itemElapsed := s.clk.Since(itemStart)
		d := s.decider.Decide(s.calls, decision.Input{
			Question:      question,
			Transcript:    transcript,
			Rubric:        item.Rubric,
			ItemRemaining: item.Max - itemElapsed,
			FollowUps:     depth,
		})
		// The global deadline outranks any per-item verdict: never go
		// deeper once it has fired.
		if d.Kind == decision.FollowUp && s.stopping() {
			d = decision.Decision{Kind: decision.ForceAdvance}
		}

		ex := Exchange{
			ItemID:     item.ID,
			Question:   question,
			Transcript: transcript,
			Decision:   d,
			Depth:      depth,
			Elapsed:    s.clk.Since(roundStart),
			Timestamp:  s.clk.Now(),
		}
		s.appendExchange(ex)

		switch d.Kind {
		case decision.FollowUp:
			depth++
			s.mu.Lock()
			s.followUps[item.ID]++
			s.mu.Unlock()
			question = d.Text
			continue
		case decision.Advance:
			s.setPhase(PhaseAdvancing)
			s.completeItem(item, plan.StatusAnswered)
			return
		case decision.ForceAdvance:
			s.setPhase(PhaseAdvancing)
			status := plan.StatusAnswered
			if transcript == "" {
				status = plan.StatusSkipped
			}
			s.completeItem(item, status)
			return
		}
	}
}

// listenWindow bounds one answer by the item's remaining maximum and by the
// time left before the global deadline.
func (s *Session) listenWindow(item *plan.Item, itemStart time.Time) time.Duration {
	window := item.Max - s.clk.Since(itemStart)
	if until := s.deadline.Sub(s.clk.Now()); until < window {
		window = until
	}
	return window
}

// awaitAnswer suspends until the listener finalizes an utterance, a
// transcript is injected via OnTranscript, or the session is canceled.
func (s *Session) awaitAnswer(window time.Duration) (string, error) {
	lctx, cancel := context.WithCancel(s.calls)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		text, err := s.listener.Listen(lctx, window)
		ch <- result{text, err}
	}()

	select {
	case r := <-ch:
		return r.text, r.err
	case text := <-s.transcriptCh:
		return text, nil
	}
}

// completeItem settles the item's status and rebalances the remaining
// budget.
func (s *Session) completeItem(item *plan.Item, status plan.Status) {
	s.mu.Lock()
	item.Status = status
	s.mu.Unlock()
	s.reallocate()
}

// reallocate applies the allocator's proposal: new targets, skips, and the
// refreshed budget snapshot.
func (s *Session) reallocate() {
	s.mu.Lock()
	res := budget.Recompute(s.clk.Now(), s.deadline, s.plan)
	for _, it := range s.plan.Items() {
		if target, ok := res.Targets[it.ID]; ok && it.Status == plan.StatusPending {
			it.Target = target
		}
	}
	for _, id := range res.SkipIDs {
		for _, it := range s.plan.Items() {
			if it.ID == id && it.Status == plan.StatusPending {
				it.Status = plan.StatusSkipped
			}
		}
	}
	s.budget = res.State
	if res.Exhausted {
		w := Warning{
			Code:   WarnBudgetExhausted,
			Detail: fmt.Sprintf("skipped %d item(s) to fit remaining %v", len(res.SkipIDs), res.State.Remaining),
			At:     s.clk.Now(),
		}
		s.warnings = append(s.warnings, w)
		log.Printf("session %s: budget exhausted: %s", s.ID, w.Detail)
	}
	s.mu.Unlock()
}

func (s *Session) appendExchange(ex Exchange) {
	s.mu.Lock()
	s.exchanges = append(s.exchanges, ex)
	s.mu.Unlock()
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.publisher.PublishExchange(ctx, s.ID, ex); err != nil {
		log.Printf("session %s: publish exchange: %v", s.ID, err)
	}
}

// speakSafe delivers an utterance and absorbs every failure: a stalled or
// broken synthesis call must never stall the interview.
func (s *Session) speakSafe(ctx context.Context, text string) {
	if err := s.speaker.Speak(ctx, text); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Printf("session %s: speak failed: %v", s.ID, err)
	}
}

// shutdown runs the Closing phase and settles the terminal state.
func (s *Session) shutdown() {
	s.setPhase(PhaseClosing)
	if !s.abortHit.Load() {
		// The candidate always hears a goodbye, even after the deadline
		// canceled the session context.
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownSpeechTimeout)
		s.speakSafe(ctx, s.cfg.Closing)
		cancel()
	}
	s.finalize()
}

// finalize commits exactly one terminal phase and publishes the summary.
func (s *Session) finalize() {
	s.mu.Lock()
	if s.phase.Terminal() {
		s.mu.Unlock()
		return
	}
	old := s.phase
	if s.abortHit.Load() || s.abortReason != "" {
		s.phase = PhaseAborted
	} else {
		s.phase = PhaseCompleted
	}
	s.endedAt = s.clk.Now()
	terminal := s.phase
	summary := s.summaryLocked()
	timer := s.deadlineTimer
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	log.Printf("session %s: %s -> %s", s.ID, old, terminal)
	if s.events.OnPhase != nil {
		s.events.OnPhase(terminal)
	}
	if s.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.publisher.PublishSummary(ctx, summary); err != nil {
			log.Printf("session %s: publish summary: %v", s.ID, err)
		}
		cancel()
	}
	close(s.done)
}
