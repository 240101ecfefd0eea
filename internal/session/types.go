package session

import (
	"context"
	"time"

	"github.com/Muchemi254/ai-mock-interviewer/internal/budget"
	"github.com/Muchemi254/ai-mock-interviewer/internal/decision"
	"github.com/Muchemi254/ai-mock-interviewer/internal/plan"
)

// Phase is the session's position in the interview lifecycle.
type Phase string

const (
	PhaseCreated     Phase = "created"
	PhaseGreeting    Phase = "greeting"
	PhaseDelivering  Phase = "delivering"
	PhaseListening   Phase = "listening"
	PhaseDeciding    Phase = "deciding"
	PhaseFollowingUp Phase = "following_up"
	PhaseAdvancing   Phase = "advancing"
	PhaseClosing     Phase = "closing"
	PhaseCompleted   Phase = "completed"
	PhaseAborted     Phase = "aborted"
)

// Terminal reports whether the phase ends the session.
func (p Phase) Terminal() bool { return p == PhaseCompleted || p == PhaseAborted }

// Speaker delivers one utterance to the candidate. Implementations own their
// per-call timeout and report speech.ErrSpeechTimeout on expiry.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Listener captures one finalized candidate utterance within the window.
type Listener interface {
	Listen(ctx context.Context, window time.Duration) (string, error)
}

// Decider produces the verdict on a completed answer.
type Decider interface {
	Decide(ctx context.Context, in decision.Input) decision.Decision
}

// Publisher streams completed exchanges and the terminal summary to the
// persistence/analytics subsystem. Failures are logged, never fatal.
type Publisher interface {
	PublishExchange(ctx context.Context, sessionID string, ex Exchange) error
	PublishSummary(ctx context.Context, s Summary) error
}

// Events lets the transport layer mirror orchestration to the candidate
// channel. All callbacks are optional.
type Events struct {
	OnPhase    func(p Phase)
	OnQuestion func(item *plan.Item, text string, followUp bool)
}

// Exchange is the immutable record of one question/answer round. It is
// appended to the session history and never mutated afterwards.
type Exchange struct {
	ItemID     string            `json:"item_id"`
	Question   string            `json:"question"`
	Transcript string            `json:"transcript"`
	Decision   decision.Decision `json:"decision"`
	Depth      int               `json:"depth"` // 0 for the primary question, >0 for follow-ups
	Elapsed    time.Duration     `json:"elapsed"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Warning is a non-fatal condition surfaced in the session summary.
type Warning struct {
	Code   string    `json:"code"`
	Detail string    `json:"detail"`
	At     time.Time `json:"at"`
}

// WarnBudgetExhausted marks an allocator pass that had to skip items.
const WarnBudgetExhausted = "budget_exhausted"

// Summary is the terminal view of a session handed to persistence and to the
// API caller.
type Summary struct {
	ID          string        `json:"id"`
	CandidateID string        `json:"candidate_id"`
	JobID       string        `json:"job_id"`
	Phase       Phase         `json:"phase"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     time.Time     `json:"ended_at,omitempty"`
	Deadline    time.Time     `json:"deadline"`
	Exchanges   []Exchange    `json:"exchanges"`
	Warnings    []Warning     `json:"warnings,omitempty"`
	AbortReason string        `json:"abort_reason,omitempty"`
	Budget      budget.State  `json:"budget"`
	Items       []plan.Status `json:"item_statuses"`
}
