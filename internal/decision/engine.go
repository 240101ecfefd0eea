package decision

import (
	"context"
	"log"
	"strings"
	"time"
)

// Score is the reasoning service's assessment of one answer.
type Score struct {
	// Coverage in [0,1]: how much of the expected answer shape the
	// transcript covered.
	Coverage float64
	// FollowUp is an optional probing question to ask when coverage is low.
	FollowUp string
}

// Scorer rates a transcript against the item's rubric. The scoring metric is
// deliberately pluggable; the engine only consumes the resulting coverage.
type Scorer interface {
	Score(ctx context.Context, question, transcript, rubric string) (Score, error)
}

// Input is the exchange-in-progress handed to the engine.
type Input struct {
	Question   string
	Transcript string
	Rubric     string
	// ItemRemaining is the item's max minus time already spent on it.
	ItemRemaining time.Duration
	// FollowUps already issued for this item.
	FollowUps int
}

// Engine turns an answer plus the remaining budget into a Decision. It is a
// pure consumer of session snapshots and holds no session state.
type Engine struct {
	scorer            Scorer
	coverageThreshold float64
	minFollowUpCost   time.Duration
	maxFollowUps      int
	scoreTimeout      time.Duration
}

// Options configure the engine. Zero values fall back to defaults.
type Options struct {
	CoverageThreshold float64       // below this coverage a follow-up is considered
	MinFollowUpCost   time.Duration // minimum item budget needed for one more round
	MaxFollowUps      int           // per-item follow-up depth bound
	ScoreTimeout      time.Duration // per-call timeout for the scorer
}

// NewEngine builds an engine around the given scorer.
func NewEngine(scorer Scorer, opts Options) *Engine {
	if opts.CoverageThreshold <= 0 {
		opts.CoverageThreshold = 0.6
	}
	if opts.MinFollowUpCost <= 0 {
		opts.MinFollowUpCost = 45 * time.Second
	}
	if opts.MaxFollowUps <= 0 {
		opts.MaxFollowUps = 1
	}
	if opts.ScoreTimeout <= 0 {
		opts.ScoreTimeout = 8 * time.Second
	}
	return &Engine{
		scorer:            scorer,
		coverageThreshold: opts.CoverageThreshold,
		minFollowUpCost:   opts.MinFollowUpCost,
		maxFollowUps:      opts.MaxFollowUps,
		scoreTimeout:      opts.ScoreTimeout,
	}
}

// Decide applies the follow-up policy. A stalled or failing scoring call
// never stalls the interview: the engine fails open to Advance.
func (e *Engine) Decide(ctx context.Context, in Input) Decision {
	// No usable answer was captured (speech timeout sentinel); probing a
	// silent line wastes budget.
	if strings.TrimSpace(in.Transcript) == "" {
		return Decision{Kind: ForceAdvance}
	}

	// Not enough item budget for even one more round.
	if in.ItemRemaining < e.minFollowUpCost {
		return Decision{Kind: ForceAdvance}
	}

	scoreCtx, cancel := context.WithTimeout(ctx, e.scoreTimeout)
	defer cancel()
	score, err := e.scorer.Score(scoreCtx, in.Question, in.Transcript, in.Rubric)
	if err != nil {
		log.Printf("scoring failed, advancing: %v", err)
		return Decision{Kind: Advance}
	}

	if score.Coverage >= e.coverageThreshold {
		return Decision{Kind: Advance}
	}
	if in.FollowUps >= e.maxFollowUps {
		return Decision{Kind: Advance}
	}

	text := strings.TrimSpace(score.FollowUp)
	if text == "" {
		text = "Could you go a bit deeper on that?"
	}
	return Decision{Kind: FollowUp, Text: text}
}
