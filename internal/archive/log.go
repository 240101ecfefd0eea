package archive

import (
	"context"
	"log"

	"github.com/Muchemi254/ai-mock-interviewer/internal/session"
)

// LogPublisher is the default archive when no database is configured: it
// writes exchange records and summaries to the process log.
type LogPublisher struct{}

func (LogPublisher) PublishExchange(_ context.Context, sessionID string, ex session.Exchange) error {
	log.Printf("exchange session=%s item=%s depth=%d decision=%s elapsed=%v transcript=%q",
		sessionID, ex.ItemID, ex.Depth, ex.Decision.Kind, ex.Elapsed, ex.Transcript)
	return nil
}

func (LogPublisher) PublishSummary(_ context.Context, s session.Summary) error {
	log.Printf("summary session=%s phase=%s exchanges=%d warnings=%d abort=%q elapsed=%v",
		s.ID, s.Phase, len(s.Exchanges), len(s.Warnings), s.AbortReason, s.EndedAt.Sub(s.StartedAt))
	return nil
}
