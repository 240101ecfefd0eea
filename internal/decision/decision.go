package decision

// Kind is the closed set of verdicts on how to proceed after an answer.
type Kind int

const (
	// Advance accepts the answer and moves to the next plan item.
	Advance Kind = iota
	// FollowUp asks one more probing question on the same item.
	FollowUp
	// ForceAdvance moves on because the item's budget is spent, regardless
	// of answer coverage.
	ForceAdvance
)

func (k Kind) String() string {
	switch k {
	case Advance:
		return "advance"
	case FollowUp:
		return "follow_up"
	case ForceAdvance:
		return "force_advance"
	default:
		return "unknown"
	}
}

// Decision is the engine's verdict. Text is set only for FollowUp.
type Decision struct {
	Kind Kind
	Text string
}
