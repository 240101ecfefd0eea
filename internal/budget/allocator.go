package budget

import (
	"time"

	"github.com/Muchemi254/ai-mock-interviewer/internal/plan"
)

// State is a snapshot of the remaining interview budget. It is recomputed by
// the allocator after every exchange and read by the decision engine; nothing
// else produces it.
type State struct {
	Remaining      time.Duration // time left until the global deadline
	RemainingItems int           // pending items after recomputation
	FloorTotal     time.Duration // sum of pending minimums after recomputation
}

// Result carries the allocator's proposed mutations. The session state
// machine applies them; the allocator itself never writes to the plan.
type Result struct {
	State     State
	Targets   map[string]time.Duration // new target per pending item id
	SkipIDs   []string                 // pending items to mark skipped, lowest weight first
	Exhausted bool                     // minimums could not fit the remaining time
}

// Recompute redistributes the remaining interview time across pending items.
// slack = remaining − sum(pending minimums) is spread proportionally to item
// weight and clamped to each item's maximum. When even the minimums do not
// fit, the lowest-weight pending items are proposed for skipping until they
// do, preferring to keep earlier questions on equal weight.
func Recompute(now, deadline time.Time, p *plan.Plan) Result {
	remaining := deadline.Sub(now)
	if remaining < 0 {
		remaining = 0
	}

	pending := p.Pending()
	res := Result{Targets: make(map[string]time.Duration)}

	skipped := make(map[string]bool)
	floor := func() time.Duration {
		var sum time.Duration
		for _, it := range pending {
			if !skipped[it.ID] {
				sum += it.Min
			}
		}
		return sum
	}

	for floor() > remaining {
		res.Exhausted = true
		victim := lowestWeight(pending, skipped)
		if victim == nil {
			break
		}
		skipped[victim.ID] = true
		res.SkipIDs = append(res.SkipIDs, victim.ID)
	}

	surviving := make([]*plan.Item, 0, len(pending))
	var weightSum float64
	for _, it := range pending {
		if !skipped[it.ID] {
			surviving = append(surviving, it)
			weightSum += it.Weight
		}
	}

	slack := remaining - floor()
	for _, it := range surviving {
		share := slack / time.Duration(max(len(surviving), 1))
		if weightSum > 0 {
			share = time.Duration(float64(slack) * it.Weight / weightSum)
		}
		target := it.Min + share
		if target > it.Max {
			target = it.Max
		}
		if target < it.Min {
			target = it.Min
		}
		res.Targets[it.ID] = target
	}

	res.State = State{
		Remaining:      remaining,
		RemainingItems: len(surviving),
		FloorTotal:     floor(),
	}
	return res
}

// lowestWeight returns the not-yet-skipped pending item with the smallest
// weight, breaking ties toward the later item so earlier questions survive.
func lowestWeight(pending []*plan.Item, skipped map[string]bool) *plan.Item {
	var victim *plan.Item
	for _, it := range pending {
		if skipped[it.ID] {
			continue
		}
		if victim == nil || it.Weight <= victim.Weight {
			victim = it
		}
	}
	return victim
}
