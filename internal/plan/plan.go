package plan

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPlan rejects malformed input plans at session start.
var ErrInvalidPlan = errors.New("invalid plan")

// Status of a single plan item.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusAnswered Status = "answered"
	StatusSkipped  Status = "skipped"
)

// Item is one topic/question with its time budget. Target is mutable (the
// allocator rewrites it after every exchange); Min/Max/Weight are fixed by
// the matching service.
type Item struct {
	ID       string        `json:"id"`
	Topic    string        `json:"topic"` // behavioral, technical, situational, cultural
	Question string        `json:"question"`
	Rubric   string        `json:"rubric,omitempty"`
	Min      time.Duration `json:"min"`
	Target   time.Duration `json:"target"`
	Max      time.Duration `json:"max"`
	Weight   float64       `json:"weight"`
	Status   Status        `json:"status"`
}

// Plan is the ordered question plan for one session. It is owned by the
// session state machine; the allocator and decision engine only ever see
// snapshots.
type Plan struct {
	items []*Item
}

// New builds a plan from items, defaulting status to pending.
func New(items []*Item) *Plan {
	p := &Plan{items: items}
	for _, it := range p.items {
		if it.Status == "" {
			it.Status = StatusPending
		}
	}
	return p
}

// Validate enforces the start-time invariants: non-empty plan, positive
// maximums, and no item whose minimum exceeds its maximum.
func (p *Plan) Validate() error {
	if p == nil || len(p.items) == 0 {
		return fmt.Errorf("%w: empty plan", ErrInvalidPlan)
	}
	for i, it := range p.items {
		if it.Question == "" {
			return fmt.Errorf("%w: item %d has no question", ErrInvalidPlan, i)
		}
		if it.Max <= 0 {
			return fmt.Errorf("%w: item %d max %v not positive", ErrInvalidPlan, i, it.Max)
		}
		if it.Min > it.Max {
			return fmt.Errorf("%w: item %d min %v exceeds max %v", ErrInvalidPlan, i, it.Min, it.Max)
		}
		if it.Weight < 0 {
			return fmt.Errorf("%w: item %d negative weight", ErrInvalidPlan, i)
		}
	}
	return nil
}

// Len returns the total number of items.
func (p *Plan) Len() int { return len(p.items) }

// Items returns the backing slice. Callers outside the session package must
// treat it as read-only.
func (p *Plan) Items() []*Item { return p.items }

// NextPending returns the first pending item, or nil when none remain.
func (p *Plan) NextPending() *Item {
	for _, it := range p.items {
		if it.Status == StatusPending {
			return it
		}
	}
	return nil
}

// Activate marks it active. At most one item may be active at a time.
func (p *Plan) Activate(it *Item) error {
	for _, other := range p.items {
		if other != it && other.Status == StatusActive {
			return fmt.Errorf("item %s already active", other.ID)
		}
	}
	if it.Status != StatusPending {
		return fmt.Errorf("item %s is %s, not pending", it.ID, it.Status)
	}
	it.Status = StatusActive
	return nil
}

// Pending returns the items still waiting to be delivered, in order.
func (p *Plan) Pending() []*Item {
	var out []*Item
	for _, it := range p.items {
		if it.Status == StatusPending {
			out = append(out, it)
		}
	}
	return out
}

// MinimumsPending sums the minimum times of all pending items.
func (p *Plan) MinimumsPending() time.Duration {
	var sum time.Duration
	for _, it := range p.items {
		if it.Status == StatusPending {
			sum += it.Min
		}
	}
	return sum
}

// Append adds items to the end of the plan.
func (p *Plan) Append(items ...*Item) {
	for _, it := range items {
		if it.Status == "" {
			it.Status = StatusPending
		}
		p.items = append(p.items, it)
	}
}

// Remove drops a pending item from the plan. Active items are never removed
// mid-delivery; they are skipped instead.
func (p *Plan) Remove(id string) bool {
	for i, it := range p.items {
		if it.ID == id && it.Status == StatusPending {
			p.items = append(p.items[:i], p.items[i+1:]...)
			return true
		}
	}
	return false
}
