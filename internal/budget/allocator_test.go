package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Muchemi254/ai-mock-interviewer/internal/plan"
)

func planOf(items ...*plan.Item) *plan.Plan { return plan.New(items) }

func item(id string, min, max time.Duration, weight float64) *plan.Item {
	return &plan.Item{ID: id, Question: "q-" + id, Min: min, Target: min, Max: max, Weight: weight}
}

func TestRecompute_DistributesSlackByWeight(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	deadline := now.Add(30 * time.Minute)
	p := planOf(
		item("a", 3*time.Minute, 20*time.Minute, 2),
		item("b", 3*time.Minute, 20*time.Minute, 1),
	)

	res := Recompute(now, deadline, p)
	require.False(t, res.Exhausted)
	require.Empty(t, res.SkipIDs)
	// slack = 30 - 6 = 24m, split 2:1
	require.Equal(t, 3*time.Minute+16*time.Minute, res.Targets["a"])
	require.Equal(t, 3*time.Minute+8*time.Minute, res.Targets["b"])
	require.Equal(t, 2, res.State.RemainingItems)
	require.Equal(t, 6*time.Minute, res.State.FloorTotal)
}

func TestRecompute_ClampsTargetToMax(t *testing.T) {
	now := time.Unix(0, 0)
	deadline := now.Add(time.Hour)
	p := planOf(item("a", time.Minute, 5*time.Minute, 1))

	res := Recompute(now, deadline, p)
	require.Equal(t, 5*time.Minute, res.Targets["a"], "target never exceeds item max")
}

func TestRecompute_SkipsLowestWeightWhenExhausted(t *testing.T) {
	now := time.Unix(0, 0)
	deadline := now.Add(time.Minute)
	p := planOf(
		item("a", 3*time.Minute, 12*time.Minute, 3),
		item("b", 3*time.Minute, 12*time.Minute, 1),
		item("c", 3*time.Minute, 12*time.Minute, 2),
	)

	res := Recompute(now, deadline, p)
	require.True(t, res.Exhausted)
	require.NotEmpty(t, res.SkipIDs)
	// b is the lowest weight, then c; everything must go since even one
	// minimum does not fit in the remaining minute.
	require.Equal(t, []string{"b", "c", "a"}, res.SkipIDs)
	require.Equal(t, 0, res.State.RemainingItems)
}

func TestRecompute_InvariantAfterSkips(t *testing.T) {
	now := time.Unix(0, 0)
	deadline := now.Add(7 * time.Minute)
	p := planOf(
		item("a", 3*time.Minute, 12*time.Minute, 3),
		item("b", 3*time.Minute, 12*time.Minute, 1),
		item("c", 3*time.Minute, 12*time.Minute, 2),
	)

	res := Recompute(now, deadline, p)
	require.True(t, res.Exhausted)
	require.Equal(t, []string{"b"}, res.SkipIDs)
	require.LessOrEqual(t, res.State.FloorTotal, res.State.Remaining,
		"sum of pending minimums must fit the remaining time after skips")
}

func TestRecompute_TieBreakKeepsEarlierItem(t *testing.T) {
	now := time.Unix(0, 0)
	deadline := now.Add(3 * time.Minute)
	p := planOf(
		item("a", 3*time.Minute, 6*time.Minute, 1),
		item("b", 3*time.Minute, 6*time.Minute, 1),
	)

	res := Recompute(now, deadline, p)
	require.Equal(t, []string{"b"}, res.SkipIDs, "later item goes first on equal weight")
}

func TestRecompute_ZeroWeightsSplitEqually(t *testing.T) {
	now := time.Unix(0, 0)
	deadline := now.Add(10 * time.Minute)
	p := planOf(
		item("a", time.Minute, time.Hour, 0),
		item("b", time.Minute, time.Hour, 0),
	)

	res := Recompute(now, deadline, p)
	require.Equal(t, res.Targets["a"], res.Targets["b"])
	require.Equal(t, 5*time.Minute, res.Targets["a"])
}

func TestRecompute_PastDeadline(t *testing.T) {
	now := time.Unix(0, 0).Add(time.Hour)
	deadline := time.Unix(0, 0)
	p := planOf(item("a", time.Minute, 2*time.Minute, 1))

	res := Recompute(now, deadline, p)
	require.True(t, res.Exhausted)
	require.Equal(t, time.Duration(0), res.State.Remaining)
	require.Equal(t, []string{"a"}, res.SkipIDs)
}
