package plan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Source fetches the initial question plan for a candidate/job pair from the
// JD/CV matching service.
type Source interface {
	Fetch(ctx context.Context, candidateID, jobID string) (*Plan, error)
}

// Defaults fill in per-item budgets the matching service leaves unset.
type Defaults struct {
	Min    time.Duration
	Target time.Duration
	Max    time.Duration
	Weight float64
}

// HTTPSource talks to the matcher over HTTP with exponential-backoff retry.
type HTTPSource struct {
	HTTPClient *http.Client
	Endpoint   string
	Defaults   Defaults
	MaxElapsed time.Duration
}

// NewHTTPSource returns a source for the given matcher endpoint.
func NewHTTPSource(endpoint string, defaults Defaults) *HTTPSource {
	return &HTTPSource{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Endpoint:   endpoint,
		Defaults:   defaults,
		MaxElapsed: 20 * time.Second,
	}
}

type planRequest struct {
	CandidateID string `json:"candidate_id"`
	JobID       string `json:"job_id"`
}

type planItemPayload struct {
	ID            string  `json:"id"`
	Topic         string  `json:"topic"`
	Question      string  `json:"question"`
	Rubric        string  `json:"rubric"`
	MinSeconds    int     `json:"min_seconds"`
	TargetSeconds int     `json:"target_seconds"`
	MaxSeconds    int     `json:"max_seconds"`
	Weight        float64 `json:"weight"`
}

type planResponse struct {
	Items []planItemPayload `json:"items"`
}

// Fetch retrieves and normalizes the plan. Transient failures are retried
// with exponential backoff up to MaxElapsed; the context canceling stops the
// retry loop immediately.
func (s *HTTPSource) Fetch(ctx context.Context, candidateID, jobID string) (*Plan, error) {
	var resp planResponse

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 200 * time.Millisecond
	backOff.MaxElapsedTime = s.MaxElapsed

	err := backoff.Retry(func() error {
		attemptErr := s.fetchOnce(ctx, candidateID, jobID, &resp)
		if attemptErr != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if attemptErr != nil {
			log.Printf("plan fetch failed, will retry: %v", attemptErr)
		}
		return attemptErr
	}, backoff.WithContext(backOff, ctx))
	if err != nil {
		return nil, fmt.Errorf("plan source: %w", err)
	}

	items := make([]*Item, 0, len(resp.Items))
	for _, p := range resp.Items {
		it := &Item{
			ID:       p.ID,
			Topic:    p.Topic,
			Question: p.Question,
			Rubric:   p.Rubric,
			Min:      time.Duration(p.MinSeconds) * time.Second,
			Target:   time.Duration(p.TargetSeconds) * time.Second,
			Max:      time.Duration(p.MaxSeconds) * time.Second,
			Weight:   p.Weight,
			Status:   StatusPending,
		}
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		if it.Min <= 0 {
			it.Min = s.Defaults.Min
		}
		if it.Target <= 0 {
			it.Target = s.Defaults.Target
		}
		if it.Max <= 0 {
			it.Max = s.Defaults.Max
		}
		if it.Weight <= 0 {
			it.Weight = s.Defaults.Weight
		}
		items = append(items, it)
	}
	return New(items), nil
}

func (s *HTTPSource) fetchOnce(ctx context.Context, candidateID, jobID string, out *planResponse) error {
	body, _ := json.Marshal(planRequest{CandidateID: candidateID, JobID: jobID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("matcher error: status=%d body=%s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
