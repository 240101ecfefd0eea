package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPScorer calls the external reasoning service for a coverage score plus
// optional follow-up text.
type HTTPScorer struct {
	HTTPClient *http.Client
	Endpoint   string
	APIKey     string
}

// NewHTTPScorer returns a scorer for the given reasoning endpoint.
func NewHTTPScorer(endpoint, apiKey string) *HTTPScorer {
	return &HTTPScorer{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		Endpoint:   endpoint,
		APIKey:     apiKey,
	}
}

type scoreRequest struct {
	Question   string `json:"question"`
	Transcript string `json:"transcript"`
	Rubric     string `json:"rubric,omitempty"`
}

type scoreResponse struct {
	Coverage float64 `json:"coverage"`
	FollowUp string  `json:"follow_up,omitempty"`
}

func (s *HTTPScorer) Score(ctx context.Context, question, transcript, rubric string) (Score, error) {
	if s.Endpoint == "" {
		return Score{}, fmt.Errorf("scorer endpoint missing")
	}

	reqBody, _ := json.Marshal(scoreRequest{Question: question, Transcript: transcript, Rubric: rubric})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return Score{}, err
	}
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return Score{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return Score{}, fmt.Errorf("scorer error: status=%d body=%s", resp.StatusCode, string(b))
	}
	var sr scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return Score{}, err
	}
	if sr.Coverage < 0 || sr.Coverage > 1 {
		return Score{}, fmt.Errorf("scorer: coverage %v out of range", sr.Coverage)
	}
	return Score{Coverage: sr.Coverage, FollowUp: sr.FollowUp}, nil
}

// KeywordScorer rates coverage by the fraction of rubric keywords present in
// the transcript. It backs local runs and tests where no reasoning service
// is configured.
type KeywordScorer struct{}

func (KeywordScorer) Score(_ context.Context, _ string, transcript, rubric string) (Score, error) {
	keywords := strings.Fields(strings.ToLower(rubric))
	if len(keywords) == 0 {
		return Score{Coverage: 1}, nil
	}
	lower := strings.ToLower(transcript)
	hit := 0
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			hit++
		}
	}
	return Score{Coverage: float64(hit) / float64(len(keywords))}, nil
}
