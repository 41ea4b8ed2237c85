package tei

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
	"github.com/kirillkom/retrieval-engine/internal/core/ports"
)

// Client scores query/fragment pairs against a text-embeddings-inference
// style cross-encoder endpoint (POST /rerank).
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

var _ ports.Reranker = (*Client)(nil)

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type rerankScore struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Rerank reorders candidates by cross-encoder relevance and returns at most
// topK of them. Candidates the endpoint does not score keep their position at
// the tail in the original order.
func (c *Client) Rerank(ctx context.Context, query string, candidates []domain.FragmentCandidate, topK int) ([]domain.FragmentCandidate, error) {
	if len(candidates) == 0 {
		return []domain.FragmentCandidate{}, nil
	}

	texts := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		texts = append(texts, candidate.Text)
	}

	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rerank status: %s", resp.Status)
	}

	var scores []rerankScore
	if err := json.NewDecoder(resp.Body).Decode(&scores); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	return applyScores(candidates, scores, topK), nil
}

func applyScores(candidates []domain.FragmentCandidate, scores []rerankScore, topK int) []domain.FragmentCandidate {
	scored := make([]domain.FragmentCandidate, 0, len(candidates))
	covered := make(map[int]struct{}, len(scores))

	for _, s := range scores {
		if s.Index < 0 || s.Index >= len(candidates) {
			continue
		}
		if _, dup := covered[s.Index]; dup {
			continue
		}
		covered[s.Index] = struct{}{}
		candidate := candidates[s.Index].Clone()
		candidate.Score = s.Score
		scored = append(scored, candidate)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})

	for i := range candidates {
		if _, ok := covered[i]; !ok {
			scored = append(scored, candidates[i].Clone())
		}
	}

	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	for i := range scored {
		scored[i].SourceRank = i + 1
	}
	return scored
}
