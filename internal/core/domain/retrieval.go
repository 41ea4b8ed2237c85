package domain

import (
	"fmt"
	"strings"
)

// Mode selects the base search path for a retrieval request.
type Mode string

const (
	ModeSemantic     Mode = "semantic"
	ModeKeyword      Mode = "keyword"
	ModeHybrid       Mode = "hybrid"
	ModeHierarchical Mode = "hierarchical"
	ModeGraph        Mode = "graph"
)

const (
	MaxQueryLength = 1000
	MaxTopK        = 100
)

func ParseMode(raw string) (Mode, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(raw)))
	switch mode {
	case ModeSemantic, ModeKeyword, ModeHybrid, ModeHierarchical, ModeGraph:
		return mode, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse mode", fmt.Errorf("unsupported mode: %q", raw))
	}
}

// Origin tags where a candidate entered the result set.
type Origin string

const (
	OriginBase        Origin = "base"
	OriginGraphSource Origin = "graph_sourced"
)

type RetrievalRequest struct {
	Query       string            `json:"query"`
	Mode        Mode              `json:"mode"`
	TopK        int               `json:"top_k"`
	Collection  string            `json:"collection,omitempty"`
	Tenant      string            `json:"tenant,omitempty"`
	Rerank      bool              `json:"rerank"`
	EnableGraph bool              `json:"enable_graph"`
	Filter      map[string]string `json:"filter,omitempty"`
}

func (r RetrievalRequest) Validate() error {
	query := strings.TrimSpace(r.Query)
	if query == "" {
		return WrapError(ErrInvalidInput, "validate request", fmt.Errorf("query is required"))
	}
	if len([]rune(query)) > MaxQueryLength {
		return WrapError(ErrInvalidInput, "validate request", fmt.Errorf("query exceeds %d characters", MaxQueryLength))
	}
	if _, err := ParseMode(string(r.Mode)); err != nil {
		return err
	}
	if r.TopK < 1 || r.TopK > MaxTopK {
		return WrapError(ErrInvalidInput, "validate request", fmt.Errorf("top_k must be between 1 and %d, got %d", MaxTopK, r.TopK))
	}
	return nil
}

// DocumentRef identifies the document a fragment belongs to.
type DocumentRef struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Filename string `json:"filename"`
}

// FragmentCandidate is an immutable retrieval result. It may be shared
// across concurrent requests through the cache, so every enrichment step
// builds a new value instead of editing fields in place.
type FragmentCandidate struct {
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	Score      float64           `json:"score"`
	SourceRank int               `json:"source_rank"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Document   DocumentRef       `json:"document"`
	Origin     Origin            `json:"origin"`
}

// Clone returns a deep copy, including the metadata map.
func (c FragmentCandidate) Clone() FragmentCandidate {
	out := c
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// WithMetadata returns a copy with one metadata entry set.
func (c FragmentCandidate) WithMetadata(key, value string) FragmentCandidate {
	out := c.Clone()
	if out.Metadata == nil {
		out.Metadata = make(map[string]string, 1)
	}
	out.Metadata[key] = value
	return out
}

// AsGraphSourced returns a copy tagged graph_sourced with the score capped.
func (c FragmentCandidate) AsGraphSourced(scoreCap float64) FragmentCandidate {
	out := c.Clone()
	out.Origin = OriginGraphSource
	if out.Score > scoreCap {
		out.Score = scoreCap
	}
	return out
}

// WithDocument returns a copy with the owning-document reference replaced.
func (c FragmentCandidate) WithDocument(ref DocumentRef) FragmentCandidate {
	out := c.Clone()
	out.Document = ref
	return out
}

type RetrievalResponse struct {
	Query          string              `json:"query"`
	Mode           Mode                `json:"mode"`
	TotalResults   int                 `json:"total_results"`
	Results        []FragmentCandidate `json:"results"`
	GraphEnhanced  bool                `json:"graph_enhanced"`
	GraphNarrative string              `json:"graph_narrative,omitempty"`
}

// GraphResult is what the knowledge-graph adapter returns for a query.
type GraphResult struct {
	Narrative  string
	Candidates []FragmentCandidate
}

// RetrievalEvent describes one completed retrieval for observers
// (metrics, audit stream). It never carries the raw query text.
type RetrievalEvent struct {
	RequestID     string  `json:"request_id,omitempty"`
	Tenant        string  `json:"tenant,omitempty"`
	Mode          Mode    `json:"mode"`
	Fingerprint   string  `json:"fingerprint"`
	CacheHit      bool    `json:"cache_hit"`
	GraphEnhanced bool    `json:"graph_enhanced"`
	Reranked      bool    `json:"reranked"`
	RerankSkipped bool    `json:"rerank_skipped"`
	MergedCount   int     `json:"merged_count"`
	ResultCount   int     `json:"result_count"`
	DurationMS    float64 `json:"duration_ms"`
}
