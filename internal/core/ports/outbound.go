package ports

import (
	"context"
	"time"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
)

// SearchScope narrows provider calls to one tenant and optional collection,
// plus metadata predicates. Isolation is assumed already applied by the
// caller; the scope only participates in filters and cache keys.
type SearchScope struct {
	Tenant     string
	Collection string
	Filter     map[string]string
}

// Embedder builds a query vector for similarity search.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex performs embedding-similarity search over fragments and,
// for the hierarchical path, over whole documents.
type VectorIndex interface {
	SearchFragments(ctx context.Context, queryVector []float32, scope SearchScope, topN int) ([]domain.FragmentCandidate, error)
	// SearchFragmentsInDocuments restricts the fragment pass to the given
	// owning-document set. An empty docIDs slice returns no results.
	SearchFragmentsInDocuments(ctx context.Context, queryVector []float32, scope SearchScope, docIDs []string, topN int) ([]domain.FragmentCandidate, error)
	SearchDocuments(ctx context.Context, queryVector []float32, scope SearchScope, topN int) ([]domain.DocumentRef, error)
}

// LexicalIndex performs keyword-relevance search over fragments.
type LexicalIndex interface {
	SearchLexical(ctx context.Context, queryText string, scope SearchScope, topN int) ([]domain.FragmentCandidate, error)
}

// GraphQuery adapts an external knowledge-graph engine. Traversal and
// graph construction live behind this boundary.
type GraphQuery interface {
	Query(ctx context.Context, text string, scope SearchScope) (domain.GraphResult, error)
}

// Reranker reorders candidates with a cross-encoder-style scorer.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []domain.FragmentCandidate, topK int) ([]domain.FragmentCandidate, error)
}

// ResponseCache stores computed responses by fingerprint with a TTL.
// Get reports a miss (nil, false, nil) for absent or undecodable entries;
// backend failures are returned as errors.
type ResponseCache interface {
	Get(ctx context.Context, fingerprint string) (*domain.RetrievalResponse, bool, error)
	Put(ctx context.Context, fingerprint string, response *domain.RetrievalResponse, ttl time.Duration) error
}

// DocumentDirectory resolves owning-document references for candidates
// that arrive with only a document id (typically graph-sourced ones).
type DocumentDirectory interface {
	ResolveRefs(ctx context.Context, ids []string) (map[string]domain.DocumentRef, error)
}

// RetrievalObserver receives one event per completed retrieval.
// Implementations must not block the response path.
type RetrievalObserver interface {
	ObserveRetrieval(ctx context.Context, event domain.RetrievalEvent)
}
