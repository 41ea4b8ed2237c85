package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
	"github.com/kirillkom/retrieval-engine/internal/core/ports"
)

// hierarchicalStrategy runs a coarse document-level pass, then a fragment
// pass restricted to the selected documents. An empty tier-1 set is a valid
// empty result: no error and no fall back to an unrestricted search.
type hierarchicalStrategy struct {
	embedder ports.Embedder
	vector   ports.VectorIndex
	// docMultiplier widens the tier-1 document set relative to the
	// requested candidate count (default 2x).
	docMultiplier int
}

func (s *hierarchicalStrategy) search(ctx context.Context, query string, scope ports.SearchScope, candidateLimit int) ([]domain.FragmentCandidate, error) {
	queryVector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	docLimit := s.docMultiplier * candidateLimit
	if docLimit < 1 {
		docLimit = candidateLimit
	}
	docs, err := s.vector.SearchDocuments(ctx, queryVector, scope, docLimit)
	if err != nil {
		return nil, fmt.Errorf("document search: %w", err)
	}
	if len(docs) == 0 {
		return []domain.FragmentCandidate{}, nil
	}

	docIDs := make([]string, 0, len(docs))
	for _, doc := range docs {
		docIDs = append(docIDs, doc.ID)
	}

	fragments, err := s.vector.SearchFragmentsInDocuments(ctx, queryVector, scope, docIDs, candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("fragment search in documents: %w", err)
	}
	return markBaseRanks(fragments), nil
}
