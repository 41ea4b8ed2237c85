package usecase

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
	"github.com/kirillkom/retrieval-engine/internal/core/ports"
)

// baseSearchStrategy is the closed dispatch target for the non-graph part
// of a request. candidateLimit is the width of the list the orchestrator
// wants back (top_k, or 2*top_k when a rerank pass follows).
type baseSearchStrategy interface {
	search(ctx context.Context, query string, scope ports.SearchScope, candidateLimit int) ([]domain.FragmentCandidate, error)
}

type semanticStrategy struct {
	embedder ports.Embedder
	vector   ports.VectorIndex
}

func (s *semanticStrategy) search(ctx context.Context, query string, scope ports.SearchScope, candidateLimit int) ([]domain.FragmentCandidate, error) {
	queryVector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	candidates, err := s.vector.SearchFragments(ctx, queryVector, scope, candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return markBaseRanks(candidates), nil
}

type keywordStrategy struct {
	lexical ports.LexicalIndex
}

func (s *keywordStrategy) search(ctx context.Context, query string, scope ports.SearchScope, candidateLimit int) ([]domain.FragmentCandidate, error) {
	candidates, err := s.lexical.SearchLexical(ctx, query, scope, candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	return markBaseRanks(candidates), nil
}

// hybridStrategy fans out to the vector and lexical indexes and fuses the
// two ranked lists with RRF. Both legs fetch fusionCandidates entries so
// the fused head is wider than the final cut.
type hybridStrategy struct {
	embedder         ports.Embedder
	vector           ports.VectorIndex
	lexical          ports.LexicalIndex
	fusionCandidates int
	rrfK             int
}

func (s *hybridStrategy) search(ctx context.Context, query string, scope ports.SearchScope, candidateLimit int) ([]domain.FragmentCandidate, error) {
	fetch := s.fusionCandidates
	if fetch < candidateLimit {
		fetch = candidateLimit
	}

	var semantic, lexical []domain.FragmentCandidate
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		queryVector, err := s.embedder.EmbedQuery(groupCtx, query)
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		semantic, err = s.vector.SearchFragments(groupCtx, queryVector, scope, fetch)
		if err != nil {
			return fmt.Errorf("vector search: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		var err error
		lexical, err = s.lexical.SearchLexical(groupCtx, query, scope, fetch)
		if err != nil {
			return fmt.Errorf("lexical search: %w", err)
		}
		return nil
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	fused := fuseCandidatesRRF(s.rrfK, semantic, lexical)
	return trimCandidates(fused, candidateLimit), nil
}

func markBaseRanks(candidates []domain.FragmentCandidate) []domain.FragmentCandidate {
	out := make([]domain.FragmentCandidate, 0, len(candidates))
	for i, candidate := range candidates {
		c := candidate.Clone()
		c.Origin = domain.OriginBase
		c.SourceRank = i + 1
		out = append(out, c)
	}
	return out
}
