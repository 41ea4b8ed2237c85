package usecase

import (
	"sort"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
)

// mergeGraphCandidates combines the base-mode output with graph-sourced
// candidates and truncates to limit as the final step.
//
// The base list always keeps priority: graph candidates enter as new values
// with their score capped at scoreCap, so they can displace only base
// candidates whose score is below the cap. Neither input slice nor any of
// its elements is mutated; the originals may be shared through the cache.
func mergeGraphCandidates(base, graph []domain.FragmentCandidate, limit int, scoreCap float64) []domain.FragmentCandidate {
	merged := make([]domain.FragmentCandidate, 0, len(base)+len(graph))
	seen := make(map[string]struct{}, len(base)+len(graph))

	for _, candidate := range base {
		merged = append(merged, candidate.Clone())
		seen[candidate.ID] = struct{}{}
	}

	for _, candidate := range graph {
		if _, dup := seen[candidate.ID]; dup {
			continue
		}
		merged = append(merged, candidate.AsGraphSourced(scoreCap))
		seen[candidate.ID] = struct{}{}
	}

	// Stable sort keeps base candidates ahead of equally scored graph ones
	// and preserves their relative ranked order.
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		if merged[i].Origin != merged[j].Origin {
			return merged[i].Origin == domain.OriginBase
		}
		return merged[i].ID < merged[j].ID
	})

	// Truncation happens here, after the graph merge, never before it.
	return trimCandidates(merged, limit)
}
