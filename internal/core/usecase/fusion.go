package usecase

import (
	"sort"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
)

type fusedCandidate struct {
	candidate domain.FragmentCandidate
	score     float64
}

// fuseCandidatesRRF combines ranked lists with Reciprocal Rank Fusion:
// score(c) = sum over lists of 1/(k + rank), rank 1-based. Candidates
// absent from a list contribute nothing for it. The constant k (default 60)
// deemphasizes outlier top ranks. Pure: inputs are never mutated.
func fuseCandidatesRRF(rrfK int, lists ...[]domain.FragmentCandidate) []domain.FragmentCandidate {
	if rrfK <= 0 {
		rrfK = defaultRRFK
	}

	size := 0
	for _, list := range lists {
		size += len(list)
	}
	acc := make(map[string]fusedCandidate, size)
	order := make([]string, 0, size)

	for _, list := range lists {
		for rank, candidate := range list {
			key := candidate.ID
			entry, seen := acc[key]
			if !seen {
				order = append(order, key)
			}
			entry.candidate = preferRicherCandidate(entry.candidate, candidate)
			entry.score += 1.0 / float64(rrfK+rank+1)
			acc[key] = entry
		}
	}

	out := make([]domain.FragmentCandidate, 0, len(acc))
	for _, key := range order {
		entry := acc[key]
		fused := entry.candidate.Clone()
		fused.Score = entry.score
		fused.Origin = domain.OriginBase
		out = append(out, fused)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})

	for i := range out {
		out[i].SourceRank = i + 1
	}
	return out
}

func trimCandidates(candidates []domain.FragmentCandidate, limit int) []domain.FragmentCandidate {
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	return candidates[:limit]
}

// preferRicherCandidate keeps the variant with more content when the same
// fragment appears in several source lists.
func preferRicherCandidate(current, candidate domain.FragmentCandidate) domain.FragmentCandidate {
	if current.ID == "" {
		return candidate
	}
	if current.Text == "" && candidate.Text != "" {
		current.Text = candidate.Text
	}
	if current.Document.ID == "" && candidate.Document.ID != "" {
		current.Document = candidate.Document
	}
	if current.Document.Title == "" && candidate.Document.Title != "" {
		current.Document.Title = candidate.Document.Title
	}
	if current.Document.Filename == "" && candidate.Document.Filename != "" {
		current.Document.Filename = candidate.Document.Filename
	}
	return current
}
