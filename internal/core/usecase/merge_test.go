package usecase

import (
	"reflect"
	"testing"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
)

func baseCandidates(scores ...float64) []domain.FragmentCandidate {
	out := make([]domain.FragmentCandidate, 0, len(scores))
	for i, score := range scores {
		out = append(out, domain.FragmentCandidate{
			ID:       "base-" + string(rune('a'+i)),
			Text:     "base text",
			Score:    score,
			Origin:   domain.OriginBase,
			Metadata: map[string]string{"source": "index"},
		})
	}
	return out
}

func TestMergeCapsGraphScoresAndTagsOrigin(t *testing.T) {
	base := baseCandidates(0.9)
	graph := []domain.FragmentCandidate{{ID: "graph-a", Score: 0.95}}

	merged := mergeGraphCandidates(base, graph, 10, 0.7)
	if len(merged) != 2 {
		t.Fatalf("expected 2 merged candidates, got %d", len(merged))
	}
	if merged[0].ID != "base-a" {
		t.Fatalf("expected strong base match to stay first, got %s", merged[0].ID)
	}
	if merged[1].Score != 0.7 {
		t.Fatalf("expected graph score capped at 0.7, got %v", merged[1].Score)
	}
	if merged[1].Origin != domain.OriginGraphSource {
		t.Fatalf("expected graph_sourced origin, got %s", merged[1].Origin)
	}
}

func TestMergeDeduplicatesByID(t *testing.T) {
	base := []domain.FragmentCandidate{{ID: "frag-1", Score: 0.8, Origin: domain.OriginBase}}
	graph := []domain.FragmentCandidate{{ID: "frag-1", Score: 0.9}, {ID: "frag-2", Score: 0.5}}

	merged := mergeGraphCandidates(base, graph, 10, 0.7)
	if len(merged) != 2 {
		t.Fatalf("expected duplicate dropped, got %d candidates", len(merged))
	}
	if merged[0].ID != "frag-1" || merged[0].Origin != domain.OriginBase {
		t.Fatalf("expected base variant kept for duplicate, got %+v", merged[0])
	}
}

func TestMergeTruncatesAfterGraphMerge(t *testing.T) {
	// 5 base + 3 graph-only candidates, top_k 5: the merged-then-truncated
	// result holds exactly 5 entries, with low-scored base candidates
	// displaced only by graph candidates whose capped score beats them.
	base := baseCandidates(0.9, 0.8, 0.75, 0.3, 0.2)
	graph := []domain.FragmentCandidate{
		{ID: "graph-a", Score: 0.95},
		{ID: "graph-b", Score: 0.6},
		{ID: "graph-c", Score: 0.1},
	}

	merged := mergeGraphCandidates(base, graph, 5, 0.7)
	if len(merged) != 5 {
		t.Fatalf("expected exactly 5 candidates after truncation, got %d", len(merged))
	}

	wantOrder := []string{"base-a", "base-b", "base-c", "graph-a", "graph-b"}
	for i, want := range wantOrder {
		if merged[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, merged[i].ID)
		}
	}
	if merged[3].Score != 0.7 {
		t.Fatalf("expected capped graph score 0.7, got %v", merged[3].Score)
	}
}

func TestMergeNeverMutatesInputs(t *testing.T) {
	base := baseCandidates(0.9, 0.4)
	graph := []domain.FragmentCandidate{{
		ID:       "graph-a",
		Score:    0.95,
		Metadata: map[string]string{"entity": "rag"},
	}}

	baseSnapshot := make([]domain.FragmentCandidate, len(base))
	for i := range base {
		baseSnapshot[i] = base[i].Clone()
	}
	graphSnapshot := make([]domain.FragmentCandidate, len(graph))
	for i := range graph {
		graphSnapshot[i] = graph[i].Clone()
	}

	merged := mergeGraphCandidates(base, graph, 10, 0.7)
	for i := range merged {
		merged[i].Score = -1
		if merged[i].Metadata != nil {
			merged[i].Metadata["mutated"] = "yes"
		}
	}

	if !reflect.DeepEqual(base, baseSnapshot) {
		t.Fatalf("merge mutated base input:\n got %+v\nwant %+v", base, baseSnapshot)
	}
	if !reflect.DeepEqual(graph, graphSnapshot) {
		t.Fatalf("merge mutated graph input:\n got %+v\nwant %+v", graph, graphSnapshot)
	}
}

func TestMergeGraphOnlyList(t *testing.T) {
	graph := []domain.FragmentCandidate{
		{ID: "graph-a", Score: 0.9},
		{ID: "graph-b", Score: 0.4},
	}

	merged := mergeGraphCandidates(nil, graph, 1, 0.7)
	if len(merged) != 1 {
		t.Fatalf("expected truncation to 1, got %d", len(merged))
	}
	if merged[0].ID != "graph-a" || merged[0].Score != 0.7 {
		t.Fatalf("unexpected graph-only merge head: %+v", merged[0])
	}
}
