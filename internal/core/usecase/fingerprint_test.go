package usecase

import (
	"testing"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
)

func TestFingerprintStableAcrossFilterOrder(t *testing.T) {
	first := domain.RetrievalRequest{
		Query:  "what is rag",
		Mode:   domain.ModeHybrid,
		TopK:   5,
		Tenant: "tenant-1",
		Filter: map[string]string{"lang": "en", "source": "wiki"},
	}
	second := first
	second.Filter = map[string]string{"source": "wiki", "lang": "en"}

	if requestFingerprint(first) != requestFingerprint(second) {
		t.Fatalf("fingerprint depends on filter map iteration order")
	}
}

func TestFingerprintNormalizesQuery(t *testing.T) {
	first := domain.RetrievalRequest{Query: "  What is RAG?  ", Mode: domain.ModeSemantic, TopK: 5}
	second := domain.RetrievalRequest{Query: "what is rag?", Mode: domain.ModeSemantic, TopK: 5}

	if requestFingerprint(first) != requestFingerprint(second) {
		t.Fatalf("expected normalized queries to share a fingerprint")
	}
}

func TestFingerprintSeparatesTenants(t *testing.T) {
	base := domain.RetrievalRequest{Query: "query", Mode: domain.ModeSemantic, TopK: 5, Tenant: "tenant-1"}
	other := base
	other.Tenant = "tenant-2"

	if requestFingerprint(base) == requestFingerprint(other) {
		t.Fatalf("fingerprint must include the tenant scope")
	}
}

func TestFingerprintChangesWithResultAffectingFields(t *testing.T) {
	base := domain.RetrievalRequest{Query: "query", Mode: domain.ModeSemantic, TopK: 5}
	variants := []domain.RetrievalRequest{
		{Query: "query", Mode: domain.ModeKeyword, TopK: 5},
		{Query: "query", Mode: domain.ModeSemantic, TopK: 6},
		{Query: "query", Mode: domain.ModeSemantic, TopK: 5, Rerank: true},
		{Query: "query", Mode: domain.ModeSemantic, TopK: 5, EnableGraph: true},
		{Query: "query", Mode: domain.ModeSemantic, TopK: 5, Collection: "docs"},
	}

	seen := map[string]struct{}{requestFingerprint(base): {}}
	for i, variant := range variants {
		fp := requestFingerprint(variant)
		if _, dup := seen[fp]; dup {
			t.Fatalf("variant %d collides with a previous fingerprint", i)
		}
		seen[fp] = struct{}{}
	}
}
