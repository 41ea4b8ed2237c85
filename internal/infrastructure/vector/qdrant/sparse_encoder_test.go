package qdrant

import (
	"reflect"
	"testing"
)

func TestEncodeSparseQueryDeterministic(t *testing.T) {
	first := encodeSparseQuery("Retrieval-Augmented Generation, explained")
	second := encodeSparseQuery("Retrieval-Augmented Generation, explained")

	if len(first.Indices) == 0 {
		t.Fatalf("expected non-empty encoding")
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("encoding not deterministic:\n%+v\n%+v", first, second)
	}
	for i := 1; i < len(first.Indices); i++ {
		if first.Indices[i-1] >= first.Indices[i] {
			t.Fatalf("indices not strictly ascending: %v", first.Indices)
		}
	}
}

func TestEncodeSparseQuerySaturatesRepeatedTerms(t *testing.T) {
	once := encodeSparseQuery("cache")
	thrice := encodeSparseQuery("cache cache cache")

	if len(once.Values) != 1 || len(thrice.Values) != 1 {
		t.Fatalf("expected single-term encodings, got %d/%d", len(once.Values), len(thrice.Values))
	}
	if thrice.Values[0] <= once.Values[0] {
		t.Fatalf("repeated term should weigh more: %v vs %v", thrice.Values[0], once.Values[0])
	}
	if thrice.Values[0] >= queryBM25K+1.0 {
		t.Fatalf("weight must saturate below k+1, got %v", thrice.Values[0])
	}
}

func TestEncodeSparseQueryEmptyInput(t *testing.T) {
	for _, query := range []string{"", "   ", "!!! ---", "???"} {
		encoded := encodeSparseQuery(query)
		if len(encoded.Indices) != 0 || len(encoded.Values) != 0 {
			t.Fatalf("expected empty encoding for %q, got %+v", query, encoded)
		}
	}
}
