package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/kirillkom/retrieval-engine/internal/core/ports"
	"github.com/kirillkom/retrieval-engine/internal/infrastructure/resilience"
)

func newTestClient(baseURL string) *Client {
	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2.0,
		BreakerEnabled:      false,
	})
	return New(baseURL, "documents", executor)
}

func TestSearchFragmentsMapsResults(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"result":[
			{"id":"frag-1","score":0.91,"payload":{"doc_id":"doc-1","doc_title":"Guide","filename":"guide.md","text":"first fragment","lang":"en"}},
			{"id":7,"score":0.55,"payload":{"doc_id":"doc-2","text":"second fragment"}}
		]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	scope := ports.SearchScope{Tenant: "tenant-1", Filter: map[string]string{"lang": "en"}}
	candidates, err := client.SearchFragments(context.Background(), []float32{0.1, 0.2}, scope, 5)
	if err != nil {
		t.Fatalf("search fragments: %v", err)
	}

	if gotPath != "/collections/documents/points/search" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotBody["limit"].(float64) != 5 {
		t.Fatalf("expected limit forwarded, got %v", gotBody["limit"])
	}
	filter, ok := gotBody["filter"].(map[string]any)
	if !ok {
		t.Fatalf("expected filter clause for scoped search")
	}
	must := filter["must"].([]any)
	if len(must) != 2 {
		t.Fatalf("expected tenant and metadata clauses, got %d", len(must))
	}

	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	first := candidates[0]
	if first.ID != "frag-1" || first.Score != 0.91 || first.Text != "first fragment" {
		t.Fatalf("unexpected first candidate: %+v", first)
	}
	if first.Document.ID != "doc-1" || first.Document.Title != "Guide" || first.Document.Filename != "guide.md" {
		t.Fatalf("unexpected document ref: %+v", first.Document)
	}
	if first.Metadata["lang"] != "en" {
		t.Fatalf("expected non-reserved payload kept as metadata, got %v", first.Metadata)
	}
	if candidates[1].ID != "7" {
		t.Fatalf("expected numeric point id rendered as string, got %q", candidates[1].ID)
	}
}

func TestSearchFragmentsInDocumentsRestrictsByDocID(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"result":[]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.SearchFragmentsInDocuments(context.Background(), []float32{0.1}, ports.SearchScope{}, []string{"doc-1", "doc-2"}, 3)
	if err != nil {
		t.Fatalf("search in documents: %v", err)
	}

	filter := gotBody["filter"].(map[string]any)
	must := filter["must"].([]any)
	if len(must) != 1 {
		t.Fatalf("expected a single doc restriction clause, got %d", len(must))
	}
	clause := must[0].(map[string]any)
	if clause["key"] != "doc_id" {
		t.Fatalf("expected doc_id clause, got %v", clause)
	}
	anyIDs := clause["match"].(map[string]any)["any"].([]any)
	if !reflect.DeepEqual(anyIDs, []any{"doc-1", "doc-2"}) {
		t.Fatalf("unexpected doc id restriction: %v", anyIDs)
	}
}

func TestSearchDocumentsUsesGroupedSearch(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"result":{"groups":[
			{"id":"doc-1","hits":[{"payload":{"doc_title":"Guide","filename":"guide.md"}}]},
			{"id":"doc-2","hits":[{"payload":{}}]}
		]}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	docs, err := client.SearchDocuments(context.Background(), []float32{0.1}, ports.SearchScope{}, 10)
	if err != nil {
		t.Fatalf("search documents: %v", err)
	}

	if gotPath != "/collections/documents/points/search/groups" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotBody["group_by"] != "doc_id" {
		t.Fatalf("expected grouping by doc_id, got %v", gotBody["group_by"])
	}

	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0].ID != "doc-1" || docs[0].Title != "Guide" || docs[0].Filename != "guide.md" {
		t.Fatalf("unexpected first document: %+v", docs[0])
	}
	if docs[1].ID != "doc-2" {
		t.Fatalf("unexpected second document: %+v", docs[1])
	}
}

func TestSearchLexicalSendsNamedSparseVector(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"result":[{"id":"frag-1","score":2.4,"payload":{"text":"hit"}}]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	candidates, err := client.SearchLexical(context.Background(), "retrieval augmented generation", ports.SearchScope{}, 5)
	if err != nil {
		t.Fatalf("lexical search: %v", err)
	}

	vector := gotBody["vector"].(map[string]any)
	if vector["name"] != "lexical" {
		t.Fatalf("expected named lexical vector, got %v", vector["name"])
	}
	sparse := vector["vector"].(map[string]any)
	if len(sparse["indices"].([]any)) == 0 || len(sparse["values"].([]any)) == 0 {
		t.Fatalf("expected non-empty sparse encoding, got %v", sparse)
	}

	if len(candidates) != 1 || candidates[0].Score != 2.4 {
		t.Fatalf("unexpected lexical candidates: %+v", candidates)
	}
}

func TestSearchLexicalEmptyQueryShortCircuits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("empty lexical query must not reach the server")
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	candidates, err := client.SearchLexical(context.Background(), "!!! ---", ports.SearchScope{}, 5)
	if err != nil {
		t.Fatalf("lexical search: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected empty result for tokenless query, got %+v", candidates)
	}
}

func TestScopeCollectionOverridesDefault(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"result":[]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	scope := ports.SearchScope{Collection: "manuals"}
	if _, err := client.SearchFragments(context.Background(), []float32{0.1}, scope, 5); err != nil {
		t.Fatalf("search fragments: %v", err)
	}
	if gotPath != "/collections/manuals/points/search" {
		t.Fatalf("expected scope collection in path, got %s", gotPath)
	}
}

func TestSearchSurfacesUpstreamStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if _, err := client.SearchFragments(context.Background(), []float32{0.1}, ports.SearchScope{}, 5); err == nil {
		t.Fatalf("expected error on 503 response")
	}
}

func TestSearchRetriesTransientFailures(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"result":[{"id":"frag-1","score":0.8,"payload":{"text":"hit"}}]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	candidates, err := client.SearchFragments(context.Background(), []float32{0.1}, ports.SearchScope{}, 5)
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	if len(candidates) != 1 || candidates[0].ID != "frag-1" {
		t.Fatalf("unexpected candidates after retry: %+v", candidates)
	}
}

func TestSearchGivesUpAfterBoundedAttempts(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if _, err := client.SearchFragments(context.Background(), []float32{0.1}, ports.SearchScope{}, 5); err == nil {
		t.Fatalf("expected error after exhausted retries")
	}
	if attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestSearchDoesNotRetryClientErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		http.Error(w, "collection not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if _, err := client.SearchFragments(context.Background(), []float32{0.1}, ports.SearchScope{}, 5); err == nil {
		t.Fatalf("expected error on 404 response")
	}
	if attempts != 1 {
		t.Fatalf("client errors must not be retried, got %d attempts", attempts)
	}
}

func TestSearchLexicalRetriesTransientFailures(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"result":[]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if _, err := client.SearchLexical(context.Background(), "retrieval", ports.SearchScope{}, 5); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}
