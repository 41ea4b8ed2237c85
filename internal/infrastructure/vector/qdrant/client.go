package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
	"github.com/kirillkom/retrieval-engine/internal/core/ports"
	"github.com/kirillkom/retrieval-engine/internal/infrastructure/resilience"
)

// Payload keys written by the indexing pipeline. The search side only reads
// them.
const (
	payloadDocID    = "doc_id"
	payloadDocTitle = "doc_title"
	payloadFilename = "filename"
	payloadText     = "text"
	payloadTenant   = "tenant"
)

// lexicalVectorName is the named sparse vector holding the BM25-style term
// weights of each fragment.
const lexicalVectorName = "lexical"

// Client talks to Qdrant over its HTTP API. Fragments live as points whose
// payload carries the fragment text and the owning document reference; the
// same points expose a named sparse vector for lexical scoring.
type Client struct {
	baseURL           string
	defaultCollection string
	httpClient        *http.Client
	executor          *resilience.Executor
}

func New(baseURL, defaultCollection string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:           strings.TrimRight(baseURL, "/"),
		defaultCollection: defaultCollection,
		httpClient:        &http.Client{Timeout: 60 * time.Second},
		executor:          executor,
	}
}

var _ ports.VectorIndex = (*Client)(nil)
var _ ports.LexicalIndex = (*Client)(nil)

func (c *Client) SearchFragments(ctx context.Context, queryVector []float32, scope ports.SearchScope, topN int) ([]domain.FragmentCandidate, error) {
	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        topN,
		"with_payload": true,
	}
	if filter := scopeFilter(scope, nil); filter != nil {
		reqBody["filter"] = filter
	}
	return c.searchPoints(ctx, scope, reqBody)
}

func (c *Client) SearchFragmentsInDocuments(ctx context.Context, queryVector []float32, scope ports.SearchScope, docIDs []string, topN int) ([]domain.FragmentCandidate, error) {
	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        topN,
		"with_payload": true,
		"filter":       scopeFilter(scope, docIDs),
	}
	return c.searchPoints(ctx, scope, reqBody)
}

// SearchDocuments runs a grouped search collapsing fragment hits onto their
// owning documents, one representative hit per document.
func (c *Client) SearchDocuments(ctx context.Context, queryVector []float32, scope ports.SearchScope, topN int) ([]domain.DocumentRef, error) {
	reqBody := map[string]any{
		"vector":       queryVector,
		"group_by":     payloadDocID,
		"limit":        topN,
		"group_size":   1,
		"with_payload": true,
	}
	if filter := scopeFilter(scope, nil); filter != nil {
		reqBody["filter"] = filter
	}

	var groupsResp struct {
		Result struct {
			Groups []struct {
				ID   any `json:"id"`
				Hits []struct {
					Payload map[string]any `json:"payload"`
				} `json:"hits"`
			} `json:"groups"`
		} `json:"result"`
	}
	if err := c.post(ctx, c.searchURL(scope, "/points/search/groups"), reqBody, &groupsResp); err != nil {
		return nil, err
	}

	out := make([]domain.DocumentRef, 0, len(groupsResp.Result.Groups))
	for _, group := range groupsResp.Result.Groups {
		ref := domain.DocumentRef{ID: anyToString(group.ID)}
		if len(group.Hits) > 0 {
			ref.Title = getStringPayload(group.Hits[0].Payload, payloadDocTitle)
			ref.Filename = getStringPayload(group.Hits[0].Payload, payloadFilename)
		}
		if ref.ID == "" {
			continue
		}
		out = append(out, ref)
	}
	return out, nil
}

func (c *Client) SearchLexical(ctx context.Context, queryText string, scope ports.SearchScope, topN int) ([]domain.FragmentCandidate, error) {
	sparse := encodeSparseQuery(queryText)
	if len(sparse.Indices) == 0 {
		return []domain.FragmentCandidate{}, nil
	}

	reqBody := map[string]any{
		"vector": map[string]any{
			"name":   lexicalVectorName,
			"vector": sparse,
		},
		"limit":        topN,
		"with_payload": true,
	}
	if filter := scopeFilter(scope, nil); filter != nil {
		reqBody["filter"] = filter
	}
	return c.searchPoints(ctx, scope, reqBody)
}

func (c *Client) searchPoints(ctx context.Context, scope ports.SearchScope, reqBody map[string]any) ([]domain.FragmentCandidate, error) {
	var searchResp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := c.post(ctx, c.searchURL(scope, "/points/search"), reqBody, &searchResp); err != nil {
		return nil, err
	}

	out := make([]domain.FragmentCandidate, 0, len(searchResp.Result))
	for _, point := range searchResp.Result {
		out = append(out, domain.FragmentCandidate{
			ID:    anyToString(point.ID),
			Text:  getStringPayload(point.Payload, payloadText),
			Score: point.Score,
			Document: domain.DocumentRef{
				ID:       getStringPayload(point.Payload, payloadDocID),
				Title:    getStringPayload(point.Payload, payloadDocTitle),
				Filename: getStringPayload(point.Payload, payloadFilename),
			},
			Metadata: extraPayload(point.Payload),
		})
	}
	return out, nil
}

func (c *Client) searchURL(scope ports.SearchScope, suffix string) string {
	collection := scope.Collection
	if collection == "" {
		collection = c.defaultCollection
	}
	return fmt.Sprintf("%s/collections/%s%s", c.baseURL, collection, suffix)
}

func (c *Client) post(ctx context.Context, url string, reqBody any, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal search body: %w", err)
	}

	call := func(ctx context.Context) error {
		return c.doPost(ctx, url, body, out)
	}
	if c.executor == nil {
		return call(ctx)
	}
	return c.executor.Execute(ctx, "qdrant.search", call, classifySearchError)
}

func (c *Client) doPost(ctx context.Context, url string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, status: resp.Status}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode search response: %w", err)
	}
	return nil
}

type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant search status: %s", e.status)
}

// scopeFilter builds the Qdrant filter for a search scope. Collection routing
// happens at the URL level; tenant and metadata constraints become payload
// match clauses, and docIDs (when given) restrict hits to those documents.
func scopeFilter(scope ports.SearchScope, docIDs []string) map[string]any {
	must := make([]map[string]any, 0, 2+len(scope.Filter))
	if scope.Tenant != "" {
		must = append(must, matchClause(payloadTenant, scope.Tenant))
	}
	for _, key := range sortedFilterKeys(scope.Filter) {
		must = append(must, matchClause(key, scope.Filter[key]))
	}
	if len(docIDs) > 0 {
		must = append(must, map[string]any{
			"key":   payloadDocID,
			"match": map[string]any{"any": docIDs},
		})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func matchClause(key, value string) map[string]any {
	return map[string]any{
		"key":   key,
		"match": map[string]any{"value": value},
	}
}

func sortedFilterKeys(filter map[string]string) []string {
	if len(filter) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

var reservedPayloadKeys = map[string]struct{}{
	payloadDocID:    {},
	payloadDocTitle: {},
	payloadFilename: {},
	payloadText:     {},
	payloadTenant:   {},
}

func extraPayload(payload map[string]any) map[string]string {
	var out map[string]string
	for key, value := range payload {
		if _, reserved := reservedPayloadKeys[key]; reserved {
			continue
		}
		s, ok := value.(string)
		if !ok {
			continue
		}
		if out == nil {
			out = make(map[string]string, 4)
		}
		out[key] = s
	}
	return out
}

func anyToString(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case float64:
		// Qdrant numeric point ids arrive as JSON numbers.
		return fmt.Sprintf("%.0f", value)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", value)
	}
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
