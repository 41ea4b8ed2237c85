package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
	"github.com/kirillkom/retrieval-engine/internal/core/ports"
)

const (
	defaultRRFK             = 60
	defaultGraphScoreCap    = 0.7
	defaultDocMultiplier    = 2
	defaultFusionCandidates = 30

	defaultSearchTimeout = 10 * time.Second
	defaultGraphTimeout  = 10 * time.Second
	defaultRerankTimeout = 5 * time.Second
	defaultCacheTimeout  = 2 * time.Second
	defaultCacheTTL      = 5 * time.Minute
)

// Settings carries the tuning knobs of the engine. The RRF constant and the
// graph score cap are empirical defaults, not structural requirements, so
// both are configuration.
type Settings struct {
	RRFK             int
	GraphScoreCap    float64
	DocMultiplier    int
	FusionCandidates int

	SearchTimeout time.Duration
	GraphTimeout  time.Duration
	RerankTimeout time.Duration
	CacheTimeout  time.Duration
	CacheTTL      time.Duration
}

func (s Settings) normalize() Settings {
	out := s
	if out.RRFK <= 0 {
		out.RRFK = defaultRRFK
	}
	if out.GraphScoreCap <= 0 || out.GraphScoreCap > 1 {
		out.GraphScoreCap = defaultGraphScoreCap
	}
	if out.DocMultiplier <= 0 {
		out.DocMultiplier = defaultDocMultiplier
	}
	if out.FusionCandidates <= 0 {
		out.FusionCandidates = defaultFusionCandidates
	}
	if out.SearchTimeout <= 0 {
		out.SearchTimeout = defaultSearchTimeout
	}
	if out.GraphTimeout <= 0 {
		out.GraphTimeout = defaultGraphTimeout
	}
	if out.RerankTimeout <= 0 {
		out.RerankTimeout = defaultRerankTimeout
	}
	if out.CacheTimeout <= 0 {
		out.CacheTimeout = defaultCacheTimeout
	}
	if out.CacheTTL <= 0 {
		out.CacheTTL = defaultCacheTTL
	}
	return out
}

// RetrievalOrchestrator coordinates one retrieval end to end: cache lookup,
// mode dispatch, concurrent graph enrichment, merge, optional rerank, cache
// write. All collaborators are injected once at startup.
type RetrievalOrchestrator struct {
	strategies map[domain.Mode]baseSearchStrategy
	graph      ports.GraphQuery
	reranker   ports.Reranker
	cache      ports.ResponseCache
	directory  ports.DocumentDirectory
	observers  []ports.RetrievalObserver
	settings   Settings
	logger     *slog.Logger
}

func NewRetrievalOrchestrator(
	embedder ports.Embedder,
	vector ports.VectorIndex,
	lexical ports.LexicalIndex,
	graph ports.GraphQuery,
	reranker ports.Reranker,
	cache ports.ResponseCache,
	directory ports.DocumentDirectory,
	settings Settings,
	logger *slog.Logger,
	observers ...ports.RetrievalObserver,
) *RetrievalOrchestrator {
	settings = settings.normalize()
	if logger == nil {
		logger = slog.Default()
	}

	strategies := map[domain.Mode]baseSearchStrategy{
		domain.ModeSemantic: &semanticStrategy{embedder: embedder, vector: vector},
		domain.ModeKeyword:  &keywordStrategy{lexical: lexical},
		domain.ModeHybrid: &hybridStrategy{
			embedder:         embedder,
			vector:           vector,
			lexical:          lexical,
			fusionCandidates: settings.FusionCandidates,
			rrfK:             settings.RRFK,
		},
		domain.ModeHierarchical: &hierarchicalStrategy{
			embedder:      embedder,
			vector:        vector,
			docMultiplier: settings.DocMultiplier,
		},
	}

	return &RetrievalOrchestrator{
		strategies: strategies,
		graph:      graph,
		reranker:   reranker,
		cache:      cache,
		directory:  directory,
		observers:  observers,
		settings:   settings,
		logger:     logger,
	}
}

func (o *RetrievalOrchestrator) Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResponse, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req.Query = strings.TrimSpace(req.Query)

	fingerprint := requestFingerprint(req)
	event := domain.RetrievalEvent{
		RequestID:   domain.RequestIDFromContext(ctx),
		Tenant:      req.Tenant,
		Mode:        req.Mode,
		Fingerprint: fingerprint,
	}

	if cached, hit := o.cacheLookup(ctx, fingerprint); hit {
		event.CacheHit = true
		event.GraphEnhanced = cached.GraphEnhanced
		event.ResultCount = len(cached.Results)
		event.DurationMS = float64(time.Since(start).Microseconds()) / 1000.0
		o.notify(ctx, event)
		return cached, nil
	}

	scope := ports.SearchScope{
		Tenant:     req.Tenant,
		Collection: req.Collection,
		Filter:     req.Filter,
	}
	graphWanted := req.EnableGraph || req.Mode == domain.ModeGraph

	// Leave the reranker room to promote lower-ranked fragments.
	candidateLimit := req.TopK
	if req.Rerank {
		candidateLimit = 2 * req.TopK
	}

	base, graphResult, err := o.runSearch(ctx, req, scope, graphWanted, candidateLimit)
	if err != nil {
		return nil, err
	}

	merged := base
	if graphWanted {
		graphCandidates := o.resolveDocumentRefs(ctx, graphResult.Candidates)
		merged = mergeGraphCandidates(base, graphCandidates, candidateLimit, o.settings.GraphScoreCap)
	}
	event.MergedCount = len(merged)

	if req.Rerank && o.reranker != nil && len(merged) > 0 {
		reranked, rerankErr := o.runRerank(ctx, req.Query, merged, req.TopK)
		if rerankErr != nil {
			// Reranking is a quality enhancement, not a correctness
			// requirement: keep the unreranked result.
			o.logger.Warn("rerank_skipped", "fingerprint", fingerprint, "error", rerankErr)
			event.RerankSkipped = true
		} else {
			merged = reranked
			event.Reranked = true
		}
	}

	// The top_k cap is enforced as the very last step, after all merging
	// and reranking.
	results := trimCandidates(merged, req.TopK)

	response := &domain.RetrievalResponse{
		Query:          req.Query,
		Mode:           req.Mode,
		TotalResults:   len(results),
		Results:        results,
		GraphEnhanced:  graphWanted,
		GraphNarrative: graphResult.Narrative,
	}

	o.cacheStore(ctx, fingerprint, response)

	event.GraphEnhanced = graphWanted
	event.ResultCount = len(results)
	event.DurationMS = float64(time.Since(start).Microseconds()) / 1000.0
	o.notify(ctx, event)
	return response, nil
}

// runSearch executes the mode-specific base path and, when requested, the
// graph enrichment concurrently. A graph failure cancels the base sub-task
// and fails the whole request; there is no silent degradation once the
// caller asked for graph enrichment.
func (o *RetrievalOrchestrator) runSearch(
	ctx context.Context,
	req domain.RetrievalRequest,
	scope ports.SearchScope,
	graphWanted bool,
	candidateLimit int,
) ([]domain.FragmentCandidate, domain.GraphResult, error) {
	if req.Mode == domain.ModeGraph {
		graphResult, err := o.runGraphQuery(ctx, req.Query, scope)
		if err != nil {
			return nil, domain.GraphResult{}, err
		}
		return nil, graphResult, nil
	}

	strategy, ok := o.strategies[req.Mode]
	if !ok {
		return nil, domain.GraphResult{}, domain.WrapError(domain.ErrInvalidInput, "dispatch mode", errors.New(string(req.Mode)))
	}

	if !graphWanted {
		base, err := o.runBaseSearch(ctx, strategy, req.Query, scope, candidateLimit)
		return base, domain.GraphResult{}, err
	}

	var base []domain.FragmentCandidate
	var graphResult domain.GraphResult
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		base, err = o.runBaseSearch(groupCtx, strategy, req.Query, scope, candidateLimit)
		return err
	})
	group.Go(func() error {
		var err error
		graphResult, err = o.runGraphQuery(groupCtx, req.Query, scope)
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, domain.GraphResult{}, err
	}
	return base, graphResult, nil
}

func (o *RetrievalOrchestrator) runBaseSearch(
	ctx context.Context,
	strategy baseSearchStrategy,
	query string,
	scope ports.SearchScope,
	candidateLimit int,
) ([]domain.FragmentCandidate, error) {
	searchCtx, cancel := context.WithTimeout(ctx, o.settings.SearchTimeout)
	defer cancel()

	base, err := strategy.search(searchCtx, query, scope, candidateLimit)
	if err != nil {
		return nil, classifyStageError("base search", err)
	}
	return base, nil
}

func (o *RetrievalOrchestrator) runGraphQuery(ctx context.Context, query string, scope ports.SearchScope) (domain.GraphResult, error) {
	if o.graph == nil {
		return domain.GraphResult{}, domain.WrapError(domain.ErrGraphUnavailable, "graph enrichment", errors.New("no graph backend configured"))
	}

	graphCtx, cancel := context.WithTimeout(ctx, o.settings.GraphTimeout)
	defer cancel()

	result, err := o.graph.Query(graphCtx, query, scope)
	if err != nil {
		return domain.GraphResult{}, domain.WrapError(domain.ErrGraphUnavailable, "graph enrichment", err)
	}
	return result, nil
}

func (o *RetrievalOrchestrator) runRerank(ctx context.Context, query string, candidates []domain.FragmentCandidate, topK int) ([]domain.FragmentCandidate, error) {
	rerankCtx, cancel := context.WithTimeout(ctx, o.settings.RerankTimeout)
	defer cancel()
	return o.reranker.Rerank(rerankCtx, query, candidates, topK)
}

func (o *RetrievalOrchestrator) cacheLookup(ctx context.Context, fingerprint string) (*domain.RetrievalResponse, bool) {
	if o.cache == nil {
		return nil, false
	}
	cacheCtx, cancel := context.WithTimeout(ctx, o.settings.CacheTimeout)
	defer cancel()

	cached, hit, err := o.cache.Get(cacheCtx, fingerprint)
	if err != nil {
		// An unreachable cache never blocks a retrieval that can still be
		// computed; recoverable cache conditions stay inside this layer.
		o.logger.Warn("cache_lookup_failed", "fingerprint", fingerprint, "error", err)
		return nil, false
	}
	return cached, hit
}

// cacheStore is fire-and-forget relative to the response path: a write
// failure is logged and never fails the already-computed response.
func (o *RetrievalOrchestrator) cacheStore(ctx context.Context, fingerprint string, response *domain.RetrievalResponse) {
	if o.cache == nil {
		return
	}
	cacheCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.settings.CacheTimeout)
	defer cancel()

	if err := o.cache.Put(cacheCtx, fingerprint, response, o.settings.CacheTTL); err != nil {
		o.logger.Warn("cache_write_failed", "fingerprint", fingerprint, "error", err)
	}
}

func (o *RetrievalOrchestrator) notify(ctx context.Context, event domain.RetrievalEvent) {
	for _, observer := range o.observers {
		observer.ObserveRetrieval(ctx, event)
	}
}

// resolveDocumentRefs fills missing owning-document titles and filenames for
// graph-sourced candidates through the document directory. Resolution
// failures are absorbed: candidates keep their partial references.
func (o *RetrievalOrchestrator) resolveDocumentRefs(ctx context.Context, candidates []domain.FragmentCandidate) []domain.FragmentCandidate {
	if o.directory == nil || len(candidates) == 0 {
		return candidates
	}

	missing := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		doc := candidate.Document
		if doc.ID == "" || (doc.Title != "" && doc.Filename != "") {
			continue
		}
		if _, dup := seen[doc.ID]; dup {
			continue
		}
		seen[doc.ID] = struct{}{}
		missing = append(missing, doc.ID)
	}
	if len(missing) == 0 {
		return candidates
	}

	refs, err := o.directory.ResolveRefs(ctx, missing)
	if err != nil {
		o.logger.Warn("document_ref_resolution_failed", "count", len(missing), "error", err)
		return candidates
	}

	out := make([]domain.FragmentCandidate, 0, len(candidates))
	for _, candidate := range candidates {
		ref, ok := refs[candidate.Document.ID]
		if !ok {
			out = append(out, candidate)
			continue
		}
		resolved := candidate.Document
		if resolved.Title == "" {
			resolved.Title = ref.Title
		}
		if resolved.Filename == "" {
			resolved.Filename = ref.Filename
		}
		out = append(out, candidate.WithDocument(resolved))
	}
	return out
}

// classifyStageError maps raw provider failures onto the caller-visible
// taxonomy. Errors already carrying a domain kind pass through untouched.
func classifyStageError(operation string, err error) error {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput),
		domain.IsKind(err, domain.ErrUpstream),
		domain.IsKind(err, domain.ErrGraphUnavailable),
		domain.IsKind(err, domain.ErrTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return domain.WrapError(domain.ErrTimeout, operation, err)
	default:
		return domain.WrapError(domain.ErrUpstream, operation, err)
	}
}
