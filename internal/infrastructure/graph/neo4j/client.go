package neo4j

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
	"github.com/kirillkom/retrieval-engine/internal/core/ports"
)

const (
	defaultEntityLimit   = 8
	defaultFragmentLimit = 20
	neighborsPerEntity   = 5
)

// entityExpansionQuery resolves the query terms against the entity fulltext
// index, walks one hop to neighboring entities, then collects the fragments
// in which the matched entities are mentioned.
const entityExpansionQuery = `
CALL db.index.fulltext.queryNodes($index, $query) YIELD node AS entity, score
WITH entity, score
ORDER BY score DESC
LIMIT $entityLimit
OPTIONAL MATCH (entity)-[]-(neighbor:Entity)
WITH entity, score, collect(DISTINCT neighbor.name)[0..$neighborLimit] AS neighbors
MATCH (entity)-[:MENTIONED_IN]->(fragment:Fragment)-[:PART_OF]->(doc:Document)
WHERE ($tenant = '' OR doc.tenant = $tenant)
  AND ($collection = '' OR doc.collection = $collection)
RETURN entity.name AS entity,
       score,
       neighbors,
       fragment.id AS fragmentId,
       fragment.text AS text,
       doc.id AS docId,
       doc.title AS docTitle,
       doc.filename AS filename
ORDER BY score DESC
LIMIT $fragmentLimit`

type Config struct {
	URI           string
	Username      string
	Password      string
	Database      string
	FulltextIndex string
}

// GraphSearch answers retrieval queries from the entity graph. It is a read
// side only; graph construction happens in the ingestion pipeline.
type GraphSearch struct {
	driver        neo4j.DriverWithContext
	database      string
	fulltextIndex string
}

func New(cfg Config) (*GraphSearch, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	index := cfg.FulltextIndex
	if index == "" {
		index = "entity_names"
	}
	return &GraphSearch{
		driver:        driver,
		database:      cfg.Database,
		fulltextIndex: index,
	}, nil
}

var _ ports.GraphQuery = (*GraphSearch)(nil)

func (g *GraphSearch) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func (g *GraphSearch) Query(ctx context.Context, queryText string, scope ports.SearchScope) (domain.GraphResult, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: g.database,
	})
	defer session.Close(ctx)

	records, err := neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) ([]*neo4j.Record, error) {
		result, err := tx.Run(ctx, entityExpansionQuery, map[string]any{
			"index":         g.fulltextIndex,
			"query":         fulltextEscape(queryText),
			"entityLimit":   defaultEntityLimit,
			"neighborLimit": neighborsPerEntity,
			"fragmentLimit": defaultFragmentLimit,
			"tenant":        scope.Tenant,
			"collection":    scope.Collection,
		})
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return domain.GraphResult{}, fmt.Errorf("graph query: %w", err)
	}

	return buildGraphResult(records), nil
}

type entityMatch struct {
	name      string
	neighbors []string
}

func buildGraphResult(records []*neo4j.Record) domain.GraphResult {
	candidates := make([]domain.FragmentCandidate, 0, len(records))
	seenFragments := make(map[string]struct{}, len(records))
	entities := make([]entityMatch, 0, defaultEntityLimit)
	seenEntities := make(map[string]struct{}, defaultEntityLimit)

	for _, record := range records {
		row := record.AsMap()
		entity := stringValue(row, "entity")
		if _, dup := seenEntities[entity]; entity != "" && !dup {
			seenEntities[entity] = struct{}{}
			entities = append(entities, entityMatch{
				name:      entity,
				neighbors: stringListValue(row, "neighbors"),
			})
		}

		fragmentID := stringValue(row, "fragmentId")
		if fragmentID == "" {
			continue
		}
		if _, dup := seenFragments[fragmentID]; dup {
			continue
		}
		seenFragments[fragmentID] = struct{}{}

		candidates = append(candidates, domain.FragmentCandidate{
			ID:    fragmentID,
			Text:  stringValue(row, "text"),
			Score: normalizeFulltextScore(floatValue(row, "score")),
			Document: domain.DocumentRef{
				ID:       stringValue(row, "docId"),
				Title:    stringValue(row, "docTitle"),
				Filename: stringValue(row, "filename"),
			},
			Metadata: map[string]string{"entity": entity},
		})
	}

	return domain.GraphResult{
		Narrative:  buildNarrative(entities),
		Candidates: candidates,
	}
}

// buildNarrative summarizes the matched subgraph in one or two plain
// sentences so the caller can show how the extra fragments were found.
func buildNarrative(entities []entityMatch) string {
	if len(entities) == 0 {
		return ""
	}

	names := make([]string, 0, len(entities))
	for _, entity := range entities {
		names = append(names, entity.name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Matched %d entities: %s.", len(entities), strings.Join(names, ", "))
	for _, entity := range entities {
		if len(entity.neighbors) == 0 {
			continue
		}
		fmt.Fprintf(&b, " %s is linked to %s.", entity.name, strings.Join(entity.neighbors, ", "))
	}
	return b.String()
}

// normalizeFulltextScore maps the unbounded Lucene score into (0, 1) so the
// merge layer compares it against cosine similarities on a common scale.
func normalizeFulltextScore(raw float64) float64 {
	if raw <= 0 {
		return 0
	}
	return raw / (raw + 1)
}

// fulltextEscape neutralizes Lucene operators so user text is always treated
// as plain terms.
func fulltextEscape(query string) string {
	var b strings.Builder
	for _, r := range query {
		if strings.ContainsRune(`+-&|!(){}[]^"~*?:\/`, r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

func stringValue(row map[string]any, key string) string {
	if v, ok := row[key].(string); ok {
		return v
	}
	return ""
}

func floatValue(row map[string]any, key string) float64 {
	switch v := row[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func stringListValue(row map[string]any, key string) []string {
	raw, ok := row[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
