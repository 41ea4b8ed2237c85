package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
	"github.com/kirillkom/retrieval-engine/internal/core/ports"
)

// DocumentDirectory resolves fragment-level document ids to their display
// metadata. The documents table is owned by the ingestion pipeline; this side
// only reads it.
type DocumentDirectory struct {
	db *sql.DB
}

func NewDocumentDirectory(db *sql.DB) *DocumentDirectory {
	return &DocumentDirectory{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

var _ ports.DocumentDirectory = (*DocumentDirectory)(nil)

// ResolveRefs returns the known documents among the given ids, keyed by id.
// Unknown ids are simply absent from the result.
func (d *DocumentDirectory) ResolveRefs(ctx context.Context, ids []string) (map[string]domain.DocumentRef, error) {
	if len(ids) == 0 {
		return map[string]domain.DocumentRef{}, nil
	}

	placeholders := make([]string, 0, len(ids))
	args := make([]any, 0, len(ids))
	for i, id := range ids {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, id)
	}

	query := fmt.Sprintf(`
SELECT id, title, filename
FROM documents
WHERE id IN (%s)
`, strings.Join(placeholders, ", "))

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.DocumentRef, len(ids))
	for rows.Next() {
		var ref domain.DocumentRef
		var title sql.NullString
		if err := rows.Scan(&ref.ID, &title, &ref.Filename); err != nil {
			return nil, fmt.Errorf("scan document ref: %w", err)
		}
		ref.Title = title.String
		out[ref.ID] = ref
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document refs: %w", err)
	}
	return out, nil
}
