package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
)

// requestFingerprint derives the cache key from every request field that
// affects the result, including the tenant scope, so a response is never
// served across tenant boundaries. The encoding is canonical: filter pairs
// are sorted and the query is trimmed and case-folded for keying only.
func requestFingerprint(req domain.RetrievalRequest) string {
	var b strings.Builder
	b.WriteString("q=")
	b.WriteString(strings.ToLower(strings.TrimSpace(req.Query)))
	fmt.Fprintf(&b, "|mode=%s|k=%d|col=%s|tenant=%s|rerank=%t|graph=%t",
		req.Mode, req.TopK, req.Collection, req.Tenant, req.Rerank, req.EnableGraph)

	if len(req.Filter) > 0 {
		keys := make([]string, 0, len(req.Filter))
		for key := range req.Filter {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(&b, "|f:%s=%s", key, req.Filter[key])
		}
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
