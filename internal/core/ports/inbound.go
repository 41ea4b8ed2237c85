package ports

import (
	"context"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
)

// Retriever is the single operation this engine exposes. A thin HTTP/RPC
// layer wraps it; everything behind it is internal.
type Retriever interface {
	Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResponse, error)
}
