package refresh

import (
	"context"

	"github.com/mmrzaf/listmat/internal/domain"
	"github.com/mmrzaf/listmat/internal/infra/repos/lists"
)

// Store is the part of the list repository the refresh pipeline needs.
type Store interface {
	InTx(ctx context.Context, fn func(lists.Tx) error) error
	GetList(ctx context.Context, id string) (*domain.List, error)
	GenerationStatus(ctx context.Context, id string) (domain.Status, error)
	AppendContent(ctx context.Context, listID, generationID string, startSeq int64, ids []string) error
	ContentPage(ctx context.Context, listID, generationID string, afterSeq int64, limit int) ([]domain.ContentRow, error)
	DeleteContent(ctx context.Context, listID, generationID string) (int64, error)
	DeleteStaleContent(ctx context.Context, listID string, keep ...string) (int64, error)
}

var _ Store = (*lists.Repository)(nil)
