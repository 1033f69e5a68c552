package chat

import "context"

// Repository port for the per-item transcript
type Repository interface {
	Append(ctx context.Context, t *Turn) error
	History(ctx context.Context, clinic string, itemID string, limit int) ([]*Turn, error)
	DeleteByItem(ctx context.Context, clinic string, itemID string) error
}
