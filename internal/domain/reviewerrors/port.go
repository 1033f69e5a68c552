package reviewerrors

import "context"

// Repository defines persistence for review failure entries
type Repository interface {
	Save(ctx context.Context, e *ReviewError) error
	ListByItem(ctx context.Context, clinic string, itemID string, limit int) ([]*ReviewError, error)
}
