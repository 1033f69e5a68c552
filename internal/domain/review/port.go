package review

import (
	"context"

	"github.com/calyxbio/embryograde/internal/domain/assessment"
)

// Repository port (interface for persistence)
type Repository interface {
	Save(ctx context.Context, it *Item) error
	Get(ctx context.Context, clinic string, id ItemID) (*Item, error)
	Latest(ctx context.Context, clinic string, limit int) ([]*Item, error)
	Paginate(ctx context.Context, clinic string, page, pageSize int, filters map[string]any) (PaginatedResult, error)
	UpdateStatus(ctx context.Context, clinic string, id ItemID, status Status, errMsg string) error
	UpdateResult(ctx context.Context, clinic string, id ItemID, res *assessment.Result) error
	UpdateScale(ctx context.Context, clinic string, id ItemID, scale float64) error
	UpdateReportURL(ctx context.Context, clinic string, id ItemID, url string) error
	Delete(ctx context.Context, clinic string, id ItemID) error
	Summary(ctx context.Context, clinic string, sinceDays int) (total, complete, errored, pending int, err error)
}

// MediaStore port (interface for uploaded media bytes)
type MediaStore interface {
	UploadBytes(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// ArtifactStore port (interface for generated report artifacts)
type ArtifactStore interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
	UploadAndCleanup(ctx context.Context, localPath, key string) (string, error)
}
