package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	domain "github.com/calyxbio/embryograde/internal/domain/reviewerrors"
)

type ReviewErrorRepository struct {
	db *sql.DB
}

func NewReviewErrorRepository(db *sql.DB) *ReviewErrorRepository {
	return &ReviewErrorRepository{db: db}
}

func (r *ReviewErrorRepository) Save(ctx context.Context, e *domain.ReviewError) error {
	const q = `
INSERT INTO review_errors
  (clinic_id, item_id, phase, message, details_json, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`
	clinic := stringOrDash(e.ClinicID)
	item := stringOrDash(e.ItemID)
	phase := stringOrDash(e.Phase)
	msg := e.Message
	if strings.TrimSpace(msg) == "" {
		msg = "-"
	}
	details := e.DetailsJSON
	if strings.TrimSpace(details) == "" {
		details = "{}"
	} else {
		// ensure valid json; if invalid, wrap as string field
		var js any
		if json.Unmarshal([]byte(details), &js) != nil {
			b, _ := json.Marshal(map[string]string{"raw": details})
			details = string(b)
		}
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q, clinic, item, phase, msg, details, created)
	return err
}

func (r *ReviewErrorRepository) ListByItem(ctx context.Context, clinic string, itemID string, limit int) ([]*domain.ReviewError, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, clinic_id, item_id, phase, message, details_json, created_at
FROM review_errors
WHERE clinic_id = $1 AND item_id = $2
ORDER BY created_at DESC, id DESC
LIMIT $3;`
	rows, err := r.db.QueryContext(ctx, q, clinic, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.ReviewError
	for rows.Next() {
		var e domain.ReviewError
		if err := rows.Scan(&e.ID, &e.ClinicID, &e.ItemID, &e.Phase, &e.Message, &e.DetailsJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
