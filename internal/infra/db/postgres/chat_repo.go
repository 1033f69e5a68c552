package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	domain "github.com/calyxbio/embryograde/internal/domain/chat"
)

type ChatRepository struct {
	db *sql.DB
}

func NewChatRepository(db *sql.DB) *ChatRepository { return &ChatRepository{db: db} }

// Append inserts one transcript turn. Transcripts are append-only.
func (r *ChatRepository) Append(ctx context.Context, t *domain.Turn) error {
	const q = `
INSERT INTO chat_turns
  (clinic_id, item_id, role, text, citations_json, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING id
`
	citations := "[]"
	if len(t.Citations) > 0 {
		b, err := json.Marshal(t.Citations)
		if err != nil {
			return fmt.Errorf("encoding citations: %w", err)
		}
		citations = string(b)
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return r.db.QueryRowContext(ctx, q,
		stringOrDash(t.ClinicID), stringOrDash(t.ItemID), t.Role, t.Text, citations, created,
	).Scan(&t.ID)
}

// History returns the transcript for one item in chronological order.
func (r *ChatRepository) History(ctx context.Context, clinic string, itemID string, limit int) ([]*domain.Turn, error) {
	if limit <= 0 {
		limit = 200
	}
	const q = `
SELECT id, clinic_id, item_id, role, text, citations_json, created_at
FROM chat_turns
WHERE clinic_id = $1 AND item_id = $2
ORDER BY created_at ASC, id ASC
LIMIT $3;`
	rows, err := r.db.QueryContext(ctx, q, clinic, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Turn
	for rows.Next() {
		var t domain.Turn
		var citations sql.NullString
		if err := rows.Scan(&t.ID, &t.ClinicID, &t.ItemID, &t.Role, &t.Text, &citations, &t.CreatedAt); err != nil {
			return nil, err
		}
		if citations.Valid && citations.String != "" && citations.String != "[]" {
			if err := json.Unmarshal([]byte(citations.String), &t.Citations); err != nil {
				return nil, fmt.Errorf("decoding citations for turn %d: %w", t.ID, err)
			}
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// DeleteByItem removes an item's transcript when the item is deleted.
func (r *ChatRepository) DeleteByItem(ctx context.Context, clinic string, itemID string) error {
	const q = `DELETE FROM chat_turns WHERE clinic_id = $1 AND item_id = $2;`
	_, err := r.db.ExecContext(ctx, q, clinic, itemID)
	return err
}
