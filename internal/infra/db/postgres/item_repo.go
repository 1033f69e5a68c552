package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/calyxbio/embryograde/internal/domain/assessment"
	domain "github.com/calyxbio/embryograde/internal/domain/review"
)

// ItemRepository is the Postgres alternate of the MySQL item repository;
// selected with database.driver: postgres.
type ItemRepository struct{ db *sql.DB }

func NewItemRepository(db *sql.DB) *ItemRepository { return &ItemRepository{db: db} }

const itemColumns = `id, clinic_id, uploaded_at, name, media_url, media_kind, status, error_msg,
       patient_name, maternal_age, retrieval_date, scale, result_json, report_url`

// Save insert/update Item record
func (r *ItemRepository) Save(ctx context.Context, it *domain.Item) error {
	const q = `
INSERT INTO review_items
(id, clinic_id, uploaded_at, name, media_url, media_kind, status, error_msg,
 patient_name, maternal_age, retrieval_date, scale, result_json, report_url)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO UPDATE SET
 status = EXCLUDED.status,
 error_msg = EXCLUDED.error_msg,
 scale = EXCLUDED.scale,
 result_json = EXCLUDED.result_json,
 report_url = EXCLUDED.report_url;`

	clinic := stringOrDash(it.ClinicID)
	status := stringOrDash(string(it.Status))
	uploaded := it.UploadedAt
	if uploaded.IsZero() {
		uploaded = time.Now()
	}

	var resultJSON any
	if it.Result != nil {
		b, err := json.Marshal(it.Result)
		if err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		resultJSON = string(b)
	}
	var name, age, retrieval any
	if it.Patient != nil {
		name, age, retrieval = it.Patient.Name, it.Patient.MaternalAge, it.Patient.RetrievalDate
	}

	_, err := r.db.ExecContext(ctx, q,
		it.ID, clinic, uploaded, it.Name, it.MediaURL, it.MediaKind, status, it.Error,
		name, age, retrieval, it.Scale, resultJSON, it.ReportURL,
	)
	return err
}

// Get by ID + clinic
func (r *ItemRepository) Get(ctx context.Context, clinic string, id domain.ItemID) (*domain.Item, error) {
	q := `SELECT ` + itemColumns + ` FROM review_items WHERE clinic_id=$1 AND id=$2 LIMIT 1;`
	return scanItem(r.db.QueryRowContext(ctx, q, clinic, id))
}

// Latest items per clinic, newest first
func (r *ItemRepository) Latest(ctx context.Context, clinic string, limit int) ([]*domain.Item, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + itemColumns + ` FROM review_items WHERE clinic_id=$1 ORDER BY uploaded_at DESC, id DESC LIMIT $2;`
	rows, err := r.db.QueryContext(ctx, q, clinic, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

// Paginate with offset + limit
func (r *ItemRepository) Paginate(ctx context.Context, clinic string, page, pageSize int, filters map[string]any) (domain.PaginatedResult, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := `SELECT ` + itemColumns + ` FROM review_items WHERE clinic_id=$1`
	args := []any{clinic}
	query, args = applyItemFilters(query, args, filters)
	query += fmt.Sprintf("\n ORDER BY uploaded_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, pageSize, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.PaginatedResult{}, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	items, err := collectItems(rows)
	if err != nil {
		return domain.PaginatedResult{}, err
	}

	countQuery := `SELECT COUNT(*) FROM review_items WHERE clinic_id=$1`
	countArgs := []any{clinic}
	countQuery, countArgs = applyItemFilters(countQuery, countArgs, filters)
	var total int64
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return domain.PaginatedResult{}, fmt.Errorf("getting total count: %w", err)
	}

	return domain.PaginatedResult{
		Data:       items,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	}, nil
}

// UpdateStatus updates only status and error message
func (r *ItemRepository) UpdateStatus(ctx context.Context, clinic string, id domain.ItemID, status domain.Status, errMsg string) error {
	const q = `UPDATE review_items SET status = $1, error_msg = $2 WHERE clinic_id = $3 AND id = $4;`
	_, err := r.db.ExecContext(ctx, q, status, errMsg, clinic, id)
	return err
}

// UpdateResult attaches the assessment and flips the item to complete
func (r *ItemRepository) UpdateResult(ctx context.Context, clinic string, id domain.ItemID, res *assessment.Result) error {
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	const q = `UPDATE review_items SET status = $1, error_msg = '', result_json = $2 WHERE clinic_id = $3 AND id = $4;`
	_, err = r.db.ExecContext(ctx, q, domain.StatusComplete, string(b), clinic, id)
	return err
}

// UpdateScale sets the pixel-to-micron calibration scale
func (r *ItemRepository) UpdateScale(ctx context.Context, clinic string, id domain.ItemID, scale float64) error {
	const q = `UPDATE review_items SET scale = $1 WHERE clinic_id = $2 AND id = $3;`
	_, err := r.db.ExecContext(ctx, q, scale, clinic, id)
	return err
}

// UpdateReportURL stores the generated report artifact URL
func (r *ItemRepository) UpdateReportURL(ctx context.Context, clinic string, id domain.ItemID, url string) error {
	const q = `UPDATE review_items SET report_url = $1 WHERE clinic_id = $2 AND id = $3;`
	_, err := r.db.ExecContext(ctx, q, url, clinic, id)
	return err
}

// Delete removes one item row
func (r *ItemRepository) Delete(ctx context.Context, clinic string, id domain.ItemID) error {
	const q = `DELETE FROM review_items WHERE clinic_id = $1 AND id = $2;`
	_, err := r.db.ExecContext(ctx, q, clinic, id)
	return err
}

// Summary counts items by status since N days
func (r *ItemRepository) Summary(ctx context.Context, clinic string, sinceDays int) (total, complete, errored, pending int, err error) {
	if sinceDays <= 0 {
		sinceDays = 7
	}
	cut := time.Now().AddDate(0, 0, -sinceDays)

	const q = `
SELECT COUNT(*),
       COALESCE(SUM(CASE WHEN status = 'complete' THEN 1 ELSE 0 END),0),
       COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END),0),
       COALESCE(SUM(CASE WHEN status IN ('pending','analyzing') THEN 1 ELSE 0 END),0)
FROM review_items
WHERE clinic_id=$1 AND uploaded_at >= $2;
`
	err = r.db.QueryRowContext(ctx, q, clinic, cut).Scan(&total, &complete, &errored, &pending)
	return total, complete, errored, pending, err
}

func applyItemFilters(query string, args []any, filters map[string]any) (string, []any) {
	if filters == nil {
		return query, args
	}
	for key, value := range filters {
		switch key {
		case "status":
			query += fmt.Sprintf(" AND status = $%d", len(args)+1)
			args = append(args, value)
		case "media_kind":
			query += fmt.Sprintf(" AND media_kind = $%d", len(args)+1)
			args = append(args, value)
		case "name":
			query += fmt.Sprintf(" AND name ILIKE $%d", len(args)+1)
			args = append(args, "%"+escapeLikePattern(value.(string))+"%")
		}
	}
	return query, args
}

func scanItem(row *sql.Row) (*domain.Item, error) {
	var it domain.Item
	var errMsg, patientName, retrieval, resultJSON, reportURL sql.NullString
	var maternalAge sql.NullInt64
	var scale sql.NullFloat64

	if err := row.Scan(
		&it.ID, &it.ClinicID, &it.UploadedAt, &it.Name, &it.MediaURL, &it.MediaKind, &it.Status, &errMsg,
		&patientName, &maternalAge, &retrieval, &scale, &resultJSON, &reportURL,
	); err != nil {
		return nil, err
	}
	if err := fillItem(&it, errMsg, patientName, maternalAge, retrieval, scale, resultJSON, reportURL); err != nil {
		return nil, err
	}
	return &it, nil
}

func collectItems(rows *sql.Rows) ([]*domain.Item, error) {
	var out []*domain.Item
	for rows.Next() {
		var it domain.Item
		var errMsg, patientName, retrieval, resultJSON, reportURL sql.NullString
		var maternalAge sql.NullInt64
		var scale sql.NullFloat64
		if err := rows.Scan(
			&it.ID, &it.ClinicID, &it.UploadedAt, &it.Name, &it.MediaURL, &it.MediaKind, &it.Status, &errMsg,
			&patientName, &maternalAge, &retrieval, &scale, &resultJSON, &reportURL,
		); err != nil {
			return nil, err
		}
		if err := fillItem(&it, errMsg, patientName, maternalAge, retrieval, scale, resultJSON, reportURL); err != nil {
			return nil, err
		}
		out = append(out, &it)
	}
	return out, rows.Err()
}

func fillItem(it *domain.Item, errMsg, patientName sql.NullString, maternalAge sql.NullInt64, retrieval sql.NullString, scale sql.NullFloat64, resultJSON, reportURL sql.NullString) error {
	it.Error = errMsg.String
	it.ReportURL = reportURL.String
	it.Scale = scale.Float64
	if patientName.Valid || maternalAge.Valid || retrieval.Valid {
		it.Patient = &domain.Patient{
			Name:          patientName.String,
			MaternalAge:   int(maternalAge.Int64),
			RetrievalDate: retrieval.String,
		}
	}
	if resultJSON.Valid && resultJSON.String != "" && resultJSON.String != "null" {
		var res assessment.Result
		if err := json.Unmarshal([]byte(resultJSON.String), &res); err != nil {
			return fmt.Errorf("decoding stored result for item %s: %w", it.ID, err)
		}
		it.Result = &res
	}
	return nil
}
