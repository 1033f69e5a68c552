package mysql

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

type ItemRepository struct {
	db *sql.DB
}

func NewItemRepository(db *sql.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

const itemColumns = `id, clinic_id, uploaded_at, name, media_url, media_kind, status, error_msg,
       patient_name, maternal_age, retrieval_date, scale, result_json, report_url`

// Save insert/update Item record
func (r *ItemRepository) Save(ctx context.Context, it *domain.Item) error {
	const q = `
INSERT INTO review_items
(id, clinic_id, uploaded_at, name, media_url, media_kind, status, error_msg,
 patient_name, maternal_age, retrieval_date, scale, result_json, report_url)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 status=VALUES(status), error_msg=VALUES(error_msg),
 scale=VALUES(scale), result_json=VALUES(result_json), report_url=VALUES(report_url);
`
	clinic := stringOrDash(it.ClinicID)
	status := stringOrDash(string(it.Status))
	uploaded := it.UploadedAt
	if uploaded.IsZero() {
		uploaded = time.Now()
	}

	resultJSON, err := marshalResult(it.Result)
	if err != nil {
		return err
	}
	name, age, retrieval := patientFields(it.Patient)

	_, err = r.db.ExecContext(ctx, q,
		it.ID, clinic, uploaded, it.Name, it.MediaURL, it.MediaKind, status, it.Error,
		name, age, retrieval, it.Scale, resultJSON, it.ReportURL,
	)
	return err
}

// Get by ID + clinic
func (r *ItemRepository) Get(ctx context.Context, clinic string, id domain.ItemID) (*domain.Item, error) {
	q := `SELECT ` + itemColumns + ` FROM review_items WHERE clinic_id=? AND id=? LIMIT 1;`
	return scanItem(r.db.QueryRowContext(ctx, q, clinic, id))
}

// Latest items per clinic, newest first
func (r *ItemRepository) Latest(ctx context.Context, clinic string, limit int) ([]*domain.Item, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + itemColumns + ` FROM review_items WHERE clinic_id=? ORDER BY uploaded_at DESC, id DESC LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, clinic, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

// Paginate with offset + limit (classic pagination)
func (r *ItemRepository) Paginate(ctx context.Context, clinic string, page, pageSize int, filters map[string]any) (domain.PaginatedResult, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := `SELECT ` + itemColumns + ` FROM review_items WHERE clinic_id=?`
	args := []any{clinic}
	query, args = applyItemFilters(query, args, filters)
	query += "\n ORDER BY uploaded_at DESC, id DESC LIMIT ? OFFSET ?"
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

	total, err := r.Count(ctx, clinic, filters)
	if err != nil {
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

// UpdateStatus updates only status and error message for one item
func (r *ItemRepository) UpdateStatus(ctx context.Context, clinic string, id domain.ItemID, status domain.Status, errMsg string) error {
	const q = `UPDATE review_items SET status = ?, error_msg = ? WHERE clinic_id = ? AND id = ?;`
	_, err := r.db.ExecContext(ctx, q, status, errMsg, clinic, id)
	return err
}

// UpdateResult attaches the assessment and flips the item to complete
func (r *ItemRepository) UpdateResult(ctx context.Context, clinic string, id domain.ItemID, res *assessment.Result) error {
	resultJSON, err := marshalResult(res)
	if err != nil {
		return err
	}
	const q = `UPDATE review_items SET status = ?, error_msg = '', result_json = ? WHERE clinic_id = ? AND id = ?;`
	_, err = r.db.ExecContext(ctx, q, domain.StatusComplete, resultJSON, clinic, id)
	return err
}

// UpdateScale sets the pixel-to-micron calibration scale
func (r *ItemRepository) UpdateScale(ctx context.Context, clinic string, id domain.ItemID, scale float64) error {
	const q = `UPDATE review_items SET scale = ? WHERE clinic_id = ? AND id = ?;`
	_, err := r.db.ExecContext(ctx, q, scale, clinic, id)
	return err
}

// UpdateReportURL stores the generated report artifact URL
func (r *ItemRepository) UpdateReportURL(ctx context.Context, clinic string, id domain.ItemID, url string) error {
	const q = `UPDATE review_items SET report_url = ? WHERE clinic_id = ? AND id = ?;`
	_, err := r.db.ExecContext(ctx, q, url, clinic, id)
	return err
}

// Delete removes one item row
func (r *ItemRepository) Delete(ctx context.Context, clinic string, id domain.ItemID) error {
	const q = `DELETE FROM review_items WHERE clinic_id = ? AND id = ?;`
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
SELECT COUNT(*) AS total,
       COALESCE(SUM(status = 'complete'),0) AS complete,
       COALESCE(SUM(status = 'error'),0)    AS errored,
       COALESCE(SUM(status IN ('pending','analyzing')),0) AS pending
FROM review_items
WHERE clinic_id=? AND uploaded_at >= ?;
`
	err = r.db.QueryRowContext(ctx, q, clinic, cut).Scan(&total, &complete, &errored, &pending)
	return total, complete, errored, pending, err
}

// Count returns the total number of records matching the given filters
func (r *ItemRepository) Count(ctx context.Context, clinic string, filters map[string]any) (int64, error) {
	query := "SELECT COUNT(*) FROM review_items WHERE clinic_id = ?"
	args := []any{clinic}
	query, args = applyItemFilters(query, args, filters)

	var count int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func applyItemFilters(query string, args []any, filters map[string]any) (string, []any) {
	if filters == nil {
		return query, args
	}
	for key, value := range filters {
		switch key {
		case "status":
			query += " AND status = ?"
			args = append(args, value)
		case "media_kind":
			query += " AND media_kind = ?"
			args = append(args, value)
		case "name":
			query += " AND name LIKE ?"
			args = append(args, "%"+escapeLikePattern(value.(string))+"%")
		}
	}
	return query, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*domain.Item, error) {
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
			return nil, fmt.Errorf("decoding stored result for item %s: %w", it.ID, err)
		}
		it.Result = &res
	}
	return &it, nil
}

func collectItems(rows *sql.Rows) ([]*domain.Item, error) {
	var out []*domain.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func marshalResult(res *assessment.Result) (any, error) {
	if res == nil {
		return nil, nil
	}
	b, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return string(b), nil
}

func patientFields(p *domain.Patient) (name any, age any, retrieval any) {
	if p == nil {
		return nil, nil, nil
	}
	return p.Name, p.MaternalAge, p.RetrievalDate
}
