package session

import (
	"time"

	"github.com/calyxbio/embryograde/internal/domain/assessment"
	"github.com/calyxbio/embryograde/internal/domain/review"
)

// Record is the persisted form of an analysis item in a session snapshot.
// The media handle is transient and deliberately excluded: a restored item
// has no media to re-analyze, so a record without a result comes back as
// errored rather than pending.
type Record struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	MediaKind  review.MediaKind   `json:"media_kind"`
	Status     review.Status      `json:"status"`
	Patient    *review.Patient    `json:"patient,omitempty"`
	Scale      float64            `json:"scale,omitempty"`
	Result     *assessment.Result `json:"result,omitempty"`
	UploadedAt time.Time          `json:"uploaded_at"`
}

// Snapshot serializes a clinic's item list into records, dropping the media
// handles.
func Snapshot(items []*review.Item) []Record {
	records := make([]Record, 0, len(items))
	for _, it := range items {
		records = append(records, Record{
			ID:         string(it.ID),
			Name:       it.Name,
			MediaKind:  it.MediaKind,
			Status:     it.Status,
			Patient:    it.Patient,
			Scale:      it.Scale,
			Result:     it.Result,
			UploadedAt: it.UploadedAt,
		})
	}
	return records
}

// Restore rebuilds items from snapshot records. Records that never received
// a result cannot resume analysis without their media, so they come back
// with status error.
func Restore(clinic string, records []Record) []*review.Item {
	items := make([]*review.Item, 0, len(records))
	for _, rec := range records {
		it := &review.Item{
			ID:         review.ItemID(rec.ID),
			ClinicID:   clinic,
			Name:       rec.Name,
			MediaKind:  rec.MediaKind,
			Status:     rec.Status,
			Patient:    rec.Patient,
			Scale:      rec.Scale,
			Result:     rec.Result,
			UploadedAt: rec.UploadedAt,
		}
		if it.Result == nil {
			it.Status = review.StatusError
			it.Error = "analysis lost on session restore"
		}
		items = append(items, it)
	}
	return items
}
