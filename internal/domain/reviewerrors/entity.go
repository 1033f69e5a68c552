package reviewerrors

import "time"

// ReviewError represents a persisted failure entry for one item operation.
// Failures are terminal per operation; this log exists for auditing, not
// retry bookkeeping.
type ReviewError struct {
	ID          int64     `json:"id"`
	ClinicID    string    `json:"clinic_id"`
	ItemID      string    `json:"item_id"`
	Phase       string    `json:"phase,omitempty"` // analyze | chat | report
	Message     string    `json:"message"`
	DetailsJSON string    `json:"details_json,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
