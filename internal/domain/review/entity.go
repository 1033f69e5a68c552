package review

import (
	"time"

	"github.com/calyxbio/embryograde/internal/domain/assessment"
)

// ItemID identifies one analysis item
type ItemID string

// MediaKind enum
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Status enum, lifecycle pending -> analyzing -> complete | error
type Status string

const (
	StatusPending   Status = "pending"
	StatusAnalyzing Status = "analyzing"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
)

// Patient value object attached at upload time
type Patient struct {
	Name          string `json:"name,omitempty"`
	MaternalAge   int    `json:"maternal_age,omitempty"`
	RetrievalDate string `json:"retrieval_date,omitempty"`
}

// Aggregate Root: Item is one uploaded micrograph or time-lapse video
// under review. At most one assessment result is ever attached.
type Item struct {
	ID         ItemID             `json:"id"`
	ClinicID   string             `json:"clinic_id"`
	Name       string             `json:"name"`
	MediaURL   string             `json:"media_url,omitempty"`
	MediaKind  MediaKind          `json:"media_kind"`
	Status     Status             `json:"status"`
	Error      string             `json:"error,omitempty"`
	Patient    *Patient           `json:"patient,omitempty"`
	Scale      float64            `json:"scale,omitempty"` // pixels per micron, > 0 once set
	Result     *assessment.Result `json:"result,omitempty"`
	ReportURL  string             `json:"report_url,omitempty"`
	UploadedAt time.Time          `json:"uploaded_at"`
}

// HasResult reports whether the AI assessment has arrived.
func (i *Item) HasResult() bool {
	return i.Result != nil
}

// Calibrated reports whether a pixel-to-micron scale is attached.
func (i *Item) Calibrated() bool {
	return i.Scale > 0
}
