package chat

import "time"

// Role enum
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Citation is one web source the assistant grounded an answer on.
type Citation struct {
	URI   string `json:"uri"`
	Title string `json:"title,omitempty"`
}

// Turn is a single transcript entry. Transcripts are append-only and scoped
// to one analysis item.
type Turn struct {
	ID        int64      `json:"id,omitempty"`
	ClinicID  string     `json:"clinic_id"`
	ItemID    string     `json:"item_id"`
	Role      Role       `json:"role"`
	Text      string     `json:"text"`
	Citations []Citation `json:"citations,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
