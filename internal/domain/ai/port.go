package ai

import (
	"context"

	"github.com/calyxbio/embryograde/internal/domain/chat"
)

// GradeRequest carries the media frames and patient context for one grading
// call. Frames holds raw JPEG bytes: one frame for a still image, several
// sampled frames for a time-lapse video.
type GradeRequest struct {
	Frames        [][]byte
	MediaKind     string
	MaternalAge   int
	RetrievalDate string
}

// ChatReply is the assistant's answer plus optional web citations.
type ChatReply struct {
	Text      string          `json:"text"`
	Citations []chat.Citation `json:"citations,omitempty"`
}

// Client is the outbound port to the multimodal model service.
type Client interface {
	// Grade runs the embryo assessment and returns the model's raw JSON.
	Grade(ctx context.Context, req GradeRequest) (string, error)
	// Chat answers one question grounded in the item's assessment context.
	Chat(ctx context.Context, history []*chat.Turn, message, grounding string, useSearch bool) (ChatReply, error)
}
