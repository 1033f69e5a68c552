package chat

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/calyxbio/embryograde/internal/application"
	domai "github.com/calyxbio/embryograde/internal/domain/ai"
	domain "github.com/calyxbio/embryograde/internal/domain/chat"
	"github.com/calyxbio/embryograde/internal/domain/review"
	"github.com/calyxbio/embryograde/internal/domain/reviewerrors"
)

// errorReply is what the assistant says when the model call fails. The
// transcript stays append-only, so the failure surfaces as a normal turn.
const errorReply = "Sorry, I couldn't complete that request. The assistant is temporarily unavailable; please try again."

// Service answers questions about one reviewed item, grounded in its
// assessment. Every exchange is persisted as a pair of transcript turns.
type Service struct {
	Items      review.Repository
	Transcript domain.Repository
	AI         domai.Client
	Errors     reviewerrors.Repository
	Clock      application.Clock
	Log        *slog.Logger
}

func (s *Service) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// History returns the item's transcript, oldest first.
func (s *Service) History(ctx context.Context, clinic, itemID string) ([]*domain.Turn, error) {
	if _, err := s.Items.Get(ctx, clinic, review.ItemID(itemID)); err != nil {
		return nil, err
	}
	return s.Transcript.History(ctx, clinic, itemID, 0)
}

// Ask sends one user message to the assistant and returns the two turns
// appended to the transcript. A failed model call still yields an assistant
// turn carrying a generic error message; there is no automatic retry.
func (s *Service) Ask(ctx context.Context, clinic, itemID, message string, useSearch bool) ([]*domain.Turn, error) {
	it, err := s.Items.Get(ctx, clinic, review.ItemID(itemID))
	if err != nil {
		return nil, err
	}

	history, err := s.Transcript.History(ctx, clinic, itemID, 0)
	if err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	userTurn := &domain.Turn{
		ClinicID:  clinic,
		ItemID:    itemID,
		Role:      domain.RoleUser,
		Text:      message,
		CreatedAt: now,
	}
	if err := s.Transcript.Append(ctx, userTurn); err != nil {
		return nil, err
	}

	reply, err := s.AI.Chat(ctx, history, message, s.grounding(it), useSearch)
	assistantTurn := &domain.Turn{
		ClinicID:  clinic,
		ItemID:    itemID,
		Role:      domain.RoleAssistant,
		CreatedAt: s.Clock.Now(),
	}
	if err != nil {
		s.logger().Error("chat call failed", "clinic", clinic, "item", itemID, "error", err)
		s.recordFailure(ctx, clinic, itemID, err)
		assistantTurn.Text = errorReply
	} else {
		assistantTurn.Text = reply.Text
		assistantTurn.Citations = reply.Citations
	}
	if err := s.Transcript.Append(ctx, assistantTurn); err != nil {
		return nil, err
	}

	return []*domain.Turn{userTurn, assistantTurn}, nil
}

// grounding serializes the item's assessment for the system prompt. An item
// still being analyzed grounds the chat with an empty document and the
// prompt tells the model to say the assessment is pending.
func (s *Service) grounding(it *review.Item) string {
	if !it.HasResult() {
		return ""
	}
	data, err := json.Marshal(it.Result)
	if err != nil {
		return ""
	}
	return string(data)
}

func (s *Service) recordFailure(ctx context.Context, clinic, itemID string, cause error) {
	if s.Errors == nil {
		return
	}
	details, _ := json.Marshal(map[string]string{"error": cause.Error()})
	e := &reviewerrors.ReviewError{
		ClinicID:    clinic,
		ItemID:      itemID,
		Phase:       "chat",
		Message:     cause.Error(),
		DetailsJSON: string(details),
		CreatedAt:   s.Clock.Now(),
	}
	if err := s.Errors.Save(ctx, e); err != nil {
		s.logger().Warn("recording chat failure failed", "clinic", clinic, "item", itemID, "error", err)
	}
}
