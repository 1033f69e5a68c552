package reviews

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/calyxbio/embryograde/internal/application"
	domai "github.com/calyxbio/embryograde/internal/domain/ai"
	"github.com/calyxbio/embryograde/internal/domain/assessment"
	chatdomain "github.com/calyxbio/embryograde/internal/domain/chat"
	"github.com/calyxbio/embryograde/internal/domain/geometry"
	domain "github.com/calyxbio/embryograde/internal/domain/review"
	"github.com/calyxbio/embryograde/internal/domain/reviewerrors"
	"github.com/calyxbio/embryograde/internal/domain/session"
	"github.com/calyxbio/embryograde/internal/infra/media"
)

// snapshotLimit caps how many items one session snapshot carries.
const snapshotLimit = 500

// FrameSampler turns uploaded video bytes into frames for the model.
type FrameSampler interface {
	ExtractFrames(videoData []byte, ext string) ([][]byte, error)
}

// ReportGenerator renders an assessment report to a local file.
type ReportGenerator interface {
	Generate(it *domain.Item) (string, error)
}

// Service implements the review use-cases. Safe for concurrent use.
type Service struct {
	Repo       domain.Repository
	Media      domain.MediaStore
	Artifacts  domain.ArtifactStore
	AI         domai.Client
	Transcript chatdomain.Repository
	Errors     reviewerrors.Repository
	Sessions   session.Store
	Frames     FrameSampler
	Reports    ReportGenerator
	Clock      application.Clock
	Log        *slog.Logger
}

func (s *Service) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

//
// ==== USE CASES ====
//

// UploadCommand carries one incoming media file plus patient metadata.
type UploadCommand struct {
	Clinic      string
	FileName    string
	DisplayName string
	Declared    string // declared content type from the upload
	Data        []byte
	Patient     *domain.Patient
}

// Upload validates the media, stores it and registers a pending item. The
// grading call itself runs in the background (AnalyzeUntilDone); the item is
// returned immediately in pending state. Unsupported media is rejected here,
// before anything reaches the model.
func (s *Service) Upload(ctx context.Context, cmd UploadCommand) (*domain.Item, error) {
	head := cmd.Data
	if len(head) > 512 {
		head = head[:512]
	}
	kind, contentType, err := media.DetectKind(cmd.FileName, cmd.Declared, head)
	if err != nil {
		return nil, err
	}

	id := domain.ItemID(uuid.New().String())
	name := strings.TrimSpace(cmd.DisplayName)
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(cmd.FileName), filepath.Ext(cmd.FileName))
	}

	key := fmt.Sprintf("%s/media/%s%s", cmd.Clinic, id, strings.ToLower(filepath.Ext(cmd.FileName)))
	url, err := s.Media.UploadBytes(ctx, key, cmd.Data, contentType)
	if err != nil {
		return nil, fmt.Errorf("storing media: %w", err)
	}

	it := &domain.Item{
		ID:         id,
		ClinicID:   cmd.Clinic,
		Name:       name,
		MediaURL:   url,
		MediaKind:  kind,
		Status:     domain.StatusPending,
		Patient:    cmd.Patient,
		UploadedAt: s.Clock.Now(),
	}
	if err := s.Repo.Save(ctx, it); err != nil {
		return nil, err
	}

	// A fresh upload becomes the active selection, like picking it in the list.
	sel, _ := s.Sessions.LoadSelection(cmd.Clinic)
	sel.Select(string(id))
	s.Sessions.SaveSelection(cmd.Clinic, sel)

	return it, nil
}

// AnalyzeCommand drives the background grading of one uploaded item.
type AnalyzeCommand struct {
	Clinic  string
	ID      domain.ItemID
	Kind    domain.MediaKind
	Ext     string
	Data    []byte
	Patient *domain.Patient
}

// AnalyzeUntilDone runs the grading with context.Background() so it is not
// cut off when the upload request ends. One attempt, no retry: a failure
// flips the item to error with a user-visible message.
func (s *Service) AnalyzeUntilDone(cmd AnalyzeCommand) error {
	ctx := context.Background()

	if err := s.Repo.UpdateStatus(ctx, cmd.Clinic, cmd.ID, domain.StatusAnalyzing, ""); err != nil {
		s.logger().Error("mark analyzing failed", "clinic", cmd.Clinic, "item", cmd.ID, "error", err)
	}

	if err := s.analyze(ctx, cmd); err != nil {
		s.logger().Error("analysis failed", "clinic", cmd.Clinic, "item", cmd.ID, "error", err)
		if uerr := s.Repo.UpdateStatus(ctx, cmd.Clinic, cmd.ID, domain.StatusError, userMessage(err)); uerr != nil {
			s.logger().Error("mark errored failed", "clinic", cmd.Clinic, "item", cmd.ID, "error", uerr)
		}
		s.recordFailure(ctx, cmd.Clinic, string(cmd.ID), "analyze", err)
		return err
	}

	s.logger().Info("analysis complete", "clinic", cmd.Clinic, "item", cmd.ID)
	return nil
}

func (s *Service) analyze(ctx context.Context, cmd AnalyzeCommand) error {
	frames := [][]byte{cmd.Data}
	if cmd.Kind == domain.MediaVideo {
		sampled, err := s.Frames.ExtractFrames(cmd.Data, cmd.Ext)
		if err != nil {
			return fmt.Errorf("sampling video frames: %w", err)
		}
		frames = sampled
	}

	req := domai.GradeRequest{
		Frames:    frames,
		MediaKind: string(cmd.Kind),
	}
	if cmd.Patient != nil {
		req.MaternalAge = cmd.Patient.MaternalAge
		req.RetrievalDate = cmd.Patient.RetrievalDate
	}

	raw, err := s.AI.Grade(ctx, req)
	if err != nil {
		return err
	}

	res, err := assessment.Decode(raw)
	if err != nil {
		return err
	}
	return s.Repo.UpdateResult(ctx, cmd.Clinic, cmd.ID, res)
}

// Get returns one item by id
func (s *Service) Get(ctx context.Context, clinic string, id domain.ItemID) (*domain.Item, error) {
	return s.Repo.Get(ctx, clinic, id)
}

// Latest returns the N newest items
func (s *Service) Latest(ctx context.Context, clinic string, limit int) ([]*domain.Item, error) {
	return s.Repo.Latest(ctx, clinic, limit)
}

// Paginate returns one page of items with optional filters
func (s *Service) Paginate(ctx context.Context, clinic string, page, pageSize int, filters map[string]any) (domain.PaginatedResult, error) {
	return s.Repo.Paginate(ctx, clinic, page, pageSize, filters)
}

// Delete removes an item, its transcript and its selection entry in one
// pass. The selection is re-pointed at the newest remaining item so it never
// dangles and never goes empty while items remain.
func (s *Service) Delete(ctx context.Context, clinic string, id domain.ItemID) error {
	if err := s.Repo.Delete(ctx, clinic, id); err != nil {
		return err
	}
	if err := s.Transcript.DeleteByItem(ctx, clinic, string(id)); err != nil {
		s.logger().Warn("transcript cleanup failed", "clinic", clinic, "item", id, "error", err)
	}

	fallback := ""
	if remaining, err := s.Repo.Latest(ctx, clinic, 1); err == nil && len(remaining) > 0 {
		fallback = string(remaining[0].ID)
	}
	sel, _ := s.Sessions.LoadSelection(clinic)
	sel.Drop(string(id), fallback)
	s.Sessions.SaveSelection(clinic, sel)
	return nil
}

// Summary reports item counts for the last N days
func (s *Service) Summary(ctx context.Context, clinic string, sinceDays int) (map[string]any, error) {
	total, complete, errored, pending, err := s.Repo.Summary(ctx, clinic, sinceDays)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"total_items": total,
		"complete":    complete,
		"errored":     errored,
		"in_progress": pending,
	}, nil
}

// MeasureResult reports one distance measurement in the item's active unit.
type MeasureResult struct {
	Pixels     float64 `json:"pixels"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	Calibrated bool    `json:"calibrated"`
}

// Measure computes the distance between two points on the item's media,
// in micrometers when the item is calibrated and raw pixels otherwise.
func (s *Service) Measure(ctx context.Context, clinic string, id domain.ItemID, a, b geometry.Point) (MeasureResult, error) {
	it, err := s.Repo.Get(ctx, clinic, id)
	if err != nil {
		return MeasureResult{}, err
	}

	px := geometry.Distance(a, b)
	value, calibrated := geometry.Convert(px, it.Scale)
	unit := "px"
	if calibrated {
		unit = "µm"
	}
	return MeasureResult{Pixels: px, Value: value, Unit: unit, Calibrated: calibrated}, nil
}

// Calibrate derives a pixels-per-micrometer scale from a reference line of
// known physical length and persists it on the item. Degenerate input is
// rejected with ErrInvalidCalibration before anything is written.
func (s *Service) Calibrate(ctx context.Context, clinic string, id domain.ItemID, pixelDistance, physicalLength float64) (float64, error) {
	scale, err := geometry.NewScale(pixelDistance, physicalLength)
	if err != nil {
		return 0, err
	}
	if _, err := s.Repo.Get(ctx, clinic, id); err != nil {
		return 0, err
	}
	if err := s.Repo.UpdateScale(ctx, clinic, id, scale); err != nil {
		return 0, err
	}
	return scale, nil
}

// CompareOutcome names the best candidate of a cohort comparison.
type CompareOutcome struct {
	BestID domain.ItemID      `json:"best_id"`
	Score  float64            `json:"score"`
	Items  []*domain.Item     `json:"items"`
	Result *assessment.Result `json:"result"`
}

// CompareBest ranks the given cohort and returns the transfer candidate with
// the highest effective score. Items without a completed assessment take
// part in the comparison view but never win.
func (s *Service) CompareBest(ctx context.Context, clinic string, ids []domain.ItemID) (CompareOutcome, error) {
	if len(ids) < 2 {
		return CompareOutcome{}, fmt.Errorf("comparison needs at least two items")
	}

	items := make([]*domain.Item, 0, len(ids))
	cohort := make([]assessment.Ranked, 0, len(ids))
	for _, id := range ids {
		it, err := s.Repo.Get(ctx, clinic, id)
		if err != nil {
			return CompareOutcome{}, err
		}
		items = append(items, it)
		cohort = append(cohort, assessment.Ranked{Key: string(it.ID), Result: it.Result})
	}

	// Comparing pins the selection to the compared cohort.
	sel := session.Selection{IDs: make([]string, len(ids)), Compare: true}
	for i, id := range ids {
		sel.IDs[i] = string(id)
	}
	s.Sessions.SaveSelection(clinic, sel)

	best, ok := assessment.BestCandidate(cohort)
	if !ok {
		return CompareOutcome{Items: items}, nil
	}
	return CompareOutcome{
		BestID: domain.ItemID(best.Key),
		Score:  best.Result.EffectiveScore(),
		Items:  items,
		Result: best.Result,
	}, nil
}

// GenerateReport renders the PDF for a graded item, uploads it and records
// the artifact URL on the item.
func (s *Service) GenerateReport(ctx context.Context, clinic string, id domain.ItemID) (string, error) {
	it, err := s.Repo.Get(ctx, clinic, id)
	if err != nil {
		return "", err
	}

	path, err := s.Reports.Generate(it)
	if err != nil {
		s.recordFailure(ctx, clinic, string(id), "report", err)
		return "", err
	}

	key := fmt.Sprintf("%s/reports/%s.pdf", clinic, id)
	url, err := s.Artifacts.UploadAndCleanup(ctx, path, key)
	if err != nil {
		s.recordFailure(ctx, clinic, string(id), "report", err)
		return "", fmt.Errorf("storing report: %w", err)
	}
	if err := s.Repo.UpdateReportURL(ctx, clinic, id, url); err != nil {
		return "", err
	}
	return url, nil
}

// SaveSession snapshots the clinic's current items into the session slot.
// Media handles stay out of the snapshot; only review state is carried.
func (s *Service) SaveSession(ctx context.Context, clinic string) (int, error) {
	items, err := s.Repo.Latest(ctx, clinic, snapshotLimit)
	if err != nil {
		return 0, err
	}
	records := session.Snapshot(items)
	if err := s.Sessions.SaveSnapshot(clinic, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// RestoreSession rehydrates items from the stored snapshot. Items whose
// analysis never finished come back in error state since the in-flight work
// did not survive.
func (s *Service) RestoreSession(ctx context.Context, clinic string) ([]*domain.Item, error) {
	records, found, err := s.Sessions.LoadSnapshot(clinic)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	items := session.Restore(clinic, records)
	for _, it := range items {
		if err := s.Repo.Save(ctx, it); err != nil {
			return nil, fmt.Errorf("restoring item %s: %w", it.ID, err)
		}
	}

	if len(items) > 0 {
		if sel, ok := s.Sessions.LoadSelection(clinic); !ok || len(sel.IDs) == 0 {
			sel.Select(string(items[0].ID))
			s.Sessions.SaveSelection(clinic, sel)
		}
	}
	return items, nil
}

// Selection returns the clinic's current selection state.
func (s *Service) Selection(clinic string) session.Selection {
	sel, _ := s.Sessions.LoadSelection(clinic)
	return sel
}

// Select makes the given item the sole selection.
func (s *Service) Select(ctx context.Context, clinic string, id domain.ItemID) (session.Selection, error) {
	if _, err := s.Repo.Get(ctx, clinic, id); err != nil {
		return session.Selection{}, err
	}
	sel, _ := s.Sessions.LoadSelection(clinic)
	sel.Select(string(id))
	s.Sessions.SaveSelection(clinic, sel)
	return sel, nil
}

// ToggleSelect adds or removes the item from a multi-selection; the last
// selected item cannot be toggled away.
func (s *Service) ToggleSelect(ctx context.Context, clinic string, id domain.ItemID) (session.Selection, error) {
	if _, err := s.Repo.Get(ctx, clinic, id); err != nil {
		return session.Selection{}, err
	}
	sel, _ := s.Sessions.LoadSelection(clinic)
	sel.Toggle(string(id))
	s.Sessions.SaveSelection(clinic, sel)
	return sel, nil
}

func (s *Service) recordFailure(ctx context.Context, clinic, itemID, phase string, cause error) {
	if s.Errors == nil {
		return
	}
	details, _ := json.Marshal(map[string]string{"error": cause.Error()})
	e := &reviewerrors.ReviewError{
		ClinicID:    clinic,
		ItemID:      itemID,
		Phase:       phase,
		Message:     userMessage(cause),
		DetailsJSON: string(details),
		CreatedAt:   s.Clock.Now(),
	}
	if err := s.Errors.Save(ctx, e); err != nil {
		s.logger().Warn("recording failure entry failed", "clinic", clinic, "item", itemID, "error", err)
	}
}

// userMessage keeps the operator-facing error short; details stay in logs
// and the failure table.
func userMessage(err error) string {
	msg := err.Error()
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return msg
}
