package httpserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	appchat "github.com/calyxbio/embryograde/internal/application/chat"
	appreviews "github.com/calyxbio/embryograde/internal/application/reviews"
	domai "github.com/calyxbio/embryograde/internal/domain/ai"
	"github.com/calyxbio/embryograde/internal/domain/geometry"
	domain "github.com/calyxbio/embryograde/internal/domain/review"
	"github.com/calyxbio/embryograde/internal/middleware"
)

// maxUploadBytes bounds one multipart upload; time-lapse clips run large.
const maxUploadBytes = 256 << 20

type Router struct {
	reviewsSvc *appreviews.Service
	chatSvc    *appchat.Service
}

func NewRouter(reviewsSvc *appreviews.Service, chatSvc *appchat.Service) http.Handler {
	r := &Router{reviewsSvc: reviewsSvc, chatSvc: chatSvc}
	mux := chi.NewRouter()

	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	mux.Route("/v1/{clinic}", func(rt chi.Router) {
		rt.Post("/items", r.wrap(r.handleUpload))
		rt.Get("/items", r.wrap(r.handleList))
		rt.Get("/items/latest", r.wrap(r.handleLatest))
		rt.Post("/items/compare", r.wrap(r.handleCompare))
		rt.Get("/items/{id}", r.wrap(r.handleGet))
		rt.Delete("/items/{id}", r.wrap(r.handleDelete))
		rt.Post("/items/{id}/calibration", r.wrap(r.handleCalibrate))
		rt.Post("/items/{id}/measure", r.wrap(r.handleMeasure))
		rt.Get("/items/{id}/chat", r.wrap(r.handleChatHistory))
		rt.Post("/items/{id}/chat", r.wrap(r.handleChatAsk))
		rt.Post("/items/{id}/report", r.wrap(r.handleReport))
		rt.Get("/summary", r.wrap(r.handleSummary))
		rt.Post("/session/save", r.wrap(r.handleSessionSave))
		rt.Post("/session/restore", r.wrap(r.handleSessionRestore))
		rt.Get("/selection", r.wrap(r.handleSelectionGet))
		rt.Put("/selection", r.wrap(r.handleSelectionPut))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			switch {
			case errors.Is(err, sql.ErrNoRows):
				http.Error(w, "not found", http.StatusNotFound)
			case errors.Is(err, domai.ErrUnsupportedMedia):
				http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
			case errors.Is(err, domai.ErrQuotaExceeded):
				http.Error(w, "ai quota exceeded", http.StatusTooManyRequests)
			case errors.Is(err, geometry.ErrInvalidCalibration):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// itemParam reads and validates the {id} URL parameter. Item ids are
// always server-issued UUIDs, so anything else is rejected up front.
func itemParam(w http.ResponseWriter, req *http.Request) (domain.ItemID, bool) {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateItemID(id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	return domain.ItemID(id), true
}

// POST /v1/{clinic}/items
// Multipart form: file (required), name, patient_name, maternal_age,
// retrieval_date. Grading runs in the background; the response carries the
// pending item right away.
func (r *Router) handleUpload(w http.ResponseWriter, req *http.Request) error {
	clinic := chi.URLParam(req, "clinic")

	req.Body = http.MaxBytesReader(w, req.Body, maxUploadBytes)
	if err := req.ParseMultipartForm(32 << 20); err != nil {
		return fmt.Errorf("parsing upload: %w", err)
	}

	file, header, err := req.FormFile("file")
	if err != nil {
		return fmt.Errorf("file field is required: %w", err)
	}
	defer file.Close()

	if err := middleware.ValidateMediaFileName(header.Filename); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("reading upload: %w", err)
	}

	var patient *domain.Patient
	if v := req.FormValue("patient_name"); v != "" || req.FormValue("maternal_age") != "" || req.FormValue("retrieval_date") != "" {
		age, _ := strconv.Atoi(req.FormValue("maternal_age"))
		patient = &domain.Patient{
			Name:          middleware.SanitizeString(v),
			MaternalAge:   age,
			RetrievalDate: middleware.SanitizeString(req.FormValue("retrieval_date")),
		}
	}

	cmd := appreviews.UploadCommand{
		Clinic:      clinic,
		FileName:    header.Filename,
		DisplayName: middleware.SanitizeString(req.FormValue("name")),
		Declared:    header.Header.Get("Content-Type"),
		Data:        data,
		Patient:     patient,
	}

	it, err := r.reviewsSvc.Upload(req.Context(), cmd)
	if err != nil {
		return err
	}

	go func() {
		middleware.IncrementAnalyses()
		middleware.IncrementAnalysesRunning()
		defer middleware.DecrementAnalysesRunning()

		if err := r.reviewsSvc.AnalyzeUntilDone(appreviews.AnalyzeCommand{
			Clinic:  clinic,
			ID:      it.ID,
			Kind:    it.MediaKind,
			Ext:     filepath.Ext(header.Filename),
			Data:    data,
			Patient: patient,
		}); err != nil {
			middleware.IncrementAnalysesFailed()
		}
	}()

	return writeJSON(w, http.StatusAccepted, map[string]any{
		"status":   "queued",
		"item":     it,
		"message":  "analysis started in background",
		"queuedAt": time.Now(),
	})
}

// GET /v1/{clinic}/items?page=&page_size=&status=&media_kind=&q=
func (r *Router) handleList(w http.ResponseWriter, req *http.Request) error {
	clinic := chi.URLParam(req, "clinic")
	q := req.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))

	filters := map[string]any{}
	if v := q.Get("status"); v != "" {
		filters["status"] = v
	}
	if v := q.Get("media_kind"); v != "" {
		filters["media_kind"] = v
	}
	if v := q.Get("q"); v != "" {
		filters["name"] = v
	}

	list, err := r.reviewsSvc.Paginate(req.Context(), clinic, page, size, filters)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /v1/{clinic}/items/latest?limit=20
func (r *Router) handleLatest(w http.ResponseWriter, req *http.Request) error {
	clinic := chi.URLParam(req, "clinic")
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	limit = middleware.ValidateLimit(limit)

	list, err := r.reviewsSvc.Latest(req.Context(), clinic, limit)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /v1/{clinic}/items/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	clinic := chi.URLParam(req, "clinic")
	id, ok := itemParam(w, req)
	if !ok {
		return nil
	}

	it, err := r.reviewsSvc.Get(req.Context(), clinic, id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, it)
}

// DELETE /v1/{clinic}/items/{id}
func (r *Router) handleDelete(w http.ResponseWriter, req *http.Request) error {
	clinic := chi.URLParam(req, "clinic")
	id, ok := itemParam(w, req)
	if !ok {
		return nil
	}

	if err := r.reviewsSvc.Delete(req.Context(), clinic, id); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"deleted":   id,
		"selection": r.reviewsSvc.Selection(clinic),
	})
}

// POST /v1/{clinic}/items/{id}/calibration
// Body: {"pixel_distance": 300, "physical_length": 100}
func (r *Router) handleCalibrate(w http.ResponseWriter, req *http.Request) error {
	clinic := chi.URLParam(req, "clinic")
	id, ok := itemParam(w, req)
	if !ok {
		return nil
	}

	var body struct {
		PixelDistance  float64 `json:"pixel_distance"`
		PhysicalLength float64 `json:"physical_length"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return err
	}

	scale, err := r.reviewsSvc.Calibrate(req.Context(), clinic, id, body.PixelDistance, body.PhysicalLength)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"scale": scale, "unit": "px/µm"})
}

// POST /v1/{clinic}/items/{id}/measure
// Body: {"a": {"x":0,"y":0}, "b": {"x":300,"y":400}}
func (r *Router) handleMeasure(w http.ResponseWriter, req *http.Request) error {
	clinic := chi.URLParam(req, "clinic")
	id, ok := itemParam(w, req)
	if !ok {
		return nil
	}

	var body struct {
		A geometry.Point `json:"a"`
		B geometry.Point `json:"b"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return err
	}

	m, err := r.reviewsSvc.Measure(req.Context(), clinic, id, body.A, body.B)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, m)
}

// POST /v1/{clinic}/items/compare
// Body: {"ids": ["a", "b", ...]}
func (r *Router) handleCompare(w http.ResponseWriter, req *http.Request) error {
	clinic := chi.URLParam(req, "clinic")

	var body struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return err
	}

	ids := make([]domain.ItemID, len(body.IDs))
	for i, v := range body.IDs {
		ids[i] = domain.ItemID(v)
	}

	out, err := r.reviewsSvc.CompareBest(req.Context(), clinic, ids)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, out)
}

// GET /v1/{clinic}/items/{id}/chat
func (r *Router) handleChatHistory(w http.ResponseWriter, req *http.Request) error {
	clinic := chi.URLParam(req, "clinic")
	id, ok := itemParam(w, req)
	if !ok {
		return nil
	}

	turns, err := r.chatSvc.History(req.Context(), clinic, string(id))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, turns)
}

// POST /v1/{clinic}/items/{id}/chat
// Body: {"message": "...", "use_search": false}
func (r *Router) handleChatAsk(w http.ResponseWriter, req *http.Request) error {
	clinic := chi.URLParam(req, "clinic")
	id, ok := itemParam(w, req)
	if !ok {
		return nil
	}

	var body struct {
		Message   string `json:"message"`
		UseSearch bool   `json:"use_search"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return err
	}
	if body.Message == "" {
		return fmt.Errorf("message is required")
	}

	turns, err := r.chatSvc.Ask(req.Context(), clinic, string(id), body.Message, body.UseSearch)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, turns)
}

// POST /v1/{clinic}/items/{id}/report
func (r *Router) handleReport(w http.ResponseWriter, req *http.Request) error {
	clinic := chi.URLParam(req, "clinic")
	id, ok := itemParam(w, req)
	if !ok {
		return nil
	}

	url, err := r.reviewsSvc.GenerateReport(req.Context(), clinic, id)
	if err != nil {
		return err
	}
	middleware.IncrementReports()
	return writeJSON(w, http.StatusOK, map[string]any{"report_url": url})
}

// GET /v1/{clinic}/summary?days=7
func (r *Router) handleSummary(w http.ResponseWriter, req *http.Request) error {
	clinic := chi.URLParam(req, "clinic")
	days, _ := strconv.Atoi(req.URL.Query().Get("days"))
	days = middleware.ValidateDays(days)

	summary, err := r.reviewsSvc.Summary(req.Context(), clinic, days)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, summary)
}

// POST /v1/{clinic}/session/save
func (r *Router) handleSessionSave(w http.ResponseWriter, req *http.Request) error {
	clinic := chi.URLParam(req, "clinic")

	n, err := r.reviewsSvc.SaveSession(req.Context(), clinic)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"saved_items": n, "savedAt": time.Now()})
}

// POST /v1/{clinic}/session/restore
func (r *Router) handleSessionRestore(w http.ResponseWriter, req *http.Request) error {
	clinic := chi.URLParam(req, "clinic")

	items, err := r.reviewsSvc.RestoreSession(req.Context(), clinic)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"restored_items": len(items),
		"items":          items,
	})
}

// GET /v1/{clinic}/selection
func (r *Router) handleSelectionGet(w http.ResponseWriter, req *http.Request) error {
	clinic := chi.URLParam(req, "clinic")
	return writeJSON(w, http.StatusOK, r.reviewsSvc.Selection(clinic))
}

// PUT /v1/{clinic}/selection
// Body: {"id": "<item id>", "toggle": false}
func (r *Router) handleSelectionPut(w http.ResponseWriter, req *http.Request) error {
	clinic := chi.URLParam(req, "clinic")

	var body struct {
		ID     string `json:"id"`
		Toggle bool   `json:"toggle"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return err
	}
	if body.ID == "" {
		return fmt.Errorf("id is required")
	}

	if body.Toggle {
		sel, err := r.reviewsSvc.ToggleSelect(req.Context(), clinic, domain.ItemID(body.ID))
		if err != nil {
			return err
		}
		return writeJSON(w, http.StatusOK, sel)
	}
	sel, err := r.reviewsSvc.Select(req.Context(), clinic, domain.ItemID(body.ID))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, sel)
}
