package httpserver

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyxbio/embryograde/internal/application"
	appchat "github.com/calyxbio/embryograde/internal/application/chat"
	appreviews "github.com/calyxbio/embryograde/internal/application/reviews"
	"github.com/calyxbio/embryograde/internal/domain/ai"
	"github.com/calyxbio/embryograde/internal/domain/assessment"
	"github.com/calyxbio/embryograde/internal/domain/chat"
	domain "github.com/calyxbio/embryograde/internal/domain/review"
	"github.com/calyxbio/embryograde/internal/domain/reviewerrors"
	"github.com/calyxbio/embryograde/internal/domain/session"
)

var jpegHead = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

const gradedJSON = `{"gardner_score":"4AA","implantation_probability":72,"aneuploidy_risk":"Low"}`

// Item ids are server-issued UUIDs; the router rejects anything else.
const (
	idOne    = "11111111-1111-1111-1111-111111111111"
	idTwo    = "22222222-2222-2222-2222-222222222222"
	idRisky  = "aaaaaaaa-0000-0000-0000-000000000001"
	idSteady = "aaaaaaaa-0000-0000-0000-000000000002"
	idGone   = "99999999-9999-9999-9999-999999999999"
)

// ---- fakes ----

type memRepo struct {
	mu    sync.Mutex
	items map[string]*domain.Item
}

func newMemRepo() *memRepo { return &memRepo{items: map[string]*domain.Item{}} }

func (r *memRepo) Save(_ context.Context, it *domain.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *it
	r.items[it.ClinicID+"/"+string(it.ID)] = &cp
	return nil
}

func (r *memRepo) Get(_ context.Context, clinic string, id domain.ItemID) (*domain.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[clinic+"/"+string(id)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *it
	return &cp, nil
}

func (r *memRepo) Latest(_ context.Context, clinic string, limit int) ([]*domain.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Item
	for _, it := range r.items {
		if it.ClinicID == clinic {
			cp := *it
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) Paginate(_ context.Context, clinic string, page, pageSize int, _ map[string]any) (domain.PaginatedResult, error) {
	items, _ := r.Latest(context.Background(), clinic, 0)
	return domain.PaginatedResult{Data: items, Page: page, PageSize: pageSize, Total: int64(len(items))}, nil
}

func (r *memRepo) UpdateStatus(_ context.Context, clinic string, id domain.ItemID, status domain.Status, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[clinic+"/"+string(id)]
	if !ok {
		return sql.ErrNoRows
	}
	it.Status = status
	it.Error = errMsg
	return nil
}

func (r *memRepo) UpdateResult(_ context.Context, clinic string, id domain.ItemID, res *assessment.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[clinic+"/"+string(id)]
	if !ok {
		return sql.ErrNoRows
	}
	it.Result = res
	it.Status = domain.StatusComplete
	return nil
}

func (r *memRepo) UpdateScale(_ context.Context, clinic string, id domain.ItemID, scale float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[clinic+"/"+string(id)]
	if !ok {
		return sql.ErrNoRows
	}
	it.Scale = scale
	return nil
}

func (r *memRepo) UpdateReportURL(_ context.Context, clinic string, id domain.ItemID, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[clinic+"/"+string(id)]
	if !ok {
		return sql.ErrNoRows
	}
	it.ReportURL = url
	return nil
}

func (r *memRepo) Delete(_ context.Context, clinic string, id domain.ItemID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := clinic + "/" + string(id)
	if _, ok := r.items[k]; !ok {
		return sql.ErrNoRows
	}
	delete(r.items, k)
	return nil
}

func (r *memRepo) Summary(_ context.Context, clinic string, _ int) (int, int, int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int
	for _, it := range r.items {
		if it.ClinicID == clinic {
			total++
		}
	}
	return total, 0, 0, total, nil
}

type fakeStore struct{}

func (fakeStore) UploadBytes(_ context.Context, key string, _ []byte, _ string) (string, error) {
	return "https://store.test/" + key, nil
}

func (fakeStore) Upload(_ context.Context, _, key string) (string, error) {
	return "https://store.test/" + key, nil
}

func (fakeStore) UploadAndCleanup(_ context.Context, _, key string) (string, error) {
	return "https://store.test/" + key, nil
}

type fakeAI struct {
	mu         sync.Mutex
	gradeCalls int
	chatReply  ai.ChatReply
	chatErr    error
}

func (f *fakeAI) Grade(_ context.Context, _ ai.GradeRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gradeCalls++
	return gradedJSON, nil
}

func (f *fakeAI) Chat(_ context.Context, _ []*chat.Turn, _, _ string, _ bool) (ai.ChatReply, error) {
	if f.chatErr != nil {
		return ai.ChatReply{}, f.chatErr
	}
	return f.chatReply, nil
}

func (f *fakeAI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gradeCalls
}

type memTranscript struct {
	mu    sync.Mutex
	turns []*chat.Turn
}

func (m *memTranscript) Append(_ context.Context, t *chat.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = int64(len(m.turns) + 1)
	m.turns = append(m.turns, t)
	return nil
}

func (m *memTranscript) History(_ context.Context, _, itemID string, _ int) ([]*chat.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*chat.Turn
	for _, t := range m.turns {
		if t.ItemID == itemID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTranscript) DeleteByItem(_ context.Context, _, _ string) error { return nil }

type nopErrors struct{}

func (nopErrors) Save(context.Context, *reviewerrors.ReviewError) error { return nil }

func (nopErrors) ListByItem(context.Context, string, string, int) ([]*reviewerrors.ReviewError, error) {
	return nil, nil
}

type memSessions struct {
	mu         sync.Mutex
	snapshots  map[string][]session.Record
	selections map[string]session.Selection
}

func newMemSessions() *memSessions {
	return &memSessions{snapshots: map[string][]session.Record{}, selections: map[string]session.Selection{}}
}

func (m *memSessions) SaveSnapshot(clinic string, records []session.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[clinic] = records
	return nil
}

func (m *memSessions) LoadSnapshot(clinic string) ([]session.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.snapshots[clinic]
	return r, ok, nil
}

func (m *memSessions) SaveSelection(clinic string, sel session.Selection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selections[clinic] = sel
}

func (m *memSessions) LoadSelection(clinic string) (session.Selection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sel, ok := m.selections[clinic]
	return sel, ok
}

type fakeFrames struct{}

func (fakeFrames) ExtractFrames(_ []byte, _ string) ([][]byte, error) {
	return [][]byte{{1}, {2}}, nil
}

type fakeReports struct{}

func (fakeReports) Generate(it *domain.Item) (string, error) {
	if it.Result == nil {
		return "", errors.New("no assessment to report")
	}
	return "/tmp/report.pdf", nil
}

type testEnv struct {
	handler http.Handler
	repo    *memRepo
	ai      *fakeAI
}

func newEnv() *testEnv {
	repo := newMemRepo()
	model := &fakeAI{chatReply: ai.ChatReply{Text: "looks good"}}
	transcript := &memTranscript{}
	sessions := newMemSessions()
	clock := application.SystemClock{}

	reviewsSvc := &appreviews.Service{
		Repo:       repo,
		Media:      fakeStore{},
		Artifacts:  fakeStore{},
		AI:         model,
		Transcript: transcript,
		Errors:     nopErrors{},
		Sessions:   sessions,
		Frames:     fakeFrames{},
		Reports:    fakeReports{},
		Clock:      clock,
	}
	chatSvc := &appchat.Service{
		Items:      repo,
		Transcript: transcript,
		AI:         model,
		Errors:     nopErrors{},
		Clock:      clock,
	}
	return &testEnv{handler: NewRouter(reviewsSvc, chatSvc), repo: repo, ai: model}
}

func multipartBody(t *testing.T, filename, contentType string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// ---- tests ----

func TestUploadRejectsUnsupportedMediaWith415(t *testing.T) {
	env := newEnv()

	body, ct := multipartBody(t, "notes.txt", "text/plain", []byte("just some text"), nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/ivf-lab/items", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Zero(t, env.ai.calls(), "the model must never see a rejected upload")
}

func TestUploadQueuesAnalysis(t *testing.T) {
	env := newEnv()

	body, ct := multipartBody(t, "day5.jpg", "image/jpeg", jpegHead, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/ivf-lab/items", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Status string       `json:"status"`
		Item   *domain.Item `json:"item"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp.Status)
	require.NotNil(t, resp.Item)

	// The background grading lands shortly after the response.
	assert.Eventually(t, func() bool {
		it, err := env.repo.Get(context.Background(), "ivf-lab", resp.Item.ID)
		return err == nil && it.Status == domain.StatusComplete
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGetUnknownItemIs404(t *testing.T) {
	env := newEnv()

	rec := env.do(t, http.MethodGet, "/v1/ivf-lab/items/"+idGone, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMalformedItemIDIs400(t *testing.T) {
	env := newEnv()

	rec := env.do(t, http.MethodGet, "/v1/ivf-lab/items/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/ivf-lab/items/not-a-uuid/report", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadSanitizesDisplayName(t *testing.T) {
	env := newEnv()

	body, ct := multipartBody(t, "day5.jpg", "image/jpeg", jpegHead,
		map[string]string{"name": "day 5\x00\x07 blast  "})
	req := httptest.NewRequest(http.MethodPost, "/v1/ivf-lab/items", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Item *domain.Item `json:"item"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Item)
	assert.Equal(t, "day 5 blast", resp.Item.Name)
}

func TestCalibrationRejectsDegenerateInput(t *testing.T) {
	env := newEnv()
	seedItem(t, env, idOne, nil)

	rec := env.do(t, http.MethodPost, "/v1/ivf-lab/items/"+idOne+"/calibration",
		map[string]any{"pixel_distance": 0, "physical_length": 100})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCalibrateAndMeasure(t *testing.T) {
	env := newEnv()
	seedItem(t, env, idOne, nil)

	rec := env.do(t, http.MethodPost, "/v1/ivf-lab/items/"+idOne+"/calibration",
		map[string]any{"pixel_distance": 300, "physical_length": 100})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/ivf-lab/items/"+idOne+"/measure",
		map[string]any{"a": map[string]float64{"x": 0, "y": 0}, "b": map[string]float64{"x": 300, "y": 400}})
	require.Equal(t, http.StatusOK, rec.Code)

	var m struct {
		Value      float64 `json:"value"`
		Unit       string  `json:"unit"`
		Calibrated bool    `json:"calibrated"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.True(t, m.Calibrated)
	assert.Equal(t, "µm", m.Unit)
	assert.InDelta(t, 500.0/3.0, m.Value, 1e-9)
}

func TestCompareReturnsBestCandidate(t *testing.T) {
	env := newEnv()
	seedItem(t, env, idRisky, &assessment.Result{ImplantationProbability: 90, AneuploidyRisk: assessment.RiskHigh})
	seedItem(t, env, idSteady, &assessment.Result{ImplantationProbability: 80, AneuploidyRisk: assessment.RiskLow})

	rec := env.do(t, http.MethodPost, "/v1/ivf-lab/items/compare",
		map[string]any{"ids": []string{idRisky, idSteady}})
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		BestID string  `json:"best_id"`
		Score  float64 `json:"score"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, idSteady, out.BestID)
}

func TestChatRoundTrip(t *testing.T) {
	env := newEnv()
	seedItem(t, env, idOne, &assessment.Result{GardnerScore: "4AB"})

	rec := env.do(t, http.MethodPost, "/v1/ivf-lab/items/"+idOne+"/chat",
		map[string]any{"message": "how does it look?"})
	require.Equal(t, http.StatusOK, rec.Code)

	var turns []*chat.Turn
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &turns))
	require.Len(t, turns, 2)
	assert.Equal(t, chat.RoleAssistant, turns[1].Role)
	assert.Equal(t, "looks good", turns[1].Text)

	rec = env.do(t, http.MethodGet, "/v1/ivf-lab/items/"+idOne+"/chat", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	turns = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &turns))
	assert.Len(t, turns, 2)
}

func TestReportRequiresAssessment(t *testing.T) {
	env := newEnv()
	seedItem(t, env, idOne, nil)

	rec := env.do(t, http.MethodPost, "/v1/ivf-lab/items/"+idOne+"/report", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestReportForGradedItem(t *testing.T) {
	env := newEnv()
	seedItem(t, env, idOne, &assessment.Result{GardnerScore: "4AA"})

	rec := env.do(t, http.MethodPost, "/v1/ivf-lab/items/"+idOne+"/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		ReportURL string `json:"report_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, strings.HasSuffix(out.ReportURL, "/reports/"+idOne+".pdf"))
}

func TestSessionSaveAndRestoreEndpoints(t *testing.T) {
	env := newEnv()
	seedItem(t, env, idOne, &assessment.Result{GardnerScore: "3BB"})

	rec := env.do(t, http.MethodPost, "/v1/ivf-lab/session/save", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/ivf-lab/session/restore", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		RestoredItems int `json:"restored_items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 1, out.RestoredItems)
}

func TestSelectionEndpoints(t *testing.T) {
	env := newEnv()
	seedItem(t, env, idOne, nil)
	seedItem(t, env, idTwo, nil)

	rec := env.do(t, http.MethodPut, "/v1/ivf-lab/selection", map[string]any{"id": idOne})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPut, "/v1/ivf-lab/selection", map[string]any{"id": idTwo, "toggle": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/ivf-lab/selection", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var sel session.Selection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sel))
	assert.ElementsMatch(t, []string{idOne, idTwo}, sel.IDs)
	assert.True(t, sel.Compare)
}

func seedItem(t *testing.T, env *testEnv, id string, res *assessment.Result) {
	t.Helper()
	it := &domain.Item{
		ID:        domain.ItemID(id),
		ClinicID:  "ivf-lab",
		Name:      "embryo " + id,
		MediaKind: domain.MediaImage,
		Status:    domain.StatusPending,
	}
	if res != nil {
		it.Status = domain.StatusComplete
		it.Result = res
	}
	require.NoError(t, env.repo.Save(context.Background(), it))
}
