package reviews

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/calyxbio/embryograde/internal/domain/ai"
	"github.com/calyxbio/embryograde/internal/domain/assessment"
	"github.com/calyxbio/embryograde/internal/domain/chat"
	domain "github.com/calyxbio/embryograde/internal/domain/review"
	"github.com/calyxbio/embryograde/internal/domain/reviewerrors"
	"github.com/calyxbio/embryograde/internal/domain/session"
)

// memRepo is an in-memory review.Repository for service tests.
type memRepo struct {
	mu    sync.Mutex
	items map[string]*domain.Item
	fail  error
}

func newMemRepo() *memRepo {
	return &memRepo{items: make(map[string]*domain.Item)}
}

func (r *memRepo) key(clinic string, id domain.ItemID) string {
	return clinic + "/" + string(id)
}

func (r *memRepo) Save(_ context.Context, it *domain.Item) error {
	if r.fail != nil {
		return r.fail
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *it
	r.items[r.key(it.ClinicID, it.ID)] = &cp
	return nil
}

func (r *memRepo) Get(_ context.Context, clinic string, id domain.ItemID) (*domain.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[r.key(clinic, id)]
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
	it, ok := r.items[r.key(clinic, id)]
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
	it, ok := r.items[r.key(clinic, id)]
	if !ok {
		return sql.ErrNoRows
	}
	it.Result = res
	it.Status = domain.StatusComplete
	it.Error = ""
	return nil
}

func (r *memRepo) UpdateScale(_ context.Context, clinic string, id domain.ItemID, scale float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[r.key(clinic, id)]
	if !ok {
		return sql.ErrNoRows
	}
	it.Scale = scale
	return nil
}

func (r *memRepo) UpdateReportURL(_ context.Context, clinic string, id domain.ItemID, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[r.key(clinic, id)]
	if !ok {
		return sql.ErrNoRows
	}
	it.ReportURL = url
	return nil
}

func (r *memRepo) Delete(_ context.Context, clinic string, id domain.ItemID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(clinic, id)
	if _, ok := r.items[k]; !ok {
		return sql.ErrNoRows
	}
	delete(r.items, k)
	return nil
}

func (r *memRepo) Summary(_ context.Context, clinic string, _ int) (int, int, int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total, complete, errored, pending int
	for _, it := range r.items {
		if it.ClinicID != clinic {
			continue
		}
		total++
		switch it.Status {
		case domain.StatusComplete:
			complete++
		case domain.StatusError:
			errored++
		default:
			pending++
		}
	}
	return total, complete, errored, pending, nil
}

// fakeMediaStore records uploads without talking to object storage.
type fakeMediaStore struct {
	mu   sync.Mutex
	keys []string
	fail error
}

func (f *fakeMediaStore) UploadBytes(_ context.Context, key string, _ []byte, _ string) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return "https://store.test/" + key, nil
}

type fakeArtifactStore struct {
	lastPath string
	lastKey  string
	fail     error
}

func (f *fakeArtifactStore) Upload(_ context.Context, localPath, key string) (string, error) {
	return f.UploadAndCleanup(context.Background(), localPath, key)
}

func (f *fakeArtifactStore) UploadAndCleanup(_ context.Context, localPath, key string) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	f.lastPath = localPath
	f.lastKey = key
	return "https://store.test/" + key, nil
}

// fakeAI counts calls so tests can prove the gate fires before the model.
type fakeAI struct {
	mu         sync.Mutex
	gradeCalls int
	gradeRaw   string
	gradeErr   error
	lastReq    ai.GradeRequest
}

func (f *fakeAI) Grade(_ context.Context, req ai.GradeRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gradeCalls++
	f.lastReq = req
	if f.gradeErr != nil {
		return "", f.gradeErr
	}
	return f.gradeRaw, nil
}

func (f *fakeAI) Chat(_ context.Context, _ []*chat.Turn, _, _ string, _ bool) (ai.ChatReply, error) {
	return ai.ChatReply{}, errors.New("not used")
}

func (f *fakeAI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gradeCalls
}

type fakeTranscript struct {
	deleted []string
}

func (f *fakeTranscript) Append(_ context.Context, _ *chat.Turn) error { return nil }

func (f *fakeTranscript) History(_ context.Context, _, _ string, _ int) ([]*chat.Turn, error) {
	return nil, nil
}

func (f *fakeTranscript) DeleteByItem(_ context.Context, _, itemID string) error {
	f.deleted = append(f.deleted, itemID)
	return nil
}

type fakeErrorLog struct {
	mu      sync.Mutex
	entries []*reviewerrors.ReviewError
}

func (f *fakeErrorLog) Save(_ context.Context, e *reviewerrors.ReviewError) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeErrorLog) ListByItem(_ context.Context, _, _ string, _ int) ([]*reviewerrors.ReviewError, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries, nil
}

func (f *fakeErrorLog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// memSessions is an in-memory session.Store.
type memSessions struct {
	mu         sync.Mutex
	snapshots  map[string][]session.Record
	selections map[string]session.Selection
}

func newMemSessions() *memSessions {
	return &memSessions{
		snapshots:  make(map[string][]session.Record),
		selections: make(map[string]session.Selection),
	}
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

type fakeFrames struct {
	frames [][]byte
	fail   error
	calls  int
}

func (f *fakeFrames) ExtractFrames(_ []byte, _ string) ([][]byte, error) {
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	return f.frames, nil
}

type fakeReports struct {
	path string
	fail error
}

func (f *fakeReports) Generate(it *domain.Item) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	if it.Result == nil {
		return "", fmt.Errorf("item %s has no assessment to report", it.ID)
	}
	return f.path, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }
