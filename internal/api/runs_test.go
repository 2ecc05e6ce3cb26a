//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/raie-dev/raie-server/internal/domain"
	"github.com/raie-dev/raie-server/internal/identity"
)

type fakeRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{sessions: make(map[string]*domain.Session)}
}

func (f *fakeRepo) InsertSession(_ context.Context, session *domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *session
	f.sessions[session.ID] = &copied
	return nil
}

func (f *fakeRepo) AppendAttempt(_ context.Context, sessionID string, attempt domain.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session := f.sessions[sessionID]; session != nil {
		session.Attempts = append(session.Attempts, attempt)
	}
	return nil
}

func (f *fakeRepo) FinishSession(_ context.Context, session *domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stored := f.sessions[session.ID]; stored != nil {
		stored.Succeeded = session.Succeeded
		stored.FinalCode = session.FinalCode
	}
	return nil
}

func (f *fakeRepo) GetSession(_ context.Context, userID, sessionID string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session := f.sessions[sessionID]
	if session == nil || session.UserID != userID {
		return nil, nil
	}
	copied := *session
	return &copied, nil
}

func (f *fakeRepo) ListSessions(_ context.Context, userID string) ([]*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Session
	for _, session := range f.sessions {
		if session.UserID == userID {
			copied := *session
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeRepo) ClearSessions(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for id, session := range f.sessions {
		if session.UserID == userID {
			delete(f.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeRepo) PurgeOlderThan(context.Context, time.Duration) (int64, error) { return 0, nil }
func (f *fakeRepo) Ping(context.Context) error                                  { return nil }
func (f *fakeRepo) Close() error                                                { return nil }

type stubRunner struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	run   func(userID, task string) *domain.Session
}

func (s *stubRunner) Run(ctx context.Context, userID, task string, _ int) (*domain.Session, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.run != nil {
		return s.run(userID, task), nil
	}
	return &domain.Session{ID: "11112222333344445555666677778888", UserID: userID, Task: task, Succeeded: true}, nil
}

func (s *stubRunner) MaxAttempts() int { return 5 }

func newTestRouter(repo *fakeRepo, runner SessionRunner, limiter *RateLimiter) chi.Router {
	h := NewRunsHandler(NewHandler(repo), runner, limiter, 15*time.Second, "local", "mistral-large-latest")
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func asUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(identity.WithUserID(r.Context(), userID))
}

func TestStartRun(t *testing.T) {
	repo := newFakeRepo()
	router := newTestRouter(repo, &stubRunner{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{"task":"print hello"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, asUser(req, "user-a"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var got domain.Session
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !got.Succeeded {
		t.Error("expected succeeded session")
	}
	if got.Task != "print hello" {
		t.Errorf("task = %q", got.Task)
	}
}

func TestStartRunValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{"empty task", `{"task":""}`, http.StatusBadRequest},
		{"whitespace task", `{"task":"   "}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
		{"oversized task", `{"task":"` + strings.Repeat("a", maxTaskLength+1) + `"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(newFakeRepo(), &stubRunner{}, nil)
			req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(tc.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, asUser(req, "user-a"))
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestStartRunRequiresIdentity(t *testing.T) {
	router := newTestRouter(newFakeRepo(), &stubRunner{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{"task":"hi"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestStartRunConflict(t *testing.T) {
	runner := &stubRunner{delay: 300 * time.Millisecond}
	router := newTestRouter(newFakeRepo(), runner, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	firstDone := make(chan int, 1)
	go func() {
		defer wg.Done()
		req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{"task":"slow"}`))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, asUser(req, "user-a"))
		firstDone <- w.Code
	}()

	// Give the first request time to take the per-user lock.
	time.Sleep(100 * time.Millisecond)

	req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{"task":"second"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, asUser(req, "user-a"))
	if w.Code != http.StatusConflict {
		t.Errorf("concurrent run status = %d, want 409", w.Code)
	}

	wg.Wait()
	if code := <-firstDone; code != http.StatusOK {
		t.Errorf("first run status = %d, want 200", code)
	}
}

func TestStartRunRateLimited(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	router := newTestRouter(newFakeRepo(), &stubRunner{}, limiter)

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{"task":"hi"}`))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, asUser(req, "user-a"))
		if w.Code != want {
			t.Errorf("request %d status = %d, want %d", i+1, w.Code, want)
		}
	}
}

func TestGetRun(t *testing.T) {
	repo := newFakeRepo()
	session := &domain.Session{
		ID: "abc123", UserID: "user-a", Task: "hi", Succeeded: true, FinalCode: "print('hi')",
		Attempts: domain.History{
			{Number: 1, Outcome: domain.OutcomeFailure, Category: domain.CategoryName},
			{Number: 2, Outcome: domain.OutcomeSuccess},
		},
	}
	if err := repo.InsertSession(context.Background(), session); err != nil {
		t.Fatalf("InsertSession: %v", err)
	}
	router := newTestRouter(repo, &stubRunner{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/abc123", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, asUser(req, "user-a"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if body["attempt_count"] != float64(2) {
		t.Errorf("attempt_count = %v, want 2", body["attempt_count"])
	}
	if body["success_rate"] != float64(50) {
		t.Errorf("success_rate = %v, want 50", body["success_rate"])
	}

	req = httptest.NewRequest(http.MethodGet, "/api/runs/missing", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, asUser(req, "user-a"))
	if w.Code != http.StatusNotFound {
		t.Errorf("missing run status = %d, want 404", w.Code)
	}

	// Another user must not see the session.
	req = httptest.NewRequest(http.MethodGet, "/api/runs/abc123", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, asUser(req, "user-b"))
	if w.Code != http.StatusNotFound {
		t.Errorf("foreign run status = %d, want 404", w.Code)
	}
}

func TestDownloadCode(t *testing.T) {
	repo := newFakeRepo()
	success := &domain.Session{ID: "ok123456long", UserID: "user-a", Succeeded: true, FinalCode: "print('hi')\n"}
	failed := &domain.Session{ID: "bad12345long", UserID: "user-a"}
	for _, s := range []*domain.Session{success, failed} {
		if err := repo.InsertSession(context.Background(), s); err != nil {
			t.Fatalf("InsertSession: %v", err)
		}
	}
	router := newTestRouter(repo, &stubRunner{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/ok123456long/code", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, asUser(req, "user-a"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Body.String(); got != "print('hi')\n" {
		t.Errorf("body = %q", got)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/x-python") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/runs/bad12345long/code", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, asUser(req, "user-a"))
	if w.Code != http.StatusNotFound {
		t.Errorf("no-code run status = %d, want 404", w.Code)
	}
}

func TestClearRuns(t *testing.T) {
	repo := newFakeRepo()
	for _, s := range []*domain.Session{
		{ID: "one", UserID: "user-a"},
		{ID: "two", UserID: "user-a"},
		{ID: "keep", UserID: "user-b"},
	} {
		if err := repo.InsertSession(context.Background(), s); err != nil {
			t.Fatalf("InsertSession: %v", err)
		}
	}
	router := newTestRouter(repo, &stubRunner{}, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/runs", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, asUser(req, "user-a"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp map[string]int64
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["deleted"] != 2 {
		t.Errorf("deleted = %d, want 2", resp["deleted"])
	}

	kept, err := repo.GetSession(context.Background(), "user-b", "keep")
	if err != nil || kept == nil {
		t.Error("other user's session removed")
	}
}

func TestGetConfig(t *testing.T) {
	router := newTestRouter(newFakeRepo(), &stubRunner{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, asUser(req, "user-a"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var cfg map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&cfg); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if cfg["max_attempts"] != float64(5) {
		t.Errorf("max_attempts = %v", cfg["max_attempts"])
	}
	if cfg["timeout_seconds"] != float64(15) {
		t.Errorf("timeout_seconds = %v", cfg["timeout_seconds"])
	}
	if cfg["runner"] != "local" {
		t.Errorf("runner = %v", cfg["runner"])
	}
	if cfg["model"] != "mistral-large-latest" {
		t.Errorf("model = %v", cfg["model"])
	}
}
