package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/volunteerhub/internal/middleware"
	"github.com/hitoshi/volunteerhub/internal/model"
	"github.com/hitoshi/volunteerhub/internal/session"
)

// --- モック定義 ---

// mockSessionService はSessionServiceInterfaceのモック実装。
type mockSessionService struct {
	mu   sync.Mutex
	snap session.Snapshot
	subs []chan session.Snapshot

	signUpFn          func(ctx context.Context, in session.SignUpInput) (session.SignUpResult, error)
	signInFn          func(ctx context.Context, email, password string) error
	signOutFn         func(ctx context.Context) error
	resetFn           func(ctx context.Context, email string) error
	completeProfileFn func(ctx context.Context, input model.ProfileInput) (*model.Profile, error)
	refreshProfileFn  func(ctx context.Context) error
	refreshCalls      int
}

func (m *mockSessionService) Current() session.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// set はスナップショットを差し替え、購読者に配信する。
func (m *mockSessionService) set(snap session.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	for _, ch := range m.subs {
		ch <- snap
	}
}

func (m *mockSessionService) Subscribe() (<-chan session.Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan session.Snapshot, 8)
	ch <- m.snap
	m.subs = append(m.subs, ch)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, c := range m.subs {
				if c == ch {
					m.subs = append(m.subs[:i], m.subs[i+1:]...)
					close(c)
					return
				}
			}
		})
	}
}

func (m *mockSessionService) subscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *mockSessionService) SignUp(ctx context.Context, in session.SignUpInput) (session.SignUpResult, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, in)
	}
	return session.SignUpResult{}, nil
}

func (m *mockSessionService) SignIn(ctx context.Context, email, password string) error {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return nil
}

func (m *mockSessionService) SignOut(ctx context.Context) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx)
	}
	return nil
}

func (m *mockSessionService) RequestPasswordReset(ctx context.Context, email string) error {
	if m.resetFn != nil {
		return m.resetFn(ctx, email)
	}
	return nil
}

func (m *mockSessionService) CompleteProfile(ctx context.Context, input model.ProfileInput) (*model.Profile, error) {
	if m.completeProfileFn != nil {
		return m.completeProfileFn(ctx, input)
	}
	return nil, nil
}

func (m *mockSessionService) RefreshProfile(ctx context.Context) error {
	m.mu.Lock()
	m.refreshCalls++
	m.mu.Unlock()
	if m.refreshProfileFn != nil {
		return m.refreshProfileFn(ctx)
	}
	return nil
}

// mockProfileService はProfileServiceInterfaceのモック実装。
type mockProfileService struct {
	getProfileFn       func(ctx context.Context, userID string) (*model.Profile, error)
	updateProfileFn    func(ctx context.Context, userID string, input model.ProfileInput) (*model.Profile, error)
	uploadAvatarFn     func(ctx context.Context, userID, source string) (*model.Profile, error)
	uploadAvatarDataFn func(ctx context.Context, userID string, r io.Reader) (*model.Profile, error)
}

func (m *mockProfileService) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	if m.getProfileFn != nil {
		return m.getProfileFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockProfileService) UpdateProfile(ctx context.Context, userID string, input model.ProfileInput) (*model.Profile, error) {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, userID, input)
	}
	return nil, nil
}

func (m *mockProfileService) UploadAvatar(ctx context.Context, userID, source string) (*model.Profile, error) {
	if m.uploadAvatarFn != nil {
		return m.uploadAvatarFn(ctx, userID, source)
	}
	return nil, nil
}

func (m *mockProfileService) UploadAvatarData(ctx context.Context, userID string, r io.Reader) (*model.Profile, error) {
	if m.uploadAvatarDataFn != nil {
		return m.uploadAvatarDataFn(ctx, userID, r)
	}
	return nil, nil
}

// mockBoard はEventBoardInterfaceのモック実装。
type mockBoard struct {
	events         []model.Event
	refreshFn      func(ctx context.Context) ([]model.Event, error)
	joinFn         func(ctx context.Context, eventID, volunteerID string) (*model.EventVolunteer, []model.Event, error)
	refreshCalls   int
	filteredParams [2]string
}

func (m *mockBoard) Refresh(ctx context.Context) ([]model.Event, error) {
	m.refreshCalls++
	if m.refreshFn != nil {
		return m.refreshFn(ctx)
	}
	return m.events, nil
}

func (m *mockBoard) Filtered(category, query string) []model.Event {
	m.filteredParams = [2]string{category, query}
	var out []model.Event
	for _, e := range m.events {
		if category == "" || category == model.AllEventsCategory || e.Category == category {
			out = append(out, e)
		}
	}
	return out
}

func (m *mockBoard) JoinAndRefresh(ctx context.Context, eventID, volunteerID string) (*model.EventVolunteer, []model.Event, error) {
	if m.joinFn != nil {
		return m.joinFn(ctx, eventID, volunteerID)
	}
	return nil, nil, nil
}

// mockEventService はEventServiceInterfaceのモック実装。
type mockEventService struct {
	createEventFn    func(ctx context.Context, in model.NewEvent) (*model.Event, error)
	listVolunteersFn func(ctx context.Context, eventID string) ([]model.Volunteer, error)
}

func (m *mockEventService) CreateEvent(ctx context.Context, in model.NewEvent) (*model.Event, error) {
	if m.createEventFn != nil {
		return m.createEventFn(ctx, in)
	}
	return nil, nil
}

func (m *mockEventService) ListVolunteers(ctx context.Context, eventID string) ([]model.Volunteer, error) {
	if m.listVolunteersFn != nil {
		return m.listVolunteersFn(ctx, eventID)
	}
	return []model.Volunteer{}, nil
}

// mockImageUploader はImageUploaderInterfaceのモック実装。
type mockImageUploader struct {
	uploadImageFn  func(ctx context.Context, source, path string) (string, error)
	uploadReaderFn func(ctx context.Context, r io.Reader, path string) (string, error)
}

func (m *mockImageUploader) UploadImage(ctx context.Context, source, path string) (string, error) {
	return m.uploadImageFn(ctx, source, path)
}

func (m *mockImageUploader) UploadReader(ctx context.Context, r io.Reader, path string) (string, error) {
	return m.uploadReaderFn(ctx, r, path)
}

// recordingReporter はErrorReporterのモック実装。
type recordingReporter struct {
	mu     sync.Mutex
	errors []error
}

func (r *recordingReporter) Report(err error, tags map[string]string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
	return true
}

func (r *recordingReporter) reported() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errors...)
}

// --- テストヘルパー ---

const testEventID = "3f2b8c1e-6a4d-4f0e-9b7a-2c5d8e1f0a3b"

func userSnapshot(state session.State) session.Snapshot {
	snap := session.Snapshot{
		State: state,
		User: &model.User{
			ID:       "user-1",
			Email:    "jane@example.com",
			Metadata: map[string]any{"full_name": "Jane Doe"},
		},
	}
	if state == session.StateAuthenticatedWithProfile {
		snap.Profile = &model.Profile{ID: "user-1", FullName: "Jane Doe", EventsJoined: 2}
	}
	if state == session.StateUnauthenticated {
		snap.User = nil
	}
	return snap
}

func sampleEvents() []model.Event {
	return []model.Event{
		{ID: "e1", Title: "Beach Cleanup", Category: "Environment", VolunteersNeeded: 5, VolunteersJoined: 5, CreatedAt: time.Unix(1700000000, 0)},
		{ID: "e2", Title: "Food Drive", Category: "Community", VolunteersNeeded: 3, VolunteersJoined: 1, CreatedAt: time.Unix(1700000100, 0)},
	}
}

// testDeps はテスト用のRouterDepsを生成する。レート制限はテストが終わると停止する。
func testDeps(t *testing.T, sessions *mockSessionService) *RouterDeps {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)
	return &RouterDeps{
		RateLimiter: rl,
		Sessions:    sessions,
		Profiles:    &mockProfileService{},
		Board:       &mockBoard{},
		Events:      &mockEventService{},
		Logger:      discardLogger(),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json.Marshal がエラーを返した: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v\nbody: %s", err, w.Body.String())
	}
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[middleware.ErrorResponseBody](t, w).Code
}
