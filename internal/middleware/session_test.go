package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/volunteerhub/internal/model"
	"github.com/hitoshi/volunteerhub/internal/session"
)

// staticSource は固定のスナップショットを返すテスト用SnapshotSource。
type staticSource struct {
	snap session.Snapshot
}

func (s staticSource) Current() session.Snapshot { return s.snap }

func withProfileSnapshot(userID string) session.Snapshot {
	return session.Snapshot{
		State:   session.StateAuthenticatedWithProfile,
		User:    &model.User{ID: userID},
		Profile: &model.Profile{ID: userID, FullName: "Alice"},
	}
}

func TestSessionMiddleware_Gates(t *testing.T) {
	tests := []struct {
		name       string
		snap       session.Snapshot
		gate       Gate
		wantStatus int
		wantCode   string
	}{
		{
			name:       "loading",
			snap:       session.Snapshot{State: session.StateUnauthenticated, Loading: true},
			gate:       GateAuthenticated,
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "SESSION_LOADING",
		},
		{
			name:       "unauthenticated",
			snap:       session.Snapshot{State: session.StateUnauthenticated},
			gate:       GateAuthenticated,
			wantStatus: http.StatusUnauthorized,
			wantCode:   model.ErrCodeNotAuthenticated,
		},
		{
			name: "no profile on profile gate",
			snap: session.Snapshot{
				State: session.StateAuthenticatedNoProfile,
				User:  &model.User{ID: "user-1"},
			},
			gate:       GateWithProfile,
			wantStatus: http.StatusForbidden,
			wantCode:   "PROFILE_REQUIRED",
		},
		{
			name: "no profile on authenticated gate",
			snap: session.Snapshot{
				State: session.StateAuthenticatedNoProfile,
				User:  &model.User{ID: "user-1"},
			},
			gate:       GateAuthenticated,
			wantStatus: http.StatusOK,
		},
		{
			name:       "with profile",
			snap:       withProfileSnapshot("user-1"),
			gate:       GateWithProfile,
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var capturedUserID string
			handler := NewSessionMiddleware(staticSource{tt.snap}, tt.gate)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				capturedUserID, _ = UserIDFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK {
				if capturedUserID != "user-1" {
					t.Errorf("userID = %q, want user-1", capturedUserID)
				}
				return
			}

			var body ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestSessionMiddleware_LoadingSetsRetryAfter(t *testing.T) {
	called := false
	handler := NewSessionMiddleware(staticSource{session.Snapshot{Loading: true}}, GateWithProfile)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }),
	)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/events/e1/join", nil))

	if called {
		t.Error("handler should not be called while loading")
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}
}

func TestUserIDFromContext_NoValue_ReturnsError(t *testing.T) {
	_, err := UserIDFromContext(context.Background())
	if err == nil {
		t.Error("expected error for missing user ID in context")
	}
}

func TestUserIDFromContext_ValidValue_ReturnsUserID(t *testing.T) {
	ctx := ContextWithUserID(context.Background(), "user-456")
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if userID != "user-456" {
		t.Errorf("userID = %q, want %q", userID, "user-456")
	}
}
