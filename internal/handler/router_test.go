package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/volunteerhub/internal/metrics"
	"github.com/hitoshi/volunteerhub/internal/middleware"
	"github.com/hitoshi/volunteerhub/internal/model"
	"github.com/hitoshi/volunteerhub/internal/session"
)

func TestRouter_Health(t *testing.T) {
	sessions := &mockSessionService{snap: session.Snapshot{State: session.StateUnauthenticated, Loading: true}}
	router := NewRouter(testDeps(t, sessions))

	w := doJSON(t, router, http.MethodGet, "/health", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decodeBody[healthResponse](t, w)
	if resp.Status != "ok" || !resp.Loading {
		t.Errorf("レスポンス = %+v, want status ok / loading true", resp)
	}
}

func TestRouter_Metrics(t *testing.T) {
	t.Run("有効", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		collector := metrics.NewCollector(reg)
		sessions := &mockSessionService{snap: userSnapshot(session.StateUnauthenticated)}
		deps := testDeps(t, sessions)
		deps.StatusObserver = collector
		deps.Metrics = metrics.Handler(reg)
		router := NewRouter(deps)

		// ステータスを1件記録させる
		doJSON(t, router, http.MethodGet, "/health", nil)
		w := doJSON(t, router, http.MethodGet, "/metrics", nil)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if !strings.Contains(w.Body.String(), "volunteerhub_http_status_total") {
			t.Errorf("メトリクスにHTTPステータスが含まれていない:\n%s", w.Body.String())
		}
	})

	t.Run("無効", func(t *testing.T) {
		sessions := &mockSessionService{snap: userSnapshot(session.StateUnauthenticated)}
		router := NewRouter(testDeps(t, sessions))

		w := doJSON(t, router, http.MethodGet, "/metrics", nil)

		if w.Code != http.StatusNotFound {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

func TestRouter_SessionGates(t *testing.T) {
	loading := session.Snapshot{State: session.StateUnauthenticated, Loading: true}

	tests := []struct {
		name       string
		snap       session.Snapshot
		method     string
		path       string
		wantStatus int
		wantCode   string
	}{
		{"読み込み中はイベント一覧を返さない", loading, http.MethodGet, "/api/events", http.StatusServiceUnavailable, "SESSION_LOADING"},
		{"読み込み中はプロフィール作成を受け付けない", loading, http.MethodPost, "/api/profile", http.StatusServiceUnavailable, "SESSION_LOADING"},
		{"未ログインでイベント一覧", userSnapshot(session.StateUnauthenticated), http.MethodGet, "/api/events", http.StatusUnauthorized, model.ErrCodeNotAuthenticated},
		{"未ログインで参加", userSnapshot(session.StateUnauthenticated), http.MethodPost, "/api/events/" + testEventID + "/join", http.StatusUnauthorized, model.ErrCodeNotAuthenticated},
		{"プロフィール未作成でイベント一覧", userSnapshot(session.StateAuthenticatedNoProfile), http.MethodGet, "/api/events", http.StatusForbidden, "PROFILE_REQUIRED"},
		{"プロフィール未作成で参加", userSnapshot(session.StateAuthenticatedNoProfile), http.MethodPost, "/api/events/" + testEventID + "/join", http.StatusForbidden, "PROFILE_REQUIRED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := &mockSessionService{snap: tt.snap}
			router := NewRouter(testDeps(t, sessions))

			w := doJSON(t, router, tt.method, tt.path, nil)

			if w.Code != tt.wantStatus {
				t.Fatalf("ステータスコード = %d, want %d", w.Code, tt.wantStatus)
			}
			if code := errorCode(t, w); code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestRouter_LoadingRetryAfter(t *testing.T) {
	sessions := &mockSessionService{snap: session.Snapshot{State: session.StateUnauthenticated, Loading: true}}
	router := NewRouter(testDeps(t, sessions))

	w := doJSON(t, router, http.MethodGet, "/api/events", nil)

	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want %q", got, "1")
	}
}

func TestRouter_AuthRoutesOutsideGate(t *testing.T) {
	sessions := &mockSessionService{snap: session.Snapshot{State: session.StateUnauthenticated, Loading: true}}
	router := NewRouter(testDeps(t, sessions))

	w := doJSON(t, router, http.MethodGet, "/auth/state", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("読み込み中の /auth/state: ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_JoinRateLimit(t *testing.T) {
	sessions := &mockSessionService{snap: userSnapshot(session.StateAuthenticatedWithProfile)}
	deps := testDeps(t, sessions)
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     100,
		GeneralBurst:    100,
		JoinRate:        0.001,
		JoinBurst:       1,
		CleanupInterval: time.Minute,
	})
	t.Cleanup(rl.Stop)
	deps.RateLimiter = rl
	deps.Board = &mockBoard{
		joinFn: func(ctx context.Context, eventID, volunteerID string) (*model.EventVolunteer, []model.Event, error) {
			return &model.EventVolunteer{ID: "ev-1", EventID: eventID, VolunteerID: volunteerID}, nil, nil
		},
	}
	router := NewRouter(deps)

	first := doJSON(t, router, http.MethodPost, "/api/events/"+testEventID+"/join", nil)
	if first.Code != http.StatusCreated {
		t.Fatalf("1回目: ステータスコード = %d, want %d", first.Code, http.StatusCreated)
	}

	second := doJSON(t, router, http.MethodPost, "/api/events/"+testEventID+"/join", nil)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("2回目: ステータスコード = %d, want %d", second.Code, http.StatusTooManyRequests)
	}

	// 一般のレート制限は参加の制限と独立している
	list := doJSON(t, router, http.MethodGet, "/api/events/"+testEventID+"/volunteers", nil)
	if list.Code != http.StatusOK {
		t.Errorf("参加者一覧: ステータスコード = %d, want %d", list.Code, http.StatusOK)
	}
}

func TestRouter_CommonHeaders(t *testing.T) {
	sessions := &mockSessionService{snap: userSnapshot(session.StateUnauthenticated)}
	deps := testDeps(t, sessions)
	deps.CORSAllowedOrigin = "https://app.example.com"
	router := NewRouter(deps)

	t.Run("セキュリティヘッダーとリクエストID", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/health", nil)

		if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
			t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
		}
		if got := w.Header().Get(middleware.RequestIDHeader); got == "" {
			t.Error("X-Request-ID が設定されていない")
		}
	})

	t.Run("プリフライト", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/events", nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusNoContent)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
			t.Errorf("Access-Control-Allow-Origin = %q", got)
		}
	})
}
