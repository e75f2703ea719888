package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func testLimiterConfig(generalBurst, joinBurst int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    generalBurst,
		JoinRate:        1.0 / 6.0,
		JoinBurst:       joinBurst,
		CleanupInterval: time.Minute,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// serveAs はユーザーIDを注入したリクエストをハンドラーに渡し、レスポンスを返す。
func serveAs(handler http.Handler, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/events/e1/join", nil)
	if userID != "" {
		req = req.WithContext(ContextWithUserID(req.Context(), userID))
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

// --- GeneralMiddleware (API全般) のテスト ---

func TestRateLimitMiddleware_AllowsRequestsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(5, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())
	for i := 0; i < 5; i++ {
		if w := serveAs(handler, "user-1"); w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfter(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(2, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())
	serveAs(handler, "user-rate-limit")
	serveAs(handler, "user-rate-limit")

	w := serveAs(handler, "user-rate-limit")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retryAfter < 1 {
		t.Errorf("Retry-After = %q, want positive integer", w.Header().Get("Retry-After"))
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q, want RATE_LIMIT_EXCEEDED", body.Code)
	}
}

func TestRateLimitMiddleware_IsolatesUsers(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(1, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())
	serveAs(handler, "user-a")
	if w := serveAs(handler, "user-a"); w.Code != http.StatusTooManyRequests {
		t.Errorf("user-a: status = %d, want 429", w.Code)
	}
	if w := serveAs(handler, "user-b"); w.Code != http.StatusOK {
		t.Errorf("user-b: status = %d, want 200", w.Code)
	}
	if n := rl.GeneralLimiterCount(); n != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", n)
	}
}

func TestRateLimitMiddleware_NoUserID_Returns401(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(5, 10))
	defer rl.Stop()

	if w := serveAs(rl.GeneralMiddleware()(okHandler()), ""); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// --- JoinMiddleware (イベント参加) のテスト ---

func TestJoinRateLimit_IndependentFromGeneralLimit(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(100, 2))
	defer rl.Stop()

	// General -> Join -> Handler
	handler := rl.GeneralMiddleware()(rl.JoinMiddleware()(okHandler()))
	for i := 0; i < 2; i++ {
		if w := serveAs(handler, "user-join"); w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want 200", i, w.Code)
		}
	}
	if w := serveAs(handler, "user-join"); w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}

	// 参加の上限に達しても一般APIは利用できる
	if w := serveAs(rl.GeneralMiddleware()(okHandler()), "user-join"); w.Code != http.StatusOK {
		t.Errorf("general: status = %d, want 200", w.Code)
	}
	if n := rl.JoinLimiterCount(); n != 1 {
		t.Errorf("JoinLimiterCount = %d, want 1", n)
	}
}

// --- クリーンアップのテスト ---

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(5, 10))
	defer rl.Stop()

	serveAs(rl.GeneralMiddleware()(okHandler()), "user-cleanup")
	serveAs(rl.JoinMiddleware()(okHandler()), "user-cleanup")

	// TTL（CleanupIntervalの2倍）内のエントリは残る
	rl.cleanup()
	if rl.GeneralLimiterCount() != 1 || rl.JoinLimiterCount() != 1 {
		t.Fatal("entries within TTL should be kept")
	}

	later := time.Now().Add(3 * time.Minute)
	rl.general.expire(later, 2*time.Minute)
	rl.join.expire(later, 2*time.Minute)
	if rl.GeneralLimiterCount() != 0 || rl.JoinLimiterCount() != 0 {
		t.Errorf("expired entries should be removed: general=%d join=%d",
			rl.GeneralLimiterCount(), rl.JoinLimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(1, 1))
	rl.Stop()
	rl.Stop()
}

// --- 設定値のテスト ---

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralRate != 2.0 { // 120/60 = 2
		t.Errorf("GeneralRate = %f, want 2.0", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.JoinRate == 0 {
		t.Error("JoinRate should not be 0")
	}
	if cfg.JoinBurst != 10 {
		t.Errorf("JoinBurst = %d, want 10", cfg.JoinBurst)
	}
}

func TestPerMinuteConfig(t *testing.T) {
	cfg := PerMinuteConfig(60, 6)
	if cfg.GeneralRate != 1.0 {
		t.Errorf("GeneralRate = %f, want 1.0", cfg.GeneralRate)
	}
	if cfg.JoinRate != 0.1 {
		t.Errorf("JoinRate = %f, want 0.1", cfg.JoinRate)
	}
	if cfg.JoinBurst != 6 {
		t.Errorf("JoinBurst = %d, want 6", cfg.JoinBurst)
	}
}
