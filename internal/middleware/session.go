// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/volunteerhub/internal/model"
	"github.com/hitoshi/volunteerhub/internal/session"
)

// loadingRetryAfter はセッション読み込み中に返すRetry-Afterの秒数。
const loadingRetryAfter = "1"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// SnapshotSource は現在のセッション状態を返すインターフェース。
// session.Managerの部分集合として定義する。
type SnapshotSource interface {
	Current() session.Snapshot
}

// Gate はルートを通過させるために必要なセッション状態。
type Gate int

const (
	// GateAuthenticated はログイン済みであれば通過させる（プロフィールの有無は問わない）。
	GateAuthenticated Gate = iota
	// GateWithProfile はログイン済みかつプロフィール作成済みの場合のみ通過させる。
	GateWithProfile
)

var errSessionLoading = &model.AppError{
	Kind:     model.KindTransport,
	Code:     "SESSION_LOADING",
	Message:  "Session is still loading.",
	Category: "system",
	Action:   "Please retry in a moment.",
}

var errProfileRequired = &model.AppError{
	Kind:     model.KindAuth,
	Code:     "PROFILE_REQUIRED",
	Message:  "Please complete your profile first.",
	Category: "profile",
	Action:   "Create your profile to continue.",
}

// NewSessionMiddleware はセッションマネージャーの状態に従ってルートを保護するミドルウェアを返す。
// 読み込み中は503、未ログインは401、プロフィール未作成でGateWithProfileの場合は403を返す。
// 通過したリクエストのコンテキストにはログイン中のユーザーIDを注入する。
func NewSessionMiddleware(source SnapshotSource, gate Gate) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap := source.Current()

			// 1. 起動時のセッション復元が終わるまでは判定しない
			if snap.Loading {
				w.Header().Set("Retry-After", loadingRetryAfter)
				WriteErrorResponse(w, http.StatusServiceUnavailable, errSessionLoading)
				return
			}

			// 2. ログイン状態の検証
			if snap.State == session.StateUnauthenticated || snap.User == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
				return
			}

			// 3. プロフィールの有無の検証
			if gate == GateWithProfile && snap.State != session.StateAuthenticatedWithProfile {
				slog.Debug("profile required",
					slog.String("user_id", snap.User.ID),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusForbidden, errProfileRequired)
				return
			}

			// 4. 認証済みユーザーIDをコンテキストに注入
			ctx := ContextWithUserID(r.Context(), snap.User.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// ロギングミドルウェアの内側で呼ばれた場合はリクエストログにも反映する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	recordUserID(ctx, userID)
	return context.WithValue(ctx, userIDContextKey, userID)
}
