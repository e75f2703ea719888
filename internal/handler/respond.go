// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/volunteerhub/internal/middleware"
	"github.com/hitoshi/volunteerhub/internal/model"
)

// maxJSONBodySize はJSONリクエストボディの上限。
const maxJSONBodySize = 1 << 20

// ErrorReporter はサービス層のエラーを外部のエラー監視に送るインターフェース。
// reporting.Reporterが実装する。
type ErrorReporter interface {
	Report(err error, tags map[string]string) bool
}

// responder はハンドラー共通のレスポンス書き込み処理。
type responder struct {
	reporter ErrorReporter
	logger   *slog.Logger
}

func newResponder(reporter ErrorReporter, logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{reporter: reporter, logger: logger}
}

// fail はエラーを統一フォーマットで返す。
// 想定外のエラーと到達不能エラーはログに記録し、エラー監視に送る。
func (rs responder) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := middleware.WriteError(w, err)
	if status < http.StatusInternalServerError {
		return
	}

	requestID := middleware.RequestIDFromContext(r.Context())
	rs.logger.Error("request failed",
		slog.String("request_id", requestID),
		slog.String("path", r.URL.Path),
		slog.String("kind", string(model.KindOf(err))),
		slog.String("error", err.Error()),
	)
	if rs.reporter != nil {
		rs.reporter.Report(err, map[string]string{
			"path":       r.URL.Path,
			"request_id": requestID,
		})
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON はリクエストボディをvにデコードする。
// ボディが不正な場合はバリデーションエラーを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return model.NewInvalidFieldError("body", "the request body is too large")
		case errors.Is(err, io.EOF):
			return model.NewInvalidFieldError("body", "the request body is empty")
		default:
			return model.NewInvalidFieldError("body", "the request body must be valid JSON")
		}
	}
	return nil
}

// requireUserID はセッションミドルウェアが注入したユーザーIDを返す。
func requireUserID(r *http.Request) (string, error) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		return "", model.NewNotAuthenticatedError()
	}
	return userID, nil
}

// backendContext はバックエンド呼び出し用のコンテキストを返す。
// リクエストの値（リクエストID、ユーザーID）は引き継ぎ、クライアント切断によるキャンセルは引き継がない。
// 発行済みの呼び出しは中断せず、http.Clientのタイムアウトで打ち切る。
func backendContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}
