package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// PanicReporter はpanicを外部のエラー監視に送るインターフェース。
// reporting.Reporterが実装する。
type PanicReporter interface {
	RecoverPanic(v any, tags map[string]string)
}

// NewRecoveryMiddleware はpanic発生時にプロセスクラッシュを防ぎ、
// 500レスポンスを返すミドルウェアを生成する。reporterがnilでなければpanicを送信する。
func NewRecoveryMiddleware(reporter PanicReporter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				slog.Error("panic recovered",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("request_id", RequestIDFromContext(r.Context())),
					slog.String("stack", string(debug.Stack())),
				)
				if reporter != nil {
					reporter.RecoverPanic(rec, map[string]string{
						"method": r.Method,
						"path":   r.URL.Path,
					})
				}
				WriteInternalServerError(w)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
