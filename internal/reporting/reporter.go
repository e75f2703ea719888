// Package reporting はエラー監視サービス（Sentry）への送信を提供する。
// DSNが未設定の場合はすべての操作が何もしない。
package reporting

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/hitoshi/volunteerhub/internal/model"
)

// Options はReporterの設定。
type Options struct {
	DSN         string
	Environment string
	Release     string
}

// Reporter はアプリケーションエラーをSentryへ送信する。
// 利用者の操作で解消できるエラー（入力不備・認証・定員など）は送信しない。
type Reporter struct {
	hub *sentry.Hub
}

// New はReporterを生成する。DSNが空の場合は無効なReporterを返す。
func New(opts Options, logger *slog.Logger) (*Reporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DSN == "" {
		logger.Info("SENTRY_DSN not set, error reporting disabled")
		return &Reporter{}, nil
	}

	environment := opts.Environment
	if environment == "" {
		environment = "development"
	}
	r, err := newReporter(sentry.ClientOptions{
		Dsn:         opts.DSN,
		Environment: environment,
		Release:     opts.Release,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("error reporting enabled", slog.String("environment", environment))
	return r, nil
}

func newReporter(opts sentry.ClientOptions) (*Reporter, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sentry: %w", err)
	}
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// Enabled は送信が有効かどうかを返す。
func (r *Reporter) Enabled() bool {
	return r != nil && r.hub != nil
}

// Report はエラーの種別が unknown または transport の場合に送信する。送信した場合はtrueを返す。
func (r *Reporter) Report(err error, tags map[string]string) bool {
	if !r.Enabled() || err == nil {
		return false
	}
	kind := model.KindOf(err)
	if kind != model.KindUnknown && kind != model.KindTransport {
		return false
	}

	level := sentry.LevelError
	if kind == model.KindTransport {
		level = sentry.LevelWarning
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
		scope.SetTag("kind", string(kind))
		scope.SetTag("code", model.CodeOf(err))
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		r.hub.CaptureException(err)
	})
	return true
}

// RecoverPanic は回復したパニックを送信する。
func (r *Reporter) RecoverPanic(v any, tags map[string]string) {
	if !r.Enabled() {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		for k, val := range tags {
			scope.SetTag(k, val)
		}
		r.hub.Recover(v)
	})
}

// Flush は未送信のイベントを送信し終えるまで最大timeout待つ。
func (r *Reporter) Flush(timeout time.Duration) bool {
	if !r.Enabled() {
		return true
	}
	return r.hub.Flush(timeout)
}
