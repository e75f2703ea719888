package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/volunteerhub/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	StatusObserver    middleware.StatusObserver // nilの場合はステータスを記録しない
	Reporter          ErrorReporter
	PanicReporter     middleware.PanicReporter
	Logger            *slog.Logger

	// セッション
	Sessions SessionServiceInterface

	// プロフィール
	Profiles ProfileServiceInterface

	// イベント
	Board        EventBoardInterface
	Events       EventServiceInterface
	EventImages  ImageUploaderInterface
	MaxImageSize int64

	// 運用エンドポイント
	Metrics http.Handler // nilの場合は /metrics を公開しない
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Recovery → SecurityHeaders → CORS → [Session → RateLimit(General)]
//
// 認証ルート（/auth/*）と運用エンドポイントはセッションゲートの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusObserver))
	r.Use(middleware.NewRecoveryMiddleware(deps.PanicReporter))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.Sessions, deps.Reporter, logger)
	stream := NewStateStream(deps.Sessions, deps.CORSAllowedOrigin, logger)
	profileHandler := NewProfileHandler(deps.Profiles, deps.Sessions, deps.MaxImageSize, deps.Reporter, logger)
	eventHandler := NewEventHandler(EventHandlerConfig{
		Board:        deps.Board,
		Events:       deps.Events,
		Images:       deps.EventImages,
		Sessions:     deps.Sessions,
		MaxImageSize: deps.MaxImageSize,
		Reporter:     deps.Reporter,
		Logger:       logger,
	})

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.Sessions))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// --- 認証ルート（セッションゲートの外） ---
	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", authHandler.SignUp)
		r.Post("/signin", authHandler.SignIn)
		r.Post("/signout", authHandler.SignOut)
		r.Post("/recover", authHandler.Recover)
		r.Get("/state", authHandler.State)
		r.Method(http.MethodGet, "/state/stream", stream)
	})

	// --- ログイン済み（プロフィールの有無は問わない） ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Sessions, middleware.GateAuthenticated))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/api/profile", profileHandler.CreateProfile)
	})

	// --- プロフィール作成済み ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Sessions, middleware.GateWithProfile))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/profile", profileHandler.GetProfile)
		r.Patch("/api/profile", profileHandler.UpdateProfile)
		r.Post("/api/profile/avatar", profileHandler.UploadAvatar)

		r.Route("/api/events", func(r chi.Router) {
			r.Get("/", eventHandler.ListEvents)
			r.Post("/", eventHandler.CreateEvent)
			r.Post("/images", eventHandler.UploadImage)

			r.Route("/{id}", func(r chi.Router) {
				// POST /api/events/{id}/join - 参加（参加専用レート制限を追加）
				r.With(deps.RateLimiter.JoinMiddleware()).Post("/join", eventHandler.JoinEvent)
				r.Get("/volunteers", eventHandler.ListVolunteers)
			})
		})
	})

	return r
}

// healthResponse はヘルスチェックのAPIレスポンス。
type healthResponse struct {
	Status  string `json:"status"`
	Loading bool   `json:"loading"`
}

// healthHandler はプロセスの稼働状況を返す。セッション読み込み中も200を返す。
// GET /health
func healthHandler(sessions SessionServiceInterface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(healthResponse{
			Status:  "ok",
			Loading: sessions.Current().Loading,
		})
	}
}
