// Package app はアプリケーションの初期化・依存関係の組み立て・起動モードの切り替えを提供する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/volunteerhub/internal/config"
	"github.com/hitoshi/volunteerhub/internal/database"
	"github.com/hitoshi/volunteerhub/internal/enrollment"
	"github.com/hitoshi/volunteerhub/internal/handler"
	"github.com/hitoshi/volunteerhub/internal/logger"
	"github.com/hitoshi/volunteerhub/internal/media"
	"github.com/hitoshi/volunteerhub/internal/metrics"
	"github.com/hitoshi/volunteerhub/internal/middleware"
	"github.com/hitoshi/volunteerhub/internal/reporting"
	"github.com/hitoshi/volunteerhub/internal/repository"
	"github.com/hitoshi/volunteerhub/internal/security"
	"github.com/hitoshi/volunteerhub/internal/session"
	"github.com/hitoshi/volunteerhub/internal/storage"
	"github.com/hitoshi/volunteerhub/internal/supabase"
	"github.com/hitoshi/volunteerhub/internal/user"
)

// Version はビルド時に -ldflags で埋め込むリリース名。エラー監視に送信する。
var Version = "dev"

const (
	shutdownTimeout = 30 * time.Second
	flushTimeout    = 2 * time.Second
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数（と .env）からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定に従ってログレベルを変更する
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		slog.Warn("invalid LOG_LEVEL, falling back to info",
			slog.String("log_level", cfg.LogLevel),
		)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// version と healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandVersion {
		_, err := fmt.Fprintf(w, "volunteerhub %s\n", Version)
		return err
	}
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("backend_url", cfg.BackendURL),
		slog.String("storage_driver", cfg.StorageDriver),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// App は組み立て済みのアプリケーション。HandlerをHTTPサーバーに渡して使用する。
type App struct {
	Handler  http.Handler
	Sessions *session.Manager

	db       *sql.DB
	limiter  *middleware.RateLimiter
	reporter *reporting.Reporter
	logger   *slog.Logger
}

// Build はConfigから全依存関係を組み立てる。
// ローカルのセッションストアにマイグレーションを適用してから開く。
// セッションマネージャーは起動しないため、呼び出し元でSessions.Startを呼ぶこと。
func Build(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// 1. ローカルセッションストア
	if err := database.RunMigrations(cfg.SessionDBPath); err != nil {
		return nil, fmt.Errorf("failed to migrate session store: %w", err)
	}
	db, err := database.Open(cfg.SessionDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to session store: %w", err)
	}
	logger.Info("session store ready", slog.String("path", cfg.SessionDBPath))

	// 2. メトリクスとエラー監視
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	reporter, err := reporting.New(reporting.Options{
		DSN:         cfg.SentryDSN,
		Environment: cfg.SentryEnvironment,
		Release:     Version,
	}, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize error reporting: %w", err)
	}

	// 3. バックエンドクライアント
	client, err := supabase.NewClient(supabase.Config{
		URL:        cfg.BackendURL,
		AnonKey:    cfg.BackendAnonKey,
		HTTPClient: &http.Client{Timeout: cfg.BackendTimeout},
		Store:      repository.NewSQLiteSessionStore(db),
		Logger:     logger,
		Observer:   collector,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}

	// 4. リポジトリの初期化
	profileRepo := repository.NewRestProfileRepo(client)
	eventRepo := repository.NewRestEventRepo(client)
	enrollmentRepo := repository.NewRestEnrollmentRepo(client)

	// 5. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewTextSanitizer()

	// 6. 画像アップロード
	avatarStore, err := newObjectStorage(cfg, client, media.AvatarBucket)
	if err != nil {
		db.Close()
		return nil, err
	}
	eventImageStore, err := newObjectStorage(cfg, client, media.EventImageBucket)
	if err != nil {
		db.Close()
		return nil, err
	}
	avatars := media.NewUploader(media.AvatarBucket, avatarStore, ssrfGuard, logger,
		media.WithMaxSize(cfg.ImageMaxSize),
		media.WithObserver(collector),
	)
	eventImages := media.NewUploader(media.EventImageBucket, eventImageStore, ssrfGuard, logger,
		media.WithMaxSize(cfg.ImageMaxSize),
		media.WithObserver(collector),
	)

	// 7. ドメインサービスの初期化
	userService := user.NewService(profileRepo, avatars, logger)
	userService.SetIdentity(client)

	eventService := enrollment.NewService(eventRepo, enrollmentRepo, sanitizer, logger)
	eventService.SetObserver(collector)
	board := enrollment.NewBoard(eventService, logger)

	manager := session.NewManager(client, userService, logger)
	manager.SetObserver(collector)

	// 8. ルーターの構築
	// configのレート制限はreq/min単位なのでreq/secに変換する
	limiter := middleware.NewRateLimiter(middleware.PerMinuteConfig(cfg.RateLimitGeneral, cfg.RateLimitJoin))

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		StatusObserver:    collector,
		Reporter:          reporter,
		PanicReporter:     reporter,
		Logger:            logger,

		Sessions: manager,
		Profiles: userService,

		Board:        board,
		Events:       eventService,
		EventImages:  eventImages,
		MaxImageSize: cfg.ImageMaxSize,

		Metrics: metrics.Handler(registry),
	})

	return &App{
		Handler:  router,
		Sessions: manager,
		db:       db,
		limiter:  limiter,
		reporter: reporter,
		logger:   logger,
	}, nil
}

// Close はセッションマネージャー・レートリミッター・セッションストアを停止し、
// 未送信のエラーイベントを送信する。
func (a *App) Close() {
	a.Sessions.Close()
	a.limiter.Stop()
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close session store", slog.String("error", err.Error()))
	}
	a.reporter.Flush(flushTimeout)
}

// newObjectStorage はSTORAGE_DRIVERに従ってバケット用のObjectStorageを生成する。
// S3互換ストレージでは1つのバケットをキーの接頭辞で用途ごとに分ける。
func newObjectStorage(cfg *config.Config, client *supabase.Client, bucket string) (storage.ObjectStorage, error) {
	if cfg.StorageDriver != config.StorageDriverS3 {
		return storage.NewBackendStorage(client, bucket), nil
	}
	s3, err := storage.NewS3Storage(storage.S3Config{
		Endpoint:      cfg.S3Endpoint,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		Region:        cfg.S3Region,
		UseSSL:        cfg.S3UseSSL,
		Prefix:        bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 storage for %s: %w", bucket, err)
	}
	return s3, nil
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係を組み立ててHTTPサーバーを起動し、その後セッションを復元する。
// 復元が終わるまでは保護されたルートが503を返す。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	app, err := Build(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer app.Close()

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           app.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, app, server)
}

// serve はサーバーを起動してセッションを復元し、ctxが終了するまで待つ。
func serve(ctx context.Context, app *App, server *http.Server) error {
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", server.Addr, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// セッションの復元。失敗しても未ログイン状態で起動を続ける
	go func() {
		if err := app.Sessions.Start(ctx); err != nil {
			slog.Warn("session restore failed, continuing signed out",
				slog.String("error", err.Error()),
			)
			return
		}
		snap := app.Sessions.Current()
		slog.Info("session restored", slog.String("state", string(snap.State)))
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はローカルセッションストアのマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running session store migrations",
		slog.String("path", cfg.SessionDBPath),
	)

	if err := database.RunMigrations(cfg.SessionDBPath); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("session store migrations completed successfully")

	if cfg.StorageDriver != config.StorageDriverS3 {
		return nil
	}

	// S3互換ストレージではバケットを用意しておく（用途ごとの区分はキーの接頭辞）
	store, err := newObjectStorage(cfg, nil, media.EventImageBucket)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.BackendTimeout)
	defer cancel()
	if err := store.(*storage.S3Storage).EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to prepare bucket %s: %w", cfg.S3Bucket, err)
	}

	slog.Info("object storage bucket is ready", slog.String("bucket", cfg.S3Bucket))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
