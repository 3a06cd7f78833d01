package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/talentstrike/internal/config"
	"github.com/hitoshi/talentstrike/internal/dashboard"
	"github.com/hitoshi/talentstrike/internal/database"
	"github.com/hitoshi/talentstrike/internal/handler"
	"github.com/hitoshi/talentstrike/internal/logger"
	"github.com/hitoshi/talentstrike/internal/metrics"
	"github.com/hitoshi/talentstrike/internal/middleware"
	"github.com/hitoshi/talentstrike/internal/provider"
	"github.com/hitoshi/talentstrike/internal/provider/gotrue"
	"github.com/hitoshi/talentstrike/internal/provider/memory"
	"github.com/hitoshi/talentstrike/internal/realtime"
	"github.com/hitoshi/talentstrike/internal/recruitment"
	"github.com/hitoshi/talentstrike/internal/repository"
	"github.com/hitoshi/talentstrike/internal/security"
	"github.com/hitoshi/talentstrike/internal/session"
	"github.com/hitoshi/talentstrike/internal/worker"
	"github.com/hitoshi/talentstrike/internal/worker/cleanup"
	"github.com/hitoshi/talentstrike/internal/worker/rollup"
)

const (
	dbPingTimeout   = 5 * time.Second
	shutdownTimeout = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
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
		slog.String("base_url", cfg.BaseURL),
		slog.String("auth_provider", cfg.AuthProvider),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openDatabase はDB接続を開き、到達できることを確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// authBackend は認証プロバイダーとプロフィールの保存先の組。
type authBackend struct {
	factory  provider.ClientFactory
	profiles repository.ProfileRepository
}

// newAuthBackend は設定に応じて認証プロバイダーを選択する。
// gotrueはプロバイダーセッションをauth_sessionsに、プロフィールをuser_profilesに保存する。
// memoryはデモアカウントを登録したプロセス内のプロバイダーを使う。
func newAuthBackend(cfg *config.Config, db *sql.DB, log *slog.Logger) (*authBackend, error) {
	switch cfg.AuthProvider {
	case config.AuthProviderMemory:
		backend := memory.NewBackend(memory.Options{
			RequireEmailConfirmation: cfg.AuthEmailConfirmation,
			JWTSecret:                cfg.AuthJWTSecret,
		})
		if err := backend.SeedDemoAccounts(); err != nil {
			return nil, fmt.Errorf("failed to seed demo accounts: %w", err)
		}
		log.Warn("using in-memory auth provider with demo accounts")
		return &authBackend{
			factory:  memory.NewFactory(backend, provider.NewMemoryStorage(), cfg.AuthRefreshMargin),
			profiles: backend,
		}, nil
	case config.AuthProviderGoTrue:
		return &authBackend{
			factory: gotrue.NewFactory(gotrue.Config{
				URL:           cfg.AuthURL,
				AnonKey:       cfg.AuthAnonKey,
				JWTSecret:     cfg.AuthJWTSecret,
				RefreshMargin: cfg.AuthRefreshMargin,
				AutoRefresh:   true,
				Storage:       repository.NewPostgresAuthSessionRepo(db),
				Logger:        log,
			}),
			profiles: repository.NewPostgresProfileRepo(db),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported auth provider: %q", cfg.AuthProvider)
	}
}

// server はAPIサーバーの依存関係一式。
type server struct {
	handler   http.Handler
	registry  *session.Registry
	limiter   *middleware.RateLimiter
	hub       *realtime.Hub
	collector *metrics.Collector
}

// close はバックグラウンドgoroutineを持つ依存関係を停止する。
func (s *server) close() {
	s.hub.Close()
	s.registry.Stop()
	s.limiter.Stop()
}

// newServer は全依存関係をワイヤリングしてルーターを構築する。
// dbへの接続確認は行わない。
func newServer(cfg *config.Config, db *sql.DB, log *slog.Logger) (*server, error) {
	// 1. メトリクス
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 2. 認証プロバイダーとSession Registry
	auth, err := newAuthBackend(cfg, db, log)
	if err != nil {
		return nil, err
	}
	registry := session.NewRegistry(auth.factory, auth.profiles, session.RegistryConfig{
		IdleTTL: cfg.SessionIdleTTL,
		Context: session.Options{
			ProfileLoadTimeout: cfg.ProfileLoadTimeout,
			Logger:             log,
			Observer:           collector,
		},
	})

	// 3. リポジトリとドメインサービス
	applications := repository.NewPostgresApplicationRepo(db)
	metricsRepo := repository.NewPostgresMetricsRepo(db)
	recruitmentService := recruitment.NewService(recruitment.Repositories{
		Jobs:         repository.NewPostgresJobRepo(db),
		Companies:    repository.NewPostgresCompanyRepo(db),
		Applications: applications,
		Candidates:   repository.NewPostgresCandidateRepo(db),
		Metrics:      metricsRepo,
		Profiles:     auth.profiles,
	}, security.NewContentSanitizer())
	dashboardService := dashboard.NewService(applications, metricsRepo)

	// 4. 変更通知
	hub := realtime.NewHub(log, collector)

	// 5. ルーターの構築
	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth))
	router := handler.NewRouter(&handler.RouterDeps{
		Sessions:          registry,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRF: middleware.CSRFConfig{
			CookieSecure:   cfg.CookieSecure,
			CookieDomain:   cfg.CookieDomain,
			TrustedOrigins: trustedOrigins(cfg),
		},
		RateLimiter:      limiter,
		RoleCheckTimeout: cfg.ProfileLoadTimeout,
		Logger:           log,
		StatusRecorder:   collector,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),

		Auth: handler.AuthHandlerConfig{
			BaseURL: cfg.BaseURL,
			Cookie: middleware.SessionCookieConfig{
				Secure: cfg.CookieSecure,
				Domain: cfg.CookieDomain,
				MaxAge: cfg.SessionMaxAge,
			},
			ProfileWait: cfg.ProfileLoadTimeout,
		},

		Recruitment: recruitmentService,
		Dashboard:   dashboardService,
		Changes:     hub,
	})

	return &server{
		handler:   router,
		registry:  registry,
		limiter:   limiter,
		hub:       hub,
		collector: collector,
	}, nil
}

// trustedOrigins はCSRF検査で受け付けるオリジン（CORS許可オリジンとBASE_URL）を返す。
func trustedOrigins(cfg *config.Config) []string {
	origins := strings.Split(cfg.CORSAllowedOrigin, ",")
	if u, err := url.Parse(cfg.BaseURL); err == nil && u.Scheme != "" && u.Host != "" {
		origins = append(origins, u.Scheme+"://"+u.Host)
	}
	return origins
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーと変更通知の受信を起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. 依存関係のワイヤリング
	srv, err := newServer(cfg, db, slog.Default())
	if err != nil {
		return err
	}
	defer srv.close()

	// 3. HTTPサーバーの起動
	// SSEの長時間接続を切らないよう、WriteTimeoutはストリームハンドラー側で解除する
	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("API server starting",
			slog.String("addr", httpServer.Addr),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	// 変更通知の受信が止まってもAPIは提供を続ける
	g.Go(func() error {
		listener := realtime.NewListener(cfg.DatabaseURL, srv.hub, slog.Default())
		if err := listener.Run(gctx); err != nil {
			slog.Error("realtime listener stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down API server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// 購読中のストリームを先に閉じてShutdownを待たせない
		srv.hub.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newJobs はワーカーで定期実行するジョブ群を構築する。
func newJobs(cfg *config.Config, db *sql.DB, log *slog.Logger) []worker.Job {
	metricsRepo := repository.NewPostgresMetricsRepo(db)
	return []worker.Job{
		rollup.NewDailyAnalyticsJob(metricsRepo, log),
		rollup.NewRecruiterPerformanceJob(metricsRepo, log),
		cleanup.NewCleanupJob(repository.NewPostgresAuthSessionRepo(db), log, cfg.SessionRetentionDays),
	}
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、集計とクリーンアップのジョブをRollupIntervalごとに実行する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker metrics server error", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsServer.Shutdown(shutdownCtx)
	}()

	// 3. スケジューラの起動（ブロッキング）
	scheduler := worker.NewScheduler(slog.Default(), collector, 0, newJobs(cfg, db, slog.Default())...)

	slog.Info("worker starting",
		slog.Duration("rollup_interval", cfg.RollupInterval),
		slog.Int("session_retention_days", cfg.SessionRetentionDays),
		slog.String("metrics_addr", metricsServer.Addr),
	)
	scheduler.Start(ctx, cfg.RollupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.Version(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
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

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
