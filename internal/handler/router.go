package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/talentstrike/internal/middleware"
	"github.com/hitoshi/talentstrike/internal/model"
)

// writerRoles は採用データの作成・更新を許可するロール。analystは参照のみ。
var writerRoles = []model.Role{model.RoleAdmin, model.RoleHRManager, model.RoleRecruiter}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Sessions          middleware.SessionRegistry
	CORSAllowedOrigin string
	CSRF              middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	RoleCheckTimeout  time.Duration
	Logger            *slog.Logger
	StatusRecorder    middleware.StatusRecorder // nil可

	// 運用エンドポイント
	HealthChecker  HealthChecker // nil可
	MetricsHandler http.Handler  // nil可

	// 認証
	Auth AuthHandlerConfig

	// 採用データ・ダッシュボード
	Recruitment RecruitmentService
	Dashboard   OverviewService

	// 変更通知
	Changes ChangeSubscriber // nil可
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RealIP → SecurityHeaders → Logging → Metrics → CORS → CSRF → Session
//
// /auth/* のうち認証試行（signup, signin, password/reset）はIPアドレスごとのレート制限を受ける。
// /api/* はRequireAuth → RateLimit(General)の後に配置し、書き込みはロールで制限する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(chimw.RealIP)
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.Sessions, deps.Auth)
	recruitmentHandler := NewRecruitmentHandler(deps.Recruitment)
	dashboardHandler := NewDashboardHandler(deps.Dashboard)

	// --- 運用エンドポイント（CSRF・セッション不要） ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
		r.Use(middleware.NewSessionMiddleware(deps.Sessions))

		r.Handle("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

		// --- 認証ルート ---
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.AuthMiddleware())
				r.Post("/signup", authHandler.SignUp)
				r.Post("/signin", authHandler.SignIn)
				r.Post("/password/reset", authHandler.ResetPassword)
			})
			r.Post("/signout", authHandler.SignOut)
			r.Get("/session", authHandler.Session)
			r.With(middleware.NewRequireAuthMiddleware()).Put("/password", authHandler.UpdatePassword)
		})

		// --- 認証が必要なルート ---
		// ミドルウェアスタック: RequireAuth → RateLimit(General)
		r.Route("/api", func(r chi.Router) {
			r.Use(middleware.NewRequireAuthMiddleware())
			r.Use(deps.RateLimiter.GeneralMiddleware())

			requireWriter := middleware.NewRequireRoleMiddleware(deps.RoleCheckTimeout, writerRoles...)

			r.Get("/profile", authHandler.GetProfile)
			r.Patch("/profile", authHandler.UpdateProfile)

			r.Route("/jobs", func(r chi.Router) {
				r.Get("/", recruitmentHandler.ListJobs)
				r.With(requireWriter).Post("/", recruitmentHandler.CreateJob)
				r.Get("/{id}", recruitmentHandler.GetJob)
				r.With(requireWriter).Patch("/{id}", recruitmentHandler.UpdateJob)
			})

			r.Route("/applications", func(r chi.Router) {
				r.Get("/", recruitmentHandler.ListApplications)
				r.With(requireWriter).Patch("/{id}/status", recruitmentHandler.UpdateApplicationStatus)
			})

			r.Route("/candidates", func(r chi.Router) {
				r.Get("/", recruitmentHandler.ListCandidates)
				r.With(requireWriter).Post("/", recruitmentHandler.CreateCandidate)
			})

			r.Get("/companies", recruitmentHandler.ListCompanies)
			r.Get("/profiles", recruitmentHandler.ListProfiles)

			r.Route("/metrics", func(r chi.Router) {
				r.Get("/recruitment", recruitmentHandler.RecruitmentMetrics)
				r.Get("/daily", recruitmentHandler.DailyAnalytics)
				r.Get("/recruiters", recruitmentHandler.RecruiterLeaderboard)
			})

			r.Get("/dashboard/overview", dashboardHandler.Overview)

			if deps.Changes != nil {
				r.Get("/stream/{channel}", NewStreamHandler(deps.Changes).Stream)
			}
		})
	})

	return r
}
