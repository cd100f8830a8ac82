package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/subshare/internal/middleware"
)

// loginPath は未ログイン時にページから誘導するログインURL。
const loginPath = "/auth/google/login"

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	CookieSecure      bool
	CookieDomain      string
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig
	TokenIssuer TokenIssuerInterface

	// プール・サービス
	PoolService PoolServiceInterface
	Catalog     ServiceCatalog
	Display     DisplayDefaults
	Logos       LogoSource

	// ユーザー
	UserService UserServiceInterface

	// 運用
	HealthCheck    HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// 全ルート共通のミドルウェアの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders → CORS
//
// API: Session → CSRF → RateLimit(General)、プール変更はさらにRateLimit(PoolMutation)。
// ダッシュボードページ: PageSession（未ログインはログインへリダイレクト）→ CSRF。
func NewRouter(deps *RouterDeps) (http.Handler, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	calcHandler := NewCalculatorHandler(deps.Catalog, deps.Display, logger)
	pageHandler, err := NewPageHandler(calcHandler, deps.PoolService, deps.UserService, logger)
	if err != nil {
		return nil, err
	}
	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig, logger)
	tokenHandler := NewTokenHandler(deps.TokenIssuer, deps.UserService, logger)
	poolHandler := NewPoolHandler(deps.PoolService, logger)
	userHandler := NewUserHandler(deps.UserService, logger)
	systemHandler := NewSystemHandler(deps.HealthCheck, deps.Logos, logger)

	csrf := middleware.NewCSRFMiddleware(middleware.CSRFConfig{
		CookieSecure: deps.CookieSecure,
		CookieDomain: deps.CookieDomain,
	})

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// --- 運用・静的ファイル ---
	r.Get("/health", systemHandler.Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Get("/static/img/service-default.svg", DefaultServiceLogo)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServerFS(StaticFiles())))

	// --- 認証不要のAPI ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewOptionalSessionMiddleware(deps.SessionFinder, logger))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/logos/{serviceId}", systemHandler.Logo)
		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(middleware.CSRFConfig{
			CookieSecure: deps.CookieSecure,
			CookieDomain: deps.CookieDomain,
		}))
		r.Get("/api/calculator", calcHandler.Calculate)
		r.Get("/api/services", calcHandler.ListServices)
	})

	// --- 公開ページ ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewOptionalSessionMiddleware(deps.SessionFinder, logger))
		r.Use(csrf)

		r.Get("/", pageHandler.Landing)
		r.Get("/privacy", pageHandler.Privacy)
		r.Get("/terms", pageHandler.Terms)
		r.Get("/refund-policy", pageHandler.RefundPolicy)
	})

	// --- 認証ルート（OAuthフロー） ---
	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.With(csrf).Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// --- ダッシュボードページ ---
	r.Route("/dashboard", func(r chi.Router) {
		r.Use(middleware.NewPageSessionMiddleware(deps.SessionFinder, loginPath, logger))
		r.Use(csrf)

		r.Get("/", pageHandler.Dashboard)
		r.Get("/pools", pageHandler.Pools)
		r.Get("/profile", pageHandler.Profile)
		r.Get("/settings", pageHandler.Settings)
		r.Get("/payment-methods", pageHandler.PaymentMethods)
	})

	// --- 認証が必要なAPI ---
	// ミドルウェアスタック: Session → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder, logger))
		r.Use(csrf)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/auth", tokenHandler.IssueToken)

		r.Route("/api/pools", func(r chi.Router) {
			r.Get("/", poolHandler.ListPools)
			r.Get("/mine", poolHandler.ListMyPools)

			// 作成・参加・退出は専用のレート制限を追加
			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.PoolMutationMiddleware())
				r.Post("/", poolHandler.CreatePool)
				r.Post("/{id}/join", poolHandler.JoinPool)
				r.Post("/{id}/leave", poolHandler.LeavePool)
			})
		})

		r.Route("/api/users/me", func(r chi.Router) {
			r.Get("/", userHandler.GetProfile)
			r.Put("/", userHandler.UpdateProfile)
			r.Delete("/", userHandler.Withdraw)
			r.Get("/settings", userHandler.GetSettings)
			r.Put("/settings", userHandler.UpdateSettings)
		})

		r.Route("/api/payment-methods", func(r chi.Router) {
			r.Get("/", userHandler.ListPaymentMethods)
			r.Post("/", userHandler.AddPaymentMethod)
			r.Delete("/{id}", userHandler.DeletePaymentMethod)
			r.Post("/{id}/default", userHandler.SetDefaultPaymentMethod)
		})
	})

	return r, nil
}
