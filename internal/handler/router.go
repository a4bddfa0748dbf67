package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/rhodos/internal/middleware"
)

const (
	healthCheckPath = "/health_check"
	metricsPath     = "/metrics"
	loginPath       = "/login"

	// writeStatusesScope はAPIからの投稿に必要なスコープ。
	writeStatusesScope = "write:statuses"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	StatusRecorder    middleware.StatusRecorder
	TenantResolver    middleware.TenantResolver
	SessionFinder     middleware.SessionFinder
	TokenVerifier     middleware.AccessTokenVerifier
	CORSAllowedOrigin string

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ユーザー
	UserService UserServiceInterface

	// 投稿
	ContentService ContentServiceInterface

	// OAuth
	AppRegistrar AppRegistrar
	OAuthEngine  OAuthEngine

	// 運用
	HealthPinger   Pinger
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → Tenant
//
// /health_checkと/metricsはテナント解決の対象外。
// ブラウザ向けの画面にはCSRF検証を、ログインが必要な画面にはセッション検証を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.AuthConfig.CookieSecure))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewTenantMiddleware(deps.TenantResolver, healthCheckPath, metricsPath))

	csrfConfig := middleware.CSRFConfig{
		CookieSecure: deps.AuthConfig.CookieSecure,
		CookieDomain: deps.AuthConfig.CookieDomain,
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService)
	contentHandler := NewContentHandler(deps.ContentService)
	appsHandler := NewAppsHandler(deps.AppRegistrar)
	oauthHandler := NewOAuthHandler(deps.OAuthEngine, csrfConfig)

	// --- 運用 ---
	r.Get(healthCheckPath, NewHealthHandler(deps.HealthPinger))
	if deps.MetricsHandler != nil {
		r.Handle(metricsPath, deps.MetricsHandler)
	}

	// --- API（クライアント認証・Bearer認証） ---
	r.Post("/api/v1/apps", appsHandler.Register)
	for _, path := range []string{"/oauth/token", "/token"} {
		r.Post(path, oauthHandler.Token)
	}
	for _, path := range []string{"/oauth/refresh", "/refresh"} {
		r.Post(path, oauthHandler.Refresh)
		r.Get(path, oauthHandler.Refresh)
	}
	r.With(middleware.NewBearerMiddleware(deps.TokenVerifier, writeStatusesScope)).
		Post("/api/v1/statuses", contentHandler.PostStatus)

	// --- ユーザー登録 ---
	r.Post("/user", userHandler.Create)
	r.Get("/user/confirm", userHandler.Confirm)
	r.Get("/auth/me", authHandler.Me)

	// --- ブラウザ向け（CSRF検証あり） ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(csrfConfig))

		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(csrfConfig))
		r.Get(loginPath, authHandler.LoginPage)
		r.Post(loginPath, authHandler.Login)
		r.Post("/user/logout", authHandler.Logout)

		// 認可画面: 未ログインならログイン画面へ誘導する
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionRedirectMiddleware(deps.SessionFinder, loginPath))
			for _, path := range []string{"/oauth/authorize", "/authorize"} {
				r.Get(path, oauthHandler.Authorize)
				r.Post(path, oauthHandler.Authorize)
			}
		})

		// セッション必須のAPI
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
			r.Post("/user/change-password", authHandler.ChangePassword)
			r.Post("/content", contentHandler.Post)
		})
	})

	return r
}
