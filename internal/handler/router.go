package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/dailylog/internal/metrics"
	"github.com/hitoshi/dailylog/internal/middleware"
)

// HealthChecker はデータベースの疎通確認を行う。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	IdentityResolver  middleware.IdentityResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthService      AuthServiceInterface
	ActivityRecorder ActivityRecorder
	AuthConfig       AuthHandlerConfig

	// ジャーナル
	JournalService JournalServiceInterface
	Exporter       CSVExporter

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
	StaticDir      string
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Recovery → SecurityHeaders → CORS → Identity
//
// /api/logs 配下はさらに RequireIdentity → RateLimit(General) を通る。
// 登録・ログインはクライアントIP単位のRateLimit(Auth)を通る。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewIdentityMiddleware(deps.IdentityResolver))

	r.NotFound(NotFound)
	r.MethodNotAllowed(MethodNotAllowed)

	authHandler := NewAuthHandler(deps.AuthService, deps.ActivityRecorder, deps.AuthConfig)
	journalHandler := NewJournalHandler(deps.JournalService, deps.Exporter)
	staticHandler := NewStaticHandler(deps.StaticDir)

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証（未認証でもアクセス可能） ---
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.AuthMiddleware())
			}
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
		})
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)

		// --- ジャーナル（認証必須） ---
		r.Route("/logs", func(r chi.Router) {
			r.Use(middleware.RequireIdentity())
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.GeneralMiddleware())
			}

			r.Get("/", journalHandler.List)
			r.Post("/upsert", journalHandler.Upsert)
			r.Get("/export", journalHandler.Export)
			r.Get("/{dateKey}", journalHandler.Get)
			r.Delete("/{dateKey}", journalHandler.Delete)
		})
	})

	// --- フロントエンド ---
	r.Get("/", staticHandler.Index)
	r.Get("/login", staticHandler.Login)
	r.Get("/*", staticHandler.Files)

	return r
}

// healthHandler はDBへの疎通を確認し、失敗時は503を返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
