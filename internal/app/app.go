// Package app はサブコマンドごとの起動処理と依存関係のワイヤリングを提供する。
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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/dailylog/internal/auth"
	"github.com/hitoshi/dailylog/internal/config"
	"github.com/hitoshi/dailylog/internal/database"
	"github.com/hitoshi/dailylog/internal/export"
	"github.com/hitoshi/dailylog/internal/handler"
	"github.com/hitoshi/dailylog/internal/journal"
	"github.com/hitoshi/dailylog/internal/logger"
	"github.com/hitoshi/dailylog/internal/metrics"
	"github.com/hitoshi/dailylog/internal/middleware"
	"github.com/hitoshi/dailylog/internal/repository"
	"github.com/hitoshi/dailylog/internal/schema"
	"github.com/hitoshi/dailylog/internal/worker/cleanup"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 設定を読み込み、設定に従ったJSON構造化ログをグローバルロガーとして設定する。
// 返されたio.Closerはログファイルを閉じるために終了時に呼び出す。
func Init(w io.Writer) (*config.Config, io.Closer, error) {
	// 1. 設定読み込み前にもログを使えるようにする
	logger.SetupDefault(config.LogConfig{Level: "info"}, w)

	// 2. 設定ファイルと環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定に従ってロガーを作り直す
	closer := logger.SetupDefault(cfg.Log, w)
	return cfg, closer, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。ctxがキャンセルされるとサーバーとワーカーは停止する。
// exportの出力はstdoutに、ログはexportの場合のみstderrに書き出す。
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = config.Default().ServerPort
		}
		return runHealthcheck(ctx, port)
	}

	logOut := stdout
	if cmd == CommandExport {
		logOut = stderr
	}

	cfg, closer, err := Init(logOut)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer closer.Close()

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("addr", cfg.Addr()),
		slog.String("database_url", database.Redact(cfg.DatabaseURL)),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(ctx, cfg)
	case CommandExport:
		if len(args) < 2 || args[1] == "" {
			return errors.New("usage: dailylog export <username>")
		}
		return runExport(ctx, cfg, args[1], stdout)
	default:
		return runServe(ctx, cfg)
	}
}

// openDatabase はDBに接続し、必要に応じてマイグレーションを適用する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, database.Dialect, error) {
	dialect, _, err := database.ParseURL(cfg.DatabaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}

	if cfg.AutoMigrate {
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, "", fmt.Errorf("migration failed: %w", err)
		}
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established", slog.String("dialect", string(dialect)))
	return db, dialect, nil
}

// resolveSchema は任意カラムを追加したうえでスキーマ状態を判定する。
func resolveSchema(ctx context.Context, db *sql.DB, dialect database.Dialect) (schema.State, error) {
	manager := schema.NewManager(db, dialect, slog.Default())
	manager.EnsureAll(ctx)
	state, err := manager.Resolve(ctx)
	if err != nil {
		return schema.State{}, fmt.Errorf("failed to resolve schema: %w", err)
	}
	return state, nil
}

// server はserveモードで組み立てた依存関係を保持する。
type server struct {
	cfg         *config.Config
	db          *sql.DB
	handler     http.Handler
	rateLimiter *middleware.RateLimiter
	cleanupJob  *cleanup.CleanupJob
}

// newServer はDB接続から全依存関係をワイヤリングし、HTTPハンドラーを構築する。
func newServer(ctx context.Context, cfg *config.Config) (*server, error) {
	// 1. DB接続とスキーマ判定
	db, dialect, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	state, err := resolveSchema(ctx, db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mc := metrics.NewCollector(registry)

	// 3. リポジトリの初期化
	accountRepo := repository.NewSQLAccountRepo(db)
	sessionRepo := repository.NewSQLSessionRepo(db)
	journalRepo := repository.NewSQLJournalRepo(db, state)

	// 4. ドメインサービスの初期化
	hasher, err := auth.NewPasswordHasher(cfg.BcryptCost)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("invalid BCRYPT_COST: %w", err)
	}
	tokens := auth.NewTokenIssuer(cfg.SessionSecret, time.Duration(cfg.SessionMaxAge)*time.Second)
	authService := auth.NewService(accountRepo, sessionRepo, hasher, tokens, mc,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge})

	if cfg.AdminPass != "" {
		if _, err := authService.BootstrapDefaultAccount(ctx, cfg.AdminUser, cfg.AdminPass); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to bootstrap default account: %w", err)
		}
	}

	journalService := journal.NewService(journalRepo, mc,
		journal.ServiceConfig{RetryAttempts: cfg.StorageRetryAttempts})
	exporter := export.NewExporter(journalService, mc)

	// 5. ルーターの構築（レート制限はreq/min単位で設定する）
	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth))

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Metrics:           mc,
		IdentityResolver:  authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		AuthService:      authService,
		ActivityRecorder: journalService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:   cfg.CookieDomain,
			CookieSecure:   cfg.CookieSecure,
			SessionMaxAge:  cfg.SessionMaxAge,
			RecordActivity: cfg.RecordAuthActivity,
		},

		JournalService: journalService,
		Exporter:       exporter,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),
		StaticDir:      cfg.StaticDir,
	})

	return &server{
		cfg:         cfg,
		db:          db,
		handler:     router,
		rateLimiter: rateLimiter,
		cleanupJob:  cleanup.NewCleanupJob(sessionRepo, slog.Default(), mc),
	}, nil
}

// Close はレート制限のゴルーチンを止め、DB接続を閉じる。
func (s *server) Close() error {
	s.rateLimiter.Stop()
	return s.db.Close()
}

// listen はリッスンソケットを開く。MAX_CONNECTIONSが正の場合は同時接続数を制限する。
func (s *server) listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	return ln, nil
}

// serve はlnでHTTPサーバーとセッションクリーンアップを実行する。
// ctxがキャンセルされるとグレースフルシャットダウンを行い、nilを返す。
func (s *server) serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logAccessHints(slog.Default(), ln.Addr(), s.cfg.AdminUser)
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.cleanupJob.Start(gctx, s.cfg.SessionCleanupInterval)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down API server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
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

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされるとHTTPサーバーを停止し、その後DB接続を閉じる。
func runServe(ctx context.Context, cfg *config.Config) error {
	srv, err := newServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			slog.Error("failed to close database", slog.String("error", err.Error()))
		}
		slog.Info("database connection closed")
	}()

	ln, err := srv.listen()
	if err != nil {
		return err
	}
	return srv.serve(ctx, ln)
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションを定期的に削除し、ctxがキャンセルされるまでブロックする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, _, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	job := cleanup.NewCleanupJob(repository.NewSQLSessionRepo(db), slog.Default(), nil)

	slog.Info("worker starting", slog.Duration("cleanup_interval", cfg.SessionCleanupInterval))
	job.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行し、任意カラムを追加する。
func runMigrate(ctx context.Context, cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", database.Redact(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	db, dialect, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := resolveSchema(ctx, db, dialect); err != nil {
		return err
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runExport は指定ユーザーのジャーナルをCSVとしてwに書き出す。
func runExport(ctx context.Context, cfg *config.Config, username string, w io.Writer) error {
	db, _, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 読み取りのみのため任意カラムの判定は不要
	journalService := journal.NewService(
		repository.NewSQLJournalRepo(db, schema.NewState()),
		nil,
		journal.ServiceConfig{RetryAttempts: cfg.StorageRetryAttempts},
	)

	rows, err := export.NewExporter(journalService, nil).WriteCSV(ctx, username, w)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	slog.Info("export completed", slog.String("username", username), slog.Int("rows", rows))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	url := "http://" + net.JoinHostPort("localhost", port) + "/health"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
