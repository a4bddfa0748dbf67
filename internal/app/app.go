package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/rhodos/internal/auth"
	"github.com/hitoshi/rhodos/internal/config"
	"github.com/hitoshi/rhodos/internal/content"
	"github.com/hitoshi/rhodos/internal/credential"
	"github.com/hitoshi/rhodos/internal/database"
	"github.com/hitoshi/rhodos/internal/handler"
	"github.com/hitoshi/rhodos/internal/logger"
	"github.com/hitoshi/rhodos/internal/metrics"
	"github.com/hitoshi/rhodos/internal/model"
	"github.com/hitoshi/rhodos/internal/oauth"
	"github.com/hitoshi/rhodos/internal/repository"
	"github.com/hitoshi/rhodos/internal/security"
	"github.com/hitoshi/rhodos/internal/tenant"
	"github.com/hitoshi/rhodos/internal/user"
	"github.com/hitoshi/rhodos/internal/worker/blocking"
	"github.com/hitoshi/rhodos/internal/worker/cleanup"
)

// migrationConcurrency はmigrateコマンドで同時にマイグレーションするDB数。
const migrationConcurrency = 4

// Init はアプリケーションの初期化を行う。
// 設定を読み込み、LOG_LEVELに従ったJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数・設定ファイルから設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再設定する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	if cmd == CommandHelp {
		_, err := io.WriteString(w, Usage())
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
		slog.String("server_domain", cfg.ServerDomain),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(ctx, cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openPrimary はプライマリDBを開き、疎通を確認する。
func openPrimary(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// newRegistry はGo・プロセスのメトリクスを含むレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newTenantCache はプライマリDBのinstanceテーブルを引くテナント接続キャッシュを生成する。
func newTenantCache(cfg *config.Config, primary *sql.DB, collector *metrics.Collector) *tenant.Cache {
	return tenant.NewCache(primary, repository.NewPostgresInstanceRepo(primary), tenant.CacheConfig{
		PrimaryDomain: cfg.ServerDomain,
		SSLMode:       cfg.TenantDBSSLMode,
		Opener:        database.Open,
		Recorder:      collector,
	})
}

// newGrantStore はREDIS_URLが設定されていればRedis、なければプロセス内メモリの
// GrantStoreを返す。closeは終了時に呼び出す。
func newGrantStore(ctx context.Context, cfg *config.Config) (store oauth.GrantStore, closeFn func() error, err error) {
	if cfg.RedisURL == "" {
		slog.Info("using in-memory grant store")
		return oauth.NewMemoryGrantStore(), func() error { return nil }, nil
	}
	client, err := oauth.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("using redis grant store")
	return oauth.NewRedisGrantStore(client), client.Close, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. プライマリDB接続とスキーマの適用
	primary, err := openPrimary(cfg)
	if err != nil {
		return err
	}
	defer primary.Close()

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("failed to migrate primary database: %w", err)
	}

	// 2. メトリクスとブロッキングプール
	registry := newRegistry()
	collector := metrics.NewCollector(registry)
	pool := blocking.NewPool(cfg.HashPoolSize, collector.ObserveBlockingJob)

	verifier, err := credential.NewVerifier(pool)
	if err != nil {
		return fmt.Errorf("failed to initialize credential verifier: %w", err)
	}

	// 3. テナント接続キャッシュ
	cache := newTenantCache(cfg, primary, collector)
	defer cache.Close()

	// 4. リポジトリの初期化（テナントテーブルはリクエストのテナントDBを使う）
	tenantDB := repository.DBFunc(tenant.DBFromContext)
	userRepo := repository.NewPostgresUserRepo(tenantDB)
	sessionRepo := repository.NewPostgresSessionRepo(tenantDB)
	accountRepo := repository.NewPostgresAccountRepo(tenantDB)
	statusRepo := repository.NewPostgresStatusRepo(tenantDB)
	clientAppRepo := repository.NewPostgresClientAppRepo(tenantDB)
	authzRepo := repository.NewPostgresAuthorizationRepo(tenantDB)

	// 5. OAuthエンジン
	grants, closeGrants, err := newGrantStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open grant store: %w", err)
	}
	defer closeGrants()

	registrar := oauth.NewClientRegistrar(clientAppRepo, verifier)
	solicitor := oauth.NewConsentSolicitor(registrar, authzRepo, collector)
	issuer := oauth.NewTokenIssuer([]byte(cfg.TokenSigningKey), cfg.AccessTokenTTL)
	engine := oauth.NewEngine(registrar, solicitor, grants, issuer, collector, oauth.EngineConfig{
		AuthCodeTTL:     cfg.AuthCodeTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
	})

	// 6. ドメインサービス
	authService := auth.NewService(verifier, userRepo, sessionRepo,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	userService := user.NewService(verifier, userRepo, nil, cfg.BaseURL)
	contentService := content.NewService(accountRepo, statusRepo, security.NewContentSanitizer())

	// 7. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		StatusRecorder:    collector,
		TenantResolver:    cache,
		SessionFinder:     sessionRepo,
		TokenVerifier:     engine,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,

		AuthService: handler.NewAuthServiceAdapter(authService),
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},
		UserService:    handler.NewUserServiceAdapter(userService),
		ContentService: contentService,
		AppRegistrar:   registrar,
		OAuthEngine:    engine,

		HealthPinger:   primary,
		MetricsHandler: metrics.Handler(registry),
	}

	return serveHTTP(ctx, &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	})
}

// serveHTTP はctxがキャンセルされるまでサーバーを動かし、その後グレースフルシャットダウンする。
func serveHTTP(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// プライマリと全テナントのDBを巡回して期限切れセッションと古い確認トークンを削除する。
// 運用向けに/health_checkと/metricsを提供する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	primary, err := openPrimary(cfg)
	if err != nil {
		return err
	}
	defer primary.Close()

	registry := newRegistry()
	collector := metrics.NewCollector(registry)

	cache := newTenantCache(cfg, primary, collector)
	defer cache.Close()

	instanceRepo := repository.NewPostgresInstanceRepo(primary)
	job := cleanup.NewCleanupJob(slog.Default(), collector)
	sweeper := cleanup.NewSweeper(job, cleanupTargets(primary, cache, instanceRepo), cfg.CleanupTenantsPerSecond, slog.Default())

	mux := http.NewServeMux()
	mux.Handle("GET /health_check", handler.NewHealthHandler(primary))
	mux.Handle("GET /metrics", metrics.Handler(registry))

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Float64("tenants_per_second", cfg.CleanupTenantsPerSecond),
	)

	go sweeper.Start(ctx, cfg.CleanupInterval)

	err = serveHTTP(ctx, &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	})

	slog.Info("worker stopped gracefully")
	return err
}

// instanceLister はテナント一覧を返す。repository.InstanceRepositoryの部分集合。
type instanceLister interface {
	List(ctx context.Context) ([]*model.Instance, error)
}

// tenantResolver はドメインからテナントDBを返す。tenant.Cacheが実装する。
type tenantResolver interface {
	Resolve(ctx context.Context, host string) (*sql.DB, error)
	PrimaryDomain() string
}

// cleanupTargets はプライマリDBと全テナントDBをクリーンアップ対象として列挙する。
// 接続できないテナントはログに残して対象から外す。
func cleanupTargets(primary *sql.DB, cache tenantResolver, instances instanceLister) cleanup.TargetLister {
	return func(ctx context.Context) ([]cleanup.Target, error) {
		list, err := instances.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list instances: %w", err)
		}

		targets := make([]cleanup.Target, 0, len(list)+1)
		targets = append(targets, cleanup.Target{Name: cache.PrimaryDomain(), DB: primary})
		for _, inst := range list {
			if inst.Domain == cache.PrimaryDomain() {
				continue
			}
			db, err := cache.Resolve(ctx, inst.Domain)
			if err != nil {
				slog.Warn("skipping tenant in cleanup",
					slog.String("tenant", inst.Domain),
					slog.String("error", err.Error()),
				)
				continue
			}
			targets = append(targets, cleanup.Target{Name: inst.Domain, DB: db})
		}
		return targets, nil
	}
}

// runMigrate はプライマリDBと全テナントDBにマイグレーションを適用する。
// プライマリを先に適用し、その後instanceテーブルのテナントを並行して適用する。
func runMigrate(ctx context.Context, cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	primary, err := openPrimary(cfg)
	if err != nil {
		return err
	}
	defer primary.Close()

	instances, err := repository.NewPostgresInstanceRepo(primary).List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list instances: %w", err)
	}

	if err := database.RunMigrationsAll(ctx, migrationTargets(cfg, instances), migrationConcurrency, nil); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Int("tenants", len(instances)))
	return nil
}

// migrationTargets はテナントごとのマイグレーション対象を組み立てる。
// プライマリドメインのテナントは適用済みのため除外する。
func migrationTargets(cfg *config.Config, instances []*model.Instance) []database.MigrationTarget {
	primaryDomain, err := tenant.HostKey(cfg.ServerDomain)
	if err != nil {
		primaryDomain = cfg.ServerDomain
	}

	targets := make([]database.MigrationTarget, 0, len(instances))
	for _, inst := range instances {
		if inst.Domain == primaryDomain {
			continue
		}
		targets = append(targets, database.MigrationTarget{
			Name: inst.Domain,
			URL:  tenant.BuildDSN(inst, cfg.TenantDBSSLMode),
		})
	}
	return targets
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health_check エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health_check", port)
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
