// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/barrierfree-rail/internal/admin"
	"github.com/yourusername/barrierfree-rail/internal/auth"
	"github.com/yourusername/barrierfree-rail/internal/cache"
	"github.com/yourusername/barrierfree-rail/internal/config"
	"github.com/yourusername/barrierfree-rail/internal/logging"
	"github.com/yourusername/barrierfree-rail/internal/odpt"
	"github.com/yourusername/barrierfree-rail/internal/public"
	"github.com/yourusername/barrierfree-rail/internal/storage"
	"github.com/yourusername/barrierfree-rail/internal/store"
	"github.com/yourusername/barrierfree-rail/internal/syncer"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.GinMode)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	feeds, err := config.LoadFeeds(cfg.FeedsConfigPath)
	if err != nil {
		return err
	}

	uploads, err := storage.NewLocal(cfg.UploadDir, cfg.MaxUploadSize, logger)
	if err != nil {
		return err
	}

	// Redis が無い場合はキャッシュなし・同期は同期実行
	var (
		publicCache cache.Cache = cache.Noop{}
		jobQueue    admin.JobQueue
	)
	var rd *redisDeps
	if cfg.RedisEnabled() {
		rd, err = setupRedis(cfg)
		if err != nil {
			return err
		}
		defer rd.Close()
		publicCache = rd.cache
	}

	service, err := syncer.NewService(syncer.ServiceOptions{
		Feeds: feeds,
		Fetcher: &syncer.Fetcher{
			ODPT: odpt.NewClient(cfg.ODPTBaseURL, cfg.ODPTConsumerKey, nil, logger),
		},
		Syncer:    syncer.New(db, logger),
		Uploads:   uploads,
		Cache:     publicCache,
		BatchSize: cfg.SyncBatchSize,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	if rd != nil {
		manager, err := setupJobs(cfg, rd, service, logger)
		if err != nil {
			return err
		}
		manager.StartWorkers()
		defer func() {
			if err := manager.Shutdown(context.Background()); err != nil {
				logger.Warn("failed to shutdown job manager", zap.Error(err))
			}
		}()
		jobQueue = manager
	}

	go sweepUploads(ctx, uploads, logger)

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery(), logging.Middleware(logger))

	authManager := auth.NewManager(cfg, logger)
	router.Use(authManager.Sessions(cfg.GinMode == gin.ReleaseMode))
	router.Use(cors.New(corsConfig(cfg)))

	publicHandler, err := public.New(db, publicCache, logger)
	if err != nil {
		return err
	}
	adminHandler := admin.New(admin.Options{
		Store:         db,
		Cache:         publicCache,
		Sync:          service,
		Jobs:          jobQueue,
		Uploads:       uploads,
		MaxUploadSize: cfg.MaxUploadSize,
		Logger:        logger,
	})
	setupRoutes(router, db, authManager, adminHandler, publicHandler)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting API server", zap.String("addr", srv.Addr), zap.String("mode", cfg.GinMode))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func corsConfig(cfg *config.Config) cors.Config {
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	origins := strings.Split(cfg.CORSAllowedOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	corsConfig.AllowOrigins = origins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		auth.CSRFHeader, // CSRF保護用ヘッダー
	}
	// 管理画面がレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{auth.CSRFHeader}
	return corsConfig
}

// healthHandler はヘルスチェックエンドポイントのハンドラーです。
func healthHandler(db *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "barrierfree-rail-api",
			"version": "0.1.0",
		})
	}
}

// setupRoutes は公開側と管理側のルートを配線します。
func setupRoutes(router *gin.Engine, db *store.Store, authManager *auth.Manager, adminHandler *admin.Handler, publicHandler *public.Handler) {
	router.GET("/health", healthHandler(db))

	publicHandler.RegisterPages(router)

	api := router.Group("/api")
	publicHandler.RegisterAPI(api)

	// ログイン時はセッション未生成なので CSRF 検証は不要
	authManager.Register(api.Group("/admin/auth"))

	protected := api.Group("/admin", authManager.RequireLogin(), authManager.VerifyCSRF())
	adminHandler.Register(protected)
}
