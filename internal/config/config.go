// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// 管理画面の認証設定
	AppUsername     string // 管理者ユーザー名
	AppPasswordHash string // bcryptでハッシュ化されたパスワード
	SessionSecret   string // セッション署名用の秘密鍵

	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ログ設定
	LogLevel string // debug, info, warn, error

	// データベース設定
	DatabasePath string // SQLiteファイルのパス

	// Redis設定（空の場合はキャッシュと非同期ジョブを無効化）
	RedisURL         string
	CacheTTLSeconds  int // 公開APIレスポンスのキャッシュ有効期間（秒）
	JobExpireMinutes int // ジョブ情報の保持期間（分）

	// アップロード設定
	UploadDir     string // GTFSアップロードの保存先
	MaxUploadSize int64  // アップロード1件の最大サイズ（バイト）

	// 同期設定
	FeedsConfigPath string // フィード定義YAMLのパス
	ODPTBaseURL     string // ODPT APIのベースURL
	ODPTConsumerKey string // ODPT APIのコンシューマーキー
	SyncBatchSize   int    // 一括upsertの1バッチあたりの行数
}

// Load は環境変数から設定を読み込みます。
// カレントディレクトリか親ディレクトリに .env.local があれば先に読み込みます（既存の環境変数は上書きしません）。
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		AppUsername:     env("APP_USERNAME", ""),
		AppPasswordHash: env("APP_PASSWORD_HASH", ""),
		SessionSecret:   env("SESSION_SECRET", ""),

		Port:    env("PORT", "8080"),
		GinMode: env("GIN_MODE", "debug"),

		CORSAllowedOrigins: env("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
		LogLevel:           env("LOG_LEVEL", "info"),
		DatabasePath:       env("DATABASE_PATH", filepath.Join("data", "barrierfree.db")),

		RedisURL:         env("REDIS_URL", ""),
		CacheTTLSeconds:  envNumber("CACHE_TTL_SECONDS", 300),
		JobExpireMinutes: envNumber("JOB_EXPIRE_MINUTES", 60),

		UploadDir:     env("UPLOAD_DIR", filepath.Join(os.TempDir(), "barrierfree", "uploads")),
		MaxUploadSize: envNumber[int64]("MAX_UPLOAD_SIZE", 200<<20),

		FeedsConfigPath: env("FEEDS_CONFIG", "feeds.yml"),
		ODPTBaseURL:     env("ODPT_BASE_URL", "https://api.odpt.org/api/v4"),
		ODPTConsumerKey: env("ODPT_CONSUMER_KEY", ""),
		SyncBatchSize:   envNumber("SYNC_BATCH_SIZE", 200),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFile() {
	candidates := []string{".env.local"}
	if cwd, err := os.Getwd(); err == nil {
		if parent := filepath.Dir(cwd); parent != cwd {
			candidates = append(candidates, filepath.Join(parent, ".env.local"))
		}
	}
	for _, path := range candidates {
		if godotenv.Load(path) == nil {
			return
		}
	}
}

// Validate は設定の妥当性を検証し、問題をまとめて返します。
// release モードでは管理者アカウントとセッション鍵が必須です。
func (c *Config) Validate() error {
	var errs []error
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("DATABASE_PATH is required"))
	}
	if c.SyncBatchSize <= 0 {
		errs = append(errs, errors.New("SYNC_BATCH_SIZE must be positive"))
	}
	if c.MaxUploadSize <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_SIZE must be positive"))
	}
	if c.GinMode == "release" {
		required := []struct{ key, value string }{
			{"APP_USERNAME", c.AppUsername},
			{"APP_PASSWORD_HASH", c.AppPasswordHash},
			{"SESSION_SECRET", c.SessionSecret},
		}
		for _, r := range required {
			if r.value == "" {
				errs = append(errs, fmt.Errorf("%s is required in release mode", r.key))
			}
		}
	}
	return errors.Join(errs...)
}

// RedisEnabled は Redis 依存機能（キャッシュ・非同期ジョブ）を使うかどうかを返します。
func (c *Config) RedisEnabled() bool {
	return c.RedisURL != ""
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envNumber は整数の環境変数を読みます。未設定や解釈できない値の場合は def を返します。
func envNumber[T int | int64](key string, def T) T {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return T(n)
}
