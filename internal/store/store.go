// Package store は SQLite 上の関係スキーマへのアクセスを提供します。
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schemaSQL string

const driverName = "sqlite"

var (
	// ErrNotFound は対象の行が存在しないことを表します。
	ErrNotFound = errors.New("not found")
	// ErrConflict は一意制約・外部キー制約に違反したことを表します。
	ErrConflict = errors.New("conflict")
	// ErrInvalid は入力が既存データと矛盾することを表します。
	ErrInvalid = errors.New("invalid")
)

func init() {
	sqlx.BindDriver(driverName, sqlx.QUESTION)
}

// Store はリポジトリ操作をまとめた構造体です。
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open は SQLite データベースを開きます。親ディレクトリが無ければ作成します。
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := "file:" + path +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_time_format=sqlite"
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite は書き込みが直列化されるため接続数を絞る
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Migrate は埋め込みスキーマを適用します。既存テーブルには影響しません。
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close はデータベース接続を閉じます。
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping は接続確認を行います。
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx は fn をトランザクション内で実行し、エラー時はロールバックします。
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// translate はドライバのエラーを ErrNotFound / ErrConflict に変換します。
func translate(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT,
			sqlite3.SQLITE_CONSTRAINT_UNIQUE,
			sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY,
			sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%s: %w: %v", what, ErrConflict, err)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

// requireAffected は UPDATE/DELETE が1行以上に作用したかを確認します。
func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// queryer は *sqlx.DB と *sqlx.Tx の共通部分です。
type queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}
