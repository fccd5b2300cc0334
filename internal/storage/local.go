// Package storage はアップロードされた GTFS フィードをローカルファイルシステムに保存します。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	feedFilename = "feed.zip"
	zipMIME      = "application/zip"
)

var (
	// ErrTooLarge はアップロードがサイズ上限を超えたことを表します。
	ErrTooLarge = errors.New("upload too large")
	// ErrNotZip はアップロードが zip ではないことを表します。
	ErrNotZip = errors.New("upload is not a zip file")
	// ErrNotFound は指定IDのアップロードが存在しないことを表します。
	ErrNotFound = errors.New("upload not found")
)

// Local は UPLOAD_DIR/<uploadID>/feed.zip にファイルを保存します。
type Local struct {
	root    string
	maxSize int64
	logger  *zap.Logger
	now     func() time.Time
}

// NewLocal は保存先ディレクトリを作成して Local を返します。
func NewLocal(root string, maxSize int64, logger *zap.Logger) (*Local, error) {
	if root == "" {
		return nil, errors.New("upload dir is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{root: root, maxSize: maxSize, logger: logger, now: time.Now}, nil
}

// Save は r の内容を新しいアップロードIDで保存します。
// サイズ上限を超える場合や zip でない場合は保存せずにエラーを返します。
func (l *Local) Save(ctx context.Context, r io.Reader) (string, error) {
	id := uuid.NewString()
	dir := filepath.Join(l.root, id)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}

	path := filepath.Join(dir, feedFilename)
	if err := l.write(ctx, path, r); err != nil {
		os.RemoveAll(dir)
		return "", err
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to detect upload type: %w", err)
	}
	if !isZip(mtype) {
		os.RemoveAll(dir)
		return "", fmt.Errorf("%w: %s", ErrNotZip, mtype.String())
	}

	l.logger.Debug("upload saved", zap.String("upload_id", id))
	return id, nil
}

func (l *Local) write(ctx context.Context, path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	src := r
	if l.maxSize > 0 {
		// 上限を1バイト超えて読めたらサイズ超過
		src = io.LimitReader(r, l.maxSize+1)
	}
	n, err := io.Copy(f, &ctxReader{ctx: ctx, r: src})
	if err != nil {
		return fmt.Errorf("failed to save upload: %w", err)
	}
	if l.maxSize > 0 && n > l.maxSize {
		return ErrTooLarge
	}
	return f.Close()
}

// isZip は zip 自体か zip ベースの形式かを判定します。
func isZip(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is(zipMIME) {
			return true
		}
	}
	return false
}

// Path はアップロードIDに対応するファイルパスを返します。
func (l *Local) Path(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", ErrNotFound
	}
	path := filepath.Join(l.root, id, feedFilename)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}
	return path, nil
}

// Remove はアップロードを削除します。存在しない場合は何もしません。
func (l *Local) Remove(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	return os.RemoveAll(filepath.Join(l.root, id))
}

// Sweep は maxAge より古いアップロードを削除し、削除件数を返します。
func (l *Local) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return 0, err
	}
	cutoff := l.now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(l.root, e.Name())); err != nil {
			l.logger.Warn("failed to remove expired upload", zap.String("upload_id", e.Name()), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// ctxReader はコンテキストのキャンセルで読み込みを中断します。
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
