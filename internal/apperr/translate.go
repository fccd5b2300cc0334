package apperr

import (
	"errors"

	"github.com/yourusername/barrierfree-rail/internal/config"
	"github.com/yourusername/barrierfree-rail/internal/gtfs"
	"github.com/yourusername/barrierfree-rail/internal/storage"
	"github.com/yourusername/barrierfree-rail/internal/store"
	"github.com/yourusername/barrierfree-rail/internal/syncer"
)

// Translate は各層の既知のエラーをクライアント向けの Error に変換します。該当しない場合はそのまま返します。
func Translate(err error) error {
	var appErr *Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, store.ErrNotFound):
		return New(CodeNotFound, "対象のデータが見つかりません", err)
	case errors.Is(err, store.ErrConflict):
		return New(CodeConflict, "他のデータと重複しているか、関連するデータが存在しません", err)
	case errors.Is(err, store.ErrInvalid):
		return New(CodeInvalidInput, "入力内容が登録済みのデータと矛盾しています", err)
	case errors.Is(err, storage.ErrTooLarge):
		return New(CodeLimitExceeded, "アップロードファイルが大きすぎます", err)
	case errors.Is(err, storage.ErrNotZip):
		return New(CodeUnsupportedFeed, "GTFS の zip ファイルをアップロードしてください", err)
	case errors.Is(err, storage.ErrNotFound):
		return New(CodeNotFound, "アップロードファイルが見つかりません", err)
	case errors.Is(err, config.ErrFeedNotFound):
		return New(CodeNotFound, "指定されたフィードは定義されていません", err)
	case errors.Is(err, syncer.ErrUnsupportedFeed):
		return New(CodeUnsupportedFeed, "このフィードは指定の方法では同期できません", err)
	case errors.Is(err, gtfs.ErrNoRailRoutes):
		return New(CodeUnsupportedFeed, "GTFS に鉄道路線が含まれていません", err)
	}
	return err
}
