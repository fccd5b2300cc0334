// Package apperr はクライアントへ返すエラーコードとHTTPレスポンスへの変換を提供します。
package apperr

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// エラーコード一覧
const (
	CodeInvalidInput    = "INVALID_INPUT"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeLimitExceeded   = "LIMIT_EXCEEDED"
	CodeUnsupportedFeed = "UNSUPPORTED_FEED"
	CodeInternal        = "INTERNAL_ERROR"
)

// Error はクライアントに返却するためのエラー情報です。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New は Error を作成します。
func New(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Invalid は入力不正エラーを作成します。
func Invalid(message string) *Error {
	return New(CodeInvalidInput, message, nil)
}

// NotFound は対象が存在しない場合のエラーを作成します。
func NotFound(message string) *Error {
	return New(CodeNotFound, message, nil)
}

// StatusOf はエラーに対応するHTTPステータスを返します。
func StatusOf(err error) int {
	var appErr *Error
	switch {
	case errors.As(err, &appErr):
		switch appErr.Code {
		case CodeInvalidInput:
			return http.StatusBadRequest
		case CodeNotFound:
			return http.StatusNotFound
		case CodeConflict:
			return http.StatusConflict
		case CodeLimitExceeded:
			return http.StatusRequestEntityTooLarge
		case CodeUnsupportedFeed:
			return http.StatusUnprocessableEntity
		default:
			return http.StatusInternalServerError
		}
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Respond はエラーを {"code","message"} 形式のJSONで返します。
// 既知のエラーは Translate で変換し、想定外のエラーは内容を伏せて INTERNAL_ERROR として返します。
func Respond(c *gin.Context, err error) {
	err = Translate(err)
	status := StatusOf(err)
	_ = c.Error(err)

	var appErr *Error
	switch {
	case errors.As(err, &appErr) && status != http.StatusInternalServerError:
		c.JSON(status, gin.H{
			"code":    appErr.Code,
			"message": appErr.Message,
		})
	case status == http.StatusRequestTimeout:
		c.JSON(status, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    CodeInternal,
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}
