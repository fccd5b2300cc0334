package admin

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/barrierfree-rail/internal/apperr"
)

// resource は1種類のエンティティの CRUD 操作です。nil の操作はルートを登録しません。
type resource[T any, In any] struct {
	// parent は一覧の絞り込みに使うクエリパラメータ名です（例: lineId）
	parent string
	list   func(ctx context.Context, parentID int64) ([]T, error)
	get    func(ctx context.Context, id int64) (*T, error)
	create func(ctx context.Context, in In) (*T, error)
	update func(ctx context.Context, id int64, in In) (*T, error)
	remove func(ctx context.Context, id int64) error
}

func mount[T any, In any](h *Handler, rg *gin.RouterGroup, path string, r resource[T, In]) {
	g := rg.Group(path)

	if r.list != nil {
		g.GET("", func(c *gin.Context) {
			var parentID int64
			if r.parent != "" {
				id, err := queryID(c, r.parent)
				if err != nil {
					apperr.Respond(c, err)
					return
				}
				parentID = id
			}
			items, err := r.list(c.Request.Context(), parentID)
			if err != nil {
				apperr.Respond(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"items": items})
		})
	}

	if r.get != nil {
		g.GET("/:id", func(c *gin.Context) {
			id, err := paramID(c)
			if err != nil {
				apperr.Respond(c, err)
				return
			}
			item, err := r.get(c.Request.Context(), id)
			if err != nil {
				apperr.Respond(c, err)
				return
			}
			c.JSON(http.StatusOK, item)
		})
	}

	if r.create != nil {
		g.POST("", func(c *gin.Context) {
			var in In
			if err := c.ShouldBindJSON(&in); err != nil {
				apperr.Respond(c, bindError(err))
				return
			}
			item, err := r.create(c.Request.Context(), in)
			if err != nil {
				apperr.Respond(c, err)
				return
			}
			h.mutated(c, path, zap.String("op", "create"))
			c.JSON(http.StatusCreated, item)
		})
	}

	if r.update != nil {
		g.PUT("/:id", func(c *gin.Context) {
			id, err := paramID(c)
			if err != nil {
				apperr.Respond(c, err)
				return
			}
			var in In
			if err := c.ShouldBindJSON(&in); err != nil {
				apperr.Respond(c, bindError(err))
				return
			}
			item, err := r.update(c.Request.Context(), id, in)
			if err != nil {
				apperr.Respond(c, err)
				return
			}
			h.mutated(c, path, zap.String("op", "update"), zap.Int64("id", id))
			c.JSON(http.StatusOK, item)
		})
	}

	if r.remove != nil {
		g.DELETE("/:id", func(c *gin.Context) {
			id, err := paramID(c)
			if err != nil {
				apperr.Respond(c, err)
				return
			}
			if err := r.remove(c.Request.Context(), id); err != nil {
				apperr.Respond(c, err)
				return
			}
			h.mutated(c, path, zap.String("op", "delete"), zap.Int64("id", id))
			c.Status(http.StatusNoContent)
		})
	}
}

func paramID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("ID が正しくありません")
	}
	return id, nil
}

// queryID は任意のIDクエリを読みます。未指定の場合は 0 です。
func queryID(c *gin.Context, name string) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid(name + " が正しくありません")
	}
	return id, nil
}

func bindError(err error) error {
	return apperr.New(apperr.CodeInvalidInput, "入力内容が正しくありません", err)
}
