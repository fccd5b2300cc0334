// Package admin は管理画面用の JSON API（エンティティの CRUD・乗車位置図のプレビュー・データ同期）を提供します。
package admin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/barrierfree-rail/internal/apperr"
	"github.com/yourusername/barrierfree-rail/internal/auth"
	"github.com/yourusername/barrierfree-rail/internal/cache"
	"github.com/yourusername/barrierfree-rail/internal/jobs"
	"github.com/yourusername/barrierfree-rail/internal/model"
	"github.com/yourusername/barrierfree-rail/internal/storage"
	"github.com/yourusername/barrierfree-rail/internal/store"
	"github.com/yourusername/barrierfree-rail/internal/syncer"
)

// JobQueue は非同期同期ジョブの投入先です。
type JobQueue interface {
	Enqueue(ctx context.Context, payload *jobs.TaskPayload) (string, error)
	GetRecord(ctx context.Context, jobID string) (*jobs.Record, error)
}

// Options は Handler の依存です。Jobs と Uploads は省略できます。
type Options struct {
	Store         *store.Store
	Cache         cache.Cache
	Sync          *syncer.Service
	Jobs          JobQueue
	Uploads       *storage.Local
	MaxUploadSize int64
	Logger        *zap.Logger
}

// Handler は管理APIのハンドラーです。
type Handler struct {
	store         *store.Store
	cache         cache.Cache
	sync          *syncer.Service
	jobs          JobQueue
	uploads       *storage.Local
	maxUploadSize int64
	logger        *zap.Logger
}

// New は Handler を作成します。
func New(opts Options) *Handler {
	h := &Handler{
		store:         opts.Store,
		cache:         opts.Cache,
		sync:          opts.Sync,
		jobs:          opts.Jobs,
		uploads:       opts.Uploads,
		maxUploadSize: opts.MaxUploadSize,
		logger:        opts.Logger,
	}
	if h.cache == nil {
		h.cache = cache.Noop{}
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	return h
}

// Register は管理APIのルートを登録します。認証・CSRF のミドルウェアは呼び出し側で rg に設定します。
func (h *Handler) Register(rg *gin.RouterGroup) {
	s := h.store

	mount(h, rg, "/operators", resource[model.Operator, model.OperatorInput]{
		list:   func(ctx context.Context, _ int64) ([]model.Operator, error) { return s.ListOperators(ctx) },
		get:    s.GetOperator,
		create: s.CreateOperator,
		update: s.UpdateOperator,
		remove: s.DeleteOperator,
	})
	mount(h, rg, "/lines", resource[model.Line, model.LineInput]{
		parent: "operatorId",
		list:   s.ListLines,
		get:    s.GetLine,
		create: s.CreateLine,
		update: s.UpdateLine,
		remove: s.DeleteLine,
	})
	mount(h, rg, "/stations", resource[model.Station, model.StationInput]{
		parent: "lineId",
		list:   s.ListStations,
		get:    s.GetStation,
		create: s.CreateStation,
		update: s.UpdateStation,
		remove: s.DeleteStation,
	})
	mount(h, rg, "/platforms", resource[model.Platform, model.PlatformInput]{
		parent: "stationId",
		list:   s.ListPlatforms,
		get:    s.GetPlatform,
		create: s.CreatePlatform,
		update: s.UpdatePlatform,
		remove: s.DeletePlatform,
	})
	mount(h, rg, "/facilities", resource[model.Facility, model.FacilityInput]{
		parent: "platformId",
		list:   s.ListFacilities,
		get:    s.GetFacility,
		create: s.CreateFacility,
		update: s.UpdateFacility,
		remove: s.DeleteFacility,
	})
	mount(h, rg, "/trains", resource[model.Train, model.TrainInput]{
		parent: "lineId",
		list:   s.ListTrains,
		get:    s.GetTrain,
		create: s.CreateTrain,
		update: s.UpdateTrain,
		remove: s.DeleteTrain,
	})
	// 号車は編成の両数に合わせて自動で作られるので作成・削除はない
	mount(h, rg, "/cars", resource[model.Car, model.CarInput]{
		parent: "trainId",
		list:   s.ListCars,
		get:    s.GetCar,
		update: s.UpdateCar,
	})
	mount(h, rg, "/stop-positions", resource[model.StopPosition, model.StopPositionInput]{
		parent: "platformId",
		list:   s.ListStopPositions,
		get:    s.GetStopPosition,
		create: s.CreateStopPosition,
		update: s.UpdateStopPosition,
		remove: s.DeleteStopPosition,
	})

	rg.PUT("/lines/:id/stations", h.reorderStations)
	rg.GET("/platforms/:id/diagram", h.previewDiagram)

	rg.GET("/sync/feeds", h.listFeeds)
	rg.POST("/sync", h.startSync)
	rg.GET("/sync/runs", h.listSyncRuns)
	rg.GET("/jobs/:id", h.getJob)
}

// mutated は変更後に公開側のキャッシュを破棄し、操作ログを残します。
func (h *Handler) mutated(c *gin.Context, resource string, fields ...zap.Field) {
	if err := h.cache.Invalidate(c.Request.Context()); err != nil {
		h.logger.Warn("failed to invalidate cache", zap.Error(err))
	}
	fields = append(fields, zap.String("resource", resource), zap.String("user", c.GetString(auth.ContextUserKey)))
	h.logger.Info("admin mutation", fields...)
}

type reorderRequest struct {
	StationIDs []int64 `json:"stationIds" binding:"required"`
}

func (h *Handler) reorderStations(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, bindError(err))
		return
	}
	if err := h.store.ReorderStations(c.Request.Context(), id, req.StationIDs); err != nil {
		apperr.Respond(c, err)
		return
	}
	h.mutated(c, "/lines/stations", zap.Int64("line_id", id))
	stations, err := h.store.ListStations(c.Request.Context(), id)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": stations})
}

func (h *Handler) previewDiagram(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	trainID, err := queryID(c, "trainId")
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if trainID > 0 {
		d, err := h.store.PlatformDiagram(c.Request.Context(), id, trainID)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
		return
	}
	ds, err := h.store.PlatformDiagrams(c.Request.Context(), id)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": ds})
}
