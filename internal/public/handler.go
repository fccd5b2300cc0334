// Package public は利用者向けの検索 API と HTML ページを提供します。
// レスポンスは cache を通して返し、管理側の変更・同期でまとめて破棄されます。
package public

import (
	"context"
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/barrierfree-rail/internal/apperr"
	"github.com/yourusername/barrierfree-rail/internal/cache"
	"github.com/yourusername/barrierfree-rail/internal/diagram"
	"github.com/yourusername/barrierfree-rail/internal/model"
	"github.com/yourusername/barrierfree-rail/internal/store"
)

// Handler は公開 API と HTML ページのハンドラーです。
type Handler struct {
	store  *store.Store
	cache  cache.Cache
	pages  *template.Template
	logger *zap.Logger
}

// New は Handler を作成します。c が nil の場合はキャッシュしません。
func New(st *store.Store, c cache.Cache, logger *zap.Logger) (*Handler, error) {
	if c == nil {
		c = cache.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pages, err := parsePages()
	if err != nil {
		return nil, err
	}
	return &Handler{store: st, cache: c, pages: pages, logger: logger}, nil
}

// RegisterAPI は JSON API を rg（通常 /api）に登録します。
func (h *Handler) RegisterAPI(rg *gin.RouterGroup) {
	rg.GET("/operators", h.cachedJSON(h.operators))
	rg.GET("/operators/:id/lines", h.cachedJSON(h.operatorLines))
	rg.GET("/lines/:id", h.cachedJSON(h.line))
	rg.GET("/stations", h.cachedJSON(h.searchStations))
	rg.GET("/stations/:id", h.cachedJSON(h.station))
	rg.GET("/platforms/:id/diagram", h.cachedJSON(h.platformDiagram))
	rg.GET("/platforms/:id/nearest", h.cachedJSON(h.nearest))
}

// loader はリクエストからレスポンス本体を組み立てます。
type loader func(c *gin.Context) (any, error)

// cachedJSON はパスとクエリをキーにして JSON をキャッシュします。エラーはキャッシュしません。
func (h *Handler) cachedJSON(load loader) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := cache.Key("api", c.Request.URL.Path, c.Request.URL.RawQuery)

		var body json.RawMessage
		version, hit, cacheable := h.lookup(ctx, key, &body)
		if hit {
			c.Data(http.StatusOK, "application/json; charset=utf-8", body)
			return
		}

		v, err := load(c)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		body, err = json.Marshal(v)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		if cacheable {
			h.save(ctx, version, key, body)
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", body)
	}
}

// lookup はキャッシュを読みます。キャッシュの障害は未ヒットとして扱い、そのリクエストでは保存もしません。
// 保存は読んだときの version に対して行います。
func (h *Handler) lookup(ctx context.Context, key string, dst any) (version cache.Version, hit, cacheable bool) {
	version, hit, err := h.cache.Get(ctx, key, dst)
	if err != nil {
		h.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return 0, false, false
	}
	return version, hit, true
}

func (h *Handler) save(ctx context.Context, version cache.Version, key string, value any) {
	if err := h.cache.Set(ctx, version, key, value); err != nil {
		h.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

type lineDetail struct {
	model.Line
	Operator *model.Operator `json:"operator"`
	Stations []model.Station `json:"stations"`
	Trains   []model.Train   `json:"trains"`
}

type stationHit struct {
	model.Station
	LineName     string `json:"lineName"`
	LineColor    string `json:"lineColor"`
	OperatorName string `json:"operatorName"`
}

type platformDetail struct {
	model.Platform
	Facilities []model.Facility `json:"facilities"`
}

type stationDetail struct {
	model.Station
	Line      *model.Line      `json:"line"`
	Operator  *model.Operator  `json:"operator"`
	Platforms []platformDetail `json:"platforms"`
}

type nearestResult struct {
	TrainID   int64             `json:"trainId"`
	TrainName string            `json:"trainName"`
	Nearest   []diagram.Nearest `json:"nearest"`
}

func (h *Handler) operators(c *gin.Context) (any, error) {
	ops, err := h.store.ListOperators(c.Request.Context())
	if err != nil {
		return nil, err
	}
	return gin.H{"items": ops}, nil
}

func (h *Handler) operatorLines(c *gin.Context) (any, error) {
	id, err := paramID(c)
	if err != nil {
		return nil, err
	}
	ctx := c.Request.Context()
	if _, err := h.store.GetOperator(ctx, id); err != nil {
		return nil, err
	}
	lines, err := h.store.ListLines(ctx, id)
	if err != nil {
		return nil, err
	}
	return gin.H{"items": lines}, nil
}

func (h *Handler) line(c *gin.Context) (any, error) {
	id, err := paramID(c)
	if err != nil {
		return nil, err
	}
	return h.loadLine(c.Request.Context(), id)
}

func (h *Handler) loadLine(ctx context.Context, id int64) (*lineDetail, error) {
	l, err := h.store.GetLine(ctx, id)
	if err != nil {
		return nil, err
	}
	op, err := h.store.GetOperator(ctx, l.OperatorID)
	if err != nil {
		return nil, err
	}
	stations, err := h.store.ListStations(ctx, id)
	if err != nil {
		return nil, err
	}
	trains, err := h.store.ListTrains(ctx, id)
	if err != nil {
		return nil, err
	}
	return &lineDetail{Line: *l, Operator: op, Stations: stations, Trains: trains}, nil
}

func (h *Handler) searchStations(c *gin.Context) (any, error) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, apperr.Invalid("limit は正の整数で指定してください")
		}
		limit = n
	}
	hits, err := h.search(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		return nil, err
	}
	return gin.H{"items": hits}, nil
}

// search は駅を検索し、路線名と事業者名を付けて返します。
func (h *Handler) search(ctx context.Context, q string, limit int) ([]stationHit, error) {
	stations, err := h.store.SearchStations(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	lines := map[int64]*model.Line{}
	ops := map[int64]*model.Operator{}
	hits := make([]stationHit, 0, len(stations))
	for _, s := range stations {
		l, ok := lines[s.LineID]
		if !ok {
			if l, err = h.store.GetLine(ctx, s.LineID); err != nil {
				return nil, err
			}
			lines[s.LineID] = l
		}
		op, ok := ops[l.OperatorID]
		if !ok {
			if op, err = h.store.GetOperator(ctx, l.OperatorID); err != nil {
				return nil, err
			}
			ops[l.OperatorID] = op
		}
		hits = append(hits, stationHit{Station: s, LineName: l.Name, LineColor: l.Color, OperatorName: op.Name})
	}
	return hits, nil
}

func (h *Handler) station(c *gin.Context) (any, error) {
	id, err := paramID(c)
	if err != nil {
		return nil, err
	}
	return h.loadStation(c.Request.Context(), id)
}

func (h *Handler) loadStation(ctx context.Context, id int64) (*stationDetail, error) {
	s, err := h.store.GetStation(ctx, id)
	if err != nil {
		return nil, err
	}
	l, err := h.store.GetLine(ctx, s.LineID)
	if err != nil {
		return nil, err
	}
	op, err := h.store.GetOperator(ctx, l.OperatorID)
	if err != nil {
		return nil, err
	}
	platforms, err := h.store.ListPlatforms(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &stationDetail{Station: *s, Line: l, Operator: op, Platforms: make([]platformDetail, 0, len(platforms))}
	for _, p := range platforms {
		fs, err := h.store.ListFacilities(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		out.Platforms = append(out.Platforms, platformDetail{Platform: p, Facilities: fs})
	}
	return out, nil
}

func (h *Handler) platformDiagram(c *gin.Context) (any, error) {
	diagrams, err := h.diagrams(c)
	if err != nil {
		return nil, err
	}
	if c.Query("trainId") != "" {
		return diagrams[0], nil
	}
	return gin.H{"items": diagrams}, nil
}

func (h *Handler) nearest(c *gin.Context) (any, error) {
	kind := model.FacilityKind(c.Query("kind"))
	if !kind.Valid() {
		return nil, apperr.Invalid("kind が不正です")
	}
	diagrams, err := h.diagrams(c)
	if err != nil {
		return nil, err
	}
	out := make([]nearestResult, 0, len(diagrams))
	for _, d := range diagrams {
		n := diagram.NearestCars(d, kind)
		if n == nil {
			n = []diagram.Nearest{}
		}
		out = append(out, nearestResult{TrainID: d.TrainID, TrainName: d.TrainName, Nearest: n})
	}
	return gin.H{"items": out}, nil
}

// diagrams は trainId があればその1編成、無ければ停車位置が登録された全編成の図を返します。
func (h *Handler) diagrams(c *gin.Context) ([]*diagram.Diagram, error) {
	id, err := paramID(c)
	if err != nil {
		return nil, err
	}
	ctx := c.Request.Context()
	if raw := c.Query("trainId"); raw != "" {
		trainID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || trainID <= 0 {
			return nil, apperr.Invalid("trainId が不正です")
		}
		d, err := h.store.PlatformDiagram(ctx, id, trainID)
		if err != nil {
			return nil, err
		}
		return []*diagram.Diagram{d}, nil
	}
	return h.store.PlatformDiagrams(ctx, id)
}

func paramID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("id が不正です")
	}
	return id, nil
}
