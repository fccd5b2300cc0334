package public

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/barrierfree-rail/internal/cache"
	"github.com/yourusername/barrierfree-rail/internal/model"
	"github.com/yourusername/barrierfree-rail/internal/store"
)

// mapCache は JSON に直して世代ごとに保持するメモリ上のキャッシュです。
type mapCache struct {
	mu      sync.Mutex
	version cache.Version
	data    map[string][]byte
	sets    int
	// beforeSet は保存の直前に呼ばれます。
	beforeSet func()
}

func (c *mapCache) slot(v cache.Version, key string) string {
	return strconv.FormatInt(int64(v), 10) + ":" + key
}

func (c *mapCache) Get(_ context.Context, key string, dst any) (cache.Version, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.data[c.slot(c.version, key)]
	if !ok {
		return c.version, false, nil
	}
	return c.version, true, json.Unmarshal(raw, dst)
}

func (c *mapCache) Set(_ context.Context, v cache.Version, key string, value any) error {
	if c.beforeSet != nil {
		c.beforeSet()
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[c.slot(v, key)] = raw
	c.sets++
	return nil
}

func (c *mapCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version++
	return nil
}

type testEnv struct {
	router   *gin.Engine
	store    *store.Store
	cache    *mapCache
	line     *model.Line
	station  *model.Station
	platform *model.Platform
	train    *model.Train
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "public.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(ctx))

	op, err := st.CreateOperator(ctx, model.OperatorInput{Code: "TokyoMetro", Name: "東京メトロ"})
	require.NoError(t, err)
	line, err := st.CreateLine(ctx, model.LineInput{OperatorID: op.ID, Code: "G", Name: "銀座線", Color: "#FF9500"})
	require.NoError(t, err)
	station, err := st.CreateStation(ctx, model.StationInput{LineID: line.ID, Code: "G01", Name: "渋谷", NameKana: "しぶや", Seq: 1, HasElevator: true})
	require.NoError(t, err)
	_, err = st.CreateStation(ctx, model.StationInput{LineID: line.ID, Code: "G02", Name: "表参道", NameKana: "おもてさんどう", Seq: 2})
	require.NoError(t, err)
	p, err := st.CreatePlatform(ctx, model.PlatformInput{StationID: station.ID, Number: "1", Direction: "浅草", CellCount: 12, Car1Side: model.Car1Left})
	require.NoError(t, err)
	tr, err := st.CreateTrain(ctx, model.TrainInput{LineID: line.ID, Name: "1000系", CarCount: 6, CellsPerCar: 2})
	require.NoError(t, err)
	_, err = st.CreateStopPosition(ctx, model.StopPositionInput{PlatformID: p.ID, TrainID: tr.ID, OffsetCell: 0})
	require.NoError(t, err)
	_, err = st.CreateFacility(ctx, model.FacilityInput{PlatformID: p.ID, Cell: 5, Kind: model.FacilityElevator, Label: "改札方面"})
	require.NoError(t, err)
	_, err = st.CreateFacility(ctx, model.FacilityInput{PlatformID: p.ID, Cell: 11, Kind: model.FacilityStairs})
	require.NoError(t, err)

	c := &mapCache{data: map[string][]byte{}}
	h, err := New(st, c, zap.NewNop())
	require.NoError(t, err)
	r := gin.New()
	h.RegisterAPI(r.Group("/api"))
	h.RegisterPages(r)

	return &testEnv{router: r, store: st, cache: c, line: line, station: station, platform: p, train: tr}
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst), w.Body.String())
}

func TestOperatorsAndLines(t *testing.T) {
	e := newTestEnv(t)

	w := e.get(t, "/api/operators")
	require.Equal(t, http.StatusOK, w.Code)
	var ops struct {
		Items []model.Operator `json:"items"`
	}
	decode(t, w, &ops)
	require.Len(t, ops.Items, 1)

	w = e.get(t, "/api/operators/"+itoa(ops.Items[0].ID)+"/lines")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "銀座線")

	w = e.get(t, "/api/operators/999/lines")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestLineDetail(t *testing.T) {
	e := newTestEnv(t)
	w := e.get(t, "/api/lines/"+itoa(e.line.ID))
	require.Equal(t, http.StatusOK, w.Code)

	var got lineDetail
	decode(t, w, &got)
	require.Equal(t, "東京メトロ", got.Operator.Name)
	require.Len(t, got.Stations, 2)
	require.Equal(t, "渋谷", got.Stations[0].Name)
	require.Equal(t, "表参道", got.Stations[1].Name)
	require.Len(t, got.Trains, 1)
}

func TestSearchStations(t *testing.T) {
	e := newTestEnv(t)

	w := e.get(t, "/api/stations?q=しぶ")
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Items []stationHit `json:"items"`
	}
	decode(t, w, &got)
	require.Len(t, got.Items, 1)
	require.Equal(t, "渋谷", got.Items[0].Name)
	require.Equal(t, "銀座線", got.Items[0].LineName)
	require.Equal(t, "東京メトロ", got.Items[0].OperatorName)

	w = e.get(t, "/api/stations?q=g0&limit=1")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &got)
	require.Len(t, got.Items, 1)

	w = e.get(t, "/api/stations?q=g0&limit=abc")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStationDetail(t *testing.T) {
	e := newTestEnv(t)
	w := e.get(t, "/api/stations/"+itoa(e.station.ID))
	require.Equal(t, http.StatusOK, w.Code)

	var got stationDetail
	decode(t, w, &got)
	require.True(t, got.HasElevator)
	require.Equal(t, "銀座線", got.Line.Name)
	require.Len(t, got.Platforms, 1)
	require.Len(t, got.Platforms[0].Facilities, 2)

	require.Equal(t, http.StatusNotFound, e.get(t, "/api/stations/999").Code)
	require.Equal(t, http.StatusBadRequest, e.get(t, "/api/stations/abc").Code)
}

func TestPlatformDiagramAndNearest(t *testing.T) {
	e := newTestEnv(t)
	base := "/api/platforms/" + itoa(e.platform.ID)

	w := e.get(t, base+"/diagram")
	require.Equal(t, http.StatusOK, w.Code)
	var all struct {
		Items []json.RawMessage `json:"items"`
	}
	decode(t, w, &all)
	require.Len(t, all.Items, 1)

	w = e.get(t, base+"/diagram?trainId="+itoa(e.train.ID))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"trainName":"1000系"`)

	require.Equal(t, http.StatusNotFound, e.get(t, base+"/diagram?trainId=999").Code)
	require.Equal(t, http.StatusBadRequest, e.get(t, base+"/diagram?trainId=x").Code)

	w = e.get(t, base+"/nearest?kind=elevator")
	require.Equal(t, http.StatusOK, w.Code)
	var near struct {
		Items []nearestResult `json:"items"`
	}
	decode(t, w, &near)
	require.Len(t, near.Items, 1)
	require.Len(t, near.Items[0].Nearest, 1)
	require.Equal(t, 3, near.Items[0].Nearest[0].Car)
	require.Equal(t, 0, near.Items[0].Nearest[0].Distance)

	w = e.get(t, base+"/nearest?kind=escalator")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &near)
	require.Empty(t, near.Items[0].Nearest)

	require.Equal(t, http.StatusBadRequest, e.get(t, base+"/nearest?kind=lift").Code)
}

func TestResponsesAreCached(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	w := e.get(t, "/api/stations?q=渋谷")
	require.Equal(t, http.StatusOK, w.Code)
	first := w.Body.String()
	require.Equal(t, 1, e.cache.sets)

	// キャッシュを経由しない変更はキャッシュ破棄まで見えない
	_, err := e.store.UpdateStation(ctx, e.station.ID, model.StationInput{LineID: e.line.ID, Code: "G01", Name: "渋谷", Seq: 1, Note: "工事中"})
	require.NoError(t, err)
	w = e.get(t, "/api/stations?q=渋谷")
	require.Equal(t, first, w.Body.String())
	require.Equal(t, 1, e.cache.sets)

	require.NoError(t, e.cache.Invalidate(ctx))
	w = e.get(t, "/api/stations?q=渋谷")
	require.Contains(t, w.Body.String(), "工事中")

	// エラーはキャッシュしない
	before := e.cache.sets
	e.get(t, "/api/stations/999")
	require.Equal(t, before, e.cache.sets)
}

func TestStaleBodyIsNotServedAfterInvalidate(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	// 読み込みと保存の間に管理画面から更新された場合
	e.cache.beforeSet = func() {
		e.cache.beforeSet = nil
		_, err := e.store.UpdateStation(ctx, e.station.ID, model.StationInput{LineID: e.line.ID, Code: "G01", Name: "渋谷", Seq: 1, Note: "工事中"})
		require.NoError(t, err)
		require.NoError(t, e.cache.Invalidate(ctx))
	}
	path := "/api/stations/" + itoa(e.station.ID)
	w := e.get(t, path)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotContains(t, w.Body.String(), "工事中")

	w = e.get(t, path)
	require.Contains(t, w.Body.String(), "工事中")
}

func TestPages(t *testing.T) {
	e := newTestEnv(t)

	w := e.get(t, "/")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "text/html")
	require.Contains(t, w.Body.String(), "東京メトロ")
	require.Contains(t, w.Body.String(), "銀座線")

	w = e.get(t, "/?q=表参道")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "/stations/")
	require.Contains(t, w.Body.String(), "表参道")

	w = e.get(t, "/stations/"+itoa(e.station.ID))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	require.Contains(t, body, "1番線")
	require.Contains(t, body, "1000系")
	require.Contains(t, body, "3号車")
	require.Contains(t, body, "エレベーター")
	require.Contains(t, body, "改札方面")

	// 2回目はキャッシュから同じ内容を返す
	w2 := e.get(t, "/stations/"+itoa(e.station.ID))
	require.Equal(t, body, w2.Body.String())

	w = e.get(t, "/stations/999")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "404")
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
