package admin

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/barrierfree-rail/internal/cache"
	"github.com/yourusername/barrierfree-rail/internal/config"
	"github.com/yourusername/barrierfree-rail/internal/jobs"
	"github.com/yourusername/barrierfree-rail/internal/storage"
	"github.com/yourusername/barrierfree-rail/internal/store"
	"github.com/yourusername/barrierfree-rail/internal/syncer"
)

type countingCache struct {
	invalidations int
}

func (c *countingCache) Get(context.Context, string, any) (cache.Version, bool, error) {
	return 0, false, nil
}
func (c *countingCache) Set(context.Context, cache.Version, string, any) error { return nil }
func (c *countingCache) Invalidate(context.Context) error {
	c.invalidations++
	return nil
}

type fakeQueue struct {
	payloads []*jobs.TaskPayload
	records  map[string]*jobs.Record
}

func (q *fakeQueue) Enqueue(_ context.Context, p *jobs.TaskPayload) (string, error) {
	q.payloads = append(q.payloads, p)
	q.records[p.JobID] = &jobs.Record{JobID: p.JobID, Feed: p.Feed, Status: jobs.StatusQueued}
	return p.JobID, nil
}

func (q *fakeQueue) GetRecord(_ context.Context, id string) (*jobs.Record, error) {
	return q.records[id], nil
}

type testEnv struct {
	router  *gin.Engine
	store   *store.Store
	cache   *countingCache
	uploads *storage.Local
	gtfs    string
}

func newTestEnv(t *testing.T, queue JobQueue) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "admin.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	uploads, err := storage.NewLocal(filepath.Join(dir, "uploads"), 1<<20, nil)
	require.NoError(t, err)

	gtfsPath := filepath.Join(dir, "tokyo.zip")
	require.NoError(t, os.WriteFile(gtfsPath, gtfsZip(t), 0o600))
	feeds, err := config.ParseFeeds([]byte("feeds:\n  - name: tokyo\n    type: gtfs\n    path: " + gtfsPath + "\n"))
	require.NoError(t, err)

	c := &countingCache{}
	svc, err := syncer.NewService(syncer.ServiceOptions{
		Feeds:   feeds,
		Syncer:  syncer.New(st, nil),
		Uploads: uploads,
		Cache:   c,
	})
	require.NoError(t, err)

	h := New(Options{Store: st, Cache: c, Sync: svc, Jobs: queue, Uploads: uploads, MaxUploadSize: 1 << 20})
	r := gin.New()
	h.Register(r.Group("/api/admin"))
	return &testEnv{router: r, store: st, cache: c, uploads: uploads, gtfs: gtfsPath}
}

func gtfsZip(t *testing.T) []byte {
	t.Helper()
	files := map[string]string{
		"agency.txt":     "agency_id,agency_name\nm,メトロ\n",
		"routes.txt":     "route_id,agency_id,route_short_name,route_long_name,route_type\nG,m,G,銀座線,1\n",
		"stops.txt":      "stop_id,stop_name\na,渋谷\nb,表参道\n",
		"trips.txt":      "route_id,trip_id\nG,t1\n",
		"stop_times.txt": "trip_id,stop_id,stop_sequence\nt1,a,1\nt1,b,2\n",
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst), w.Body.String())
}

func TestOperatorCRUD(t *testing.T) {
	e := newTestEnv(t, nil)

	w := e.do(t, http.MethodPost, "/api/admin/operators", map[string]any{"code": "Toei", "name": "都営"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var op struct {
		ID     int64  `json:"id"`
		Source string `json:"source"`
	}
	decode(t, w, &op)
	require.Equal(t, "admin", op.Source)
	require.Equal(t, 1, e.cache.invalidations)

	w = e.do(t, http.MethodPost, "/api/admin/operators", map[string]any{"code": "Toei", "name": "重複"})
	require.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodPost, "/api/admin/operators", map[string]any{"name": "コードなし"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "INVALID_INPUT")

	w = e.do(t, http.MethodPut, "/api/admin/operators/"+itoa(op.ID), map[string]any{"code": "Toei", "name": "東京都交通局"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "東京都交通局")

	w = e.do(t, http.MethodGet, "/api/admin/operators", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Items []json.RawMessage `json:"items"`
	}
	decode(t, w, &list)
	require.Len(t, list.Items, 1)

	require.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, "/api/admin/operators/"+itoa(op.ID), nil).Code)
	require.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/admin/operators/"+itoa(op.ID), nil).Code)
	require.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/admin/operators/abc", nil).Code)
}

func TestTrainCarsAndDiagramPreview(t *testing.T) {
	e := newTestEnv(t, nil)

	var op, line, station, platform, train struct {
		ID int64 `json:"id"`
	}
	decode(t, e.do(t, http.MethodPost, "/api/admin/operators", map[string]any{"code": "M", "name": "メトロ"}), &op)
	decode(t, e.do(t, http.MethodPost, "/api/admin/lines", map[string]any{"operatorId": op.ID, "code": "G", "name": "銀座線", "color": "#FF9500"}), &line)
	decode(t, e.do(t, http.MethodPost, "/api/admin/stations", map[string]any{"lineId": line.ID, "name": "渋谷", "seq": 1}), &station)
	decode(t, e.do(t, http.MethodPost, "/api/admin/platforms", map[string]any{"stationId": station.ID, "number": "1", "cellCount": 8, "car1Side": "right"}), &platform)
	decode(t, e.do(t, http.MethodPost, "/api/admin/trains", map[string]any{"lineId": line.ID, "name": "1000系", "carCount": 3, "cellsPerCar": 2}), &train)

	w := e.do(t, http.MethodGet, "/api/admin/cars?trainId="+itoa(train.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cars struct {
		Items []struct {
			ID     int64 `json:"id"`
			Number int   `json:"number"`
		} `json:"items"`
	}
	decode(t, w, &cars)
	require.Len(t, cars.Items, 3)

	w = e.do(t, http.MethodPut, "/api/admin/cars/"+itoa(cars.Items[0].ID), map[string]any{"wheelchairSpace": true})
	require.Equal(t, http.StatusOK, w.Code)
	// 号車は作成できない
	require.Equal(t, http.StatusNotFound, e.do(t, http.MethodPost, "/api/admin/cars", map[string]any{}).Code)

	w = e.do(t, http.MethodPost, "/api/admin/stop-positions", map[string]any{"platformId": platform.ID, "trainId": train.ID, "offsetCell": 3})
	require.Equal(t, http.StatusBadRequest, w.Code, "3 + 3*2 > 8")
	w = e.do(t, http.MethodPost, "/api/admin/stop-positions", map[string]any{"platformId": platform.ID, "trainId": train.ID, "offsetCell": 1})
	require.Equal(t, http.StatusCreated, w.Code)

	e.do(t, http.MethodPost, "/api/admin/facilities", map[string]any{"platformId": platform.ID, "cell": 0, "kind": "elevator"})

	w = e.do(t, http.MethodGet, "/api/admin/platforms/"+itoa(platform.ID)+"/diagram?trainId="+itoa(train.ID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var d struct {
		Cells []struct {
			Car int `json:"car"`
		} `json:"cells"`
		Cars []struct {
			Number          int  `json:"number"`
			FirstCell       int  `json:"firstCell"`
			WheelchairSpace bool `json:"wheelchairSpace"`
		} `json:"cars"`
	}
	decode(t, w, &d)
	// 1号車は右端から1セル空けて 6,5 に停車する
	require.Equal(t, []int{0, 3, 3, 2, 2, 1, 1, 0}, []int{d.Cells[0].Car, d.Cells[1].Car, d.Cells[2].Car, d.Cells[3].Car, d.Cells[4].Car, d.Cells[5].Car, d.Cells[6].Car, d.Cells[7].Car})
	require.Equal(t, 5, d.Cars[0].FirstCell)
	require.True(t, d.Cars[0].WheelchairSpace)

	w = e.do(t, http.MethodGet, "/api/admin/platforms/"+itoa(platform.ID)+"/diagram", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all struct {
		Items []json.RawMessage `json:"items"`
	}
	decode(t, w, &all)
	require.Len(t, all.Items, 1)
}

func TestReorderStations(t *testing.T) {
	e := newTestEnv(t, nil)
	var op, line, a, b struct {
		ID int64 `json:"id"`
	}
	decode(t, e.do(t, http.MethodPost, "/api/admin/operators", map[string]any{"code": "M", "name": "メトロ"}), &op)
	decode(t, e.do(t, http.MethodPost, "/api/admin/lines", map[string]any{"operatorId": op.ID, "code": "G", "name": "銀座線"}), &line)
	decode(t, e.do(t, http.MethodPost, "/api/admin/stations", map[string]any{"lineId": line.ID, "name": "渋谷", "seq": 1}), &a)
	decode(t, e.do(t, http.MethodPost, "/api/admin/stations", map[string]any{"lineId": line.ID, "name": "表参道", "seq": 2}), &b)

	w := e.do(t, http.MethodPut, "/api/admin/lines/"+itoa(line.ID)+"/stations", map[string]any{"stationIds": []int64{b.ID, a.ID}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Less(t, strings.Index(w.Body.String(), "表参道"), strings.Index(w.Body.String(), "渋谷"))

	w = e.do(t, http.MethodPut, "/api/admin/lines/"+itoa(line.ID)+"/stations", map[string]any{"stationIds": []int64{a.ID}})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSyncSynchronous(t *testing.T) {
	e := newTestEnv(t, nil)

	w := e.do(t, http.MethodPost, "/api/admin/sync", map[string]any{"feed": "tokyo", "dryRun": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var rep syncer.Report
	decode(t, w, &rep)
	require.True(t, rep.DryRun)
	require.Equal(t, 2, rep.Stations.Inserted)
	require.Zero(t, e.cache.invalidations)

	w = e.do(t, http.MethodPost, "/api/admin/sync", map[string]any{"feed": "tokyo"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, e.cache.invalidations)

	stations, err := e.store.ListStations(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, stations, 2)

	w = e.do(t, http.MethodPost, "/api/admin/sync", map[string]any{"feed": "nowhere"})
	require.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodGet, "/api/admin/sync/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var runs struct {
		Items []json.RawMessage `json:"items"`
	}
	decode(t, w, &runs)
	require.Len(t, runs.Items, 2)

	w = e.do(t, http.MethodGet, "/api/admin/sync/feeds", nil)
	require.Contains(t, w.Body.String(), "tokyo")

	require.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/admin/jobs/x", nil).Code)
}

func multipartUpload(t *testing.T, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", "feed.zip")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func TestSyncUpload(t *testing.T) {
	e := newTestEnv(t, nil)

	body, ct := multipartUpload(t, gtfsZip(t), map[string]string{"feed": "manual"})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/sync", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var rep syncer.Report
	decode(t, w, &rep)
	require.Equal(t, "gtfs:manual", rep.Source)

	body, ct = multipartUpload(t, []byte("not a zip"), nil)
	req = httptest.NewRequest(http.MethodPost, "/api/admin/sync", body)
	req.Header.Set("Content-Type", ct)
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestSyncAsync(t *testing.T) {
	q := &fakeQueue{records: map[string]*jobs.Record{}}
	e := newTestEnv(t, q)

	w := e.do(t, http.MethodPost, "/api/admin/sync", map[string]any{"feed": "tokyo", "prune": true})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp struct {
		JobID  string `json:"jobId"`
		Status string `json:"status"`
	}
	decode(t, w, &resp)
	require.NotEmpty(t, resp.JobID)
	require.Equal(t, "queued", resp.Status)
	require.Len(t, q.payloads, 1)
	require.True(t, q.payloads[0].Prune)

	w = e.do(t, http.MethodGet, "/api/admin/jobs/"+resp.JobID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"queued"`)

	require.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/admin/jobs/missing", nil).Code)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
