package gtfs

import (
	"archive/zip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

var sampleFeed = map[string]string{
	"agency.txt": "\ufeffagency_id,agency_name,agency_url,agency_timezone\n" +
		"metro,東京メトロ,https://www.tokyometro.jp/,Asia/Tokyo\n",
	"routes.txt": "route_id,agency_id,route_short_name,route_long_name,route_type,route_color\n" +
		"G,metro,G,銀座線,1,ff9500\n" +
		"B1,metro,B1,都営バス,3,\n",
	"stops.txt": "stop_id,stop_code,stop_name,stop_lat,stop_lon,location_type,parent_station\n" +
		"shibuya,G01,渋谷,35.6590,139.7016,1,\n" +
		"shibuya-1,,渋谷 1番線,35.6591,139.7017,0,shibuya\n" +
		"omotesando,G02,表参道,35.6652,139.7123,0,\n" +
		"gaiemmae,G03,外苑前,,,0,\n" +
		"busstop,,バス停,35.0,139.0,0,\n",
	"trips.txt": "route_id,service_id,trip_id\n" +
		"G,weekday,G-short\n" +
		"G,weekday,G-full\n" +
		"B1,weekday,B1-1\n",
	"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
		"G-short,06:00:00,06:00:00,shibuya-1,1\n" +
		"G-short,06:02:00,06:02:00,omotesando,2\n" +
		"G-full,06:10:00,06:10:00,gaiemmae,30\n" +
		"G-full,06:08:00,06:08:00,omotesando,20\n" +
		"G-full,06:06:00,06:06:00,shibuya-1,10\n" +
		"B1-1,07:00:00,07:00:00,busstop,1\n",
}

func writeZip(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestLoadFile(t *testing.T) {
	ds, err := LoadFile(context.Background(), writeZip(t, sampleFeed), "tokyo")
	require.NoError(t, err)

	require.Equal(t, "gtfs:tokyo", ds.Source)
	require.Len(t, ds.Operators, 1)
	require.Equal(t, "gtfs:tokyo:agency:metro", ds.Operators[0].ExternalID)
	require.Equal(t, "東京メトロ", ds.Operators[0].Name)

	// バス路線は除外される
	require.Len(t, ds.Lines, 1)
	line := ds.Lines[0]
	require.Equal(t, "gtfs:tokyo:route:G", line.ExternalID)
	require.Equal(t, "銀座線", line.Name)
	require.Equal(t, "#FF9500", line.Color)

	// 停車駅の多い G-full が代表便になり、stop_sequence 順に並ぶ
	require.Len(t, ds.Stations, 3)
	names := []string{ds.Stations[0].Name, ds.Stations[1].Name, ds.Stations[2].Name}
	require.Equal(t, []string{"渋谷", "表参道", "外苑前"}, names)
	for i, st := range ds.Stations {
		require.Equal(t, i+1, st.Seq)
		require.Equal(t, line.ExternalID, st.LineExternalID)
	}
	require.Equal(t, "gtfs:tokyo:station:G:shibuya", ds.Stations[0].ExternalID)
	require.Equal(t, "G01", ds.Stations[0].Code)
	require.NotNil(t, ds.Stations[0].Lat)
	require.InDelta(t, 35.659, *ds.Stations[0].Lat, 1e-9)
	require.Nil(t, ds.Stations[2].Lat)
}

func TestLoadFileWithoutAgencyID(t *testing.T) {
	files := map[string]string{
		"agency.txt":     "agency_name,agency_url\nローカル鉄道,https://example.com/\n",
		"routes.txt":     "route_id,route_short_name,route_long_name,route_type\nmain,,本線,2\nbranch,,支線,2\n",
		"stops.txt":      "stop_id,stop_name\na,A駅\nb,B駅\n",
		"trips.txt":      "route_id,trip_id\nmain,t1\nbranch,t2\n",
		"stop_times.txt": "trip_id,stop_id,stop_sequence\nt1,a,1\nt1,b,2\nt1,a,3\nt2,b,1\n",
	}
	ds, err := LoadFile(context.Background(), writeZip(t, files), "local")
	require.NoError(t, err)
	require.Len(t, ds.Operators, 1)
	require.Equal(t, "gtfs:local:agency:local", ds.Operators[0].ExternalID)
	require.Len(t, ds.Lines, 2)
	require.Equal(t, "main", ds.Lines[0].Code)
	require.Equal(t, "branch", ds.Lines[1].Code)
	// 同じ駅への再停車は1駅として扱う
	require.Len(t, ds.Stations, 3)
}

func TestLoadFileDuplicateShortNames(t *testing.T) {
	files := map[string]string{
		"agency.txt":     "agency_id,agency_name\nx,X鉄道\n",
		"routes.txt":     "route_id,agency_id,route_short_name,route_type\nr1,x,本線,2\nr2,x,本線,2\n",
		"stops.txt":      "stop_id,stop_name\na,A駅\n",
		"trips.txt":      "route_id,trip_id\n",
		"stop_times.txt": "trip_id,stop_id,stop_sequence\n",
	}
	ds, err := LoadFile(context.Background(), writeZip(t, files), "x")
	require.NoError(t, err)
	require.Len(t, ds.Lines, 2)
	require.Equal(t, "本線", ds.Lines[0].Code)
	require.Equal(t, "r2", ds.Lines[1].Code)
	require.Empty(t, ds.Stations)
}

func TestLoadFileErrors(t *testing.T) {
	missing := map[string]string{}
	for k, v := range sampleFeed {
		if k != "stop_times.txt" {
			missing[k] = v
		}
	}
	_, err := LoadFile(context.Background(), writeZip(t, missing), "x")
	require.ErrorContains(t, err, "stop_times.txt")

	busOnly := map[string]string{}
	for k, v := range sampleFeed {
		busOnly[k] = v
	}
	busOnly["routes.txt"] = "route_id,agency_id,route_short_name,route_long_name,route_type\nB1,metro,B1,バス,3\n"
	_, err = LoadFile(context.Background(), writeZip(t, busOnly), "x")
	require.ErrorIs(t, err, ErrNoRailRoutes)

	_, err = LoadFile(context.Background(), filepath.Join(t.TempDir(), "none.zip"), "x")
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = LoadFile(ctx, writeZip(t, sampleFeed), "x")
	require.ErrorIs(t, err, context.Canceled)
}

func TestLoadURL(t *testing.T) {
	path := writeZip(t, sampleFeed)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/feed.zip" {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, path)
	}))
	defer srv.Close()

	ds, err := LoadURL(context.Background(), srv.Client(), srv.URL+"/feed.zip", "tokyo")
	require.NoError(t, err)
	require.Len(t, ds.Stations, 3)

	_, err = LoadURL(context.Background(), srv.Client(), srv.URL+"/missing.zip", "tokyo")
	require.ErrorContains(t, err, "unexpected status 404")
}

func TestIsRailRouteType(t *testing.T) {
	for _, typ := range []int{0, 1, 2, 5, 7, 12, 100, 109, 117, 400, 405, 900, 1400} {
		require.Truef(t, IsRailRouteType(typ), "type %d", typ)
	}
	for _, typ := range []int{3, 4, 6, 11, 118, 200, 406, 700, 901, 1000, 1401} {
		require.Falsef(t, IsRailRouteType(typ), "type %d", typ)
	}
}
