// Package gtfs は GTFS 静的データ（zip）から事業者・路線・駅を読み出します。
package gtfs

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/yourusername/barrierfree-rail/internal/model"
)

// SourceName は GTFS から取り込んだ行の source 値の接頭辞です。実際の値は "gtfs:<フィード名>" です。
const SourceName = "gtfs"

// ErrNoRailRoutes はフィードに鉄道系の路線が含まれないことを表します。
var ErrNoRailRoutes = errors.New("gtfs feed has no rail routes")

type agency struct {
	id, name, url string
}

type route struct {
	id, agencyID, shortName, longName, color string
}

type stop struct {
	id, code, name, parent string
	lat, lon               *float64
}

type stopTime struct {
	seq    int
	stopID string
}

// feed はパース中の中間状態です。
type feed struct {
	agencies   []agency
	routes     map[string]route
	routeOrder []string
	stops      map[string]stop
	tripRoute  map[string]string
	tripStops  map[string][]stopTime
}

// IsRailRouteType は route_type が鉄道系（路面電車・地下鉄・鉄道・ケーブルカー等）かを返します。
func IsRailRouteType(t int) bool {
	switch {
	case t == 0, t == 1, t == 2, t == 5, t == 7, t == 12:
		return true
	case t >= 100 && t <= 117: // 拡張: Railway Service
		return true
	case t >= 400 && t <= 405: // 拡張: Urban Railway Service
		return true
	case t == 900 || t == 1400: // 拡張: Tram / Funicular
		return true
	}
	return false
}

// LoadFile はローカルの GTFS zip を読み込みます。
func LoadFile(ctx context.Context, path, feedName string) (*model.Dataset, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open gtfs zip: %w", err)
	}
	defer zr.Close()
	return load(ctx, &zr.Reader, feedName)
}

// LoadURL は GTFS zip を一時ファイルにダウンロードしてから読み込みます。
func LoadURL(ctx context.Context, client *http.Client, url, feedName string) (*model.Dataset, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download gtfs: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download gtfs: unexpected status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "gtfs-*.zip")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to save gtfs: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	return LoadFile(ctx, tmp.Name(), feedName)
}

// 読み込む順番。trips は routes の後、stop_times は trips の後である必要がある
var fileOrder = []string{"agency.txt", "routes.txt", "stops.txt", "trips.txt", "stop_times.txt"}

func load(ctx context.Context, zr *zip.Reader, feedName string) (*model.Dataset, error) {
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		// サブディレクトリ入りの zip にも対応する
		name := strings.ToLower(f.Name[strings.LastIndex(f.Name, "/")+1:])
		files[name] = f
	}

	fd := &feed{
		routes:    make(map[string]route),
		stops:     make(map[string]stop),
		tripRoute: make(map[string]string),
		tripStops: make(map[string][]stopTime),
	}
	for _, name := range fileOrder {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, ok := files[name]
		if !ok {
			return nil, fmt.Errorf("gtfs feed is missing %s", name)
		}
		if err := fd.consume(f); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	if len(fd.routes) == 0 {
		return nil, ErrNoRailRoutes
	}
	return fd.dataset(feedName), nil
}

// eachRow はヘッダー名で列を引ける形で CSV を1行ずつ処理します。
func eachRow(r io.Reader, fn func(get func(col string) string) error) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	head, err := cr.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}
	index := make(map[string]int, len(head))
	for i, h := range head {
		h = strings.TrimPrefix(h, "\ufeff")
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}

	var row []string
	get := func(col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	for {
		row, err = cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(get); err != nil {
			return err
		}
	}
}

func (fd *feed) consume(f *zip.File) error {
	r, err := f.Open()
	if err != nil {
		return err
	}
	defer r.Close()

	switch strings.ToLower(f.Name[strings.LastIndex(f.Name, "/")+1:]) {
	case "agency.txt":
		return eachRow(r, func(get func(string) string) error {
			fd.agencies = append(fd.agencies, agency{
				id:   get("agency_id"),
				name: get("agency_name"),
				url:  get("agency_url"),
			})
			return nil
		})
	case "routes.txt":
		return eachRow(r, func(get func(string) string) error {
			typ, err := strconv.Atoi(get("route_type"))
			if err != nil || !IsRailRouteType(typ) {
				return nil
			}
			rt := route{
				id:        get("route_id"),
				agencyID:  get("agency_id"),
				shortName: get("route_short_name"),
				longName:  get("route_long_name"),
				color:     get("route_color"),
			}
			if rt.id == "" {
				return nil
			}
			if _, dup := fd.routes[rt.id]; !dup {
				fd.routeOrder = append(fd.routeOrder, rt.id)
			}
			fd.routes[rt.id] = rt
			return nil
		})
	case "stops.txt":
		return eachRow(r, func(get func(string) string) error {
			st := stop{
				id:     get("stop_id"),
				code:   get("stop_code"),
				name:   get("stop_name"),
				parent: get("parent_station"),
				lat:    parseCoord(get("stop_lat")),
				lon:    parseCoord(get("stop_lon")),
			}
			if st.id != "" {
				fd.stops[st.id] = st
			}
			return nil
		})
	case "trips.txt":
		return eachRow(r, func(get func(string) string) error {
			routeID := get("route_id")
			if _, ok := fd.routes[routeID]; ok {
				fd.tripRoute[get("trip_id")] = routeID
			}
			return nil
		})
	case "stop_times.txt":
		return eachRow(r, func(get func(string) string) error {
			tripID := get("trip_id")
			if _, ok := fd.tripRoute[tripID]; !ok {
				return nil
			}
			seq, err := strconv.Atoi(get("stop_sequence"))
			if err != nil {
				return fmt.Errorf("invalid stop_sequence for trip %s: %w", tripID, err)
			}
			fd.tripStops[tripID] = append(fd.tripStops[tripID], stopTime{seq: seq, stopID: get("stop_id")})
			return nil
		})
	}
	return nil
}

func parseCoord(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// representativeTrips は路線ごとに停車駅数が最多の便を選びます（同数なら trip_id の小さい方）。
func (fd *feed) representativeTrips() map[string]string {
	best := make(map[string]string)
	for tripID, routeID := range fd.tripRoute {
		n := len(fd.tripStops[tripID])
		if n == 0 {
			continue
		}
		cur, ok := best[routeID]
		if !ok {
			best[routeID] = tripID
			continue
		}
		cn := len(fd.tripStops[cur])
		if n > cn || (n == cn && tripID < cur) {
			best[routeID] = tripID
		}
	}
	return best
}

func (fd *feed) dataset(feedName string) *model.Dataset {
	source := SourceName + ":" + feedName
	prefix := source + ":"
	ds := &model.Dataset{Source: source, Feed: feedName}

	agencyByID := make(map[string]agency, len(fd.agencies))
	for _, a := range fd.agencies {
		agencyByID[a.id] = a
	}
	// agency_id 省略時はフィード唯一の事業者を使う
	resolveAgency := func(id string) (agency, bool) {
		if a, ok := agencyByID[id]; ok {
			return a, true
		}
		if id == "" && len(fd.agencies) > 0 {
			return fd.agencies[0], true
		}
		return agency{}, false
	}
	agencyKey := func(a agency) string {
		id := a.id
		if id == "" {
			id = feedName
		}
		return id
	}

	usedAgencies := make(map[string]bool)
	usedCodes := make(map[string]bool)
	trips := fd.representativeTrips()

	for _, routeID := range fd.routeOrder {
		rt := fd.routes[routeID]
		ag, ok := resolveAgency(rt.agencyID)
		if !ok {
			continue
		}
		agKey := agencyKey(ag)
		if !usedAgencies[agKey] {
			usedAgencies[agKey] = true
			ds.Operators = append(ds.Operators, model.OperatorRecord{
				ExternalID: prefix + "agency:" + agKey,
				Code:       agKey,
				Name:       firstNonEmpty(ag.name, agKey),
				URL:        ag.url,
			})
		}

		// 路線コードは事業者内で一意にする（同名系統が複数ある場合は route_id を使う）
		code := firstNonEmpty(rt.shortName, rt.id)
		if usedCodes[agKey+"\x00"+code] {
			code = rt.id
		}
		usedCodes[agKey+"\x00"+code] = true

		lineExt := prefix + "route:" + rt.id
		ds.Lines = append(ds.Lines, model.LineRecord{
			ExternalID:         lineExt,
			OperatorExternalID: prefix + "agency:" + agKey,
			Code:               code,
			Name:               firstNonEmpty(rt.longName, rt.shortName, rt.id),
			Color:              normalizeColor(rt.color),
		})

		tripID, ok := trips[rt.id]
		if !ok {
			continue
		}
		times := append([]stopTime(nil), fd.tripStops[tripID]...)
		sort.SliceStable(times, func(i, j int) bool { return times[i].seq < times[j].seq })

		seen := make(map[string]bool, len(times))
		seq := 0
		for _, st := range times {
			s, ok := fd.stops[st.stopID]
			if !ok {
				continue
			}
			// 乗り場は親駅にまとめる
			if s.parent != "" {
				if parent, ok := fd.stops[s.parent]; ok {
					s = parent
				}
			}
			if seen[s.id] {
				continue
			}
			seen[s.id] = true
			seq++
			ds.Stations = append(ds.Stations, model.StationRecord{
				ExternalID:     prefix + "station:" + rt.id + ":" + s.id,
				LineExternalID: lineExt,
				Code:           s.code,
				Name:           firstNonEmpty(s.name, s.id),
				Seq:            seq,
				Lat:            s.lat,
				Lon:            s.lon,
			})
		}
	}
	return ds
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func normalizeColor(c string) string {
	c = strings.TrimPrefix(strings.TrimSpace(c), "#")
	if len(c) != 6 {
		return ""
	}
	if _, err := strconv.ParseUint(c, 16, 32); err != nil {
		return ""
	}
	return "#" + strings.ToUpper(c)
}
