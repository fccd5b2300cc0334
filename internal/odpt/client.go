// Package odpt は公共交通オープンデータ（ODPT）API から事業者・路線・駅を取得します。
package odpt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/barrierfree-rail/internal/model"
)

// SourceName は ODPT から取り込んだ行の source 値の接頭辞です。
const SourceName = "odpt"

// DefaultBaseURL は ODPT API v4 のエンドポイントです。
const DefaultBaseURL = "https://api.odpt.org/api/v4"

// Title は ODPT の多言語名称です。
type Title struct {
	Ja string `json:"ja"`
	En string `json:"en"`
}

// Operator は odpt:Operator です。
type Operator struct {
	SameAs        string `json:"owl:sameAs"`
	Title         string `json:"dc:title"`
	OperatorTitle Title  `json:"odpt:operatorTitle"`
}

// StationOrder は路線内の駅順です。
type StationOrder struct {
	Station string `json:"odpt:station"`
	Index   int    `json:"odpt:index"`
}

// Railway は odpt:Railway です。
type Railway struct {
	SameAs       string         `json:"owl:sameAs"`
	Title        string         `json:"dc:title"`
	RailwayTitle Title          `json:"odpt:railwayTitle"`
	Operator     string         `json:"odpt:operator"`
	LineCode     string         `json:"odpt:lineCode"`
	Color        string         `json:"odpt:color"`
	StationOrder []StationOrder `json:"odpt:stationOrder"`
}

// Station は odpt:Station です。
type Station struct {
	SameAs       string   `json:"owl:sameAs"`
	Title        string   `json:"dc:title"`
	StationTitle Title    `json:"odpt:stationTitle"`
	Operator     string   `json:"odpt:operator"`
	Railway      string   `json:"odpt:railway"`
	StationCode  string   `json:"odpt:stationCode"`
	Lat          *float64 `json:"geo:lat"`
	Lon          *float64 `json:"geo:long"`
}

// Client は ODPT API クライアントです。
type Client struct {
	baseURL     string
	consumerKey string
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewClient は新しいクライアントを作成します。baseURL が空の場合は DefaultBaseURL を使います。
func NewClient(baseURL, consumerKey string, httpClient *http.Client, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		consumerKey: consumerKey,
		httpClient:  httpClient,
		logger:      logger,
	}
}

// Fetch は指定事業者（空なら全事業者）の事業者・路線・駅を並行して取得し、Dataset に変換します。
func (c *Client) Fetch(ctx context.Context, feedName string, operators []string) (*model.Dataset, error) {
	var (
		ops      []Operator
		railways []Railway
		stations []Station
	)
	filter := url.Values{}
	if len(operators) > 0 {
		filter.Set("odpt:operator", strings.Join(operators, ","))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// 事業者は owl:sameAs で絞り込む
		q := url.Values{}
		if len(operators) > 0 {
			q.Set("owl:sameAs", strings.Join(operators, ","))
		}
		return c.get(gctx, "odpt:Operator", q, &ops)
	})
	g.Go(func() error { return c.get(gctx, "odpt:Railway", filter, &railways) })
	g.Go(func() error { return c.get(gctx, "odpt:Station", filter, &stations) })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.logger.Debug("odpt fetched",
		zap.String("feed", feedName),
		zap.Int("operators", len(ops)),
		zap.Int("railways", len(railways)),
		zap.Int("stations", len(stations)),
	)
	return ToDataset(feedName, ops, railways, stations), nil
}

func (c *Client) get(ctx context.Context, resource string, query url.Values, out interface{}) error {
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	if c.consumerKey != "" {
		q.Set("acl:consumerKey", c.consumerKey)
	}
	endpoint := c.baseURL + "/" + resource
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", resource, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("failed to fetch %s: unexpected status %d", resource, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", resource, err)
	}
	return nil
}

// ToDataset は ODPT のレスポンスを Dataset に変換します。
// 駅の順番は路線の odpt:stationOrder を優先し、載っていない駅は末尾に回します。
func ToDataset(feedName string, ops []Operator, railways []Railway, stations []Station) *model.Dataset {
	ds := &model.Dataset{Source: SourceName + ":" + feedName, Feed: feedName}

	for _, o := range ops {
		if o.SameAs == "" {
			continue
		}
		ds.Operators = append(ds.Operators, model.OperatorRecord{
			ExternalID: o.SameAs,
			Code:       localName(o.SameAs),
			Name:       firstNonEmpty(o.OperatorTitle.Ja, o.Title, localName(o.SameAs)),
			NameEn:     o.OperatorTitle.En,
		})
	}

	order := make(map[string]map[string]int, len(railways))
	for _, r := range railways {
		if r.SameAs == "" {
			continue
		}
		ds.Lines = append(ds.Lines, model.LineRecord{
			ExternalID:         r.SameAs,
			OperatorExternalID: r.Operator,
			Code:               firstNonEmpty(r.LineCode, localName(r.SameAs)),
			Name:               firstNonEmpty(r.RailwayTitle.Ja, r.Title, localName(r.SameAs)),
			NameEn:             r.RailwayTitle.En,
			Color:              normalizeColor(r.Color),
		})
		idx := make(map[string]int, len(r.StationOrder))
		for _, so := range r.StationOrder {
			idx[so.Station] = so.Index
		}
		order[r.SameAs] = idx
	}

	byLine := make(map[string][]Station)
	var lineOrder []string
	for _, s := range stations {
		if s.SameAs == "" || s.Railway == "" {
			continue
		}
		if _, ok := byLine[s.Railway]; !ok {
			lineOrder = append(lineOrder, s.Railway)
		}
		byLine[s.Railway] = append(byLine[s.Railway], s)
	}
	for _, railway := range lineOrder {
		list := byLine[railway]
		idx := order[railway]
		sort.SliceStable(list, func(i, j int) bool {
			a, aok := idx[list[i].SameAs]
			b, bok := idx[list[j].SameAs]
			if aok != bok {
				return aok
			}
			return a < b
		})
		for i, s := range list {
			ds.Stations = append(ds.Stations, model.StationRecord{
				ExternalID:     s.SameAs,
				LineExternalID: railway,
				Code:           s.StationCode,
				Name:           firstNonEmpty(s.StationTitle.Ja, s.Title, localName(s.SameAs)),
				NameEn:         s.StationTitle.En,
				Seq:            i + 1,
				Lat:            s.Lat,
				Lon:            s.Lon,
			})
		}
	}
	return ds
}

// localName は "odpt.Station:TokyoMetro.Ginza.Shibuya" の最後の要素 "Shibuya" を返します。
func localName(sameAs string) string {
	if i := strings.LastIndexAny(sameAs, ":."); i >= 0 {
		return sameAs[i+1:]
	}
	return sameAs
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
	c = strings.TrimSpace(c)
	if c == "" {
		return ""
	}
	if !strings.HasPrefix(c, "#") {
		c = "#" + c
	}
	if len(c) != 7 {
		return ""
	}
	return strings.ToUpper(c)
}
