package syncer

import (
	"sort"

	"github.com/yourusername/barrierfree-rail/internal/model"
)

// Snapshot は DB 上にある、あるソースの取り込み済みデータです。親の参照は external_id で持ちます。
type Snapshot struct {
	Operators map[string]model.OperatorRecord
	Lines     map[string]model.LineRecord
	Stations  map[string]model.StationRecord
}

// EntityPlan は1種類のエンティティに対する変更内容です。
type EntityPlan struct {
	Insert    []string `json:"insert"`
	Update    []string `json:"update"`
	Unchanged int      `json:"unchanged"`
	Delete    []string `json:"delete"`
}

// Plan は Diff の結果です。
type Plan struct {
	Operators EntityPlan `json:"operators"`
	Lines     EntityPlan `json:"lines"`
	Stations  EntityPlan `json:"stations"`
}

// Diff は既存データと取り込みデータを比較し、挿入・更新・変更なし・削除候補に分類します。
// incoming は external_id が重複していないことが前提です。
func Diff(existing Snapshot, incoming *model.Dataset) Plan {
	var p Plan

	seen := make(map[string]bool, len(incoming.Operators))
	for _, r := range incoming.Operators {
		seen[r.ExternalID] = true
		cur, ok := existing.Operators[r.ExternalID]
		classify(&p.Operators, r.ExternalID, ok, ok && cur == r)
	}
	p.Operators.Delete = missing(existing.Operators, seen)

	seen = make(map[string]bool, len(incoming.Lines))
	for _, r := range incoming.Lines {
		seen[r.ExternalID] = true
		cur, ok := existing.Lines[r.ExternalID]
		classify(&p.Lines, r.ExternalID, ok, ok && cur == r)
	}
	p.Lines.Delete = missing(existing.Lines, seen)

	seen = make(map[string]bool, len(incoming.Stations))
	for _, r := range incoming.Stations {
		seen[r.ExternalID] = true
		cur, ok := existing.Stations[r.ExternalID]
		classify(&p.Stations, r.ExternalID, ok, ok && sameStation(cur, r))
	}
	p.Stations.Delete = missing(existing.Stations, seen)

	return p
}

func classify(p *EntityPlan, id string, exists, same bool) {
	switch {
	case !exists:
		p.Insert = append(p.Insert, id)
	case same:
		p.Unchanged++
	default:
		p.Update = append(p.Update, id)
	}
}

func missing[T any](existing map[string]T, seen map[string]bool) []string {
	var out []string
	for id := range existing {
		if !seen[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func sameStation(a, b model.StationRecord) bool {
	return a.ExternalID == b.ExternalID &&
		a.LineExternalID == b.LineExternalID &&
		a.Code == b.Code &&
		a.Name == b.Name &&
		a.NameKana == b.NameKana &&
		a.NameEn == b.NameEn &&
		a.Seq == b.Seq &&
		sameCoord(a.Lat, b.Lat) &&
		sameCoord(a.Lon, b.Lon)
}

func sameCoord(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
