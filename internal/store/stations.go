package store

import (
	"context"
	"strings"

	"github.com/yourusername/barrierfree-rail/internal/model"
)

const stationColumns = `id, line_id, code, name, name_kana, name_en, seq, lat, lon,
	has_elevator, has_accessible_toilet, note, source, external_id, created_at, updated_at`

// 検索件数の既定値と上限
const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

// ListStations は路線の駅を駅順で返します。lineID が 0 の場合は全件です。
func (s *Store) ListStations(ctx context.Context, lineID int64) ([]model.Station, error) {
	out := []model.Station{}
	var err error
	if lineID > 0 {
		err = s.db.SelectContext(ctx, &out,
			`SELECT `+stationColumns+` FROM stations WHERE line_id = ? ORDER BY seq, id`, lineID)
	} else {
		err = s.db.SelectContext(ctx, &out,
			`SELECT `+stationColumns+` FROM stations ORDER BY line_id, seq, id`)
	}
	return out, translate(err, "list stations")
}

// GetStation は駅を1件取得します。
func (s *Store) GetStation(ctx context.Context, id int64) (*model.Station, error) {
	var st model.Station
	err := s.db.GetContext(ctx, &st, `SELECT `+stationColumns+` FROM stations WHERE id = ?`, id)
	if err != nil {
		return nil, translate(err, "get station")
	}
	return &st, nil
}

// CreateStation は駅を作成します。
func (s *Store) CreateStation(ctx context.Context, in model.StationInput) (*model.Station, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO stations (line_id, code, name, name_kana, name_en, seq, lat, lon,
			has_elevator, has_accessible_toilet, note, source, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.LineID, in.Code, in.Name, in.NameKana, in.NameEn, in.Seq, in.Lat, in.Lon,
		in.HasElevator, in.HasAccessibleToilet, in.Note, model.SourceAdmin, now, now)
	if err != nil {
		return nil, translate(err, "create station")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, translate(err, "create station")
	}
	return s.GetStation(ctx, id)
}

// UpdateStation は駅を更新します。
func (s *Store) UpdateStation(ctx context.Context, id int64, in model.StationInput) (*model.Station, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE stations SET line_id = ?, code = ?, name = ?, name_kana = ?, name_en = ?, seq = ?,
			lat = ?, lon = ?, has_elevator = ?, has_accessible_toilet = ?, note = ?, updated_at = ?
		 WHERE id = ?`,
		in.LineID, in.Code, in.Name, in.NameKana, in.NameEn, in.Seq, in.Lat, in.Lon,
		in.HasElevator, in.HasAccessibleToilet, in.Note, s.now(), id)
	if err != nil {
		return nil, translate(err, "update station")
	}
	if err := requireAffected(res, "update station"); err != nil {
		return nil, err
	}
	return s.GetStation(ctx, id)
}

// DeleteStation は駅を削除します。
func (s *Store) DeleteStation(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM stations WHERE id = ?`, id)
	if err != nil {
		return translate(err, "delete station")
	}
	return requireAffected(res, "delete station")
}

// SearchStations は駅名・かな・英語名・駅番号の部分一致で駅を検索します。
// limit は 1..MaxSearchLimit に丸めます（0 以下は DefaultSearchLimit）。
func (s *Store) SearchStations(ctx context.Context, q string, limit int) ([]model.Station, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	out := []model.Station{}
	q = strings.TrimSpace(q)
	if q == "" {
		return out, nil
	}

	pattern := "%" + escapeLike(strings.ToLower(q)) + "%"
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+stationColumns+` FROM stations
		 WHERE name LIKE ? ESCAPE '\'
		    OR name_kana LIKE ? ESCAPE '\'
		    OR lower(name_en) LIKE ? ESCAPE '\'
		    OR lower(code) LIKE ? ESCAPE '\'
		 ORDER BY CASE WHEN name = ? THEN 0 ELSE 1 END, name, line_id
		 LIMIT ?`,
		pattern, pattern, pattern, pattern, q, limit)
	return out, translate(err, "search stations")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
