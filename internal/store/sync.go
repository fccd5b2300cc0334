package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yourusername/barrierfree-rail/internal/model"
)

// SyncBatch は1回の同期で書き込む変更内容です。挿入・更新の区別はしません。
type SyncBatch struct {
	Source    string
	Operators []model.OperatorRecord
	Lines     []model.LineRecord
	Stations  []model.StationRecord

	DeleteOperators []string
	DeleteLines     []string
	DeleteStations  []string
}

// ExternalOperators は source が取り込んだ事業者を返します。
func (s *Store) ExternalOperators(ctx context.Context, source string) ([]model.Operator, error) {
	out := []model.Operator{}
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+operatorColumns+` FROM operators WHERE source = ? AND external_id IS NOT NULL`, source)
	return out, translate(err, "list external operators")
}

// ExternalLines は source が取り込んだ路線を返します。
func (s *Store) ExternalLines(ctx context.Context, source string) ([]model.Line, error) {
	out := []model.Line{}
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+lineColumns+` FROM lines WHERE source = ? AND external_id IS NOT NULL`, source)
	return out, translate(err, "list external lines")
}

// ExternalStations は source が取り込んだ駅を返します。
func (s *Store) ExternalStations(ctx context.Context, source string) ([]model.Station, error) {
	out := []model.Station{}
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+stationColumns+` FROM stations WHERE source = ? AND external_id IS NOT NULL`, source)
	return out, translate(err, "list external stations")
}

// ExternalKeys はテーブル内の external_id をすべて返します（参照解決用）。
func (s *Store) ExternalKeys(ctx context.Context, table string) (map[string]int64, error) {
	return externalIDs(ctx, s.db, table)
}

// ExternalOwners は external_id ごとに、その行を取り込んだソースを返します。
func (s *Store) ExternalOwners(ctx context.Context, table string) (map[string]string, error) {
	rows, err := externalRows(ctx, s.db, table)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.ExternalID] = r.Source
	}
	return out, nil
}

// SyncResult は ApplySync が実際に行った削除の結果です。
type SyncResult struct {
	// Retained* は配下に他の行が残っていたため削除しなかった external_id です。
	RetainedOperators []string
	RetainedLines     []string
	RetainedStations  []string
}

// ApplySync は変更内容を1トランザクションで書き込みます。
// 事業者→路線→駅の順に batchSize 行ずつ upsert し、その後 駅→路線→事業者 の順に削除します。
// 削除対象でも、ホーム・車両・管理画面の行・他ソースの行がぶら下がっているものは残します。
func (s *Store) ApplySync(ctx context.Context, b SyncBatch, batchSize int) (SyncResult, error) {
	if batchSize <= 0 {
		batchSize = 200
	}
	var result SyncResult
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		now := s.now()

		if err := upsertOperators(ctx, tx, b.Source, b.Operators, batchSize, now); err != nil {
			return err
		}
		operatorIDs, err := externalIDs(ctx, tx, "operators")
		if err != nil {
			return err
		}
		if err := upsertLines(ctx, tx, b.Source, b.Lines, operatorIDs, batchSize, now); err != nil {
			return err
		}
		lineIDs, err := externalIDs(ctx, tx, "lines")
		if err != nil {
			return err
		}
		if err := upsertStations(ctx, tx, b.Source, b.Stations, lineIDs, batchSize, now); err != nil {
			return err
		}

		for _, del := range []struct {
			table    string
			ids      []string
			retained *[]string
		}{
			{"stations", b.DeleteStations, &result.RetainedStations},
			{"lines", b.DeleteLines, &result.RetainedLines},
			{"operators", b.DeleteOperators, &result.RetainedOperators},
		} {
			kept, err := deleteExternal(ctx, tx, del.table, b.Source, del.ids, batchSize)
			if err != nil {
				return err
			}
			*del.retained = kept
		}

		s.logger.Debug("sync batch applied",
			zap.String("source", b.Source),
			zap.Int("operators", len(b.Operators)),
			zap.Int("lines", len(b.Lines)),
			zap.Int("stations", len(b.Stations)),
			zap.Int("deleted", len(b.DeleteOperators)+len(b.DeleteLines)+len(b.DeleteStations)),
			zap.Int("retained", len(result.RetainedOperators)+len(result.RetainedLines)+len(result.RetainedStations)),
		)
		return nil
	})
	if err != nil {
		return SyncResult{}, err
	}
	return result, nil
}

var externalTables = map[string]bool{"operators": true, "lines": true, "stations": true}

// dependents は行を消すと CASCADE で巻き込まれる子行がある条件です。
// 削除は 駅→路線→事業者 の順なので、同じバッチで消えた子はもう残っていません。
var dependents = map[string]string{
	"stations": `EXISTS (SELECT 1 FROM platforms p WHERE p.station_id = stations.id)`,
	"lines": `(EXISTS (SELECT 1 FROM stations s WHERE s.line_id = lines.id)
		OR EXISTS (SELECT 1 FROM trains t WHERE t.line_id = lines.id))`,
	"operators": `EXISTS (SELECT 1 FROM lines l WHERE l.operator_id = operators.id)`,
}

type externalRow struct {
	ID         int64  `db:"id"`
	ExternalID string `db:"external_id"`
	Source     string `db:"source"`
}

func externalRows(ctx context.Context, q queryer, table string) ([]externalRow, error) {
	if !externalTables[table] {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	var rows []externalRow
	if err := q.SelectContext(ctx, &rows,
		`SELECT id, external_id, source FROM `+table+` WHERE external_id IS NOT NULL`); err != nil {
		return nil, translate(err, "load "+table+" external ids")
	}
	return rows, nil
}

func externalIDs(ctx context.Context, q queryer, table string) (map[string]int64, error) {
	rows, err := externalRows(ctx, q, table)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.ExternalID] = r.ID
	}
	return out, nil
}

// placeholders は "(?, ?, ?)" を rows 個カンマで連結した文字列を返します。
func placeholders(cols, rows int) string {
	one := "(" + strings.TrimSuffix(strings.Repeat("?, ", cols), ", ") + ")"
	return strings.TrimSuffix(strings.Repeat(one+", ", rows), ", ")
}

func upsertOperators(ctx context.Context, tx *sqlx.Tx, source string, recs []model.OperatorRecord, batchSize int, now time.Time) error {
	for start := 0; start < len(recs); start += batchSize {
		end := min(start+batchSize, len(recs))
		chunk := recs[start:end]
		args := make([]interface{}, 0, len(chunk)*8)
		for _, r := range chunk {
			args = append(args, r.Code, r.Name, r.NameEn, r.URL, source, r.ExternalID, now, now)
		}
		query := `INSERT INTO operators (code, name, name_en, url, source, external_id, created_at, updated_at)
			VALUES ` + placeholders(8, len(chunk)) + `
			ON CONFLICT(external_id) DO UPDATE SET
				code = excluded.code, name = excluded.name, name_en = excluded.name_en,
				url = excluded.url, updated_at = excluded.updated_at
			WHERE operators.source = excluded.source`
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return translate(err, "upsert operators")
		}
	}
	return nil
}

func upsertLines(ctx context.Context, tx *sqlx.Tx, source string, recs []model.LineRecord, operatorIDs map[string]int64, batchSize int, now time.Time) error {
	for start := 0; start < len(recs); start += batchSize {
		end := min(start+batchSize, len(recs))
		chunk := recs[start:end]
		args := make([]interface{}, 0, len(chunk)*9)
		for _, r := range chunk {
			opID, ok := operatorIDs[r.OperatorExternalID]
			if !ok {
				return fmt.Errorf("line %s references unknown operator %s: %w", r.ExternalID, r.OperatorExternalID, ErrInvalid)
			}
			args = append(args, opID, r.Code, r.Name, r.NameEn, r.Color, source, r.ExternalID, now, now)
		}
		query := `INSERT INTO lines (operator_id, code, name, name_en, color, source, external_id, created_at, updated_at)
			VALUES ` + placeholders(9, len(chunk)) + `
			ON CONFLICT(external_id) DO UPDATE SET
				operator_id = excluded.operator_id, code = excluded.code, name = excluded.name,
				name_en = excluded.name_en, color = excluded.color, updated_at = excluded.updated_at
			WHERE lines.source = excluded.source`
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return translate(err, "upsert lines")
		}
	}
	return nil
}

func upsertStations(ctx context.Context, tx *sqlx.Tx, source string, recs []model.StationRecord, lineIDs map[string]int64, batchSize int, now time.Time) error {
	for start := 0; start < len(recs); start += batchSize {
		end := min(start+batchSize, len(recs))
		chunk := recs[start:end]
		args := make([]interface{}, 0, len(chunk)*12)
		for _, r := range chunk {
			lineID, ok := lineIDs[r.LineExternalID]
			if !ok {
				return fmt.Errorf("station %s references unknown line %s: %w", r.ExternalID, r.LineExternalID, ErrInvalid)
			}
			args = append(args, lineID, r.Code, r.Name, r.NameKana, r.NameEn, r.Seq, r.Lat, r.Lon,
				source, r.ExternalID, now, now)
		}
		// バリアフリー設備・備考は管理画面の入力を優先するため更新しない。他ソースの行も書き換えない
		query := `INSERT INTO stations (line_id, code, name, name_kana, name_en, seq, lat, lon,
				source, external_id, created_at, updated_at)
			VALUES ` + placeholders(12, len(chunk)) + `
			ON CONFLICT(external_id) DO UPDATE SET
				line_id = excluded.line_id, code = excluded.code, name = excluded.name,
				name_kana = excluded.name_kana, name_en = excluded.name_en, seq = excluded.seq,
				lat = excluded.lat, lon = excluded.lon, updated_at = excluded.updated_at
			WHERE stations.source = excluded.source`
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return translate(err, "upsert stations")
		}
	}
	return nil
}

// deleteExternal は source の行を削除し、子行が残っていて消せなかった external_id を返します。
func deleteExternal(ctx context.Context, tx *sqlx.Tx, table, source string, ids []string, batchSize int) ([]string, error) {
	dep, ok := dependents[table]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	var retained []string
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		chunk := ids[start:end]

		query, args, err := sqlx.In(`SELECT external_id FROM `+table+
			` WHERE source = ? AND external_id IN (?) AND `+dep+` ORDER BY external_id`, source, chunk)
		if err != nil {
			return nil, fmt.Errorf("build delete for %s: %w", table, err)
		}
		var kept []string
		if err := tx.SelectContext(ctx, &kept, tx.Rebind(query), args...); err != nil {
			return nil, translate(err, "check "+table+" dependents")
		}
		retained = append(retained, kept...)

		query, args, err = sqlx.In(`DELETE FROM `+table+
			` WHERE source = ? AND external_id IN (?) AND NOT `+dep, source, chunk)
		if err != nil {
			return nil, fmt.Errorf("build delete for %s: %w", table, err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return nil, translate(err, "delete "+table)
		}
	}
	return retained, nil
}

// RecordSyncRun は同期結果を記録します。
func (s *Store) RecordSyncRun(ctx context.Context, run *model.SyncRun) error {
	res, err := s.db.NamedExecContext(ctx,
		`INSERT INTO sync_runs (source, feed, status, inserted, updated, unchanged, deleted, skipped, error, started_at, finished_at)
		 VALUES (:source, :feed, :status, :inserted, :updated, :unchanged, :deleted, :skipped, :error, :started_at, :finished_at)`,
		run)
	if err != nil {
		return translate(err, "record sync run")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return translate(err, "record sync run")
	}
	run.ID = id
	return nil
}

// ListSyncRuns は新しい順に同期結果を返します。
func (s *Store) ListSyncRuns(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	out := []model.SyncRun{}
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, source, feed, status, inserted, updated, unchanged, deleted, skipped, error, started_at, finished_at
		 FROM sync_runs ORDER BY id DESC LIMIT ?`, limit)
	return out, translate(err, "list sync runs")
}
