package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/yourusername/barrierfree-rail/internal/model"
)

const lineColumns = `id, operator_id, code, name, name_en, color, source, external_id, created_at, updated_at`

// ListLines は路線を返します。operatorID が 0 の場合は全件です。
func (s *Store) ListLines(ctx context.Context, operatorID int64) ([]model.Line, error) {
	out := []model.Line{}
	var err error
	if operatorID > 0 {
		err = s.db.SelectContext(ctx, &out,
			`SELECT `+lineColumns+` FROM lines WHERE operator_id = ? ORDER BY code`, operatorID)
	} else {
		err = s.db.SelectContext(ctx, &out,
			`SELECT `+lineColumns+` FROM lines ORDER BY operator_id, code`)
	}
	return out, translate(err, "list lines")
}

// GetLine は路線を1件取得します。
func (s *Store) GetLine(ctx context.Context, id int64) (*model.Line, error) {
	var line model.Line
	err := s.db.GetContext(ctx, &line, `SELECT `+lineColumns+` FROM lines WHERE id = ?`, id)
	if err != nil {
		return nil, translate(err, "get line")
	}
	return &line, nil
}

// CreateLine は路線を作成します。
func (s *Store) CreateLine(ctx context.Context, in model.LineInput) (*model.Line, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO lines (operator_id, code, name, name_en, color, source, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.OperatorID, in.Code, in.Name, in.NameEn, in.Color, model.SourceAdmin, now, now)
	if err != nil {
		return nil, translate(err, "create line")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, translate(err, "create line")
	}
	return s.GetLine(ctx, id)
}

// UpdateLine は路線を更新します。
func (s *Store) UpdateLine(ctx context.Context, id int64, in model.LineInput) (*model.Line, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE lines SET operator_id = ?, code = ?, name = ?, name_en = ?, color = ?, updated_at = ? WHERE id = ?`,
		in.OperatorID, in.Code, in.Name, in.NameEn, in.Color, s.now(), id)
	if err != nil {
		return nil, translate(err, "update line")
	}
	if err := requireAffected(res, "update line"); err != nil {
		return nil, err
	}
	return s.GetLine(ctx, id)
}

// DeleteLine は路線を削除します。
func (s *Store) DeleteLine(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM lines WHERE id = ?`, id)
	if err != nil {
		return translate(err, "delete line")
	}
	return requireAffected(res, "delete line")
}

// ReorderStations は路線の駅順を stationIDs の並びに更新します。
// stationIDs は路線に属する駅をちょうど1回ずつ含む必要があります。
func (s *Store) ReorderStations(ctx context.Context, lineID int64, stationIDs []int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var current []int64
		if err := tx.SelectContext(ctx, &current, `SELECT id FROM stations WHERE line_id = ?`, lineID); err != nil {
			return translate(err, "reorder stations")
		}
		if len(current) == 0 {
			if _, err := s.getLineTx(ctx, tx, lineID); err != nil {
				return err
			}
		}
		if len(current) != len(stationIDs) {
			return fmt.Errorf("reorder stations: expected %d ids, got %d: %w", len(current), len(stationIDs), ErrInvalid)
		}
		member := make(map[int64]bool, len(current))
		for _, id := range current {
			member[id] = false
		}
		for _, id := range stationIDs {
			seen, ok := member[id]
			if !ok {
				return fmt.Errorf("reorder stations: station %d is not on line %d: %w", id, lineID, ErrInvalid)
			}
			if seen {
				return fmt.Errorf("reorder stations: station %d listed twice: %w", id, ErrInvalid)
			}
			member[id] = true
		}

		now := s.now()
		for i, id := range stationIDs {
			if _, err := tx.ExecContext(ctx,
				`UPDATE stations SET seq = ?, updated_at = ? WHERE id = ?`, i+1, now, id); err != nil {
				return translate(err, "reorder stations")
			}
		}
		return nil
	})
}

func (s *Store) getLineTx(ctx context.Context, q queryer, id int64) (*model.Line, error) {
	var line model.Line
	if err := q.GetContext(ctx, &line, `SELECT `+lineColumns+` FROM lines WHERE id = ?`, id); err != nil {
		return nil, translate(err, "get line")
	}
	return &line, nil
}
