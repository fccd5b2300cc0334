package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/yourusername/barrierfree-rail/internal/diagram"
	"github.com/yourusername/barrierfree-rail/internal/model"
)

const platformColumns = `id, station_id, number, direction, cell_count, car1_side, note, created_at, updated_at`

const facilityColumns = `id, platform_id, cell, kind, label, note, created_at, updated_at`

// ListPlatforms は駅のホームを番線順で返します。stationID が 0 の場合は全件です。
func (s *Store) ListPlatforms(ctx context.Context, stationID int64) ([]model.Platform, error) {
	out := []model.Platform{}
	var err error
	if stationID > 0 {
		err = s.db.SelectContext(ctx, &out,
			`SELECT `+platformColumns+` FROM platforms WHERE station_id = ? ORDER BY number`, stationID)
	} else {
		err = s.db.SelectContext(ctx, &out,
			`SELECT `+platformColumns+` FROM platforms ORDER BY station_id, number`)
	}
	return out, translate(err, "list platforms")
}

// GetPlatform はホームを1件取得します。
func (s *Store) GetPlatform(ctx context.Context, id int64) (*model.Platform, error) {
	return s.getPlatform(ctx, s.db, id)
}

func (s *Store) getPlatform(ctx context.Context, q queryer, id int64) (*model.Platform, error) {
	var p model.Platform
	if err := q.GetContext(ctx, &p, `SELECT `+platformColumns+` FROM platforms WHERE id = ?`, id); err != nil {
		return nil, translate(err, "get platform")
	}
	return &p, nil
}

// CreatePlatform はホームを作成します。
func (s *Store) CreatePlatform(ctx context.Context, in model.PlatformInput) (*model.Platform, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO platforms (station_id, number, direction, cell_count, car1_side, note, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.StationID, in.Number, in.Direction, in.CellCount, in.Car1Side, in.Note, now, now)
	if err != nil {
		return nil, translate(err, "create platform")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, translate(err, "create platform")
	}
	return s.GetPlatform(ctx, id)
}

// UpdatePlatform はホームを更新します。
// セル数の変更で既存の停止位置が収まらなくなる場合は ErrInvalid を返します。
func (s *Store) UpdatePlatform(ctx context.Context, id int64, in model.PlatformInput) (*model.Platform, error) {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE platforms SET station_id = ?, number = ?, direction = ?, cell_count = ?, car1_side = ?, note = ?, updated_at = ?
			 WHERE id = ?`,
			in.StationID, in.Number, in.Direction, in.CellCount, in.Car1Side, in.Note, s.now(), id)
		if err != nil {
			return translate(err, "update platform")
		}
		if err := requireAffected(res, "update platform"); err != nil {
			return err
		}
		return s.checkStopPositions(ctx, tx, `sp.platform_id = ?`, id)
	})
	if err != nil {
		return nil, err
	}
	return s.GetPlatform(ctx, id)
}

// DeletePlatform はホームを削除します。
func (s *Store) DeletePlatform(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM platforms WHERE id = ?`, id)
	if err != nil {
		return translate(err, "delete platform")
	}
	return requireAffected(res, "delete platform")
}

// ListFacilities はホームの設備をセル順で返します。platformID が 0 の場合は全件です。
func (s *Store) ListFacilities(ctx context.Context, platformID int64) ([]model.Facility, error) {
	out := []model.Facility{}
	var err error
	if platformID > 0 {
		err = s.db.SelectContext(ctx, &out,
			`SELECT `+facilityColumns+` FROM facilities WHERE platform_id = ? ORDER BY cell, id`, platformID)
	} else {
		err = s.db.SelectContext(ctx, &out,
			`SELECT `+facilityColumns+` FROM facilities ORDER BY platform_id, cell, id`)
	}
	return out, translate(err, "list facilities")
}

// GetFacility は設備を1件取得します。
func (s *Store) GetFacility(ctx context.Context, id int64) (*model.Facility, error) {
	var f model.Facility
	if err := s.db.GetContext(ctx, &f, `SELECT `+facilityColumns+` FROM facilities WHERE id = ?`, id); err != nil {
		return nil, translate(err, "get facility")
	}
	return &f, nil
}

// CreateFacility は設備を作成します。セルはホームの範囲内である必要があります。
func (s *Store) CreateFacility(ctx context.Context, in model.FacilityInput) (*model.Facility, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.checkFacilityCell(ctx, tx, in); err != nil {
			return err
		}
		now := s.now()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO facilities (platform_id, cell, kind, label, note, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			in.PlatformID, in.Cell, in.Kind, in.Label, in.Note, now, now)
		if err != nil {
			return translate(err, "create facility")
		}
		id, err = res.LastInsertId()
		return translate(err, "create facility")
	})
	if err != nil {
		return nil, err
	}
	return s.GetFacility(ctx, id)
}

// UpdateFacility は設備を更新します。
func (s *Store) UpdateFacility(ctx context.Context, id int64, in model.FacilityInput) (*model.Facility, error) {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.checkFacilityCell(ctx, tx, in); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE facilities SET platform_id = ?, cell = ?, kind = ?, label = ?, note = ?, updated_at = ? WHERE id = ?`,
			in.PlatformID, in.Cell, in.Kind, in.Label, in.Note, s.now(), id)
		if err != nil {
			return translate(err, "update facility")
		}
		return requireAffected(res, "update facility")
	})
	if err != nil {
		return nil, err
	}
	return s.GetFacility(ctx, id)
}

// DeleteFacility は設備を削除します。
func (s *Store) DeleteFacility(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM facilities WHERE id = ?`, id)
	if err != nil {
		return translate(err, "delete facility")
	}
	return requireAffected(res, "delete facility")
}

func (s *Store) checkFacilityCell(ctx context.Context, q queryer, in model.FacilityInput) error {
	p, err := s.getPlatform(ctx, q, in.PlatformID)
	if err != nil {
		return err
	}
	if in.Cell < 0 || in.Cell >= p.CellCount {
		return fmt.Errorf("facility cell %d outside platform of %d cells: %w", in.Cell, p.CellCount, ErrInvalid)
	}
	return nil
}

// checkStopPositions は条件に合う停止位置がすべてホームに収まるかを検証します。
func (s *Store) checkStopPositions(ctx context.Context, q queryer, where string, args ...interface{}) error {
	var rows []struct {
		ID          int64          `db:"id"`
		OffsetCell  int            `db:"offset_cell"`
		CellCount   int            `db:"cell_count"`
		Car1Side    model.Car1Side `db:"car1_side"`
		CarCount    int            `db:"car_count"`
		CellsPerCar int            `db:"cells_per_car"`
	}
	err := q.SelectContext(ctx, &rows,
		`SELECT sp.id, sp.offset_cell, p.cell_count, p.car1_side, t.car_count, t.cells_per_car
		 FROM stop_positions sp
		 JOIN platforms p ON p.id = sp.platform_id
		 JOIN trains t ON t.id = sp.train_id
		 WHERE `+where, args...)
	if err != nil {
		return translate(err, "check stop positions")
	}
	for _, r := range rows {
		l := diagram.Layout{
			CellCount:   r.CellCount,
			Car1Side:    r.Car1Side,
			CarCount:    r.CarCount,
			CellsPerCar: r.CellsPerCar,
			OffsetCell:  r.OffsetCell,
		}
		if err := diagram.Fit(l); err != nil {
			return fmt.Errorf("stop position %d: %v: %w", r.ID, err, ErrInvalid)
		}
	}
	return nil
}
