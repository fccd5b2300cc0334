package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/yourusername/barrierfree-rail/internal/diagram"
	"github.com/yourusername/barrierfree-rail/internal/model"
)

const trainColumns = `id, line_id, name, car_count, cells_per_car, note, created_at, updated_at`

const carColumns = `id, train_id, number, wheelchair_space, stroller_space, priority_seat, women_only, note, created_at, updated_at`

const stopPositionColumns = `id, platform_id, train_id, offset_cell, created_at, updated_at`

// ListTrains は路線の編成を返します。lineID が 0 の場合は全件です。
func (s *Store) ListTrains(ctx context.Context, lineID int64) ([]model.Train, error) {
	out := []model.Train{}
	var err error
	if lineID > 0 {
		err = s.db.SelectContext(ctx, &out,
			`SELECT `+trainColumns+` FROM trains WHERE line_id = ? ORDER BY name, id`, lineID)
	} else {
		err = s.db.SelectContext(ctx, &out,
			`SELECT `+trainColumns+` FROM trains ORDER BY line_id, name, id`)
	}
	return out, translate(err, "list trains")
}

// GetTrain は編成を1件取得します。
func (s *Store) GetTrain(ctx context.Context, id int64) (*model.Train, error) {
	return s.getTrain(ctx, s.db, id)
}

func (s *Store) getTrain(ctx context.Context, q queryer, id int64) (*model.Train, error) {
	var t model.Train
	if err := q.GetContext(ctx, &t, `SELECT `+trainColumns+` FROM trains WHERE id = ?`, id); err != nil {
		return nil, translate(err, "get train")
	}
	return &t, nil
}

// CreateTrain は編成を作成し、1..CarCount の号車を生成します。
func (s *Store) CreateTrain(ctx context.Context, in model.TrainInput) (*model.Train, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		now := s.now()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO trains (line_id, name, car_count, cells_per_car, note, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			in.LineID, in.Name, in.CarCount, in.CellsPerCar, in.Note, now, now)
		if err != nil {
			return translate(err, "create train")
		}
		if id, err = res.LastInsertId(); err != nil {
			return translate(err, "create train")
		}
		return s.addCars(ctx, tx, id, 1, in.CarCount)
	})
	if err != nil {
		return nil, err
	}
	return s.GetTrain(ctx, id)
}

// UpdateTrain は編成を更新します。両数が変わった場合は末尾の号車を追加・削除します。
// 既存の停止位置が収まらなくなる場合は ErrInvalid を返します。
func (s *Store) UpdateTrain(ctx context.Context, id int64, in model.TrainInput) (*model.Train, error) {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.getTrain(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE trains SET line_id = ?, name = ?, car_count = ?, cells_per_car = ?, note = ?, updated_at = ? WHERE id = ?`,
			in.LineID, in.Name, in.CarCount, in.CellsPerCar, in.Note, s.now(), id); err != nil {
			return translate(err, "update train")
		}
		switch {
		case in.CarCount > current.CarCount:
			if err := s.addCars(ctx, tx, id, current.CarCount+1, in.CarCount); err != nil {
				return err
			}
		case in.CarCount < current.CarCount:
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM cars WHERE train_id = ? AND number > ?`, id, in.CarCount); err != nil {
				return translate(err, "update train")
			}
		}
		return s.checkStopPositions(ctx, tx, `sp.train_id = ?`, id)
	})
	if err != nil {
		return nil, err
	}
	return s.GetTrain(ctx, id)
}

// DeleteTrain は編成を削除します。
func (s *Store) DeleteTrain(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trains WHERE id = ?`, id)
	if err != nil {
		return translate(err, "delete train")
	}
	return requireAffected(res, "delete train")
}

func (s *Store) addCars(ctx context.Context, tx *sqlx.Tx, trainID int64, from, to int) error {
	now := s.now()
	for n := from; n <= to; n++ {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cars (train_id, number, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			trainID, n, now, now); err != nil {
			return translate(err, fmt.Sprintf("create car %d", n))
		}
	}
	return nil
}

// ListCars は編成の号車を号車順で返します。
func (s *Store) ListCars(ctx context.Context, trainID int64) ([]model.Car, error) {
	out := []model.Car{}
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+carColumns+` FROM cars WHERE train_id = ? ORDER BY number`, trainID)
	return out, translate(err, "list cars")
}

// GetCar は号車を1件取得します。
func (s *Store) GetCar(ctx context.Context, id int64) (*model.Car, error) {
	var c model.Car
	if err := s.db.GetContext(ctx, &c, `SELECT `+carColumns+` FROM cars WHERE id = ?`, id); err != nil {
		return nil, translate(err, "get car")
	}
	return &c, nil
}

// UpdateCar は号車の設備情報を更新します。
func (s *Store) UpdateCar(ctx context.Context, id int64, in model.CarInput) (*model.Car, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cars SET wheelchair_space = ?, stroller_space = ?, priority_seat = ?, women_only = ?, note = ?, updated_at = ?
		 WHERE id = ?`,
		in.WheelchairSpace, in.StrollerSpace, in.PrioritySeat, in.WomenOnly, in.Note, s.now(), id)
	if err != nil {
		return nil, translate(err, "update car")
	}
	if err := requireAffected(res, "update car"); err != nil {
		return nil, err
	}
	return s.GetCar(ctx, id)
}

// ListStopPositions はホームの停止位置を返します。platformID が 0 の場合は全件です。
func (s *Store) ListStopPositions(ctx context.Context, platformID int64) ([]model.StopPosition, error) {
	out := []model.StopPosition{}
	var err error
	if platformID > 0 {
		err = s.db.SelectContext(ctx, &out,
			`SELECT `+stopPositionColumns+` FROM stop_positions WHERE platform_id = ? ORDER BY train_id`, platformID)
	} else {
		err = s.db.SelectContext(ctx, &out,
			`SELECT `+stopPositionColumns+` FROM stop_positions ORDER BY platform_id, train_id`)
	}
	return out, translate(err, "list stop positions")
}

// GetStopPosition は停止位置を1件取得します。
func (s *Store) GetStopPosition(ctx context.Context, id int64) (*model.StopPosition, error) {
	var sp model.StopPosition
	if err := s.db.GetContext(ctx, &sp, `SELECT `+stopPositionColumns+` FROM stop_positions WHERE id = ?`, id); err != nil {
		return nil, translate(err, "get stop position")
	}
	return &sp, nil
}

// FindStopPosition はホームと編成の組で停止位置を取得します。
func (s *Store) FindStopPosition(ctx context.Context, platformID, trainID int64) (*model.StopPosition, error) {
	var sp model.StopPosition
	if err := s.db.GetContext(ctx, &sp,
		`SELECT `+stopPositionColumns+` FROM stop_positions WHERE platform_id = ? AND train_id = ?`,
		platformID, trainID); err != nil {
		return nil, translate(err, "find stop position")
	}
	return &sp, nil
}

// CreateStopPosition は停止位置を作成します。編成がホームに収まらない場合は ErrInvalid です。
func (s *Store) CreateStopPosition(ctx context.Context, in model.StopPositionInput) (*model.StopPosition, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.checkFit(ctx, tx, in); err != nil {
			return err
		}
		now := s.now()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO stop_positions (platform_id, train_id, offset_cell, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)`,
			in.PlatformID, in.TrainID, in.OffsetCell, now, now)
		if err != nil {
			return translate(err, "create stop position")
		}
		id, err = res.LastInsertId()
		return translate(err, "create stop position")
	})
	if err != nil {
		return nil, err
	}
	return s.GetStopPosition(ctx, id)
}

// UpdateStopPosition は停止位置を更新します。
func (s *Store) UpdateStopPosition(ctx context.Context, id int64, in model.StopPositionInput) (*model.StopPosition, error) {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.checkFit(ctx, tx, in); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE stop_positions SET platform_id = ?, train_id = ?, offset_cell = ?, updated_at = ? WHERE id = ?`,
			in.PlatformID, in.TrainID, in.OffsetCell, s.now(), id)
		if err != nil {
			return translate(err, "update stop position")
		}
		return requireAffected(res, "update stop position")
	})
	if err != nil {
		return nil, err
	}
	return s.GetStopPosition(ctx, id)
}

// DeleteStopPosition は停止位置を削除します。
func (s *Store) DeleteStopPosition(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM stop_positions WHERE id = ?`, id)
	if err != nil {
		return translate(err, "delete stop position")
	}
	return requireAffected(res, "delete stop position")
}

func (s *Store) checkFit(ctx context.Context, q queryer, in model.StopPositionInput) error {
	p, err := s.getPlatform(ctx, q, in.PlatformID)
	if err != nil {
		return err
	}
	t, err := s.getTrain(ctx, q, in.TrainID)
	if err != nil {
		return err
	}
	l := diagram.Layout{
		CellCount:   p.CellCount,
		Car1Side:    p.Car1Side,
		CarCount:    t.CarCount,
		CellsPerCar: t.CellsPerCar,
		OffsetCell:  in.OffsetCell,
	}
	if err := diagram.Fit(l); err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvalid)
	}
	return nil
}
