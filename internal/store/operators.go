package store

import (
	"context"

	"github.com/yourusername/barrierfree-rail/internal/model"
)

const operatorColumns = `id, code, name, name_en, url, source, external_id, created_at, updated_at`

// ListOperators は事業者をコード順で返します。
func (s *Store) ListOperators(ctx context.Context) ([]model.Operator, error) {
	out := []model.Operator{}
	err := s.db.SelectContext(ctx, &out, `SELECT `+operatorColumns+` FROM operators ORDER BY code`)
	return out, translate(err, "list operators")
}

// GetOperator は事業者を1件取得します。
func (s *Store) GetOperator(ctx context.Context, id int64) (*model.Operator, error) {
	var op model.Operator
	err := s.db.GetContext(ctx, &op, `SELECT `+operatorColumns+` FROM operators WHERE id = ?`, id)
	if err != nil {
		return nil, translate(err, "get operator")
	}
	return &op, nil
}

// CreateOperator は事業者を作成します。
func (s *Store) CreateOperator(ctx context.Context, in model.OperatorInput) (*model.Operator, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO operators (code, name, name_en, url, source, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.Code, in.Name, in.NameEn, in.URL, model.SourceAdmin, now, now)
	if err != nil {
		return nil, translate(err, "create operator")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, translate(err, "create operator")
	}
	return s.GetOperator(ctx, id)
}

// UpdateOperator は事業者を更新します。
func (s *Store) UpdateOperator(ctx context.Context, id int64, in model.OperatorInput) (*model.Operator, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE operators SET code = ?, name = ?, name_en = ?, url = ?, updated_at = ? WHERE id = ?`,
		in.Code, in.Name, in.NameEn, in.URL, s.now(), id)
	if err != nil {
		return nil, translate(err, "update operator")
	}
	if err := requireAffected(res, "update operator"); err != nil {
		return nil, err
	}
	return s.GetOperator(ctx, id)
}

// DeleteOperator は事業者と配下の路線・駅などをまとめて削除します。
func (s *Store) DeleteOperator(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM operators WHERE id = ?`, id)
	if err != nil {
		return translate(err, "delete operator")
	}
	return requireAffected(res, "delete operator")
}
