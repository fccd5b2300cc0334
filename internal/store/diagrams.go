package store

import (
	"context"
	"fmt"

	"github.com/yourusername/barrierfree-rail/internal/diagram"
	"github.com/yourusername/barrierfree-rail/internal/model"
)

// PlatformDiagram はホームと編成の組の乗車位置図を組み立てます。停止位置が未登録なら ErrNotFound です。
func (s *Store) PlatformDiagram(ctx context.Context, platformID, trainID int64) (*diagram.Diagram, error) {
	p, err := s.GetPlatform(ctx, platformID)
	if err != nil {
		return nil, err
	}
	sp, err := s.FindStopPosition(ctx, platformID, trainID)
	if err != nil {
		return nil, err
	}
	facilities, err := s.ListFacilities(ctx, platformID)
	if err != nil {
		return nil, err
	}
	return s.buildDiagram(ctx, p, facilities, sp)
}

// PlatformDiagrams はホームに停止位置が登録された全編成の乗車位置図を返します。
func (s *Store) PlatformDiagrams(ctx context.Context, platformID int64) ([]*diagram.Diagram, error) {
	p, err := s.GetPlatform(ctx, platformID)
	if err != nil {
		return nil, err
	}
	positions, err := s.ListStopPositions(ctx, platformID)
	if err != nil {
		return nil, err
	}
	facilities, err := s.ListFacilities(ctx, platformID)
	if err != nil {
		return nil, err
	}
	out := make([]*diagram.Diagram, 0, len(positions))
	for i := range positions {
		d, err := s.buildDiagram(ctx, p, facilities, &positions[i])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Store) buildDiagram(ctx context.Context, p *model.Platform, facilities []model.Facility, sp *model.StopPosition) (*diagram.Diagram, error) {
	t, err := s.GetTrain(ctx, sp.TrainID)
	if err != nil {
		return nil, err
	}
	cars, err := s.ListCars(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	d, err := diagram.Build(p, t, cars, facilities, sp)
	if err != nil {
		return nil, fmt.Errorf("build diagram platform=%d train=%d: %v: %w", p.ID, t.ID, err, ErrInvalid)
	}
	return d, nil
}
