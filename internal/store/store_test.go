package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/barrierfree-rail/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

type fixture struct {
	operator *model.Operator
	line     *model.Line
	station  *model.Station
	platform *model.Platform
	train    *model.Train
}

func seed(t *testing.T, s *Store) fixture {
	t.Helper()
	ctx := context.Background()
	op, err := s.CreateOperator(ctx, model.OperatorInput{Code: "TokyoMetro", Name: "東京メトロ"})
	require.NoError(t, err)
	line, err := s.CreateLine(ctx, model.LineInput{OperatorID: op.ID, Code: "G", Name: "銀座線", Color: "#FF9500"})
	require.NoError(t, err)
	st, err := s.CreateStation(ctx, model.StationInput{LineID: line.ID, Code: "G01", Name: "渋谷", NameKana: "しぶや", NameEn: "Shibuya", Seq: 1})
	require.NoError(t, err)
	p, err := s.CreatePlatform(ctx, model.PlatformInput{StationID: st.ID, Number: "1", CellCount: 12, Car1Side: model.Car1Left})
	require.NoError(t, err)
	tr, err := s.CreateTrain(ctx, model.TrainInput{LineID: line.ID, Name: "1000系", CarCount: 6, CellsPerCar: 2})
	require.NoError(t, err)
	return fixture{operator: op, line: line, station: st, platform: p, train: tr}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestOperatorCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	op, err := s.CreateOperator(ctx, model.OperatorInput{Code: "Toei", Name: "都営", URL: "https://www.kotsu.metro.tokyo.jp/"})
	require.NoError(t, err)
	require.Equal(t, model.SourceAdmin, op.Source)
	require.Nil(t, op.ExternalID)
	require.False(t, op.CreatedAt.IsZero())

	_, err = s.CreateOperator(ctx, model.OperatorInput{Code: "Toei", Name: "dup"})
	require.ErrorIs(t, err, ErrConflict)

	updated, err := s.UpdateOperator(ctx, op.ID, model.OperatorInput{Code: "Toei", Name: "東京都交通局"})
	require.NoError(t, err)
	require.Equal(t, "東京都交通局", updated.Name)

	list, err := s.ListOperators(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteOperator(ctx, op.ID))
	_, err = s.GetOperator(ctx, op.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.DeleteOperator(ctx, op.ID), ErrNotFound)

	_, err = s.UpdateOperator(ctx, 999, model.OperatorInput{Code: "x", Name: "x"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLineRequiresOperator(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateLine(context.Background(), model.LineInput{OperatorID: 42, Code: "X", Name: "x"})
	require.ErrorIs(t, err, ErrConflict)
}

func TestDeleteCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seed(t, s)

	require.NoError(t, s.DeleteOperator(ctx, f.operator.ID))
	_, err := s.GetStation(ctx, f.station.ID)
	require.ErrorIs(t, err, ErrNotFound)
	cars, err := s.ListCars(ctx, f.train.ID)
	require.NoError(t, err)
	require.Empty(t, cars)
}

func TestStationLatLon(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seed(t, s)
	require.Nil(t, f.station.Lat)

	lat, lon := 35.658, 139.7016
	st, err := s.UpdateStation(ctx, f.station.ID, model.StationInput{
		LineID: f.line.ID, Code: "G01", Name: "渋谷", Seq: 1, Lat: &lat, Lon: &lon, HasElevator: true,
	})
	require.NoError(t, err)
	require.NotNil(t, st.Lat)
	require.InDelta(t, lat, *st.Lat, 1e-9)
	require.True(t, st.HasElevator)
}

func TestSearchStations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seed(t, s)
	_, err := s.CreateStation(ctx, model.StationInput{LineID: f.line.ID, Code: "G02", Name: "表参道", NameKana: "おもてさんどう", NameEn: "Omote-sando", Seq: 2})
	require.NoError(t, err)
	_, err = s.CreateStation(ctx, model.StationInput{LineID: f.line.ID, Code: "G03", Name: "外苑前_", NameEn: "Gaiemmae", Seq: 3})
	require.NoError(t, err)

	cases := map[string]int{
		"渋谷":      1,
		"しぶ":      1,
		"shibuya": 1,
		"OMOTE":   1,
		"g0":      3,
		"_":       1,
		"%":       0,
		"  ":      0,
	}
	for q, want := range cases {
		got, err := s.SearchStations(ctx, q, 0)
		require.NoError(t, err)
		require.Lenf(t, got, want, "query %q", q)
	}

	limited, err := s.SearchStations(ctx, "g0", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
}

func TestReorderStations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seed(t, s)
	second, err := s.CreateStation(ctx, model.StationInput{LineID: f.line.ID, Name: "表参道", Seq: 2})
	require.NoError(t, err)

	require.NoError(t, s.ReorderStations(ctx, f.line.ID, []int64{second.ID, f.station.ID}))
	list, err := s.ListStations(ctx, f.line.ID)
	require.NoError(t, err)
	require.Equal(t, second.ID, list[0].ID)
	require.Equal(t, 1, list[0].Seq)

	require.ErrorIs(t, s.ReorderStations(ctx, f.line.ID, []int64{second.ID}), ErrInvalid)
	require.ErrorIs(t, s.ReorderStations(ctx, f.line.ID, []int64{second.ID, second.ID}), ErrInvalid)
	require.ErrorIs(t, s.ReorderStations(ctx, f.line.ID, []int64{second.ID, 999}), ErrInvalid)
	require.ErrorIs(t, s.ReorderStations(ctx, 999, nil), ErrNotFound)
}

func TestTrainCarsFollowCarCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seed(t, s)

	cars, err := s.ListCars(ctx, f.train.ID)
	require.NoError(t, err)
	require.Len(t, cars, 6)
	require.Equal(t, 1, cars[0].Number)
	require.Equal(t, 6, cars[5].Number)

	car, err := s.UpdateCar(ctx, cars[1].ID, model.CarInput{WheelchairSpace: true, StrollerSpace: true})
	require.NoError(t, err)
	require.True(t, car.WheelchairSpace)
	require.True(t, car.StrollerSpace)
	require.False(t, car.WomenOnly)

	_, err = s.UpdateTrain(ctx, f.train.ID, model.TrainInput{LineID: f.line.ID, Name: "1000系", CarCount: 3, CellsPerCar: 2})
	require.NoError(t, err)
	cars, err = s.ListCars(ctx, f.train.ID)
	require.NoError(t, err)
	require.Len(t, cars, 3)
	require.True(t, cars[1].WheelchairSpace, "surviving cars keep their flags")

	_, err = s.UpdateTrain(ctx, f.train.ID, model.TrainInput{LineID: f.line.ID, Name: "1000系", CarCount: 5, CellsPerCar: 2})
	require.NoError(t, err)
	cars, err = s.ListCars(ctx, f.train.ID)
	require.NoError(t, err)
	require.Len(t, cars, 5)
	require.Equal(t, 5, cars[4].Number)
}

func TestStopPositionFit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seed(t, s)

	// 12セルのホームに 6両×2セル はオフセット0でちょうど収まる
	sp, err := s.CreateStopPosition(ctx, model.StopPositionInput{PlatformID: f.platform.ID, TrainID: f.train.ID, OffsetCell: 0})
	require.NoError(t, err)

	_, err = s.UpdateStopPosition(ctx, sp.ID, model.StopPositionInput{PlatformID: f.platform.ID, TrainID: f.train.ID, OffsetCell: 1})
	require.ErrorIs(t, err, ErrInvalid)

	_, err = s.CreateStopPosition(ctx, model.StopPositionInput{PlatformID: f.platform.ID, TrainID: f.train.ID})
	require.ErrorIs(t, err, ErrConflict)

	found, err := s.FindStopPosition(ctx, f.platform.ID, f.train.ID)
	require.NoError(t, err)
	require.Equal(t, sp.ID, found.ID)

	// セル数を減らすと停止位置がはみ出すので拒否する
	_, err = s.UpdatePlatform(ctx, f.platform.ID, model.PlatformInput{StationID: f.station.ID, Number: "1", CellCount: 10, Car1Side: model.Car1Left})
	require.ErrorIs(t, err, ErrInvalid)
	p, err := s.GetPlatform(ctx, f.platform.ID)
	require.NoError(t, err)
	require.Equal(t, 12, p.CellCount, "rejected update must roll back")

	// 両数を増やしても同様
	_, err = s.UpdateTrain(ctx, f.train.ID, model.TrainInput{LineID: f.line.ID, Name: "1000系", CarCount: 7, CellsPerCar: 2})
	require.ErrorIs(t, err, ErrInvalid)
}

func TestFacilityCellRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seed(t, s)

	fac, err := s.CreateFacility(ctx, model.FacilityInput{PlatformID: f.platform.ID, Cell: 11, Kind: model.FacilityElevator, Label: "EV"})
	require.NoError(t, err)
	require.Equal(t, model.FacilityElevator, fac.Kind)

	_, err = s.CreateFacility(ctx, model.FacilityInput{PlatformID: f.platform.ID, Cell: 12, Kind: model.FacilityStairs})
	require.ErrorIs(t, err, ErrInvalid)

	_, err = s.UpdateFacility(ctx, fac.ID, model.FacilityInput{PlatformID: f.platform.ID, Cell: 3, Kind: model.FacilityEscalator})
	require.NoError(t, err)

	list, err := s.ListFacilities(ctx, f.platform.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, 3, list[0].Cell)
}
