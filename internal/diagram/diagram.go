// Package diagram はホームのセルと編成の号車位置の対応を計算し、乗車位置図を組み立てます。
//
// ホームは左端を 0 とする CellCount 個のセルで表します。編成は1両あたり CellsPerCar
// セルを占め、停止位置の OffsetCell は1号車側のホーム端から1号車までの空きセル数です。
package diagram

import (
	"errors"
	"fmt"
	"sort"

	"github.com/yourusername/barrierfree-rail/internal/model"
)

// ErrDoesNotFit は編成がホームに収まらない停止位置を表します。
var ErrDoesNotFit = errors.New("train does not fit platform")

// Layout は計算に必要なホームと編成の寸法です。
type Layout struct {
	CellCount   int
	Car1Side    model.Car1Side
	CarCount    int
	CellsPerCar int
	OffsetCell  int
}

// LayoutOf はエンティティから Layout を組み立てます。
func LayoutOf(p *model.Platform, t *model.Train, sp *model.StopPosition) Layout {
	return Layout{
		CellCount:   p.CellCount,
		Car1Side:    p.Car1Side,
		CarCount:    t.CarCount,
		CellsPerCar: t.CellsPerCar,
		OffsetCell:  sp.OffsetCell,
	}
}

// Fit は編成がホームに収まるかを検証します。
func Fit(l Layout) error {
	if l.CellCount <= 0 || l.CarCount <= 0 || l.CellsPerCar <= 0 {
		return fmt.Errorf("%w: cellCount=%d carCount=%d cellsPerCar=%d", ErrDoesNotFit, l.CellCount, l.CarCount, l.CellsPerCar)
	}
	if l.Car1Side != model.Car1Left && l.Car1Side != model.Car1Right {
		return fmt.Errorf("unknown car1 side: %q", l.Car1Side)
	}
	if l.OffsetCell < 0 {
		return fmt.Errorf("%w: negative offset %d", ErrDoesNotFit, l.OffsetCell)
	}
	if need := l.OffsetCell + l.CarCount*l.CellsPerCar; need > l.CellCount {
		return fmt.Errorf("%w: needs %d cells, platform has %d", ErrDoesNotFit, need, l.CellCount)
	}
	return nil
}

// CellOf は号車 car（1始まり）の k 番目（0始まり）のセルがホーム上のどのセルかを返します。
func CellOf(l Layout, car, k int) int {
	pos := l.OffsetCell + (car-1)*l.CellsPerCar + k
	if l.Car1Side == model.Car1Right {
		return l.CellCount - 1 - pos
	}
	return pos
}

// Span は号車が占めるセル範囲を左から右の順で返します。
func Span(l Layout, car int) (first, last int) {
	a := CellOf(l, car, 0)
	b := CellOf(l, car, l.CellsPerCar-1)
	if a > b {
		a, b = b, a
	}
	return a, b
}

// CarAt はセルに停車する号車番号を返します。該当がなければ 0 です。
func CarAt(l Layout, cell int) int {
	if cell < 0 || cell >= l.CellCount {
		return 0
	}
	pos := cell
	if l.Car1Side == model.Car1Right {
		pos = l.CellCount - 1 - cell
	}
	pos -= l.OffsetCell
	if pos < 0 || pos >= l.CarCount*l.CellsPerCar {
		return 0
	}
	return pos/l.CellsPerCar + 1
}

// Cell は図の1セルです。
type Cell struct {
	Index      int              `json:"index"`
	Car        int              `json:"car"`
	Facilities []model.Facility `json:"facilities"`
}

// CarSpan は号車の位置と車内設備です。
type CarSpan struct {
	Number          int    `json:"number"`
	FirstCell       int    `json:"firstCell"`
	LastCell        int    `json:"lastCell"`
	WheelchairSpace bool   `json:"wheelchairSpace"`
	StrollerSpace   bool   `json:"strollerSpace"`
	PrioritySeat    bool   `json:"prioritySeat"`
	WomenOnly       bool   `json:"womenOnly"`
	Note            string `json:"note,omitempty"`
}

// Diagram はホーム1面・編成1つ分の乗車位置図です。
type Diagram struct {
	PlatformID int64            `json:"platformId"`
	TrainID    int64            `json:"trainId"`
	TrainName  string           `json:"trainName"`
	Car1Side   model.Car1Side   `json:"car1Side"`
	Cells      []Cell           `json:"cells"`
	Cars       []CarSpan        `json:"cars"`
	Unplaced   []model.Facility `json:"unplaced,omitempty"`
}

// Build は乗車位置図を組み立てます。cars に無い号車は設備なしとして扱います。
func Build(p *model.Platform, t *model.Train, cars []model.Car, facilities []model.Facility, sp *model.StopPosition) (*Diagram, error) {
	if p == nil || t == nil || sp == nil {
		return nil, errors.New("platform, train and stop position are required")
	}
	l := LayoutOf(p, t, sp)
	if err := Fit(l); err != nil {
		return nil, err
	}

	d := &Diagram{
		PlatformID: p.ID,
		TrainID:    t.ID,
		TrainName:  t.Name,
		Car1Side:   p.Car1Side,
		Cells:      make([]Cell, l.CellCount),
		Cars:       make([]CarSpan, 0, l.CarCount),
	}
	for i := range d.Cells {
		d.Cells[i] = Cell{Index: i, Car: CarAt(l, i), Facilities: []model.Facility{}}
	}

	for _, f := range facilities {
		if f.Cell < 0 || f.Cell >= l.CellCount {
			d.Unplaced = append(d.Unplaced, f)
			continue
		}
		d.Cells[f.Cell].Facilities = append(d.Cells[f.Cell].Facilities, f)
	}

	byNumber := make(map[int]model.Car, len(cars))
	for _, c := range cars {
		byNumber[c.Number] = c
	}
	for n := 1; n <= l.CarCount; n++ {
		first, last := Span(l, n)
		c := byNumber[n]
		d.Cars = append(d.Cars, CarSpan{
			Number:          n,
			FirstCell:       first,
			LastCell:        last,
			WheelchairSpace: c.WheelchairSpace,
			StrollerSpace:   c.StrollerSpace,
			PrioritySeat:    c.PrioritySeat,
			WomenOnly:       c.WomenOnly,
			Note:            c.Note,
		})
	}
	return d, nil
}

// Nearest は設備に最も近い号車です。
type Nearest struct {
	Facility model.Facility `json:"facility"`
	Car      int            `json:"car"`
	Distance int            `json:"distance"` // 0 は設備の正面に停車する号車
}

// NearestCars は kind の設備ごとに最寄りの号車を返します。
// 設備のセルを含む号車が無い場合はセル距離が最小の号車を選び、同距離なら番号の小さい号車を選びます。
func NearestCars(d *Diagram, kind model.FacilityKind) []Nearest {
	if d == nil || len(d.Cars) == 0 {
		return nil
	}
	var out []Nearest
	for _, cell := range d.Cells {
		for _, f := range cell.Facilities {
			if f.Kind != kind {
				continue
			}
			best, bestDist := 0, -1
			for _, c := range d.Cars {
				dist := 0
				switch {
				case cell.Index < c.FirstCell:
					dist = c.FirstCell - cell.Index
				case cell.Index > c.LastCell:
					dist = cell.Index - c.LastCell
				}
				if bestDist < 0 || dist < bestDist || (dist == bestDist && c.Number < best) {
					best, bestDist = c.Number, dist
				}
			}
			out = append(out, Nearest{Facility: f, Car: best, Distance: bestDist})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Facility.Cell < out[j].Facility.Cell
	})
	return out
}
