// Package model は事業者・路線・駅・ホーム・車両とバリアフリー情報のエンティティを定義します。
package model

import "time"

// SourceAdmin は管理画面で作成された行のソース名です。同期処理はこの行を変更しません。
const SourceAdmin = "admin"

// Operator は鉄道事業者です。
type Operator struct {
	ID         int64     `db:"id" json:"id"`
	Code       string    `db:"code" json:"code"`
	Name       string    `db:"name" json:"name"`
	NameEn     string    `db:"name_en" json:"nameEn"`
	URL        string    `db:"url" json:"url"`
	Source     string    `db:"source" json:"source"`
	ExternalID *string   `db:"external_id" json:"externalId,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}

// Line は路線です。
type Line struct {
	ID         int64     `db:"id" json:"id"`
	OperatorID int64     `db:"operator_id" json:"operatorId"`
	Code       string    `db:"code" json:"code"`
	Name       string    `db:"name" json:"name"`
	NameEn     string    `db:"name_en" json:"nameEn"`
	Color      string    `db:"color" json:"color"`
	Source     string    `db:"source" json:"source"`
	ExternalID *string   `db:"external_id" json:"externalId,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}

// Station は路線上の駅です。乗換駅は路線ごとに別の行になります。
type Station struct {
	ID                  int64     `db:"id" json:"id"`
	LineID              int64     `db:"line_id" json:"lineId"`
	Code                string    `db:"code" json:"code"`
	Name                string    `db:"name" json:"name"`
	NameKana            string    `db:"name_kana" json:"nameKana"`
	NameEn              string    `db:"name_en" json:"nameEn"`
	Seq                 int       `db:"seq" json:"seq"`
	Lat                 *float64  `db:"lat" json:"lat,omitempty"`
	Lon                 *float64  `db:"lon" json:"lon,omitempty"`
	HasElevator         bool      `db:"has_elevator" json:"hasElevator"`
	HasAccessibleToilet bool      `db:"has_accessible_toilet" json:"hasAccessibleToilet"`
	Note                string    `db:"note" json:"note"`
	Source              string    `db:"source" json:"source"`
	ExternalID          *string   `db:"external_id" json:"externalId,omitempty"`
	CreatedAt           time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time `db:"updated_at" json:"updatedAt"`
}

// Car1Side はホーム図で1号車が来る側です。
type Car1Side string

const (
	Car1Left  Car1Side = "left"
	Car1Right Car1Side = "right"
)

// Platform は駅のホーム（番線）です。ホームは CellCount 個のセルに区切って扱います。
type Platform struct {
	ID        int64     `db:"id" json:"id"`
	StationID int64     `db:"station_id" json:"stationId"`
	Number    string    `db:"number" json:"number"`
	Direction string    `db:"direction" json:"direction"`
	CellCount int       `db:"cell_count" json:"cellCount"`
	Car1Side  Car1Side  `db:"car1_side" json:"car1Side"`
	Note      string    `db:"note" json:"note"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// FacilityKind はホーム上の設備の種類です。
type FacilityKind string

const (
	FacilityElevator         FacilityKind = "elevator"
	FacilityEscalator        FacilityKind = "escalator"
	FacilityStairs           FacilityKind = "stairs"
	FacilitySlope            FacilityKind = "slope"
	FacilityAccessibleToilet FacilityKind = "accessible_toilet"
	FacilityExit             FacilityKind = "exit"
)

// Valid は定義済みの設備種別かどうかを返します。
func (k FacilityKind) Valid() bool {
	switch k {
	case FacilityElevator, FacilityEscalator, FacilityStairs, FacilitySlope, FacilityAccessibleToilet, FacilityExit:
		return true
	}
	return false
}

// Label は画面表示用の設備名です。
func (k FacilityKind) Label() string {
	switch k {
	case FacilityElevator:
		return "エレベーター"
	case FacilityEscalator:
		return "エスカレーター"
	case FacilityStairs:
		return "階段"
	case FacilitySlope:
		return "スロープ"
	case FacilityAccessibleToilet:
		return "多機能トイレ"
	case FacilityExit:
		return "出口"
	}
	return string(k)
}

// Facility はホームのセル位置に紐づく設備です。
type Facility struct {
	ID         int64        `db:"id" json:"id"`
	PlatformID int64        `db:"platform_id" json:"platformId"`
	Cell       int          `db:"cell" json:"cell"`
	Kind       FacilityKind `db:"kind" json:"kind"`
	Label      string       `db:"label" json:"label"`
	Note       string       `db:"note" json:"note"`
	CreatedAt  time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time    `db:"updated_at" json:"updatedAt"`
}

// Train は路線を走る車両形式（編成）です。
type Train struct {
	ID          int64     `db:"id" json:"id"`
	LineID      int64     `db:"line_id" json:"lineId"`
	Name        string    `db:"name" json:"name"`
	CarCount    int       `db:"car_count" json:"carCount"`
	CellsPerCar int       `db:"cells_per_car" json:"cellsPerCar"`
	Note        string    `db:"note" json:"note"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// Car は編成中の1両とその設備です。Number は1始まりの号車番号です。
type Car struct {
	ID              int64     `db:"id" json:"id"`
	TrainID         int64     `db:"train_id" json:"trainId"`
	Number          int       `db:"number" json:"number"`
	WheelchairSpace bool      `db:"wheelchair_space" json:"wheelchairSpace"`
	StrollerSpace   bool      `db:"stroller_space" json:"strollerSpace"`
	PrioritySeat    bool      `db:"priority_seat" json:"prioritySeat"`
	WomenOnly       bool      `db:"women_only" json:"womenOnly"`
	Note            string    `db:"note" json:"note"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

// StopPosition はホームに対する編成の停止位置です。
// OffsetCell は1号車側のホーム端から1号車先頭までの空きセル数です。
type StopPosition struct {
	ID         int64     `db:"id" json:"id"`
	PlatformID int64     `db:"platform_id" json:"platformId"`
	TrainID    int64     `db:"train_id" json:"trainId"`
	OffsetCell int       `db:"offset_cell" json:"offsetCell"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}

// SyncStatus は同期実行の結果状態です。
type SyncStatus string

const (
	SyncSucceeded SyncStatus = "succeeded"
	SyncFailed    SyncStatus = "failed"
	SyncDryRun    SyncStatus = "dry_run"
)

// SyncRun は同期処理1回分の記録です。
type SyncRun struct {
	ID         int64      `db:"id" json:"id"`
	Source     string     `db:"source" json:"source"`
	Feed       string     `db:"feed" json:"feed"`
	Status     SyncStatus `db:"status" json:"status"`
	Inserted   int        `db:"inserted" json:"inserted"`
	Updated    int        `db:"updated" json:"updated"`
	Unchanged  int        `db:"unchanged" json:"unchanged"`
	Deleted    int        `db:"deleted" json:"deleted"`
	Skipped    int        `db:"skipped" json:"skipped"`
	Error      string     `db:"error" json:"error,omitempty"`
	StartedAt  time.Time  `db:"started_at" json:"startedAt"`
	FinishedAt *time.Time `db:"finished_at" json:"finishedAt,omitempty"`
}
