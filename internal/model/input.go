package model

// 管理画面から受け取る入力。binding タグは Gin（validator）で検証されます。

// OperatorInput は事業者の作成・更新内容です。
type OperatorInput struct {
	Code   string `json:"code" binding:"required,max=64"`
	Name   string `json:"name" binding:"required,max=200"`
	NameEn string `json:"nameEn" binding:"max=200"`
	URL    string `json:"url" binding:"omitempty,url"`
}

// LineInput は路線の作成・更新内容です。
type LineInput struct {
	OperatorID int64  `json:"operatorId" binding:"required,gt=0"`
	Code       string `json:"code" binding:"required,max=64"`
	Name       string `json:"name" binding:"required,max=200"`
	NameEn     string `json:"nameEn" binding:"max=200"`
	Color      string `json:"color" binding:"omitempty,hexcolor"`
}

// StationInput は駅の作成・更新内容です。
type StationInput struct {
	LineID              int64    `json:"lineId" binding:"required,gt=0"`
	Code                string   `json:"code" binding:"max=64"`
	Name                string   `json:"name" binding:"required,max=200"`
	NameKana            string   `json:"nameKana" binding:"max=200"`
	NameEn              string   `json:"nameEn" binding:"max=200"`
	Seq                 int      `json:"seq" binding:"gte=0"`
	Lat                 *float64 `json:"lat" binding:"omitempty,latitude"`
	Lon                 *float64 `json:"lon" binding:"omitempty,longitude"`
	HasElevator         bool     `json:"hasElevator"`
	HasAccessibleToilet bool     `json:"hasAccessibleToilet"`
	Note                string   `json:"note" binding:"max=2000"`
}

// PlatformInput はホームの作成・更新内容です。
type PlatformInput struct {
	StationID int64    `json:"stationId" binding:"required,gt=0"`
	Number    string   `json:"number" binding:"required,max=16"`
	Direction string   `json:"direction" binding:"max=200"`
	CellCount int      `json:"cellCount" binding:"required,min=1,max=200"`
	Car1Side  Car1Side `json:"car1Side" binding:"required,oneof=left right"`
	Note      string   `json:"note" binding:"max=2000"`
}

// FacilityInput はホーム設備の作成・更新内容です。
type FacilityInput struct {
	PlatformID int64        `json:"platformId" binding:"required,gt=0"`
	Cell       int          `json:"cell" binding:"gte=0"`
	Kind       FacilityKind `json:"kind" binding:"required,oneof=elevator escalator stairs slope accessible_toilet exit"`
	Label      string       `json:"label" binding:"max=200"`
	Note       string       `json:"note" binding:"max=2000"`
}

// TrainInput は編成の作成・更新内容です。
type TrainInput struct {
	LineID      int64  `json:"lineId" binding:"required,gt=0"`
	Name        string `json:"name" binding:"required,max=200"`
	CarCount    int    `json:"carCount" binding:"required,min=1,max=20"`
	CellsPerCar int    `json:"cellsPerCar" binding:"required,min=1,max=10"`
	Note        string `json:"note" binding:"max=2000"`
}

// CarInput は号車ごとの設備の更新内容です。号車は編成作成時に自動生成されます。
type CarInput struct {
	WheelchairSpace bool   `json:"wheelchairSpace"`
	StrollerSpace   bool   `json:"strollerSpace"`
	PrioritySeat    bool   `json:"prioritySeat"`
	WomenOnly       bool   `json:"womenOnly"`
	Note            string `json:"note" binding:"max=2000"`
}

// StopPositionInput は停止位置の作成・更新内容です。
type StopPositionInput struct {
	PlatformID int64 `json:"platformId" binding:"required,gt=0"`
	TrainID    int64 `json:"trainId" binding:"required,gt=0"`
	OffsetCell int   `json:"offsetCell" binding:"gte=0"`
}
