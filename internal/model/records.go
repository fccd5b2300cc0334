package model

// 外部データ（GTFS / ODPT）から取り込むレコード。ExternalID で既存行と突き合わせます。

// OperatorRecord は外部データ上の事業者です。
type OperatorRecord struct {
	ExternalID string `json:"externalId" validate:"required"`
	Code       string `json:"code" validate:"required"`
	Name       string `json:"name" validate:"required"`
	NameEn     string `json:"nameEn"`
	URL        string `json:"url"`
}

// LineRecord は外部データ上の路線です。
type LineRecord struct {
	ExternalID         string `json:"externalId" validate:"required"`
	OperatorExternalID string `json:"operatorExternalId" validate:"required"`
	Code               string `json:"code" validate:"required"`
	Name               string `json:"name" validate:"required"`
	NameEn             string `json:"nameEn"`
	Color              string `json:"color"`
}

// StationRecord は外部データ上の駅（路線ごと）です。
type StationRecord struct {
	ExternalID     string   `json:"externalId" validate:"required"`
	LineExternalID string   `json:"lineExternalId" validate:"required"`
	Code           string   `json:"code"`
	Name           string   `json:"name" validate:"required"`
	NameKana       string   `json:"nameKana"`
	NameEn         string   `json:"nameEn"`
	Seq            int      `json:"seq"`
	Lat            *float64 `json:"lat,omitempty"`
	Lon            *float64 `json:"lon,omitempty"`
}

// Dataset は1つの外部ソースから取得したデータ一式です。
type Dataset struct {
	Source    string           `json:"source"` // "gtfs:<feed>" / "odpt:<feed>"
	Feed      string           `json:"feed"`
	Operators []OperatorRecord `json:"operators"`
	Lines     []LineRecord     `json:"lines"`
	Stations  []StationRecord  `json:"stations"`
}
