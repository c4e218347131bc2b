package domain

import (
	"time"
)

// ClassificationStatus marks whether a record was classified by an operator.
type ClassificationStatus string

const (
	StatusUnclassified ClassificationStatus = "unclassified"
	StatusClassified   ClassificationStatus = "classified"
)

func (s ClassificationStatus) IsClassified() bool {
	return s == StatusClassified
}

// AggregateSource records which store a day aggregate came from.
type AggregateSource string

const (
	SourceLocal  AggregateSource = "local"
	SourceServer AggregateSource = "server"
	SourceMerged AggregateSource = "merged"
)

// TrendRecord is one video's state snapshot for one calendar day. Identity is
// the composite (video_id, day_key) and is immutable once issued.
type TrendRecord struct {
	VideoID     string               `gorm:"primaryKey;column:video_id" json:"video_id"`
	DayKey      string               `gorm:"primaryKey;column:day_key;index:idx_trend_records_day_key" json:"day_key"`
	ViewCount   int64                `gorm:"not null;default:0" json:"view_count"`
	LikeCount   int64                `gorm:"not null;default:0" json:"like_count"`
	Category    string               `json:"category,omitempty"`
	SubCategory string               `json:"sub_category,omitempty"`
	Status      ClassificationStatus `gorm:"not null;default:unclassified" json:"status"`

	// PendingLocalOps counts local mutations not yet confirmed by the server.
	PendingLocalOps int `gorm:"not null;default:0" json:"pending_local_ops"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (TrendRecord) TableName() string {
	return "trend_records"
}

// Identity returns the composite key in "videoID|dayKey" form.
func (r TrendRecord) Identity() string {
	return r.VideoID + "|" + r.DayKey
}

// DayAggregate is the rollup for one day across all records.
type DayAggregate struct {
	DayKey          string          `gorm:"primaryKey;column:day_key" json:"day_key"`
	Total           int             `gorm:"not null;default:0" json:"total"`
	Done            int             `gorm:"not null;default:0" json:"done"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Source          AggregateSource `gorm:"not null;default:local" json:"source"`
	PendingLocalOps int             `gorm:"not null;default:0" json:"pending_local_ops,omitempty"`
	ItemsHash       string          `json:"items_hash,omitempty"`
}

func (DayAggregate) TableName() string {
	return "day_aggregates"
}
