package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// LeaderboardCategory names a ranking metric
type LeaderboardCategory string

const (
	CategoryXP      LeaderboardCategory = "xp"
	CategoryZones   LeaderboardCategory = "zones"
	CategoryLevel   LeaderboardCategory = "level"
	CategoryAttacks LeaderboardCategory = "attacks"
)

// AllCategories lists every ranking category in display order
var AllCategories = []LeaderboardCategory{CategoryXP, CategoryZones, CategoryLevel, CategoryAttacks}

// ParseCategory validates a category name
func ParseCategory(s string) (LeaderboardCategory, error) {
	for _, c := range AllCategories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("invalid category %q", s)
}

// LeaderboardEntry is a cached rank row. A category's rows are replaced wholesale on rebuild.
type LeaderboardEntry struct {
	ID          string              `gorm:"primaryKey;type:uuid" json:"-"`
	UserID      string              `gorm:"uniqueIndex:idx_leaderboard_user_category;not null" json:"user_id"`
	Category    LeaderboardCategory `gorm:"type:varchar(10);uniqueIndex:idx_leaderboard_user_category;index:idx_leaderboard_category_rank;not null" json:"category"`
	Username    string              `json:"username"`
	Level       int                 `json:"level"`
	Score       int64               `json:"score"`
	Rank        int                 `gorm:"index:idx_leaderboard_category_rank" json:"rank"`
	LastUpdated time.Time           `json:"last_updated"`
}

// LeaderboardSnapshot is an archived copy of a category's top entries
type LeaderboardSnapshot struct {
	ID           string              `gorm:"primaryKey;type:uuid" json:"id"`
	Category     LeaderboardCategory `gorm:"type:varchar(10);index:idx_snapshots_category_date;not null" json:"category"`
	SnapshotDate time.Time           `gorm:"index:idx_snapshots_category_date" json:"snapshot_date"`
	Data         datatypes.JSON      `json:"data"`
}

// SnapshotRow is one element of LeaderboardSnapshot.Data
type SnapshotRow struct {
	Rank     int    `json:"rank"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Score    int64  `json:"score"`
	Level    int    `json:"level"`
}

// RankingRow is the live per-player data rankings are computed from
type RankingRow struct {
	UserID            string
	Username          string
	Experience        int64
	Level             int
	ZonesOwned        int
	SuccessfulAttacks int64
}
