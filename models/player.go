package models

import (
	"time"

	"gorm.io/gorm"
)

// Player is the local mirror of an identity-service user plus the progression
// counters this service owns (denormalized for ranking queries)
type Player struct {
	ID        string  `gorm:"primaryKey;type:varchar(64)" json:"id"` // identity service user id
	Username  string  `gorm:"index;not null" json:"username"`
	PushToken *string `json:"-"`
	IsActive  bool    `gorm:"index;not null" json:"is_active"`
	// remote updated_at of the last mirrored identity change
	IdentityUpdatedAt *time.Time `gorm:"index" json:"-"`

	// Progression (recomputed, never patched ad hoc)
	Experience int64 `gorm:"index;default:0" json:"xp"`
	Level      int   `gorm:"index;default:1" json:"level"`
	ZonesOwned int   `gorm:"index;default:0" json:"zones_owned"`

	Timestamps
}

// HasPushToken reports whether notifications can be delivered to the player's device
func (p *Player) HasPushToken() bool {
	return p.PushToken != nil && *p.PushToken != ""
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}
