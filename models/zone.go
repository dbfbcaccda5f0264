package models

import (
	"time"

	"zone-contest-system/geo"
)

// Zone is a fixed geographic cell that can be owned by one player at a time.
// Ownership is only active while now < ExpiresAt; a stale OwnerID is cleared lazily.
type Zone struct {
	ID        string     `gorm:"primaryKey;type:varchar(50)" json:"id"` // grid based, e.g. "zone_37774_-122420"
	Latitude  float64    `gorm:"not null;index:idx_zones_lat_lng" json:"latitude"`
	Longitude float64    `gorm:"not null;index:idx_zones_lat_lng" json:"longitude"`
	OwnerID   *string    `gorm:"index;type:varchar(64)" json:"owner_id,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	ExpiresAt *time.Time `gorm:"index" json:"expires_at,omitempty"`
	XPValue   int64      `gorm:"default:10" json:"xp_value"`
	CreatedAt time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// Location returns the zone's fixed point
func (z *Zone) Location() geo.Point {
	return geo.Point{Lat: z.Latitude, Lng: z.Longitude}
}

// IsActivelyClaimed reports whether the zone has an owner whose claim has not expired at now
func (z *Zone) IsActivelyClaimed(now time.Time) bool {
	if z.OwnerID == nil || z.ExpiresAt == nil {
		return false
	}
	return now.Before(*z.ExpiresAt)
}

// IsOwnedBy reports whether userID is the recorded owner, expired or not
func (z *Zone) IsOwnedBy(userID string) bool {
	return z.OwnerID != nil && *z.OwnerID == userID
}

// IsExpired reports whether the zone still carries an owner whose claim has lapsed
func (z *Zone) IsExpired(now time.Time) bool {
	return z.OwnerID != nil && (z.ExpiresAt == nil || !now.Before(*z.ExpiresAt))
}

// Claim assigns the zone to userID for lifetime starting at now
func (z *Zone) Claim(userID string, now time.Time, lifetime time.Duration) {
	owner := userID
	claimedAt := now
	expiresAt := now.Add(lifetime)
	z.OwnerID = &owner
	z.ClaimedAt = &claimedAt
	z.ExpiresAt = &expiresAt
}

// Unclaim clears ownership
func (z *Zone) Unclaim() {
	z.OwnerID = nil
	z.ClaimedAt = nil
	z.ExpiresAt = nil
}

// ZoneCheckIn is an immutable record of a player visiting a zone
type ZoneCheckIn struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID    string    `gorm:"index:idx_checkins_user_time;not null" json:"user_id"`
	ZoneID    string    `gorm:"index:idx_checkins_zone_time;not null" json:"zone_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Success   bool      `gorm:"default:true" json:"success"`
	CreatedAt time.Time `gorm:"index:idx_checkins_user_time;index:idx_checkins_zone_time" json:"timestamp"`
}
