package models

import "time"

// AttackResult is the outcome category of an attack
type AttackResult string

const (
	AttackSuccess    AttackResult = "success"
	AttackFailed     AttackResult = "failed"
	AttackOnCooldown AttackResult = "cooldown"
	AttackInvalid    AttackResult = "invalid"
)

// Attack is an append-only log entry of a validated attack
type Attack struct {
	ID                string       `gorm:"primaryKey;type:uuid" json:"id"`
	AttackerID        string       `gorm:"index:idx_attacks_attacker_time;not null" json:"attacker_id"`
	DefenderID        *string      `gorm:"index:idx_attacks_defender_time" json:"defender_id,omitempty"`
	ZoneID            string       `gorm:"index:idx_attacks_zone_time;not null" json:"zone_id"`
	AttackerPower     int64        `json:"attacker_power"`
	DefenderPower     int64        `gorm:"default:0" json:"defender_power"`
	Result            AttackResult `gorm:"type:varchar(10);check:result IN ('success','failed','cooldown','invalid')" json:"result"`
	Success           bool         `gorm:"index" json:"success"`
	AttackerLatitude  float64      `json:"attacker_latitude"`
	AttackerLongitude float64      `json:"attacker_longitude"`
	XPGained          int64        `gorm:"default:0" json:"xp_gained"`
	CreatedAt         time.Time    `gorm:"index:idx_attacks_attacker_time;index:idx_attacks_defender_time;index:idx_attacks_zone_time" json:"timestamp"`
}

// AttackCooldown tracks the earliest time a player may attack a zone again.
// One row per (user, zone).
type AttackCooldown struct {
	ID            string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID        string    `gorm:"uniqueIndex:idx_cooldowns_user_zone;index:idx_cooldowns_user_until;not null" json:"user_id"`
	ZoneID        string    `gorm:"uniqueIndex:idx_cooldowns_user_zone;not null" json:"zone_id"`
	LastAttack    time.Time `json:"last_attack"`
	CooldownUntil time.Time `gorm:"index:idx_cooldowns_user_until" json:"cooldown_until"`
}

// IsOnCooldown reports whether the cooldown is still running at now
func (c *AttackCooldown) IsOnCooldown(now time.Time) bool {
	return now.Before(c.CooldownUntil)
}

// Remaining returns the cooldown time left at now (zero when expired)
func (c *AttackCooldown) Remaining(now time.Time) time.Duration {
	if !c.IsOnCooldown(now) {
		return 0
	}
	return c.CooldownUntil.Sub(now)
}

// AttackStats summarizes a player's attack and defense record
type AttackStats struct {
	TotalAttacks       int64 `json:"total_attacks"`
	SuccessfulAttacks  int64 `json:"successful_attacks"`
	TotalDefenses      int64 `json:"total_defenses"`
	SuccessfulDefenses int64 `json:"successful_defenses"`
}
