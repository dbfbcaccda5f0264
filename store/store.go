// Package store persists zones, players, attacks, cooldowns and leaderboards.
package store

import (
	"context"
	"errors"
	"time"

	"zone-contest-system/geo"
	"zone-contest-system/models"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// ProgressUpdate carries the derived progression fields of a player.
// Level is applied as max(current, Level) so it never decreases.
type ProgressUpdate struct {
	Level      int
	ZonesOwned int
}

// GlobalStats summarizes the game world
type GlobalStats struct {
	TotalPlayers     int64
	ClaimedZones     int64
	TotalAttacks     int64
	MostAttackedZone string
	TopPlayer        string
}

// Store is the persistence contract the game services depend on
type Store interface {
	// Transaction runs fn against a store bound to a single transaction
	Transaction(ctx context.Context, fn func(tx Store) error) error

	// Zones
	GetZone(ctx context.Context, id string) (*models.Zone, error)
	// LockKey takes an exclusive lock on key that is released when the
	// transaction ends
	LockKey(ctx context.Context, key string) error
	// LockZone reads a zone and holds a row lock on it until the transaction ends
	LockZone(ctx context.Context, id string) (*models.Zone, error)
	// GetOrCreateZone returns the existing zone with zone.ID or inserts zone
	GetOrCreateZone(ctx context.Context, zone *models.Zone) (*models.Zone, bool, error)
	SaveZone(ctx context.Context, zone *models.Zone) error
	FindZonesNear(ctx context.Context, center geo.Point, radiusMeters float64) ([]models.Zone, error)
	ListActiveZonesByOwner(ctx context.Context, userID string, now time.Time) ([]models.Zone, error)
	CountActiveZonesByOwner(ctx context.Context, userID string, now time.Time) (int64, error)
	ListExpiredZoneIDs(ctx context.Context, now time.Time, limit int) ([]string, error)

	// Check-ins
	CreateCheckIn(ctx context.Context, checkIn *models.ZoneCheckIn) error
	ListCheckIns(ctx context.Context, userID string, limit int) ([]models.ZoneCheckIn, error)

	// Cooldowns
	GetCooldown(ctx context.Context, userID, zoneID string) (*models.AttackCooldown, error)
	UpsertCooldown(ctx context.Context, cooldown *models.AttackCooldown) error
	ListActiveCooldowns(ctx context.Context, userID string, now time.Time) ([]models.AttackCooldown, error)

	// Attacks
	CreateAttack(ctx context.Context, attack *models.Attack) error
	ListAttacksByAttacker(ctx context.Context, userID string, limit int) ([]models.Attack, error)
	ListAttacksByDefender(ctx context.Context, userID string, limit int) ([]models.Attack, error)
	GetAttackStats(ctx context.Context, userID string) (models.AttackStats, error)

	// Players
	GetPlayer(ctx context.Context, id string) (*models.Player, error)
	// EnsurePlayer inserts a fresh player when id is unknown and returns the stored row
	EnsurePlayer(ctx context.Context, id, username string) (*models.Player, error)
	// UpsertPlayerIdentity creates or refreshes identity fields without touching progression
	UpsertPlayerIdentity(ctx context.Context, player *models.Player) error
	AddExperience(ctx context.Context, id string, delta int64) (*models.Player, error)
	UpdateProgress(ctx context.Context, id string, update ProgressUpdate) (*models.Player, error)
	ListRankingRows(ctx context.Context) ([]models.RankingRow, error)
	CountActivePlayers(ctx context.Context) (int64, error)
	// LatestIdentityUpdate is the newest mirrored identity change, zero when none
	LatestIdentityUpdate(ctx context.Context) (time.Time, error)

	// Leaderboards
	ReplaceLeaderboard(ctx context.Context, category models.LeaderboardCategory, entries []models.LeaderboardEntry) error
	GetLeaderboardEntry(ctx context.Context, userID string, category models.LeaderboardCategory) (*models.LeaderboardEntry, error)
	ListLeaderboard(ctx context.Context, category models.LeaderboardCategory, limit int) ([]models.LeaderboardEntry, error)
	CreateSnapshot(ctx context.Context, snapshot *models.LeaderboardSnapshot) error
	ListSnapshots(ctx context.Context, category models.LeaderboardCategory, limit int) ([]models.LeaderboardSnapshot, error)

	GetGlobalStats(ctx context.Context, now time.Time) (GlobalStats, error)
}
