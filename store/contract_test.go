package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zone-contest-system/geo"
	"zone-contest-system/models"
)

var (
	baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	here     = geo.Point{Lat: 37.7749, Lng: -122.4194}
)

// runStoreContract exercises behaviour every Store implementation must share
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("zones", func(t *testing.T) { testZones(t, newStore(t)) })
	t.Run("nearby", func(t *testing.T) { testNearby(t, newStore(t)) })
	t.Run("ownership queries", func(t *testing.T) { testOwnershipQueries(t, newStore(t)) })
	t.Run("check-ins", func(t *testing.T) { testCheckIns(t, newStore(t)) })
	t.Run("cooldowns", func(t *testing.T) { testCooldowns(t, newStore(t)) })
	t.Run("attacks", func(t *testing.T) { testAttacks(t, newStore(t)) })
	t.Run("players", func(t *testing.T) { testPlayers(t, newStore(t)) })
	t.Run("ranking rows", func(t *testing.T) { testRankingRows(t, newStore(t)) })
	t.Run("leaderboard", func(t *testing.T) { testLeaderboard(t, newStore(t)) })
	t.Run("global stats", func(t *testing.T) { testGlobalStats(t, newStore(t)) })
}

func newZone(id string, p geo.Point) *models.Zone {
	return &models.Zone{ID: id, Latitude: p.Lat, Longitude: p.Lng, XPValue: 10}
}

func claimZone(t *testing.T, s Store, id, owner string, p geo.Point, at time.Time, lifetime time.Duration) {
	t.Helper()
	ctx := context.Background()
	z, _, err := s.GetOrCreateZone(ctx, newZone(id, p))
	require.NoError(t, err)
	z.Claim(owner, at, lifetime)
	require.NoError(t, s.SaveZone(ctx, z))
}

func testZones(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.GetZone(ctx, "zone_missing")
	assert.ErrorIs(t, err, ErrNotFound)

	z, created, err := s.GetOrCreateZone(ctx, newZone("zone_1", here))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, here.Lat, z.Latitude)

	// a second get-or-create keeps the first location
	z, created, err = s.GetOrCreateZone(ctx, newZone("zone_1", geo.Point{Lat: 1, Lng: 1}))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, here.Lat, z.Latitude)

	err = s.Transaction(ctx, func(tx Store) error {
		locked, err := tx.LockZone(ctx, "zone_1")
		if err != nil {
			return err
		}
		locked.Claim("alice", baseTime, time.Hour)
		return tx.SaveZone(ctx, locked)
	})
	require.NoError(t, err)

	z, err = s.GetZone(ctx, "zone_1")
	require.NoError(t, err)
	require.NotNil(t, z.OwnerID)
	assert.Equal(t, "alice", *z.OwnerID)
	assert.True(t, z.ExpiresAt.Equal(baseTime.Add(time.Hour)))

	z.Unclaim()
	require.NoError(t, s.SaveZone(ctx, z))
	z, err = s.GetZone(ctx, "zone_1")
	require.NoError(t, err)
	assert.Nil(t, z.OwnerID)
	assert.Nil(t, z.ExpiresAt)

	err = s.Transaction(ctx, func(tx Store) error {
		_, err := tx.LockZone(ctx, "zone_missing")
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func testNearby(t *testing.T, s Store) {
	ctx := context.Background()

	for id, p := range map[string]geo.Point{
		"near":    {Lat: here.Lat + 0.0009, Lng: here.Lng}, // ~100m
		"closest": here,
		"far":     {Lat: here.Lat + 0.05, Lng: here.Lng},
	} {
		_, _, err := s.GetOrCreateZone(ctx, newZone(id, p))
		require.NoError(t, err)
	}

	zones, err := s.FindZonesNear(ctx, here, 1000)
	require.NoError(t, err)
	require.Len(t, zones, 2)
	assert.Equal(t, "closest", zones[0].ID)
	assert.Equal(t, "near", zones[1].ID)

	zones, err = s.FindZonesNear(ctx, here, 50)
	require.NoError(t, err)
	require.Len(t, zones, 1)
}

func testOwnershipQueries(t *testing.T, s Store) {
	ctx := context.Background()

	claimZone(t, s, "z1", "alice", here, baseTime, time.Hour)
	claimZone(t, s, "z2", "alice", here, baseTime, 3*time.Hour)
	claimZone(t, s, "z3", "bob", here, baseTime, time.Hour)

	now := baseTime.Add(2 * time.Hour)
	n, err := s.CountActiveZonesByOwner(ctx, "alice", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	active, err := s.ListActiveZonesByOwner(ctx, "alice", now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "z2", active[0].ID)

	ids, err := s.ListExpiredZoneIDs(ctx, now, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"z1", "z3"}, ids)

	ids, err = s.ListExpiredZoneIDs(ctx, now, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"z1"}, ids)
}

func testCheckIns(t *testing.T, s Store) {
	ctx := context.Background()
	_, _, err := s.GetOrCreateZone(ctx, newZone("z1", here))
	require.NoError(t, err)

	for i := range 3 {
		require.NoError(t, s.CreateCheckIn(ctx, &models.ZoneCheckIn{
			ID:        uuid.NewString(),
			UserID:    "alice",
			ZoneID:    "z1",
			Latitude:  here.Lat,
			Longitude: here.Lng,
			Success:   true,
			CreatedAt: baseTime.Add(time.Duration(i) * time.Minute),
		}))
	}

	checkIns, err := s.ListCheckIns(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, checkIns, 2)
	assert.True(t, checkIns[0].CreatedAt.After(checkIns[1].CreatedAt), "newest first")
}

func testCooldowns(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.GetCooldown(ctx, "alice", "z1")
	assert.ErrorIs(t, err, ErrNotFound)

	for i := range 2 {
		at := baseTime.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.UpsertCooldown(ctx, &models.AttackCooldown{
			ID:            uuid.NewString(),
			UserID:        "alice",
			ZoneID:        "z1",
			LastAttack:    at,
			CooldownUntil: at.Add(30 * time.Minute),
		}))
	}

	cd, err := s.GetCooldown(ctx, "alice", "z1")
	require.NoError(t, err)
	assert.True(t, cd.LastAttack.Equal(baseTime.Add(time.Hour)), "upsert updates the existing pair")

	active, err := s.ListActiveCooldowns(ctx, "alice", baseTime.Add(time.Hour+10*time.Minute))
	require.NoError(t, err)
	assert.Len(t, active, 1)

	active, err = s.ListActiveCooldowns(ctx, "alice", baseTime.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, active)
}

func recordAttack(t *testing.T, s Store, attacker, defender, zone string, success bool, at time.Time) {
	t.Helper()
	result := models.AttackFailed
	if success {
		result = models.AttackSuccess
	}
	def := defender
	require.NoError(t, s.CreateAttack(context.Background(), &models.Attack{
		ID:         uuid.NewString(),
		AttackerID: attacker,
		DefenderID: &def,
		ZoneID:     zone,
		Result:     result,
		Success:    success,
		CreatedAt:  at,
	}))
}

func testAttacks(t *testing.T, s Store) {
	ctx := context.Background()

	recordAttack(t, s, "bob", "alice", "z1", true, baseTime)
	recordAttack(t, s, "bob", "alice", "z1", false, baseTime.Add(time.Minute))
	recordAttack(t, s, "alice", "bob", "z2", false, baseTime.Add(2*time.Minute))

	made, err := s.ListAttacksByAttacker(ctx, "bob", 10)
	require.NoError(t, err)
	require.Len(t, made, 2)
	assert.False(t, made[0].Success, "newest first")

	received, err := s.ListAttacksByDefender(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Len(t, received, 1)

	stats, err := s.GetAttackStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.AttackStats{
		TotalAttacks:       1,
		SuccessfulAttacks:  0,
		TotalDefenses:      2,
		SuccessfulDefenses: 1,
	}, stats)
}

func testPlayers(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.GetPlayer(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.AddExperience(ctx, "alice", 10)
	assert.ErrorIs(t, err, ErrNotFound)

	p, err := s.EnsurePlayer(ctx, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, 1, p.Level)
	assert.True(t, p.IsActive)

	p, err = s.AddExperience(ctx, "alice", 250)
	require.NoError(t, err)
	assert.Equal(t, int64(250), p.Experience)

	p, err = s.UpdateProgress(ctx, "alice", ProgressUpdate{Level: 3, ZonesOwned: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, p.Level)
	assert.Equal(t, 2, p.ZonesOwned)

	p, err = s.UpdateProgress(ctx, "alice", ProgressUpdate{Level: 1, ZonesOwned: 0})
	require.NoError(t, err)
	assert.Equal(t, 3, p.Level, "level is never lowered")
	assert.Equal(t, 0, p.ZonesOwned)

	latest, err := s.LatestIdentityUpdate(ctx)
	require.NoError(t, err)
	assert.True(t, latest.IsZero())

	token := "device-1"
	remoteAt := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertPlayerIdentity(ctx, &models.Player{
		ID: "alice", Username: "alice_renamed", PushToken: &token, IsActive: true, IdentityUpdatedAt: &remoteAt,
	}))
	p, err = s.EnsurePlayer(ctx, "alice", "ignored")
	require.NoError(t, err)
	assert.Equal(t, "alice_renamed", p.Username)
	assert.True(t, p.HasPushToken())
	assert.Equal(t, int64(250), p.Experience, "identity sync leaves progression alone")
	assert.Equal(t, 3, p.Level)

	require.NoError(t, s.UpsertPlayerIdentity(ctx, &models.Player{ID: "bob", Username: "bob", IsActive: false}))
	n, err := s.CountActivePlayers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	latest, err = s.LatestIdentityUpdate(ctx)
	require.NoError(t, err)
	assert.True(t, remoteAt.Equal(latest))
}

func testRankingRows(t *testing.T, s Store) {
	ctx := context.Background()

	for _, id := range []string{"carol", "alice", "bob"} {
		_, err := s.EnsurePlayer(ctx, id, id)
		require.NoError(t, err)
	}
	_, err := s.AddExperience(ctx, "bob", 40)
	require.NoError(t, err)
	require.NoError(t, s.UpsertPlayerIdentity(ctx, &models.Player{ID: "carol", Username: "carol", IsActive: false}))

	recordAttack(t, s, "bob", "alice", "z1", true, baseTime)
	recordAttack(t, s, "bob", "alice", "z1", true, baseTime.Add(time.Minute))
	recordAttack(t, s, "bob", "alice", "z1", false, baseTime.Add(2*time.Minute))

	rows, err := s.ListRankingRows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2, "inactive players are excluded")
	assert.Equal(t, "alice", rows[0].UserID)
	assert.Equal(t, "bob", rows[1].UserID)
	assert.Equal(t, int64(40), rows[1].Experience)
	assert.Equal(t, int64(2), rows[1].SuccessfulAttacks)
	assert.Zero(t, rows[0].SuccessfulAttacks)
}

func entry(userID string, c models.LeaderboardCategory, rank int, score int64) models.LeaderboardEntry {
	return models.LeaderboardEntry{
		ID: uuid.NewString(), UserID: userID, Category: c, Username: userID,
		Rank: rank, Score: score, Level: 1, LastUpdated: baseTime,
	}
}

func testLeaderboard(t *testing.T, s Store) {
	ctx := context.Background()

	require.NoError(t, s.ReplaceLeaderboard(ctx, models.CategoryXP, []models.LeaderboardEntry{
		entry("b", models.CategoryXP, 1, 300),
		entry("a", models.CategoryXP, 1, 300),
		entry("c", models.CategoryXP, 3, 100),
	}))
	require.NoError(t, s.ReplaceLeaderboard(ctx, models.CategoryZones, []models.LeaderboardEntry{
		entry("a", models.CategoryZones, 1, 2),
	}))

	entries, err := s.ListLeaderboard(ctx, models.CategoryXP, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{entries[0].UserID, entries[1].UserID, entries[2].UserID})

	require.NoError(t, s.ReplaceLeaderboard(ctx, models.CategoryXP, []models.LeaderboardEntry{
		entry("c", models.CategoryXP, 1, 500),
	}))
	entries, err = s.ListLeaderboard(ctx, models.CategoryXP, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1, "a rebuild replaces the whole category")

	_, err = s.GetLeaderboardEntry(ctx, "a", models.CategoryXP)
	assert.ErrorIs(t, err, ErrNotFound)
	e, err := s.GetLeaderboardEntry(ctx, "a", models.CategoryZones)
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.Score, "other categories are untouched")

	require.NoError(t, s.ReplaceLeaderboard(ctx, models.CategoryXP, nil))
	entries, err = s.ListLeaderboard(ctx, models.CategoryXP, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	for i := range 3 {
		require.NoError(t, s.CreateSnapshot(ctx, &models.LeaderboardSnapshot{
			ID:           uuid.NewString(),
			Category:     models.CategoryXP,
			SnapshotDate: baseTime.Add(time.Duration(i) * time.Hour),
			Data:         []byte(`[]`),
		}))
	}
	snapshots, err := s.ListSnapshots(ctx, models.CategoryXP, 2)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.True(t, snapshots[0].SnapshotDate.After(snapshots[1].SnapshotDate))
}

func testGlobalStats(t *testing.T, s Store) {
	ctx := context.Background()

	stats, err := s.GetGlobalStats(ctx, baseTime)
	require.NoError(t, err)
	assert.Equal(t, GlobalStats{}, stats)

	_, err = s.EnsurePlayer(ctx, "alice", "Alice")
	require.NoError(t, err)
	_, err = s.EnsurePlayer(ctx, "bob", "Bob")
	require.NoError(t, err)
	_, err = s.AddExperience(ctx, "bob", 20)
	require.NoError(t, err)

	claimZone(t, s, "z1", "alice", here, baseTime, time.Hour)
	claimZone(t, s, "z2", "alice", here, baseTime, -time.Minute)
	recordAttack(t, s, "bob", "alice", "z2", false, baseTime)
	recordAttack(t, s, "bob", "alice", "z2", false, baseTime)
	recordAttack(t, s, "bob", "alice", "z1", false, baseTime)

	stats, err = s.GetGlobalStats(ctx, baseTime)
	require.NoError(t, err)
	assert.Equal(t, GlobalStats{
		TotalPlayers:     2,
		ClaimedZones:     1,
		TotalAttacks:     3,
		MostAttackedZone: "z2",
		TopPlayer:        "Bob",
	}, stats)
}

var errRollback = errors.New("rollback")
