package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zone-contest-system/models"
	"zone-contest-system/store"
)

func rows(xp ...int64) []models.RankingRow {
	out := make([]models.RankingRow, 0, len(xp))
	for i, v := range xp {
		id := string(rune('a' + i))
		out = append(out, models.RankingRow{UserID: id, Username: id, Experience: v, Level: LevelForXP(v, 100)})
	}
	return out
}

func ranksByUser(entries []models.LeaderboardEntry) map[string]int {
	m := make(map[string]int, len(entries))
	for _, e := range entries {
		m[e.UserID] = e.Rank
	}
	return m
}

func TestRankRows_TiesShareRank(t *testing.T) {
	entries := RankRows(models.CategoryXP, rows(300, 100, 300, 50), 0)

	ranks := ranksByUser(entries)
	assert.Equal(t, []int{1, 3, 1, 4}, []int{ranks["a"], ranks["b"], ranks["c"], ranks["d"]})

	// tied players are listed by user id
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		order = append(order, e.UserID)
	}
	assert.Equal(t, []string{"a", "c", "b", "d"}, order)
	assert.Equal(t, int64(300), entries[0].Score)
}

func TestRankRows_LevelBreaksTiesOnXP(t *testing.T) {
	in := []models.RankingRow{
		{UserID: "a", Level: 3, Experience: 210},
		{UserID: "b", Level: 3, Experience: 290},
		{UserID: "c", Level: 4, Experience: 300},
		{UserID: "d", Level: 3, Experience: 290},
	}
	ranks := ranksByUser(RankRows(models.CategoryLevel, in, 0))

	assert.Equal(t, 1, ranks["c"])
	assert.Equal(t, 2, ranks["b"])
	assert.Equal(t, 2, ranks["d"])
	assert.Equal(t, 4, ranks["a"])
}

func TestRankRows_TopN(t *testing.T) {
	entries := RankRows(models.CategoryXP, rows(5, 4, 3, 2, 1), 3)
	require.Len(t, entries, 3)
	assert.Equal(t, 3, entries[2].Rank)
}

func TestPercentile(t *testing.T) {
	assert.Equal(t, 75.0, Percentile(1, 4))
	assert.Equal(t, 0.0, Percentile(4, 4))
	assert.Equal(t, 66.7, Percentile(1, 3))
	assert.Equal(t, 0.0, Percentile(1, 0))
}

func (f *fixture) seedXP(t *testing.T, xp map[string]int64) {
	t.Helper()
	for id, v := range xp {
		f.player(t, id, 1)
		_, err := f.zones.Progression.Apply(f.ctx, f.store, id, v)
		require.NoError(t, err)
	}
}

func TestLeaderboard_RealtimeMatchesRebuild(t *testing.T) {
	f := newFixture(t, nil)
	f.seedXP(t, map[string]int64{"a": 300, "b": 100, "c": 300, "d": 50, "e": 0})

	// before any rebuild every rank is computed live
	live := make(map[string]*RankInfo)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		r, err := f.leaderboard.GetRank(f.ctx, id, models.CategoryXP)
		require.NoError(t, err)
		live[id] = r
	}

	_, err := f.leaderboard.Rebuild(f.ctx, models.CategoryXP)
	require.NoError(t, err)

	for id, want := range live {
		entry, err := f.store.GetLeaderboardEntry(f.ctx, id, models.CategoryXP)
		require.NoError(t, err)
		assert.Equal(t, want.Rank, entry.Rank, "user %s", id)

		cached, err := f.leaderboard.GetRank(f.ctx, id, models.CategoryXP)
		require.NoError(t, err)
		assert.Equal(t, *want, *cached)
	}

	assert.Equal(t, 1, live["a"].Rank)
	assert.Equal(t, 80.0, live["a"].Percentile)
	assert.Equal(t, int64(5), live["a"].TotalUsers)
}

func TestLeaderboard_GetBuildsCacheWhenEmpty(t *testing.T) {
	f := newFixture(t, nil)
	f.seedXP(t, map[string]int64{"a": 10, "b": 20})

	entries, err := f.leaderboard.GetLeaderboard(f.ctx, models.CategoryXP, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].UserID)

	cached, err := f.store.ListLeaderboard(f.ctx, models.CategoryXP, 10)
	require.NoError(t, err)
	assert.Len(t, cached, 2)
}

type failingLeaderboardStore struct {
	store.Store
}

func (failingLeaderboardStore) ListLeaderboard(ctx context.Context, c models.LeaderboardCategory, limit int) ([]models.LeaderboardEntry, error) {
	return nil, errors.New("cache offline")
}

func TestLeaderboard_FallsBackToRealtime(t *testing.T) {
	f := newFixture(t, nil)
	f.seedXP(t, map[string]int64{"a": 10, "b": 20, "c": 20})

	svc := NewLeaderboardService(failingLeaderboardStore{f.store}, f.clock, 1000, 100)
	entries, err := svc.GetLeaderboard(f.ctx, models.CategoryXP, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, 1, entries[1].Rank)
}

func TestLeaderboard_RebuildReplacesEntries(t *testing.T) {
	f := newFixture(t, nil)
	f.seedXP(t, map[string]int64{"a": 10, "b": 20})

	_, err := f.leaderboard.Rebuild(f.ctx, models.CategoryXP)
	require.NoError(t, err)

	_, err = f.zones.Progression.Apply(f.ctx, f.store, "a", 50)
	require.NoError(t, err)
	n, err := f.leaderboard.Rebuild(f.ctx, models.CategoryXP)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := f.store.ListLeaderboard(f.ctx, models.CategoryXP, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].UserID)
	assert.Equal(t, int64(60), entries[0].Score)
}

func TestLeaderboard_AttacksCategory(t *testing.T) {
	f := newFixture(t, attackerWins())
	f.player(t, "alice", 1)
	f.player(t, "bob", 10)
	zoneID := f.claimHome(t, "alice")

	_, err := f.attacks.Attack(f.ctx, "bob", zoneID, home)
	require.NoError(t, err)

	r, err := f.leaderboard.GetRank(f.ctx, "bob", models.CategoryAttacks)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Rank)
	assert.Equal(t, int64(1), r.Score)

	ranks, err := f.leaderboard.RankAll(f.ctx, "alice")
	require.NoError(t, err)
	require.Len(t, ranks, len(models.AllCategories))
	assert.Equal(t, models.CategoryAttacks, ranks[3].Category)
	assert.Equal(t, 2, ranks[3].Rank)
}

type recordingArchiver struct {
	archived []*models.LeaderboardSnapshot
}

func (r *recordingArchiver) ArchiveSnapshot(ctx context.Context, s *models.LeaderboardSnapshot) error {
	r.archived = append(r.archived, s)
	return nil
}

func TestLeaderboard_Snapshots(t *testing.T) {
	f := newFixture(t, nil)
	f.seedXP(t, map[string]int64{"a": 10, "b": 20})
	archiver := &recordingArchiver{}
	f.leaderboard.Archiver = archiver

	first, err := f.leaderboard.Snapshot(f.ctx, models.CategoryXP)
	require.NoError(t, err)

	var data []models.SnapshotRow
	require.NoError(t, json.Unmarshal(first.Data, &data))
	require.Len(t, data, 2)
	assert.Equal(t, "b", data[0].UserID)
	assert.Equal(t, 1, data[0].Rank)
	assert.Len(t, archiver.archived, 1)

	f.clock.Advance(time.Hour)
	second, err := f.leaderboard.Snapshot(f.ctx, models.CategoryXP)
	require.NoError(t, err)

	snapshots, err := f.leaderboard.Snapshots(f.ctx, models.CategoryXP, 0)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Equal(t, second.ID, snapshots[0].ID)
	assert.Equal(t, first.ID, snapshots[1].ID)
}

func TestLeaderboard_SnapshotKeepsConfiguredSize(t *testing.T) {
	f := newFixture(t, nil)
	f.leaderboard.SnapshotSize = 120

	xp := make(map[string]int64, 150)
	for i := range 150 {
		xp[fmt.Sprintf("p%03d", i)] = int64(i * 10)
	}
	f.seedXP(t, xp)

	snapshot, err := f.leaderboard.Snapshot(f.ctx, models.CategoryXP)
	require.NoError(t, err)

	var data []models.SnapshotRow
	require.NoError(t, json.Unmarshal(snapshot.Data, &data))
	require.Len(t, data, 120)
	assert.Equal(t, "p149", data[0].UserID)
	assert.Equal(t, 120, data[119].Rank)

	// reads through the API stay capped
	entries, err := f.leaderboard.GetLeaderboard(f.ctx, models.CategoryXP, 500)
	require.NoError(t, err)
	assert.Len(t, entries, 100)
}

func TestLeaderboard_StatsAndRefresh(t *testing.T) {
	f := newFixture(t, nil)

	stats, err := f.leaderboard.Stats(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, "None", stats.TopPlayer)
	assert.Equal(t, "None", stats.MostActiveZone)

	f.seedXP(t, map[string]int64{"a": 10, "b": 30})
	f.claimHome(t, "a")

	stats, err = f.leaderboard.Stats(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalUsers)
	assert.Equal(t, int64(1), stats.TotalZones)
	assert.Equal(t, "b", stats.TopPlayer)

	refreshed, err := f.leaderboard.Refresh(f.ctx, "all")
	require.NoError(t, err)
	assert.Equal(t, models.AllCategories, refreshed)

	refreshed, err = f.leaderboard.Refresh(f.ctx, "zones")
	require.NoError(t, err)
	assert.Equal(t, []models.LeaderboardCategory{models.CategoryZones}, refreshed)

	_, err = f.leaderboard.Refresh(f.ctx, "bogus")
	assert.ErrorIs(t, err, ErrInvalidCategory)
}

func TestPlayerStats(t *testing.T) {
	f := newFixture(t, nil)
	f.seedXP(t, map[string]int64{"a": 250})

	stats, err := f.leaderboard.PlayerStats(f.ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(250), stats.XP)
	assert.Equal(t, 3, stats.Level)
	assert.Equal(t, int64(30), stats.AttackPower)
	assert.Len(t, stats.Ranks, 4)

	_, err = f.leaderboard.PlayerStats(f.ctx, "ghost")
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}
