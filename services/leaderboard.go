package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"zone-contest-system/logger"
	"zone-contest-system/models"
	"zone-contest-system/store"
	"zone-contest-system/utils"
)

const (
	defaultLeaderboardLimit = 100
	defaultSnapshotLimit    = 10
)

// SnapshotArchiver stores a copy of a snapshot outside the database
type SnapshotArchiver interface {
	ArchiveSnapshot(ctx context.Context, snapshot *models.LeaderboardSnapshot) error
}

// RankInfo is a player's standing in one category
type RankInfo struct {
	Category   models.LeaderboardCategory `json:"category"`
	Rank       int                        `json:"rank"`
	Score      int64                      `json:"score"`
	TotalUsers int64                      `json:"total_users"`
	Percentile float64                    `json:"percentile"`
}

// PlayerStats is the full profile of a player's progression
type PlayerStats struct {
	UserID      string             `json:"user_id"`
	Username    string             `json:"username"`
	XP          int64              `json:"xp"`
	Level       int                `json:"level"`
	ZonesOwned  int                `json:"zones_owned"`
	AttackPower int64              `json:"attack_power"`
	Attacks     models.AttackStats `json:"attacks"`
	Ranks       []RankInfo         `json:"ranks"`
}

// WorldStats summarizes the game world
type WorldStats struct {
	TotalUsers     int64  `json:"total_users"`
	TotalZones     int64  `json:"total_zones"`
	TotalAttacks   int64  `json:"total_attacks"`
	MostActiveZone string `json:"most_active_zone"`
	TopPlayer      string `json:"top_player"`
}

// metric returns the primary and tie-breaking sort keys of row in category c
func metric(c models.LeaderboardCategory, row *models.RankingRow) (int64, int64) {
	switch c {
	case models.CategoryZones:
		return int64(row.ZonesOwned), 0
	case models.CategoryLevel:
		return int64(row.Level), row.Experience
	case models.CategoryAttacks:
		return row.SuccessfulAttacks, 0
	default:
		return row.Experience, 0
	}
}

// ahead reports whether a ranks strictly above b in category c
func ahead(c models.LeaderboardCategory, a, b *models.RankingRow) bool {
	ap, as := metric(c, a)
	bp, bs := metric(c, b)
	return ap > bp || (ap == bp && as > bs)
}

// RankRows orders rows for category c and assigns ranks. A player's rank is one
// plus the number of players strictly ahead, so tied players share a rank.
// Tied players are listed by user id. At most topN entries are returned (all when topN <= 0).
func RankRows(c models.LeaderboardCategory, rows []models.RankingRow, topN int) []models.LeaderboardEntry {
	sorted := make([]models.RankingRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		if ahead(c, &sorted[i], &sorted[j]) {
			return true
		}
		if ahead(c, &sorted[j], &sorted[i]) {
			return false
		}
		return sorted[i].UserID < sorted[j].UserID
	})

	if topN > 0 && len(sorted) > topN {
		sorted = sorted[:topN]
	}

	entries := make([]models.LeaderboardEntry, 0, len(sorted))
	rank := 0
	for i := range sorted {
		if i == 0 || ahead(c, &sorted[i-1], &sorted[i]) {
			rank = i + 1
		}
		score, _ := metric(c, &sorted[i])
		entries = append(entries, models.LeaderboardEntry{
			ID:       uuid.NewString(),
			UserID:   sorted[i].UserID,
			Category: c,
			Username: sorted[i].Username,
			Level:    sorted[i].Level,
			Score:    score,
			Rank:     rank,
		})
	}
	return entries
}

// Percentile is (total - rank) / total * 100 rounded to one decimal, 0 with no players
func Percentile(rank int, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return round1(float64(total-int64(rank)) / float64(total) * 100)
}

// LeaderboardService builds and serves cached rankings
type LeaderboardService struct {
	Store        store.Store
	Clock        utils.Clock
	TopN         int
	SnapshotSize int
	Archiver     SnapshotArchiver

	rebuildMu sync.Mutex
}

func NewLeaderboardService(st store.Store, clock utils.Clock, topN, snapshotSize int) *LeaderboardService {
	return &LeaderboardService{Store: st, Clock: clock, TopN: topN, SnapshotSize: snapshotSize}
}

// Rebuild recomputes a category from live player data and swaps it in
func (s *LeaderboardService) Rebuild(ctx context.Context, c models.LeaderboardCategory) (int, error) {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	rows, err := s.Store.ListRankingRows(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load ranking data: %w", err)
	}

	entries := RankRows(c, rows, s.TopN)
	now := s.Clock.Now()
	for i := range entries {
		entries[i].LastUpdated = now
	}

	if err := s.Store.ReplaceLeaderboard(ctx, c, entries); err != nil {
		return 0, fmt.Errorf("failed to replace %s leaderboard: %w", c, err)
	}

	logger.InfoCtx(ctx, "Leaderboard rebuilt", zap.String("category", string(c)), zap.Int("entries", len(entries)))
	return len(entries), nil
}

// RebuildAll rebuilds every category, continuing past failures
func (s *LeaderboardService) RebuildAll(ctx context.Context) error {
	var errs []error
	for _, c := range models.AllCategories {
		if _, err := s.Rebuild(ctx, c); err != nil {
			logger.ErrorCtx(ctx, err, zap.String("category", string(c)))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Refresh rebuilds one category, or all of them for "all" or ""
func (s *LeaderboardService) Refresh(ctx context.Context, category string) ([]models.LeaderboardCategory, error) {
	if category == "" || category == "all" {
		return models.AllCategories, s.RebuildAll(ctx)
	}
	c, err := models.ParseCategory(category)
	if err != nil {
		return nil, ErrInvalidCategory
	}
	if _, err := s.Rebuild(ctx, c); err != nil {
		return nil, err
	}
	return []models.LeaderboardCategory{c}, nil
}

func clampLimit(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, maxLimit)
}

// GetLeaderboard returns the cached top entries of a category, building the
// cache when empty. When the cache cannot be read the list is computed live.
func (s *LeaderboardService) GetLeaderboard(ctx context.Context, c models.LeaderboardCategory, limit int) ([]models.LeaderboardEntry, error) {
	return s.topEntries(ctx, c, clampLimit(limit, defaultLeaderboardLimit, defaultLeaderboardLimit))
}

func (s *LeaderboardService) topEntries(ctx context.Context, c models.LeaderboardCategory, limit int) ([]models.LeaderboardEntry, error) {
	entries, err := s.Store.ListLeaderboard(ctx, c, limit)
	if err == nil && len(entries) == 0 {
		if _, err = s.Rebuild(ctx, c); err == nil {
			entries, err = s.Store.ListLeaderboard(ctx, c, limit)
		}
	}
	if err != nil {
		logger.WarnCtx(ctx, "Cached leaderboard unavailable, computing live",
			zap.String("category", string(c)), zap.Error(err))
		return s.realtimeLeaderboard(ctx, c, limit)
	}
	return entries, nil
}

func (s *LeaderboardService) realtimeLeaderboard(ctx context.Context, c models.LeaderboardCategory, limit int) ([]models.LeaderboardEntry, error) {
	rows, err := s.Store.ListRankingRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ranking data: %w", err)
	}
	entries := RankRows(c, rows, limit)
	now := s.Clock.Now()
	for i := range entries {
		entries[i].LastUpdated = now
	}
	return entries, nil
}

// GetRank returns the player's cached rank, or computes it live when the
// player is not in the cached ranking.
func (s *LeaderboardService) GetRank(ctx context.Context, userID string, c models.LeaderboardCategory) (*RankInfo, error) {
	total, err := s.Store.CountActivePlayers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count players: %w", err)
	}

	entry, err := s.Store.GetLeaderboardEntry(ctx, userID, c)
	if err == nil {
		return &RankInfo{
			Category:   c,
			Rank:       entry.Rank,
			Score:      entry.Score,
			TotalUsers: total,
			Percentile: Percentile(entry.Rank, total),
		}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		logger.WarnCtx(ctx, "Cached rank unavailable, computing live",
			zap.String("user_id", userID), zap.String("category", string(c)), zap.Error(err))
	}
	return s.realtimeRank(ctx, userID, c, total)
}

func (s *LeaderboardService) realtimeRank(ctx context.Context, userID string, c models.LeaderboardCategory, total int64) (*RankInfo, error) {
	rows, err := s.Store.ListRankingRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ranking data: %w", err)
	}

	var me *models.RankingRow
	for i := range rows {
		if rows[i].UserID == userID {
			me = &rows[i]
			break
		}
	}
	if me == nil {
		me, err = s.rankingRowFor(ctx, userID)
		if err != nil {
			return nil, err
		}
	}

	rank := 1
	for i := range rows {
		if ahead(c, &rows[i], me) {
			rank++
		}
	}
	score, _ := metric(c, me)
	return &RankInfo{
		Category:   c,
		Rank:       rank,
		Score:      score,
		TotalUsers: total,
		Percentile: Percentile(rank, total),
	}, nil
}

// rankingRowFor builds the ranking data of a player missing from the active set
func (s *LeaderboardService) rankingRowFor(ctx context.Context, userID string) (*models.RankingRow, error) {
	p, err := s.Store.GetPlayer(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPlayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	stats, err := s.Store.GetAttackStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attack stats: %w", err)
	}
	return &models.RankingRow{
		UserID:            p.ID,
		Username:          p.Username,
		Experience:        p.Experience,
		Level:             p.Level,
		ZonesOwned:        p.ZonesOwned,
		SuccessfulAttacks: stats.SuccessfulAttacks,
	}, nil
}

// RankAll returns the player's rank in every category
func (s *LeaderboardService) RankAll(ctx context.Context, userID string) ([]RankInfo, error) {
	ranks := make([]RankInfo, 0, len(models.AllCategories))
	for _, c := range models.AllCategories {
		r, err := s.GetRank(ctx, userID, c)
		if err != nil {
			return nil, err
		}
		ranks = append(ranks, *r)
	}
	return ranks, nil
}

// PlayerStats returns a player's progression, combat record and ranks
func (s *LeaderboardService) PlayerStats(ctx context.Context, userID string) (*PlayerStats, error) {
	p, err := s.Store.GetPlayer(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPlayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player: %w", err)
	}

	attacks, err := s.Store.GetAttackStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attack stats: %w", err)
	}

	ranks, err := s.RankAll(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &PlayerStats{
		UserID:      p.ID,
		Username:    p.Username,
		XP:          p.Experience,
		Level:       p.Level,
		ZonesOwned:  p.ZonesOwned,
		AttackPower: AttackPower(p.Level, p.ZonesOwned),
		Attacks:     attacks,
		Ranks:       ranks,
	}, nil
}

// Stats returns world totals
func (s *LeaderboardService) Stats(ctx context.Context) (*WorldStats, error) {
	g, err := s.Store.GetGlobalStats(ctx, s.Clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	stats := &WorldStats{
		TotalUsers:     g.TotalPlayers,
		TotalZones:     g.ClaimedZones,
		TotalAttacks:   g.TotalAttacks,
		MostActiveZone: g.MostAttackedZone,
		TopPlayer:      g.TopPlayer,
	}
	if stats.MostActiveZone == "" {
		stats.MostActiveZone = "None"
	}
	if stats.TopPlayer == "" {
		stats.TopPlayer = "None"
	}
	return stats, nil
}

// Snapshot archives the current top entries of a category
func (s *LeaderboardService) Snapshot(ctx context.Context, c models.LeaderboardCategory) (*models.LeaderboardSnapshot, error) {
	entries, err := s.topEntries(ctx, c, clampLimit(s.SnapshotSize, defaultLeaderboardLimit, s.SnapshotSize))
	if err != nil {
		return nil, err
	}

	rows := make([]models.SnapshotRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, models.SnapshotRow{
			Rank:     e.Rank,
			UserID:   e.UserID,
			Username: e.Username,
			Score:    e.Score,
			Level:    e.Level,
		})
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	snapshot := &models.LeaderboardSnapshot{
		ID:           uuid.NewString(),
		Category:     c,
		SnapshotDate: s.Clock.Now(),
		Data:         datatypes.JSON(data),
	}
	if err := s.Store.CreateSnapshot(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}

	if s.Archiver != nil {
		if err := s.Archiver.ArchiveSnapshot(ctx, snapshot); err != nil {
			logger.ErrorCtx(ctx, err, zap.String("category", string(c)), zap.String("snapshot_id", snapshot.ID))
		}
	}

	logger.InfoCtx(ctx, "Leaderboard snapshot created", zap.String("category", string(c)), zap.Int("entries", len(rows)))
	return snapshot, nil
}

// SnapshotAll snapshots every category, continuing past failures
func (s *LeaderboardService) SnapshotAll(ctx context.Context) error {
	var errs []error
	for _, c := range models.AllCategories {
		if _, err := s.Snapshot(ctx, c); err != nil {
			logger.ErrorCtx(ctx, err, zap.String("category", string(c)))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Snapshots lists archived snapshots of a category, newest first
func (s *LeaderboardService) Snapshots(ctx context.Context, c models.LeaderboardCategory, limit int) ([]models.LeaderboardSnapshot, error) {
	limit = clampLimit(limit, defaultSnapshotLimit, defaultLeaderboardLimit)
	snapshots, err := s.Store.ListSnapshots(ctx, c, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return snapshots, nil
}
