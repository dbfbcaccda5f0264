package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"zone-contest-system/logger"
	"zone-contest-system/models"
	"zone-contest-system/store"
	"zone-contest-system/utils"
)

// LevelForXP is floor(xp / xpPerLevel) + 1
func LevelForXP(xp, xpPerLevel int64) int {
	if xp < 0 {
		xp = 0
	}
	return int(xp/xpPerLevel) + 1
}

// ProgressionUpdater keeps a player's derived counters consistent with primary
// state: level follows experience and zones owned is a fresh count.
type ProgressionUpdater struct {
	Clock      utils.Clock
	XPPerLevel int64
}

func NewProgressionUpdater(clock utils.Clock, xpPerLevel int64) *ProgressionUpdater {
	return &ProgressionUpdater{Clock: clock, XPPerLevel: xpPerLevel}
}

// Apply adds xp (which may be zero) and recomputes level and zones owned.
// Runs against st so it joins the caller's transaction.
func (p *ProgressionUpdater) Apply(ctx context.Context, st store.Store, userID string, xp int64) (*models.Player, error) {
	if xp < 0 {
		return nil, fmt.Errorf("negative experience delta %d for %s", xp, userID)
	}

	var (
		player *models.Player
		err    error
	)
	if xp > 0 {
		player, err = st.AddExperience(ctx, userID, xp)
	} else {
		player, err = st.GetPlayer(ctx, userID)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPlayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update experience: %w", err)
	}

	zones, err := st.CountActiveZonesByOwner(ctx, userID, p.Clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to count owned zones: %w", err)
	}

	level := max(player.Level, LevelForXP(player.Experience, p.XPPerLevel))
	updated, err := st.UpdateProgress(ctx, userID, store.ProgressUpdate{Level: level, ZonesOwned: int(zones)})
	if err != nil {
		return nil, fmt.Errorf("failed to update progress: %w", err)
	}

	if updated.Level > player.Level {
		logger.InfoCtx(ctx, "Player levelled up",
			zap.String("user_id", userID),
			zap.Int("level", updated.Level),
			zap.Int64("xp", updated.Experience),
		)
	}
	return updated, nil
}
