package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"zone-contest-system/models"
	"zone-contest-system/store"
	"zone-contest-system/utils"

	"github.com/google/uuid"
)

// CooldownLedger tracks per (user, zone) attack cooldowns. Writes are last-writer-wins.
type CooldownLedger struct {
	Clock    utils.Clock
	Duration time.Duration
}

// NewCooldownLedger creates a ledger with the configured cooldown duration
func NewCooldownLedger(clock utils.Clock, duration time.Duration) *CooldownLedger {
	return &CooldownLedger{Clock: clock, Duration: duration}
}

// Check returns the whole minutes left (rounded up), or 0 when not on cooldown
func (l *CooldownLedger) Check(ctx context.Context, st store.Store, userID, zoneID string) (int, error) {
	cd, err := st.GetCooldown(ctx, userID, zoneID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cooldown: %w", err)
	}
	return remainingMinutes(cd, l.Clock.Now()), nil
}

func remainingMinutes(cd *models.AttackCooldown, now time.Time) int {
	left := cd.Remaining(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Minutes()))
}

// Set starts a fresh cooldown for the pair
func (l *CooldownLedger) Set(ctx context.Context, st store.Store, userID, zoneID string) (*models.AttackCooldown, error) {
	now := l.Clock.Now()
	cd := &models.AttackCooldown{
		ID:            uuid.NewString(),
		UserID:        userID,
		ZoneID:        zoneID,
		LastAttack:    now,
		CooldownUntil: now.Add(l.Duration),
	}
	if err := st.UpsertCooldown(ctx, cd); err != nil {
		return nil, fmt.Errorf("failed to set cooldown: %w", err)
	}
	return cd, nil
}
