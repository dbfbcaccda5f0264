package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"zone-contest-system/geo"
	"zone-contest-system/logger"
	"zone-contest-system/models"
	"zone-contest-system/notify"
	"zone-contest-system/store"
)

const attackHistoryLimit = 50

// Notifier accepts notifications for asynchronous delivery
type Notifier interface {
	Dispatch(n notify.Notification)
}

// HistoryKind selects which side of a player's attacks to list
type HistoryKind string

const (
	HistoryMade     HistoryKind = "made"
	HistoryReceived HistoryKind = "received"
	HistoryAll      HistoryKind = "all"
)

// AttackResult is returned by Attack
type AttackResult struct {
	Attack        *models.Attack `json:"attack"`
	Zone          ZoneView       `json:"zone"`
	Success       bool           `json:"success"`
	XPGained      int64          `json:"xp_gained"`
	CooldownUntil time.Time      `json:"cooldown_until"`
	Message       string         `json:"message"`
}

// CooldownView is an active cooldown with its remaining time
type CooldownView struct {
	ZoneID           string    `json:"zone_id"`
	CooldownUntil    time.Time `json:"cooldown_until"`
	RemainingMinutes int       `json:"remaining_minutes"`
}

// PlayerAttackStats is a player's combat record with derived rates
type PlayerAttackStats struct {
	models.AttackStats
	SuccessRate float64 `json:"success_rate"`
	DefenseRate float64 `json:"defense_rate"`
	AttackPower int64   `json:"attack_power"`
}

// AttackService validates, resolves and records attacks on claimed zones
type AttackService struct {
	Zones     *ZoneService
	Cooldowns *CooldownLedger
	Resolver  *BattleResolver
	Notifier  Notifier
}

func NewAttackService(zones *ZoneService, resolver *BattleResolver, notifier Notifier) *AttackService {
	return &AttackService{
		Zones:     zones,
		Cooldowns: NewCooldownLedger(zones.Clock, zones.Game.AttackCooldown),
		Resolver:  resolver,
		Notifier:  notifier,
	}
}

// notification targets collected inside the transaction, sent after commit
type attackEvent struct {
	defender     *models.Player
	attackerName string
	zoneID       string
	success      bool
	capturedZone *models.Zone
}

func playerOrDefault(ctx context.Context, tx store.Store, id string) (*models.Player, error) {
	p, err := tx.GetPlayer(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return &models.Player{ID: id, Username: id, Level: 1}, nil
	}
	return p, err
}

// Attack contests a zone owned by another player. Preconditions are checked in
// order and a failed one returns an error without recording anything. A
// validated attack is always recorded and always starts a cooldown.
func (s *AttackService) Attack(ctx context.Context, attackerID, zoneID string, location geo.Point) (*AttackResult, error) {
	if !location.Valid() {
		return nil, ErrInvalidCoordinates
	}
	if _, err := s.Zones.EnsurePlayer(ctx, attackerID, ""); err != nil {
		return nil, err
	}

	var (
		result AttackResult
		event  attackEvent
	)
	err := s.Zones.withZone(ctx, zoneID, func(tx store.Store) error {
		z, err := tx.LockZone(ctx, zoneID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrZoneNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock zone: %w", err)
		}

		now := s.Zones.Clock.Now()
		if z.IsOwnedBy(attackerID) {
			return ErrSelfAttack
		}
		if !z.IsActivelyClaimed(now) {
			return ErrZoneNotClaimed
		}
		if ok, distance := s.Zones.Proximity.Check(location, z.Location()); !ok {
			return outOfRange(s.Zones.Proximity.RadiusMeters, distance)
		}
		minutes, err := s.Cooldowns.Check(ctx, tx, attackerID, zoneID)
		if err != nil {
			return err
		}
		if minutes > 0 {
			return onCooldown(minutes)
		}

		attacker, err := tx.GetPlayer(ctx, attackerID)
		if err != nil {
			return fmt.Errorf("failed to load attacker: %w", err)
		}
		defenderID := *z.OwnerID
		defender, err := playerOrDefault(ctx, tx, defenderID)
		if err != nil {
			return fmt.Errorf("failed to load defender: %w", err)
		}

		outcome := s.Resolver.Resolve(
			AttackPower(attacker.Level, attacker.ZonesOwned),
			DefensePower(defender.Level, defender.ZonesOwned, s.Zones.Game.DefenderBonus),
			z.XPValue,
		)

		record := &models.Attack{
			ID:                uuid.NewString(),
			AttackerID:        attackerID,
			DefenderID:        &defenderID,
			ZoneID:            zoneID,
			AttackerPower:     outcome.AttackerRoll,
			DefenderPower:     outcome.DefenderRoll,
			Result:            models.AttackFailed,
			Success:           outcome.Success,
			AttackerLatitude:  location.Lat,
			AttackerLongitude: location.Lng,
			XPGained:          outcome.XPAwarded,
			CreatedAt:         now,
		}
		if outcome.Success {
			record.Result = models.AttackSuccess
		}
		if err := tx.CreateAttack(ctx, record); err != nil {
			return fmt.Errorf("failed to record attack: %w", err)
		}

		cd, err := s.Cooldowns.Set(ctx, tx, attackerID, zoneID)
		if err != nil {
			return err
		}

		if outcome.Success {
			z.Claim(attackerID, now, s.Zones.Game.ZoneLifetime)
			if err := tx.SaveZone(ctx, z); err != nil {
				return fmt.Errorf("failed to transfer zone: %w", err)
			}
		}
		if _, err := s.Zones.Progression.Apply(ctx, tx, attackerID, outcome.XPAwarded); err != nil {
			return err
		}
		if outcome.Success {
			if _, err := s.Zones.Progression.Apply(ctx, tx, defenderID, 0); err != nil && !errors.Is(err, ErrPlayerNotFound) {
				return err
			}
			event.capturedZone = z
		}

		event.defender = defender
		event.attackerName = attacker.Username
		event.zoneID = zoneID
		event.success = outcome.Success

		result = AttackResult{
			Attack:        record,
			Zone:          newZoneView(z, now),
			Success:       outcome.Success,
			XPGained:      outcome.XPAwarded,
			CooldownUntil: cd.CooldownUntil,
			Message:       "Attack failed! The zone was defended.",
		}
		if outcome.Success {
			result.Message = "Attack successful! Zone captured!"
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "Attack resolved",
		zap.String("zone_id", zoneID),
		zap.String("user_id", attackerID),
		zap.String("defender_id", event.defender.ID),
		zap.Bool("success", event.success),
		zap.Int64("xp_gained", result.XPGained),
	)

	s.notify(event)
	if event.capturedZone != nil {
		s.Zones.scheduleExpiry(event.capturedZone)
	}
	return &result, nil
}

func (s *AttackService) notify(e attackEvent) {
	if s.Notifier == nil || e.defender == nil || !e.defender.HasPushToken() {
		return
	}
	token := *e.defender.PushToken

	s.Notifier.Dispatch(notify.ZoneEvent(notify.KindZoneAttack, e.defender.ID, token, e.zoneID, e.attackerName))
	kind := notify.KindZoneDefended
	if e.success {
		kind = notify.KindZoneLost
	}
	s.Notifier.Dispatch(notify.ZoneEvent(kind, e.defender.ID, token, e.zoneID, e.attackerName))
}

// ParseHistoryKind maps an empty value to HistoryAll
func ParseHistoryKind(s string) (HistoryKind, error) {
	switch HistoryKind(s) {
	case "", HistoryAll:
		return HistoryAll, nil
	case HistoryMade, HistoryReceived:
		return HistoryKind(s), nil
	}
	return "", &GameError{Kind: KindInvalidOperation, Code: "invalid_history_type", Message: fmt.Sprintf("invalid attack history type %q", s)}
}

// History lists a player's attacks, newest first
func (s *AttackService) History(ctx context.Context, userID string, kind HistoryKind, limit int) ([]models.Attack, error) {
	if limit <= 0 || limit > attackHistoryLimit {
		limit = attackHistoryLimit
	}
	st := s.Zones.Store

	var attacks []models.Attack
	if kind == HistoryMade || kind == HistoryAll {
		made, err := st.ListAttacksByAttacker(ctx, userID, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to list attacks made: %w", err)
		}
		attacks = append(attacks, made...)
	}
	if kind == HistoryReceived || kind == HistoryAll {
		received, err := st.ListAttacksByDefender(ctx, userID, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to list attacks received: %w", err)
		}
		attacks = append(attacks, received...)
	}

	sort.SliceStable(attacks, func(i, j int) bool {
		return attacks[i].CreatedAt.After(attacks[j].CreatedAt)
	})
	if len(attacks) > limit {
		attacks = attacks[:limit]
	}
	return attacks, nil
}

// ActiveCooldowns lists the zones userID cannot attack yet
func (s *AttackService) ActiveCooldowns(ctx context.Context, userID string) ([]CooldownView, error) {
	now := s.Zones.Clock.Now()
	cooldowns, err := s.Zones.Store.ListActiveCooldowns(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list cooldowns: %w", err)
	}

	views := make([]CooldownView, 0, len(cooldowns))
	for i := range cooldowns {
		views = append(views, CooldownView{
			ZoneID:           cooldowns[i].ZoneID,
			CooldownUntil:    cooldowns[i].CooldownUntil,
			RemainingMinutes: remainingMinutes(&cooldowns[i], now),
		})
	}
	return views, nil
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}

func rate(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return round1(float64(part) / float64(total) * 100)
}

// Stats summarizes a player's attacks and defenses
func (s *AttackService) Stats(ctx context.Context, userID string) (*PlayerAttackStats, error) {
	player, err := s.Zones.Store.GetPlayer(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPlayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player: %w", err)
	}

	stats, err := s.Zones.Store.GetAttackStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attack stats: %w", err)
	}

	return &PlayerAttackStats{
		AttackStats: stats,
		SuccessRate: rate(stats.SuccessfulAttacks, stats.TotalAttacks),
		DefenseRate: rate(stats.SuccessfulDefenses, stats.TotalDefenses),
		AttackPower: AttackPower(player.Level, player.ZonesOwned),
	}, nil
}
