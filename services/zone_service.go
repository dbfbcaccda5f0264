package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"zone-contest-system/config"
	"zone-contest-system/geo"
	"zone-contest-system/logger"
	"zone-contest-system/models"
	"zone-contest-system/store"
	"zone-contest-system/utils"
)

const (
	checkInHistoryLimit = 50
	sweepBatchSize      = 500
)

// ExpiryScheduler arranges for a zone to be expired at a given time
type ExpiryScheduler interface {
	ScheduleExpiry(zoneID string, at time.Time)
}

// CheckInOutcome describes what a check-in did to zone ownership
type CheckInOutcome string

const (
	CheckInClaimed      CheckInOutcome = "claimed"
	CheckInAlreadyOwned CheckInOutcome = "already_owned"
	CheckInOwnedByOther CheckInOutcome = "owned_by_other"
)

// ZoneView is a zone with its derived claim state
type ZoneView struct {
	models.Zone
	IsClaimed      bool     `json:"is_claimed"`
	DistanceMeters *float64 `json:"distance_meters,omitempty"`
}

func newZoneView(z *models.Zone, now time.Time) ZoneView {
	v := ZoneView{Zone: *z, IsClaimed: z.IsActivelyClaimed(now)}
	if !v.IsClaimed {
		// lapsed ownership is shown as unclaimed until the sweep clears it
		v.OwnerID = nil
		v.ClaimedAt = nil
		v.ExpiresAt = nil
	}
	return v
}

// CheckInResult is returned by CheckIn
type CheckInResult struct {
	CheckIn  *models.ZoneCheckIn `json:"checkin"`
	Zone     ZoneView            `json:"zone"`
	Outcome  CheckInOutcome      `json:"outcome"`
	Message  string              `json:"message"`
	XPGained int64               `json:"xp_gained"`
}

// ClaimResult is returned by Claim
type ClaimResult struct {
	Zone         ZoneView `json:"zone"`
	AlreadyOwned bool     `json:"already_owned"`
	Message      string   `json:"message"`
	XPGained     int64    `json:"xp_gained"`
}

// ZoneService owns zone ownership transitions: claim, check-in and expiry
type ZoneService struct {
	Store       store.Store
	Locker      Locker
	Clock       utils.Clock
	Proximity   *geo.ProximityValidator
	Progression *ProgressionUpdater
	Game        config.GameConfig

	expiry ExpiryScheduler
}

func NewZoneService(st store.Store, locker Locker, clock utils.Clock, game config.GameConfig) *ZoneService {
	return &ZoneService{
		Store:       st,
		Locker:      locker,
		Clock:       clock,
		Proximity:   geo.NewProximityValidator(game.CaptureRadiusMeters),
		Progression: NewProgressionUpdater(clock, game.XPPerLevel),
		Game:        game,
	}
}

// SetExpiryScheduler enables eager expiry at each claim's expires_at
func (s *ZoneService) SetExpiryScheduler(e ExpiryScheduler) {
	s.expiry = e
}

func zoneLockKey(zoneID string) string {
	return "zone:" + zoneID
}

// withZone runs fn inside a store transaction while holding the zone's
// in-process lock and, within the transaction, the store's lock on the zone key
func (s *ZoneService) withZone(ctx context.Context, zoneID string, fn func(tx store.Store) error) error {
	key := zoneLockKey(zoneID)
	unlock, err := s.Locker.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to lock zone %s: %w", zoneID, err)
	}
	defer unlock()

	return s.Store.Transaction(ctx, func(tx store.Store) error {
		if err := tx.LockKey(ctx, key); err != nil {
			return err
		}
		return fn(tx)
	})
}

func (s *ZoneService) scheduleExpiry(z *models.Zone) {
	if s.expiry == nil || z.ExpiresAt == nil {
		return
	}
	s.expiry.ScheduleExpiry(z.ID, *z.ExpiresAt)
}

// EnsurePlayer makes sure a player row exists for userID
func (s *ZoneService) EnsurePlayer(ctx context.Context, userID, username string) (*models.Player, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	p, err := s.Store.EnsurePlayer(ctx, userID, username)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure player: %w", err)
	}
	return p, nil
}

// claimLocked assigns z to userID and awards the zone's xp. Caller holds the zone lock.
func (s *ZoneService) claimLocked(ctx context.Context, tx store.Store, z *models.Zone, userID string) error {
	z.Claim(userID, s.Clock.Now(), s.Game.ZoneLifetime)
	if err := tx.SaveZone(ctx, z); err != nil {
		return fmt.Errorf("failed to save zone: %w", err)
	}
	if _, err := s.Progression.Apply(ctx, tx, userID, z.XPValue); err != nil {
		return err
	}
	return nil
}

// CheckIn records a visit to a zone and claims it when unclaimed. With an empty
// zoneID the zone is derived from the location's grid cell.
func (s *ZoneService) CheckIn(ctx context.Context, userID string, location geo.Point, zoneID string) (*CheckInResult, error) {
	if !location.Valid() {
		return nil, ErrInvalidCoordinates
	}
	if _, err := s.EnsurePlayer(ctx, userID, ""); err != nil {
		return nil, err
	}
	if zoneID == "" {
		zoneID = geo.GridZoneID(location, s.Game.GridSizeDegrees)
	}

	var result CheckInResult
	err := s.withZone(ctx, zoneID, func(tx store.Store) error {
		if _, _, err := tx.GetOrCreateZone(ctx, &models.Zone{
			ID:        zoneID,
			Latitude:  location.Lat,
			Longitude: location.Lng,
			XPValue:   s.Game.DefaultZoneXP,
		}); err != nil {
			return fmt.Errorf("failed to get or create zone: %w", err)
		}
		z, err := tx.LockZone(ctx, zoneID)
		if err != nil {
			return fmt.Errorf("failed to lock zone: %w", err)
		}

		if ok, distance := s.Proximity.Check(location, z.Location()); !ok {
			return outOfRange(s.Proximity.RadiusMeters, distance)
		}

		now := s.Clock.Now()
		checkIn := &models.ZoneCheckIn{
			ID:        uuid.NewString(),
			UserID:    userID,
			ZoneID:    zoneID,
			Latitude:  location.Lat,
			Longitude: location.Lng,
			Success:   true,
			CreatedAt: now,
		}
		if err := tx.CreateCheckIn(ctx, checkIn); err != nil {
			return fmt.Errorf("failed to record check-in: %w", err)
		}
		result.CheckIn = checkIn

		switch {
		case !z.IsActivelyClaimed(now):
			if err := s.claimLocked(ctx, tx, z, userID); err != nil {
				return err
			}
			result.Outcome = CheckInClaimed
			result.Message = "Zone claimed successfully!"
			result.XPGained = z.XPValue
		case z.IsOwnedBy(userID):
			result.Outcome = CheckInAlreadyOwned
			result.Message = "You already own this zone"
		default:
			result.Outcome = CheckInOwnedByOther
			result.Message = "Zone is owned by another player. Use attack to claim it!"
		}
		result.Zone = newZoneView(z, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "Zone check-in",
		zap.String("zone_id", zoneID),
		zap.String("user_id", userID),
		zap.String("outcome", string(result.Outcome)),
	)
	if result.Outcome == CheckInClaimed {
		s.scheduleExpiry(&result.Zone.Zone)
	}
	return &result, nil
}

// Claim takes an existing zone that is unclaimed or whose claim has lapsed
func (s *ZoneService) Claim(ctx context.Context, userID, zoneID string, location geo.Point) (*ClaimResult, error) {
	if !location.Valid() {
		return nil, ErrInvalidCoordinates
	}
	if _, err := s.EnsurePlayer(ctx, userID, ""); err != nil {
		return nil, err
	}

	var result ClaimResult
	err := s.withZone(ctx, zoneID, func(tx store.Store) error {
		z, err := tx.LockZone(ctx, zoneID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrZoneNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock zone: %w", err)
		}

		if ok, distance := s.Proximity.Check(location, z.Location()); !ok {
			return outOfRange(s.Proximity.RadiusMeters, distance)
		}

		now := s.Clock.Now()
		if z.IsActivelyClaimed(now) {
			if z.IsOwnedBy(userID) {
				result.AlreadyOwned = true
				result.Message = "You already own this zone"
				result.Zone = newZoneView(z, now)
				return nil
			}
			return ErrZoneOwnedByOther
		}

		if err := s.claimLocked(ctx, tx, z, userID); err != nil {
			return err
		}
		result.Message = "Zone claimed successfully!"
		result.XPGained = z.XPValue
		result.Zone = newZoneView(z, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.AlreadyOwned {
		logger.InfoCtx(ctx, "Zone claimed", zap.String("zone_id", zoneID), zap.String("user_id", userID))
		s.scheduleExpiry(&result.Zone.Zone)
	}
	return &result, nil
}

// Expire clears a lapsed claim and recomputes the former owner's progression.
// It is a no-op for missing zones, unclaimed zones and claims still running.
func (s *ZoneService) Expire(ctx context.Context, zoneID string) (bool, error) {
	var formerOwner string
	err := s.withZone(ctx, zoneID, func(tx store.Store) error {
		z, err := tx.LockZone(ctx, zoneID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to lock zone: %w", err)
		}
		if !z.IsExpired(s.Clock.Now()) {
			return nil
		}

		formerOwner = *z.OwnerID
		z.Unclaim()
		if err := tx.SaveZone(ctx, z); err != nil {
			return fmt.Errorf("failed to save zone: %w", err)
		}

		if _, err := s.Progression.Apply(ctx, tx, formerOwner, 0); err != nil && !errors.Is(err, ErrPlayerNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if formerOwner == "" {
		return false, nil
	}

	logger.InfoCtx(ctx, "Zone expired", zap.String("zone_id", zoneID), zap.String("user_id", formerOwner))
	return true, nil
}

// SweepExpired expires every zone whose claim has lapsed
func (s *ZoneService) SweepExpired(ctx context.Context) (int, error) {
	expired := 0
	for {
		ids, err := s.Store.ListExpiredZoneIDs(ctx, s.Clock.Now(), sweepBatchSize)
		if err != nil {
			return expired, fmt.Errorf("failed to list expired zones: %w", err)
		}

		batch := 0
		for _, id := range ids {
			ok, err := s.Expire(ctx, id)
			if err != nil {
				logger.ErrorCtx(ctx, err, zap.String("zone_id", id))
				continue
			}
			if ok {
				batch++
			}
		}
		expired += batch

		if len(ids) < sweepBatchSize || batch == 0 {
			break
		}
	}

	logger.InfoCtx(ctx, "Expired zone sweep finished", zap.Int("expired", expired))
	return expired, nil
}

// Nearby lists zones within radiusMeters of location, nearest first. A
// non-positive radius uses the default and the radius is capped.
func (s *ZoneService) Nearby(ctx context.Context, location geo.Point, radiusMeters float64) ([]ZoneView, error) {
	if !location.Valid() {
		return nil, ErrInvalidCoordinates
	}
	if radiusMeters <= 0 {
		radiusMeters = s.Game.NearbyRadiusMeters
	}
	radiusMeters = min(radiusMeters, s.Game.NearbyMaxMeters)

	zones, err := s.Store.FindZonesNear(ctx, location, radiusMeters)
	if err != nil {
		return nil, fmt.Errorf("failed to find nearby zones: %w", err)
	}

	now := s.Clock.Now()
	views := make([]ZoneView, 0, len(zones))
	for i := range zones {
		v := newZoneView(&zones[i], now)
		d := geo.DistanceMeters(location, zones[i].Location())
		v.DistanceMeters = &d
		views = append(views, v)
	}
	return views, nil
}

// GetZone returns a single zone
func (s *ZoneService) GetZone(ctx context.Context, zoneID string) (*ZoneView, error) {
	z, err := s.Store.GetZone(ctx, zoneID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrZoneNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get zone: %w", err)
	}
	v := newZoneView(z, s.Clock.Now())
	return &v, nil
}

// PlayerZones lists the zones userID actively owns
func (s *ZoneService) PlayerZones(ctx context.Context, userID string) ([]ZoneView, error) {
	now := s.Clock.Now()
	zones, err := s.Store.ListActiveZonesByOwner(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list player zones: %w", err)
	}
	views := make([]ZoneView, 0, len(zones))
	for i := range zones {
		views = append(views, newZoneView(&zones[i], now))
	}
	return views, nil
}

// CheckInHistory returns the player's latest check-ins
func (s *ZoneService) CheckInHistory(ctx context.Context, userID string) ([]models.ZoneCheckIn, error) {
	checkIns, err := s.Store.ListCheckIns(ctx, userID, checkInHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}
	return checkIns, nil
}
