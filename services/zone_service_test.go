package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zone-contest-system/geo"
	"zone-contest-system/store"
)

func TestCheckIn_ClaimsFreshZone(t *testing.T) {
	f := newFixture(t, nil)
	f.player(t, "alice", 1)

	res, err := f.zones.CheckIn(f.ctx, "alice", home, "")
	require.NoError(t, err)

	assert.Equal(t, CheckInClaimed, res.Outcome)
	assert.Equal(t, "zone_37774_-122420", res.Zone.ID)
	assert.True(t, res.Zone.IsClaimed)
	assert.Equal(t, int64(10), res.XPGained)
	require.NotNil(t, res.CheckIn)
	assert.Equal(t, "alice", res.CheckIn.UserID)

	p, err := f.store.GetPlayer(f.ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.Experience)
	assert.Equal(t, 1, p.Level)
	assert.Equal(t, 1, p.ZonesOwned)

	assert.Equal(t, f.clock.Now().Add(24*time.Hour), f.expiry.zoneAt[res.Zone.ID])
}

func TestCheckIn_SameSpotResolvesToSameZone(t *testing.T) {
	f := newFixture(t, nil)

	first, err := f.zones.CheckIn(f.ctx, "alice", home, "")
	require.NoError(t, err)
	nearby := geo.Point{Lat: home.Lat + 0.00003, Lng: home.Lng + 0.00003}
	second, err := f.zones.CheckIn(f.ctx, "alice", nearby, "")
	require.NoError(t, err)

	assert.Equal(t, first.Zone.ID, second.Zone.ID)
	assert.Equal(t, CheckInAlreadyOwned, second.Outcome)
	assert.Zero(t, second.XPGained)

	p, err := f.store.GetPlayer(f.ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.Experience, "re-checking into an owned zone awards nothing")
}

func TestCheckIn_OwnedByOtherIsInformational(t *testing.T) {
	f := newFixture(t, nil)

	claimed, err := f.zones.CheckIn(f.ctx, "alice", home, "")
	require.NoError(t, err)

	res, err := f.zones.CheckIn(f.ctx, "bob", home, claimed.Zone.ID)
	require.NoError(t, err)
	assert.Equal(t, CheckInOwnedByOther, res.Outcome)
	require.NotNil(t, res.Zone.OwnerID)
	assert.Equal(t, "alice", *res.Zone.OwnerID)

	history, err := f.zones.CheckInHistory(f.ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestCheckIn_OutOfRange(t *testing.T) {
	f := newFixture(t, nil)

	claimed, err := f.zones.CheckIn(f.ctx, "alice", home, "")
	require.NoError(t, err)

	_, err = f.zones.CheckIn(f.ctx, "bob", far, claimed.Zone.ID)
	require.ErrorIs(t, err, ErrOutOfRange)
	ge, ok := AsGameError(err)
	require.True(t, ok)
	assert.Equal(t, KindOutOfRange, ge.Kind)

	history, err := f.zones.CheckInHistory(f.ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, history, "rejected check-ins are not recorded")
}

func TestCheckIn_InvalidCoordinates(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.zones.CheckIn(f.ctx, "alice", geo.Point{Lat: 91, Lng: 0}, "")
	assert.ErrorIs(t, err, ErrInvalidCoordinates)

	_, err = f.zones.CheckIn(f.ctx, "", home, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestClaim(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.zones.Claim(f.ctx, "alice", "zone_missing", home)
	assert.ErrorIs(t, err, ErrZoneNotFound)

	claimed, err := f.zones.CheckIn(f.ctx, "alice", home, "")
	require.NoError(t, err)
	zoneID := claimed.Zone.ID

	res, err := f.zones.Claim(f.ctx, "alice", zoneID, home)
	require.NoError(t, err)
	assert.True(t, res.AlreadyOwned)

	_, err = f.zones.Claim(f.ctx, "bob", zoneID, home)
	assert.ErrorIs(t, err, ErrZoneOwnedByOther)

	_, err = f.zones.Claim(f.ctx, "bob", zoneID, far)
	assert.ErrorIs(t, err, ErrOutOfRange)

	// a lapsed claim counts as unclaimed
	f.clock.Advance(24 * time.Hour)
	res, err = f.zones.Claim(f.ctx, "bob", zoneID, home)
	require.NoError(t, err)
	assert.False(t, res.AlreadyOwned)
	assert.Equal(t, int64(10), res.XPGained)
	require.NotNil(t, res.Zone.OwnerID)
	assert.Equal(t, "bob", *res.Zone.OwnerID)
}

func TestIsActivelyClaimedFollowsExpiry(t *testing.T) {
	f := newFixture(t, nil)

	claimed, err := f.zones.CheckIn(f.ctx, "alice", home, "")
	require.NoError(t, err)

	f.clock.Advance(24*time.Hour - time.Second)
	z, err := f.zones.GetZone(f.ctx, claimed.Zone.ID)
	require.NoError(t, err)
	assert.True(t, z.IsClaimed)

	f.clock.Advance(time.Second)
	z, err = f.zones.GetZone(f.ctx, claimed.Zone.ID)
	require.NoError(t, err)
	assert.False(t, z.IsClaimed)
	assert.Nil(t, z.OwnerID)

	mine, err := f.zones.PlayerZones(f.ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestExpire_IsIdempotent(t *testing.T) {
	f := newFixture(t, nil)

	claimed, err := f.zones.CheckIn(f.ctx, "alice", home, "")
	require.NoError(t, err)
	zoneID := claimed.Zone.ID

	expired, err := f.zones.Expire(f.ctx, zoneID)
	require.NoError(t, err)
	assert.False(t, expired, "running claims are left alone")

	f.clock.Advance(25 * time.Hour)
	expired, err = f.zones.Expire(f.ctx, zoneID)
	require.NoError(t, err)
	assert.True(t, expired)

	z, err := f.store.GetZone(f.ctx, zoneID)
	require.NoError(t, err)
	assert.Nil(t, z.OwnerID)
	assert.Nil(t, z.ClaimedAt)
	assert.Nil(t, z.ExpiresAt)

	p, err := f.store.GetPlayer(f.ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, p.ZonesOwned)

	for range 2 {
		expired, err = f.zones.Expire(f.ctx, zoneID)
		require.NoError(t, err)
		assert.False(t, expired)
	}

	expired, err = f.zones.Expire(f.ctx, "zone_missing")
	require.NoError(t, err)
	assert.False(t, expired)
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t, nil)

	other := geo.Point{Lat: home.Lat + 0.01, Lng: home.Lng}
	_, err := f.zones.CheckIn(f.ctx, "alice", home, "")
	require.NoError(t, err)
	_, err = f.zones.CheckIn(f.ctx, "bob", other, "")
	require.NoError(t, err)

	n, err := f.zones.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(24 * time.Hour)
	n, err = f.zones.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.zones.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNearby(t *testing.T) {
	f := newFixture(t, nil)

	near := geo.Point{Lat: home.Lat + 0.0045, Lng: home.Lng} // ~500m
	_, err := f.zones.CheckIn(f.ctx, "alice", home, "")
	require.NoError(t, err)
	_, err = f.zones.CheckIn(f.ctx, "alice", near, "")
	require.NoError(t, err)
	_, err = f.zones.CheckIn(f.ctx, "alice", far, "")
	require.NoError(t, err)

	zones, err := f.zones.Nearby(f.ctx, home, 0)
	require.NoError(t, err)
	require.Len(t, zones, 2)
	require.NotNil(t, zones[0].DistanceMeters)
	assert.Less(t, *zones[0].DistanceMeters, *zones[1].DistanceMeters)

	zones, err = f.zones.Nearby(f.ctx, home, 100)
	require.NoError(t, err)
	assert.Len(t, zones, 1)

	zones, err = f.zones.Nearby(f.ctx, home, 1e9)
	require.NoError(t, err)
	assert.Len(t, zones, 3, "radius is capped but still covers ~1.1km")

	_, err = f.zones.Nearby(f.ctx, geo.Point{Lat: 0, Lng: 200}, 0)
	assert.ErrorIs(t, err, ErrInvalidCoordinates)
}

// keyLockStore records LockKey calls and whether they ran inside a transaction
type keyLockStore struct {
	*store.MemoryStore
	mu     sync.Mutex
	inTx   bool
	locked []string
}

func (s *keyLockStore) Transaction(ctx context.Context, fn func(tx store.Store) error) error {
	s.mu.Lock()
	s.inTx = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inTx = false
		s.mu.Unlock()
	}()
	return fn(s)
}

func (s *keyLockStore) LockKey(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inTx {
		return errors.New("key locked outside a transaction")
	}
	s.locked = append(s.locked, key)
	return nil
}

func TestZoneWrites_LockKeyInsideTransaction(t *testing.T) {
	st := &keyLockStore{MemoryStore: store.NewMemoryStore()}
	zones := NewZoneService(st, NewZoneLocker(0), newFakeClock(), testGameConfig())

	_, err := zones.Expire(context.Background(), "z1")
	require.NoError(t, err)
	assert.Equal(t, []string{zoneLockKey("z1")}, st.locked)
}
