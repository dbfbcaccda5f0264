package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"zone-contest-system/config"
	"zone-contest-system/geo"
	"zone-contest-system/notify"
	"zone-contest-system/store"
)

var (
	home = geo.Point{Lat: 37.7749, Lng: -122.4194}
	far  = geo.Point{Lat: 37.7849, Lng: -122.4194}
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// sequenceRand returns vals in order, cycling
type sequenceRand struct {
	mu   sync.Mutex
	vals []float64
	i    int
}

func (r *sequenceRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.vals[r.i%len(r.vals)]
	r.i++
	return v
}

// attackerWins maximizes the attacker roll and minimizes the defender roll
func attackerWins() RandSource { return &sequenceRand{vals: []float64{0.999999, 0}} }

// defenderWins does the opposite
func defenderWins() RandSource { return &sequenceRand{vals: []float64{0, 0.999999}} }

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Dispatch(n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]notify.Kind, 0, len(r.sent))
	for _, n := range r.sent {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

type recordingExpiry struct {
	mu     sync.Mutex
	zoneAt map[string]time.Time
}

func (r *recordingExpiry) ScheduleExpiry(zoneID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.zoneAt == nil {
		r.zoneAt = make(map[string]time.Time)
	}
	r.zoneAt[zoneID] = at
}

func testGameConfig() config.GameConfig {
	return config.GameConfig{
		CaptureRadiusMeters: 20,
		ZoneLifetime:        24 * time.Hour,
		AttackCooldown:      30 * time.Minute,
		XPPerLevel:          100,
		DefaultZoneXP:       10,
		DefenderBonus:       20,
		BattleVariance:      0.2,
		GridSizeDegrees:     0.001,
		NearbyRadiusMeters:  1000,
		NearbyMaxMeters:     5000,
	}
}

type fixture struct {
	ctx         context.Context
	store       *store.MemoryStore
	clock       *fakeClock
	zones       *ZoneService
	attacks     *AttackService
	leaderboard *LeaderboardService
	notifier    *recordingNotifier
	expiry      *recordingExpiry
}

func newFixture(t *testing.T, rnd RandSource) *fixture {
	t.Helper()

	st := store.NewMemoryStore()
	clock := newFakeClock()
	notifier := &recordingNotifier{}
	expiry := &recordingExpiry{}

	zones := NewZoneService(st, NewZoneLocker(0), clock, testGameConfig())
	zones.SetExpiryScheduler(expiry)

	return &fixture{
		ctx:         context.Background(),
		store:       st,
		clock:       clock,
		zones:       zones,
		attacks:     NewAttackService(zones, NewBattleResolver(0.2, rnd), notifier),
		leaderboard: NewLeaderboardService(st, clock, 1000, 100),
		notifier:    notifier,
		expiry:      expiry,
	}
}

// player creates a player with the given level
func (f *fixture) player(t *testing.T, id string, level int) {
	t.Helper()
	_, err := f.store.EnsurePlayer(f.ctx, id, id)
	require.NoError(t, err)
	if level > 1 {
		_, err = f.store.AddExperience(f.ctx, id, int64(level-1)*100)
		require.NoError(t, err)
		_, err = f.store.UpdateProgress(f.ctx, id, store.ProgressUpdate{Level: level})
		require.NoError(t, err)
	}
}
