package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"zone-contest-system/geo"
	"zone-contest-system/models"
)

type cooldownKey struct {
	userID string
	zoneID string
}

// MemoryStore keeps all state in process. It backs single-instance deployments
// and tests. Transaction provides no rollback: writes are visible immediately.
type MemoryStore struct {
	mu sync.RWMutex

	zones       map[string]*models.Zone
	checkIns    []models.ZoneCheckIn
	cooldowns   map[cooldownKey]*models.AttackCooldown
	attacks     []models.Attack
	players     map[string]*models.Player
	leaderboard map[models.LeaderboardCategory][]models.LeaderboardEntry
	snapshots   []models.LeaderboardSnapshot

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		zones:       make(map[string]*models.Zone),
		cooldowns:   make(map[cooldownKey]*models.AttackCooldown),
		players:     make(map[string]*models.Player),
		leaderboard: make(map[models.LeaderboardCategory][]models.LeaderboardEntry),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return fn(m)
}

// LockKey is a no-op: a memory store only serves one process, where callers
// already hold the in-process zone lock
func (m *MemoryStore) LockKey(ctx context.Context, key string) error {
	return ctx.Err()
}

func cloneZone(z *models.Zone) *models.Zone {
	c := *z
	if z.OwnerID != nil {
		owner := *z.OwnerID
		c.OwnerID = &owner
	}
	if z.ClaimedAt != nil {
		t := *z.ClaimedAt
		c.ClaimedAt = &t
	}
	if z.ExpiresAt != nil {
		t := *z.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

func clonePlayer(p *models.Player) *models.Player {
	c := *p
	if p.PushToken != nil {
		token := *p.PushToken
		c.PushToken = &token
	}
	if p.IdentityUpdatedAt != nil {
		at := *p.IdentityUpdatedAt
		c.IdentityUpdatedAt = &at
	}
	return &c
}

func (m *MemoryStore) GetZone(ctx context.Context, id string) (*models.Zone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	z, ok := m.zones[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneZone(z), nil
}

func (m *MemoryStore) LockZone(ctx context.Context, id string) (*models.Zone, error) {
	return m.GetZone(ctx, id)
}

func (m *MemoryStore) GetOrCreateZone(ctx context.Context, zone *models.Zone) (*models.Zone, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.zones[zone.ID]; ok {
		return cloneZone(existing), false, nil
	}
	c := cloneZone(zone)
	now := m.now()
	c.CreatedAt = now
	c.UpdatedAt = now
	m.zones[zone.ID] = c
	return cloneZone(c), true, nil
}

func (m *MemoryStore) SaveZone(ctx context.Context, zone *models.Zone) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := cloneZone(zone)
	if existing, ok := m.zones[zone.ID]; ok {
		c.CreatedAt = existing.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now()
	}
	c.UpdatedAt = m.now()
	m.zones[zone.ID] = c
	return nil
}

func (m *MemoryStore) FindZonesNear(ctx context.Context, center geo.Point, radiusMeters float64) ([]models.Zone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Zone
	for _, z := range m.zones {
		if geo.DistanceMeters(center, z.Location()) <= radiusMeters {
			out = append(out, *cloneZone(z))
		}
	}
	sortZonesByDistance(out, center)
	return out, nil
}

func sortZonesByDistance(zones []models.Zone, center geo.Point) {
	sort.SliceStable(zones, func(i, j int) bool {
		di := geo.DistanceMeters(center, zones[i].Location())
		dj := geo.DistanceMeters(center, zones[j].Location())
		if di != dj {
			return di < dj
		}
		return zones[i].ID < zones[j].ID
	})
}

func (m *MemoryStore) ListActiveZonesByOwner(ctx context.Context, userID string, now time.Time) ([]models.Zone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Zone
	for _, z := range m.zones {
		if z.IsOwnedBy(userID) && z.IsActivelyClaimed(now) {
			out = append(out, *cloneZone(z))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) CountActiveZonesByOwner(ctx context.Context, userID string, now time.Time) (int64, error) {
	zones, err := m.ListActiveZonesByOwner(ctx, userID, now)
	if err != nil {
		return 0, err
	}
	return int64(len(zones)), nil
}

func (m *MemoryStore) ListExpiredZoneIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, z := range m.zones {
		if z.IsExpired(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *MemoryStore) CreateCheckIn(ctx context.Context, checkIn *models.ZoneCheckIn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if checkIn.CreatedAt.IsZero() {
		checkIn.CreatedAt = m.now()
	}
	m.checkIns = append(m.checkIns, *checkIn)
	return nil
}

func (m *MemoryStore) ListCheckIns(ctx context.Context, userID string, limit int) ([]models.ZoneCheckIn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.ZoneCheckIn
	for i := len(m.checkIns) - 1; i >= 0; i-- {
		if m.checkIns[i].UserID == userID {
			out = append(out, m.checkIns[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) GetCooldown(ctx context.Context, userID, zoneID string) (*models.AttackCooldown, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.cooldowns[cooldownKey{userID, zoneID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) UpsertCooldown(ctx context.Context, cooldown *models.AttackCooldown) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := cooldownKey{cooldown.UserID, cooldown.ZoneID}
	if existing, ok := m.cooldowns[key]; ok {
		existing.LastAttack = cooldown.LastAttack
		existing.CooldownUntil = cooldown.CooldownUntil
		cooldown.ID = existing.ID
		return nil
	}
	cp := *cooldown
	m.cooldowns[key] = &cp
	return nil
}

func (m *MemoryStore) ListActiveCooldowns(ctx context.Context, userID string, now time.Time) ([]models.AttackCooldown, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.AttackCooldown
	for key, c := range m.cooldowns {
		if key.userID == userID && c.IsOnCooldown(now) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CooldownUntil.Before(out[j].CooldownUntil) })
	return out, nil
}

func (m *MemoryStore) CreateAttack(ctx context.Context, attack *models.Attack) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if attack.CreatedAt.IsZero() {
		attack.CreatedAt = m.now()
	}
	m.attacks = append(m.attacks, *attack)
	return nil
}

func (m *MemoryStore) listAttacks(limit int, match func(a *models.Attack) bool) []models.Attack {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Attack
	for i := len(m.attacks) - 1; i >= 0; i-- {
		if match(&m.attacks[i]) {
			out = append(out, m.attacks[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out
}

func (m *MemoryStore) ListAttacksByAttacker(ctx context.Context, userID string, limit int) ([]models.Attack, error) {
	return m.listAttacks(limit, func(a *models.Attack) bool { return a.AttackerID == userID }), nil
}

func (m *MemoryStore) ListAttacksByDefender(ctx context.Context, userID string, limit int) ([]models.Attack, error) {
	return m.listAttacks(limit, func(a *models.Attack) bool {
		return a.DefenderID != nil && *a.DefenderID == userID
	}), nil
}

func (m *MemoryStore) GetAttackStats(ctx context.Context, userID string) (models.AttackStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats models.AttackStats
	for _, a := range m.attacks {
		if a.AttackerID == userID {
			stats.TotalAttacks++
			if a.Success {
				stats.SuccessfulAttacks++
			}
		}
		if a.DefenderID != nil && *a.DefenderID == userID {
			stats.TotalDefenses++
			if !a.Success {
				stats.SuccessfulDefenses++
			}
		}
	}
	return stats, nil
}

func (m *MemoryStore) GetPlayer(ctx context.Context, id string) (*models.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.players[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePlayer(p), nil
}

func (m *MemoryStore) EnsurePlayer(ctx context.Context, id, username string) (*models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.players[id]; ok {
		return clonePlayer(p), nil
	}
	if username == "" {
		username = id
	}
	now := m.now()
	p := &models.Player{
		ID:       id,
		Username: username,
		IsActive: true,
		Level:    1,
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	m.players[id] = p
	return clonePlayer(p), nil
}

func (m *MemoryStore) UpsertPlayerIdentity(ctx context.Context, player *models.Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if existing, ok := m.players[player.ID]; ok {
		existing.Username = player.Username
		existing.PushToken = clonePlayer(player).PushToken
		existing.IsActive = player.IsActive
		existing.IdentityUpdatedAt = clonePlayer(player).IdentityUpdatedAt
		existing.UpdatedAt = now
		return nil
	}
	p := clonePlayer(player)
	if p.Level < 1 {
		p.Level = 1
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	m.players[p.ID] = p
	return nil
}

func (m *MemoryStore) AddExperience(ctx context.Context, id string, delta int64) (*models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.players[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.Experience += delta
	p.UpdatedAt = m.now()
	return clonePlayer(p), nil
}

func (m *MemoryStore) UpdateProgress(ctx context.Context, id string, update ProgressUpdate) (*models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.players[id]
	if !ok {
		return nil, ErrNotFound
	}
	if update.Level > p.Level {
		p.Level = update.Level
	}
	p.ZonesOwned = update.ZonesOwned
	p.UpdatedAt = m.now()
	return clonePlayer(p), nil
}

func (m *MemoryStore) ListRankingRows(ctx context.Context) ([]models.RankingRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	successes := make(map[string]int64)
	for _, a := range m.attacks {
		if a.Success {
			successes[a.AttackerID]++
		}
	}

	var rows []models.RankingRow
	for _, p := range m.players {
		if !p.IsActive {
			continue
		}
		rows = append(rows, models.RankingRow{
			UserID:            p.ID,
			Username:          p.Username,
			Experience:        p.Experience,
			Level:             p.Level,
			ZonesOwned:        p.ZonesOwned,
			SuccessfulAttacks: successes[p.ID],
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].UserID < rows[j].UserID })
	return rows, nil
}

func (m *MemoryStore) CountActivePlayers(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, p := range m.players {
		if p.IsActive {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) LatestIdentityUpdate(ctx context.Context) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest time.Time
	for _, p := range m.players {
		if p.IdentityUpdatedAt != nil && p.IdentityUpdatedAt.After(latest) {
			latest = *p.IdentityUpdatedAt
		}
	}
	return latest, nil
}

func (m *MemoryStore) ReplaceLeaderboard(ctx context.Context, category models.LeaderboardCategory, entries []models.LeaderboardEntry) error {
	staged := make([]models.LeaderboardEntry, len(entries))
	copy(staged, entries)
	sort.SliceStable(staged, func(i, j int) bool {
		if staged[i].Rank != staged[j].Rank {
			return staged[i].Rank < staged[j].Rank
		}
		return staged[i].UserID < staged[j].UserID
	})

	m.mu.Lock()
	m.leaderboard[category] = staged
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetLeaderboardEntry(ctx context.Context, userID string, category models.LeaderboardCategory) (*models.LeaderboardEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.leaderboard[category] {
		if e.UserID == userID {
			cp := e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListLeaderboard(ctx context.Context, category models.LeaderboardCategory, limit int) ([]models.LeaderboardEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.leaderboard[category]
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]models.LeaderboardEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (m *MemoryStore) CreateSnapshot(ctx context.Context, snapshot *models.LeaderboardSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots = append(m.snapshots, *snapshot)
	return nil
}

func (m *MemoryStore) ListSnapshots(ctx context.Context, category models.LeaderboardCategory, limit int) ([]models.LeaderboardSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.LeaderboardSnapshot
	for i := len(m.snapshots) - 1; i >= 0; i-- {
		if m.snapshots[i].Category == category {
			out = append(out, m.snapshots[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) GetGlobalStats(ctx context.Context, now time.Time) (GlobalStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats GlobalStats
	for _, z := range m.zones {
		if z.IsActivelyClaimed(now) {
			stats.ClaimedZones++
		}
	}
	stats.TotalAttacks = int64(len(m.attacks))

	perZone := make(map[string]int)
	for _, a := range m.attacks {
		perZone[a.ZoneID]++
	}
	best := 0
	for zoneID, n := range perZone {
		if n > best || (n == best && zoneID < stats.MostAttackedZone) {
			best = n
			stats.MostAttackedZone = zoneID
		}
	}

	var top *models.Player
	for _, p := range m.players {
		if !p.IsActive {
			continue
		}
		stats.TotalPlayers++
		if top == nil || p.Experience > top.Experience || (p.Experience == top.Experience && p.ID < top.ID) {
			top = p
		}
	}
	if top != nil {
		stats.TopPlayer = top.Username
	}
	return stats, nil
}

var _ Store = (*MemoryStore)(nil)
