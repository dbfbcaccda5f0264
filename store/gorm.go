package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"zone-contest-system/config"
	"zone-contest-system/geo"
	"zone-contest-system/models"
)

// GormStore implements Store on PostgreSQL through gorm
type GormStore struct {
	DB *gorm.DB
}

// NewGormStore wraps an open gorm connection
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

// Open connects to PostgreSQL and configures the connection pool
func Open(cfg config.DatabaseConfig, debug bool) (*gorm.DB, error) {
	logLevel := gormlogger.Warn
	if debug {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(postgres.Open(cfg.URL), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(logLevel),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return db, nil
}

// AutoMigrate creates or updates every table the service owns
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Player{},
		&models.Zone{},
		&models.ZoneCheckIn{},
		&models.Attack{},
		&models.AttackCooldown{},
		&models.LeaderboardEntry{},
		&models.LeaderboardSnapshot{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{DB: tx})
	})
}

func (s *GormStore) GetZone(ctx context.Context, id string) (*models.Zone, error) {
	var z models.Zone
	if err := s.DB.WithContext(ctx).First(&z, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &z, nil
}

// LockKey takes a transaction-scoped advisory lock, so it shares the
// transaction's connection and needs no explicit unlock
func (s *GormStore) LockKey(ctx context.Context, key string) error {
	if err := s.DB.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error; err != nil {
		return fmt.Errorf("failed to acquire advisory lock %s: %w", key, err)
	}
	return nil
}

func (s *GormStore) LockZone(ctx context.Context, id string) (*models.Zone, error) {
	var z models.Zone
	if err := s.DB.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&z, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &z, nil
}

func (s *GormStore) GetOrCreateZone(ctx context.Context, zone *models.Zone) (*models.Zone, bool, error) {
	result := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(zone)
	if result.Error != nil {
		return nil, false, result.Error
	}

	stored, err := s.GetZone(ctx, zone.ID)
	if err != nil {
		return nil, false, err
	}
	return stored, result.RowsAffected == 1, nil
}

func (s *GormStore) SaveZone(ctx context.Context, zone *models.Zone) error {
	return s.DB.WithContext(ctx).Save(zone).Error
}

func (s *GormStore) FindZonesNear(ctx context.Context, center geo.Point, radiusMeters float64) ([]models.Zone, error) {
	minLat, maxLat, minLng, maxLng := geo.BoundingBox(center, radiusMeters)

	var candidates []models.Zone
	if err := s.DB.WithContext(ctx).
		Where("latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?", minLat, maxLat, minLng, maxLng).
		Find(&candidates).Error; err != nil {
		return nil, err
	}

	zones := candidates[:0]
	for _, z := range candidates {
		if geo.DistanceMeters(center, z.Location()) <= radiusMeters {
			zones = append(zones, z)
		}
	}
	sortZonesByDistance(zones, center)
	return zones, nil
}

func (s *GormStore) ListActiveZonesByOwner(ctx context.Context, userID string, now time.Time) ([]models.Zone, error) {
	var zones []models.Zone
	err := s.DB.WithContext(ctx).
		Where("owner_id = ? AND expires_at > ?", userID, now).
		Order("id").
		Find(&zones).Error
	return zones, err
}

func (s *GormStore) CountActiveZonesByOwner(ctx context.Context, userID string, now time.Time) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).
		Model(&models.Zone{}).
		Where("owner_id = ? AND expires_at > ?", userID, now).
		Count(&n).Error
	return n, err
}

func (s *GormStore) ListExpiredZoneIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	q := s.DB.WithContext(ctx).
		Model(&models.Zone{}).
		Where("owner_id IS NOT NULL AND (expires_at IS NULL OR expires_at <= ?)", now).
		Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Pluck("id", &ids).Error
	return ids, err
}

func (s *GormStore) CreateCheckIn(ctx context.Context, checkIn *models.ZoneCheckIn) error {
	return s.DB.WithContext(ctx).Create(checkIn).Error
}

func (s *GormStore) ListCheckIns(ctx context.Context, userID string, limit int) ([]models.ZoneCheckIn, error) {
	var checkIns []models.ZoneCheckIn
	err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&checkIns).Error
	return checkIns, err
}

func (s *GormStore) GetCooldown(ctx context.Context, userID, zoneID string) (*models.AttackCooldown, error) {
	var c models.AttackCooldown
	if err := s.DB.WithContext(ctx).
		Where("user_id = ? AND zone_id = ?", userID, zoneID).
		First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *GormStore) UpsertCooldown(ctx context.Context, cooldown *models.AttackCooldown) error {
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "zone_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_attack", "cooldown_until"}),
	}).Create(cooldown).Error
}

func (s *GormStore) ListActiveCooldowns(ctx context.Context, userID string, now time.Time) ([]models.AttackCooldown, error) {
	var cooldowns []models.AttackCooldown
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND cooldown_until > ?", userID, now).
		Order("cooldown_until").
		Find(&cooldowns).Error
	return cooldowns, err
}

func (s *GormStore) CreateAttack(ctx context.Context, attack *models.Attack) error {
	return s.DB.WithContext(ctx).Create(attack).Error
}

func (s *GormStore) ListAttacksByAttacker(ctx context.Context, userID string, limit int) ([]models.Attack, error) {
	var attacks []models.Attack
	err := s.DB.WithContext(ctx).
		Where("attacker_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&attacks).Error
	return attacks, err
}

func (s *GormStore) ListAttacksByDefender(ctx context.Context, userID string, limit int) ([]models.Attack, error) {
	var attacks []models.Attack
	err := s.DB.WithContext(ctx).
		Where("defender_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&attacks).Error
	return attacks, err
}

func (s *GormStore) GetAttackStats(ctx context.Context, userID string) (models.AttackStats, error) {
	var stats models.AttackStats
	err := s.DB.WithContext(ctx).Raw(`
		SELECT
			COUNT(*) FILTER (WHERE attacker_id = @user)                     AS total_attacks,
			COUNT(*) FILTER (WHERE attacker_id = @user AND success)         AS successful_attacks,
			COUNT(*) FILTER (WHERE defender_id = @user)                     AS total_defenses,
			COUNT(*) FILTER (WHERE defender_id = @user AND NOT success)     AS successful_defenses
		FROM attacks
		WHERE attacker_id = @user OR defender_id = @user
	`, sql.Named("user", userID)).Scan(&stats).Error
	return stats, err
}

func (s *GormStore) GetPlayer(ctx context.Context, id string) (*models.Player, error) {
	var p models.Player
	if err := s.DB.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *GormStore) EnsurePlayer(ctx context.Context, id, username string) (*models.Player, error) {
	if username == "" {
		username = id
	}
	p := models.Player{ID: id, Username: username, IsActive: true, Level: 1}
	if err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&p).Error; err != nil {
		return nil, err
	}
	return s.GetPlayer(ctx, id)
}

func (s *GormStore) UpsertPlayerIdentity(ctx context.Context, player *models.Player) error {
	if player.Level < 1 {
		player.Level = 1
	}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "push_token", "is_active", "identity_updated_at", "updated_at"}),
	}).Create(player).Error
}

func (s *GormStore) AddExperience(ctx context.Context, id string, delta int64) (*models.Player, error) {
	result := s.DB.WithContext(ctx).
		Model(&models.Player{}).
		Where("id = ?", id).
		Updates(map[string]any{"experience": gorm.Expr("experience + ?", delta)})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetPlayer(ctx, id)
}

func (s *GormStore) UpdateProgress(ctx context.Context, id string, update ProgressUpdate) (*models.Player, error) {
	result := s.DB.WithContext(ctx).
		Model(&models.Player{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"level":       gorm.Expr("GREATEST(level, ?)", update.Level),
			"zones_owned": update.ZonesOwned,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetPlayer(ctx, id)
}

func (s *GormStore) ListRankingRows(ctx context.Context) ([]models.RankingRow, error) {
	var rows []models.RankingRow
	err := s.DB.WithContext(ctx).Raw(`
		SELECT p.id AS user_id, p.username, p.experience, p.level, p.zones_owned,
		       COUNT(a.id) FILTER (WHERE a.success) AS successful_attacks
		FROM players p
		LEFT JOIN attacks a ON a.attacker_id = p.id
		WHERE p.is_active AND p.deleted_at IS NULL
		GROUP BY p.id
		ORDER BY p.id
	`).Scan(&rows).Error
	return rows, err
}

func (s *GormStore) CountActivePlayers(ctx context.Context) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.Player{}).Where("is_active").Count(&n).Error
	return n, err
}

func (s *GormStore) LatestIdentityUpdate(ctx context.Context) (time.Time, error) {
	var latest sql.NullTime
	row := s.DB.WithContext(ctx).Raw("SELECT MAX(identity_updated_at) FROM players WHERE deleted_at IS NULL").Row()
	if err := row.Scan(&latest); err != nil {
		return time.Time{}, err
	}
	if !latest.Valid {
		return time.Time{}, nil
	}
	return latest.Time, nil
}

// ReplaceLeaderboard swaps a category's cached rows inside one transaction, so
// readers see either the previous ranking or the new one, never a mix.
func (s *GormStore) ReplaceLeaderboard(ctx context.Context, category models.LeaderboardCategory, entries []models.LeaderboardEntry) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("category = ?", category).Delete(&models.LeaderboardEntry{}).Error; err != nil {
			return fmt.Errorf("failed to clear %s leaderboard: %w", category, err)
		}
		if len(entries) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(entries, 500).Error; err != nil {
			return fmt.Errorf("failed to write %s leaderboard: %w", category, err)
		}
		return nil
	})
}

func (s *GormStore) GetLeaderboardEntry(ctx context.Context, userID string, category models.LeaderboardCategory) (*models.LeaderboardEntry, error) {
	var e models.LeaderboardEntry
	if err := s.DB.WithContext(ctx).
		Where("user_id = ? AND category = ?", userID, category).
		First(&e).Error; err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (s *GormStore) ListLeaderboard(ctx context.Context, category models.LeaderboardCategory, limit int) ([]models.LeaderboardEntry, error) {
	var entries []models.LeaderboardEntry
	q := s.DB.WithContext(ctx).
		Where("category = ?", category).
		Order("rank ASC, user_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&entries).Error
	return entries, err
}

func (s *GormStore) CreateSnapshot(ctx context.Context, snapshot *models.LeaderboardSnapshot) error {
	return s.DB.WithContext(ctx).Create(snapshot).Error
}

func (s *GormStore) ListSnapshots(ctx context.Context, category models.LeaderboardCategory, limit int) ([]models.LeaderboardSnapshot, error) {
	var snapshots []models.LeaderboardSnapshot
	err := s.DB.WithContext(ctx).
		Where("category = ?", category).
		Order("snapshot_date DESC").
		Limit(limit).
		Find(&snapshots).Error
	return snapshots, err
}

func (s *GormStore) GetGlobalStats(ctx context.Context, now time.Time) (GlobalStats, error) {
	var stats GlobalStats
	db := s.DB.WithContext(ctx)

	if err := db.Model(&models.Player{}).Where("is_active").Count(&stats.TotalPlayers).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&models.Zone{}).
		Where("owner_id IS NOT NULL AND expires_at > ?", now).
		Count(&stats.ClaimedZones).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&models.Attack{}).Count(&stats.TotalAttacks).Error; err != nil {
		return stats, err
	}

	var zoneIDs []string
	if err := db.Model(&models.Attack{}).
		Select("zone_id").
		Group("zone_id").
		Order("COUNT(*) DESC, zone_id").
		Limit(1).
		Pluck("zone_id", &zoneIDs).Error; err != nil {
		return stats, err
	}
	if len(zoneIDs) > 0 {
		stats.MostAttackedZone = zoneIDs[0]
	}

	var usernames []string
	if err := db.Model(&models.Player{}).
		Where("is_active").
		Order("experience DESC, id").
		Limit(1).
		Pluck("username", &usernames).Error; err != nil {
		return stats, err
	}
	if len(usernames) > 0 {
		stats.TopPlayer = usernames[0]
	}
	return stats, nil
}

var _ Store = (*GormStore)(nil)
