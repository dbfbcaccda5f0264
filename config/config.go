package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address             string `mapstructure:"address"`
	AllowedOrigins      string `mapstructure:"allowed_origins"`
	GatewayToken        string `mapstructure:"gateway_token"`
	AttackRatePerMinute int    `mapstructure:"attack_rate_per_minute"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres or memory
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// GameConfig holds the gameplay constants
type GameConfig struct {
	CaptureRadiusMeters float64       `mapstructure:"capture_radius_meters"`
	ZoneLifetime        time.Duration `mapstructure:"zone_lifetime"`
	AttackCooldown      time.Duration `mapstructure:"attack_cooldown"`
	XPPerLevel          int64         `mapstructure:"xp_per_level"`
	DefaultZoneXP       int64         `mapstructure:"default_zone_xp"`
	DefenderBonus       int64         `mapstructure:"defender_bonus"`
	BattleVariance      float64       `mapstructure:"battle_variance"`
	GridSizeDegrees     float64       `mapstructure:"grid_size_degrees"`
	NearbyRadiusMeters  float64       `mapstructure:"nearby_radius_meters"`
	NearbyMaxMeters     float64       `mapstructure:"nearby_max_meters"`
}

// LeaderboardConfig holds ranking and scheduling configuration
type LeaderboardConfig struct {
	TopN                int           `mapstructure:"top_n"`
	SnapshotSize        int           `mapstructure:"snapshot_size"`
	RefreshInterval     time.Duration `mapstructure:"refresh_interval"`
	ExpirySweepInterval time.Duration `mapstructure:"expiry_sweep_interval"`
}

// NATSConfig holds NATS configuration for notification delivery.
// An empty URL means notifications are only logged.
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	ConnectionName string        `mapstructure:"connection_name"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
}

// NotifyConfig holds the notification worker pool configuration
type NotifyConfig struct {
	PoolSize  int `mapstructure:"pool_size"`
	QueueSize int `mapstructure:"queue_size"`
}

// SyncConfig holds the identity service sync configuration
type SyncConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	EndpointPath string        `mapstructure:"endpoint_path"`
	ServiceToken string        `mapstructure:"service_token"`
	Interval     time.Duration `mapstructure:"interval"`
}

// ArchiveConfig holds Cloudflare R2 configuration for leaderboard snapshot archiving
type ArchiveConfig struct {
	AccountID       string `mapstructure:"account_id"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	Bucket          string `mapstructure:"bucket"`
}

// Enabled reports whether snapshot archiving is configured
func (c ArchiveConfig) Enabled() bool {
	return c.AccountID != "" && c.Bucket != ""
}

// Config is the full service configuration
type Config struct {
	Debug       bool              `mapstructure:"debug"`
	SentryDSN   string            `mapstructure:"sentry_dsn"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Game        GameConfig        `mapstructure:"game"`
	Leaderboard LeaderboardConfig `mapstructure:"leaderboard"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
}

// Load loads configuration from an optional config file, an optional .env file
// and ZONES_* environment variables
func Load(configFile string, envPath string) (*Config, error) {
	v := configureViper(configFile, envPath)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// only the default search locations are optional
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the game rules cannot run with
func (c *Config) Validate() error {
	g := c.Game
	switch {
	case g.CaptureRadiusMeters <= 0:
		return errors.New("game.capture_radius_meters must be positive")
	case g.ZoneLifetime <= 0:
		return errors.New("game.zone_lifetime must be positive")
	case g.AttackCooldown <= 0:
		return errors.New("game.attack_cooldown must be positive")
	case g.XPPerLevel <= 0:
		return errors.New("game.xp_per_level must be positive")
	case g.BattleVariance < 0 || g.BattleVariance >= 1:
		return errors.New("game.battle_variance must be in [0, 1)")
	case g.GridSizeDegrees <= 0:
		return errors.New("game.grid_size_degrees must be positive")
	}
	if c.Server.GatewayToken == "" {
		return errors.New("server.gateway_token is required")
	}
	if c.Leaderboard.TopN <= 0 {
		return errors.New("leaderboard.top_n must be positive")
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("server.address", ":5200")
	v.SetDefault("server.allowed_origins", "http://localhost:3000")
	v.SetDefault("server.attack_rate_per_minute", 30)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("game.capture_radius_meters", 20)
	v.SetDefault("game.zone_lifetime", "24h")
	v.SetDefault("game.attack_cooldown", "30m")
	v.SetDefault("game.xp_per_level", 100)
	v.SetDefault("game.default_zone_xp", 10)
	v.SetDefault("game.defender_bonus", 20)
	v.SetDefault("game.battle_variance", 0.2)
	v.SetDefault("game.grid_size_degrees", 0.001)
	v.SetDefault("game.nearby_radius_meters", 1000)
	v.SetDefault("game.nearby_max_meters", 5000)

	v.SetDefault("leaderboard.top_n", 1000)
	v.SetDefault("leaderboard.snapshot_size", 100)
	v.SetDefault("leaderboard.refresh_interval", "4h")
	v.SetDefault("leaderboard.expiry_sweep_interval", "1h")

	v.SetDefault("nats.subject_prefix", "zones.notifications")
	v.SetDefault("nats.connection_name", "zone-contest-system")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")

	v.SetDefault("notify.pool_size", 8)
	v.SetDefault("notify.queue_size", 1024)

	v.SetDefault("sync.endpoint_path", "/api/v1/public/profiles")
	v.SetDefault("sync.interval", "1m")
}

// configureViper sets up viper with common configuration
func configureViper(configFile string, envPath string) *viper.Viper {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	v.SetEnvPrefix("ZONES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".zone-contest"))
		}
	}

	// AutomaticEnv only resolves keys viper already knows about, so every
	// key without a default has to be bound explicitly.
	for _, key := range []string{
		"sentry_dsn",
		"server.gateway_token",
		"database.url",
		"nats.url",
		"sync.base_url",
		"sync.service_token",
		"archive.account_id",
		"archive.access_key_id",
		"archive.access_key_secret",
		"archive.bucket",
	} {
		_ = v.BindEnv(key)
	}

	return v
}
