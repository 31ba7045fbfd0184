package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Security    SecurityConfig    `mapstructure:"security"`
	Relation    RelationConfig    `mapstructure:"relation"`
	Effects     EffectsConfig     `mapstructure:"effects"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Debug    bool   `mapstructure:"debug"`
	AdminKey string `mapstructure:"admin_key"`
}

type DatabaseConfig struct {
	Mode        string        `mapstructure:"mode"` // sqlite | mysql | postgres
	SQLitePath  string        `mapstructure:"sqlite_path"`
	MySQLDSN    string        `mapstructure:"mysql_dsn"`
	PostgresDSN string        `mapstructure:"postgres_dsn"`
	// ReplicaDSNs are read replicas of the primary, same dialect.
	ReplicaDSNs []string      `mapstructure:"replica_dsns"`
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLife     time.Duration `mapstructure:"max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
	PoolSize        int           `mapstructure:"pool_size"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// AllowedOrigins is echoed in Access-Control-Allow-Origin.
	// Empty means "*".
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RelationConfig tunes the relationship service.
type RelationConfig struct {
	// StoreTimeout bounds every store call made while handling an action.
	StoreTimeout time.Duration `mapstructure:"store_timeout"`
}

// EffectsConfig sizes the fire-and-forget side-effect dispatcher.
type EffectsConfig struct {
	Workers     int           `mapstructure:"workers"`
	QueueSize   int           `mapstructure:"queue_size"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

type MaintenanceConfig struct {
	Interval              time.Duration `mapstructure:"interval"`
	NotificationRetention time.Duration `mapstructure:"notification_retention"`
	AuditRetention        time.Duration `mapstructure:"audit_retention"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// AllowedIPs restricts /metrics; empty allows everyone.
	AllowedIPs []string `mapstructure:"allowed_ips"`
}

// Load reads config from the given YAML file path.
// Every key may be overridden from the environment, e.g.
// RELATIOND_SECURITY_JWT_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("relationd")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/relationd.db")
	v.SetDefault("database.max_open", 50)
	v.SetDefault("database.max_idle", 10)
	v.SetDefault("database.max_life", "1h")
	v.SetDefault("cache.key_prefix", "relationd:")
	v.SetDefault("cache.dial_timeout", "5s")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("relation.store_timeout", "3s")
	v.SetDefault("effects.workers", 4)
	v.SetDefault("effects.queue_size", 1024)
	v.SetDefault("effects.task_timeout", "5s")
	v.SetDefault("maintenance.interval", "1h")
	v.SetDefault("maintenance.notification_retention", "720h")
	v.SetDefault("maintenance.audit_retention", "2160h")
	v.SetDefault("metrics.enabled", true)
}
