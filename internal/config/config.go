package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN renders the GORM postgres connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// KafkaConfig holds event broker settings.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// ChainConfig holds the registry origin and this validator's identity.
// SigningKeySeed is the hex-encoded ed25519 seed used to sign peer
// requests; Hotkey is the matching SS58 address.
type ChainConfig struct {
	RegistryAPIURL     string
	Hotkey             string
	SigningKeySeed     string
	MinValidatorStake  float64
	StorefrontPassword string
}

// SyncConfig holds peer synchronization settings.
type SyncConfig struct {
	Interval           time.Duration
	PageSize           int
	RespectPeerSync    bool
	PreflightMaxWait   time.Duration
	PreflightInterval  time.Duration
	HTTPTimeout        time.Duration
	SitesInterval      time.Duration
	CategoriesInterval time.Duration
	NodesInterval      time.Duration
}

// CouponConfig holds admission and lifecycle settings.
type CouponConfig struct {
	SubmitWindow             time.Duration
	ResubmitCooldown         time.Duration
	RecheckCooldown          time.Duration
	MaxCouponsPerMinerOnSite int
	DefaultTotalSlots        int
	ValidateInterval         time.Duration
	ValidateOutdatedInterval time.Duration
}

// WeightsConfig holds scoring settings.
type WeightsConfig struct {
	Interval        time.Duration
	DeltaPoints     time.Duration
	CouponWeight    float64
	ContainerWeight float64
}

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Kafka    KafkaConfig
	Chain    ChainConfig
	Sync     SyncConfig
	Coupon   CouponConfig
	Weights  WeightsConfig
}

// IsProduction reports whether the service runs in production mode.
// Authentication failures only carry diagnostic context outside it.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Load reads config.yaml and environment overrides (REGISTRY_ prefix,
// dots replaced by underscores) into a Config.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("REGISTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetString("server.port"),
			Env:  v.GetString("server.env"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.dbname"),
			SSLMode:  v.GetString("database.sslmode"),
		},
		Kafka: KafkaConfig{
			Brokers: v.GetStringSlice("kafka.brokers"),
			Topic:   v.GetString("kafka.topic"),
		},
		Chain: ChainConfig{
			RegistryAPIURL:     v.GetString("chain.registry_api_url"),
			Hotkey:             v.GetString("chain.hotkey"),
			SigningKeySeed:     v.GetString("chain.signing_key_seed"),
			MinValidatorStake:  v.GetFloat64("chain.min_validator_stake"),
			StorefrontPassword: v.GetString("chain.storefront_password"),
		},
		Sync: SyncConfig{
			Interval:           v.GetDuration("sync.interval"),
			PageSize:           v.GetInt("sync.page_size"),
			RespectPeerSync:    v.GetBool("sync.respect_peer_sync"),
			PreflightMaxWait:   v.GetDuration("sync.preflight_max_wait"),
			PreflightInterval:  v.GetDuration("sync.preflight_interval"),
			HTTPTimeout:        v.GetDuration("sync.http_timeout"),
			SitesInterval:      v.GetDuration("sync.sites_interval"),
			CategoriesInterval: v.GetDuration("sync.categories_interval"),
			NodesInterval:      v.GetDuration("sync.nodes_interval"),
		},
		Coupon: CouponConfig{
			SubmitWindow:             v.GetDuration("coupon.submit_window"),
			ResubmitCooldown:         v.GetDuration("coupon.resubmit_cooldown"),
			RecheckCooldown:          v.GetDuration("coupon.recheck_cooldown"),
			MaxCouponsPerMinerOnSite: v.GetInt("coupon.max_per_miner_per_site"),
			DefaultTotalSlots:        v.GetInt("coupon.default_total_slots"),
			ValidateInterval:         v.GetDuration("coupon.validate_interval"),
			ValidateOutdatedInterval: v.GetDuration("coupon.validate_outdated_interval"),
		},
		Weights: WeightsConfig{
			Interval:        v.GetDuration("weights.interval"),
			DeltaPoints:     v.GetDuration("weights.delta_points"),
			CouponWeight:    v.GetFloat64("weights.coupon_weight"),
			ContainerWeight: v.GetFloat64("weights.container_weight"),
		},
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.env", "development")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "registry")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "registry.events")

	v.SetDefault("chain.min_validator_stake", 1000.0)

	v.SetDefault("sync.interval", 2*time.Minute)
	v.SetDefault("sync.page_size", 100)
	v.SetDefault("sync.respect_peer_sync", true)
	v.SetDefault("sync.preflight_max_wait", 15*time.Second)
	v.SetDefault("sync.preflight_interval", 3*time.Second)
	v.SetDefault("sync.http_timeout", 10*time.Second)
	v.SetDefault("sync.sites_interval", 10*time.Minute)
	v.SetDefault("sync.categories_interval", 10*time.Minute)
	v.SetDefault("sync.nodes_interval", 5*time.Minute)

	v.SetDefault("coupon.submit_window", 2*time.Minute)
	v.SetDefault("coupon.resubmit_cooldown", 24*time.Hour)
	v.SetDefault("coupon.recheck_cooldown", 24*time.Hour)
	v.SetDefault("coupon.max_per_miner_per_site", 3)
	v.SetDefault("coupon.default_total_slots", 15)
	v.SetDefault("coupon.validate_interval", time.Minute)
	v.SetDefault("coupon.validate_outdated_interval", 24*time.Hour)

	v.SetDefault("weights.interval", time.Hour)
	v.SetDefault("weights.delta_points", 7*24*time.Hour)
	v.SetDefault("weights.coupon_weight", 0.8)
	v.SetDefault("weights.container_weight", 0.2)
}
