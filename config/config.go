package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Security SecurityConfig `mapstructure:"security"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Quests   QuestsConfig   `mapstructure:"quests"`
}

type ServerConfig struct {
	Port  int  `mapstructure:"port"`
	Debug bool `mapstructure:"debug"`
	// AdminKeyHash is a bcrypt hash of the admin key; empty disables admin routes.
	AdminKeyHash string `mapstructure:"admin_key_hash"`
	// AdminIPs restricts admin routes to these addresses or CIDR ranges; empty allows any.
	AdminIPs []string `mapstructure:"admin_ips"`
	// CORSOrigins are browser origins allowed to call the API; empty disables CORS.
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Mode        string        `mapstructure:"mode"` // sqlite | mysql | postgres
	SQLitePath  string        `mapstructure:"sqlite_path"`
	MySQLDSN    string        `mapstructure:"mysql_dsn"`
	PostgresDSN string        `mapstructure:"postgres_dsn"`
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLife     time.Duration `mapstructure:"max_life"`
	// SlowThreshold is the duration above which a statement is logged.
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// IngestConfig controls the action-signal worker pool.
type IngestConfig struct {
	Workers   int    `mapstructure:"workers"`
	QueueSize int    `mapstructure:"queue_size"`
	Channel   string `mapstructure:"channel"` // PubSub channel carrying JSON signals; empty disables
	// MaxAmount drops any single signal above it; 0 disables the check.
	MaxAmount float64 `mapstructure:"max_amount"`
}

// QuestsConfig is the whole quest-engine option surface. Services receive it
// by value, so a reload is a rebuild.
type QuestsConfig struct {
	General    GeneralConfig    `mapstructure:"general"`
	Limits     LimitsConfig     `mapstructure:"limits"`
	Generation GenerationConfig `mapstructure:"generation"`
	Rewards    RewardsConfig    `mapstructure:"rewards"`
	Protection ProtectionConfig `mapstructure:"protection"`
	Ranks      RanksConfig      `mapstructure:"ranks"`
}

type GeneralConfig struct {
	NotifyOnProgress     bool          `mapstructure:"notify_on_progress"`
	NotifyMilestonesOnly bool          `mapstructure:"notify_milestones_only"`
	NotifyOnComplete     bool          `mapstructure:"notify_on_complete"`
	TimerCheckInterval   time.Duration `mapstructure:"timer_check_interval"`
	PoolRefreshInterval  time.Duration `mapstructure:"pool_refresh_interval"`
	RelogGracePeriod     time.Duration `mapstructure:"relog_grace_period"`
	RefreshLevel         int           `mapstructure:"refresh_level"`
}

type LimitsConfig struct {
	DailyPoolSize    int    `mapstructure:"daily_pool_size"`
	WeeklyPoolSize   int    `mapstructure:"weekly_pool_size"`
	MaxDailyActive   int    `mapstructure:"max_daily_active"`
	MaxWeeklyActive  int    `mapstructure:"max_weekly_active"`
	MaxAbandonPerDay int    `mapstructure:"max_abandon_per_day"`
	WeeklyResetDay   string `mapstructure:"weekly_reset_day"`
}

// QuestTemplate is one candidate quest shape. Ranges are inclusive.
type QuestTemplate struct {
	DailyMin        int    `mapstructure:"daily_min"`
	DailyMax        int    `mapstructure:"daily_max"`
	WeeklyMin       int    `mapstructure:"weekly_min"`
	WeeklyMax       int    `mapstructure:"weekly_max"`
	MinLevel        int    `mapstructure:"min_level"`
	AccessType      string `mapstructure:"access_type"` // individual | global_unique | limited_slots
	MaxSlots        int    `mapstructure:"max_slots"`
	DurationMinutes int    `mapstructure:"duration_minutes"`
	RequiredRank    string `mapstructure:"required_rank"`
	RankPoints      int    `mapstructure:"rank_points"`
}

type GenerationConfig struct {
	KillMobs          map[string]QuestTemplate `mapstructure:"kill_mobs"`
	MineOres          map[string]QuestTemplate `mapstructure:"mine_ores"`
	ChopWood          map[string]QuestTemplate `mapstructure:"chop_wood"`
	HarvestCrops      map[string]QuestTemplate `mapstructure:"harvest_crops"`
	EarnCoins         *QuestTemplate           `mapstructure:"earn_coins"`
	GainXP            *QuestTemplate           `mapstructure:"gain_xp"`
	LevelScalingPer10 float64                  `mapstructure:"level_scaling_per_10"`
}

type RewardsConfig struct {
	BaseDailyCoins  float64 `mapstructure:"base_daily_coins"`
	BaseWeeklyCoins float64 `mapstructure:"base_weekly_coins"`
	BaseDailyXP     int     `mapstructure:"base_daily_xp"`
	BaseWeeklyXP    int     `mapstructure:"base_weekly_xp"`
	// DifficultyUnits is the per-type amount worth one difficulty point.
	DifficultyUnits         map[string]float64 `mapstructure:"difficulty_units"`
	DifficultyStep          float64            `mapstructure:"difficulty_step"`
	MaxDifficultyMultiplier float64            `mapstructure:"max_difficulty_multiplier"`
	DifficultyMultipliers   map[string]float64 `mapstructure:"difficulty_multipliers"`
	LevelScalingFactor      float64            `mapstructure:"level_scaling_factor"`
	MaxLevelMultiplier      float64            `mapstructure:"max_level_multiplier"`
}

// LevelMultiplier returns 1 + level*factor, capped.
func (r RewardsConfig) LevelMultiplier(level int) float64 {
	m := 1.0 + float64(level)*r.LevelScalingFactor
	if r.MaxLevelMultiplier > 0 && m > r.MaxLevelMultiplier {
		return r.MaxLevelMultiplier
	}
	return m
}

type ProtectionConfig struct {
	PreventDuplicateTypes bool          `mapstructure:"prevent_duplicate_types"`
	AcceptCooldown        time.Duration `mapstructure:"accept_cooldown"`
}

type RankTierConfig struct {
	ID        string `mapstructure:"id"`
	Label     string `mapstructure:"label"`
	Threshold int    `mapstructure:"threshold"`
	Color     string `mapstructure:"color"`
}

type RanksConfig struct {
	Tiers            []RankTierConfig `mapstructure:"tiers"`
	BasePointsDaily  int              `mapstructure:"base_points_daily"`
	BasePointsWeekly int              `mapstructure:"base_points_weekly"`
	TierBonus        float64          `mapstructure:"tier_bonus"`
	PenalizeOnFail   bool             `mapstructure:"penalize_on_fail"`
	FailPenalty      int              `mapstructure:"fail_penalty"`
}

// DefaultRankTiers is the E..S guild ladder.
func DefaultRankTiers() []RankTierConfig {
	return []RankTierConfig{
		{ID: "E", Label: "Novice", Threshold: 0, Color: "#888888"},
		{ID: "D", Label: "Apprentice", Threshold: 100, Color: "#55ff55"},
		{ID: "C", Label: "Ranger", Threshold: 300, Color: "#55ccff"},
		{ID: "B", Label: "Veteran", Threshold: 700, Color: "#aa55ff"},
		{ID: "A", Label: "Elite", Threshold: 1500, Color: "#ffaa00"},
		{ID: "S", Label: "Legend", Threshold: 3000, Color: "#ff5555"},
	}
}

// DefaultQuests returns the built-in quest configuration. Load starts from
// it, so a partial YAML file only overrides what it names.
func DefaultQuests() QuestsConfig {
	return QuestsConfig{
		General: GeneralConfig{
			NotifyOnProgress:    true,
			NotifyOnComplete:    true,
			TimerCheckInterval:  10 * time.Second,
			PoolRefreshInterval: time.Minute,
			RelogGracePeriod:    60 * time.Second,
			RefreshLevel:        1,
		},
		Limits: LimitsConfig{
			DailyPoolSize:    6,
			WeeklyPoolSize:   3,
			MaxDailyActive:   3,
			MaxWeeklyActive:  1,
			MaxAbandonPerDay: 2,
			WeeklyResetDay:   "monday",
		},
		Generation: GenerationConfig{
			KillMobs: map[string]QuestTemplate{
				"zombie":   {DailyMin: 5, DailyMax: 15, WeeklyMin: 30, WeeklyMax: 80},
				"skeleton": {DailyMin: 5, DailyMax: 15, WeeklyMin: 30, WeeklyMax: 80},
				"trork":    {DailyMin: 3, DailyMax: 8, WeeklyMin: 15, WeeklyMax: 40, MinLevel: 10},
			},
			MineOres: map[string]QuestTemplate{
				"copper": {DailyMin: 10, DailyMax: 30, WeeklyMin: 60, WeeklyMax: 150},
				"iron":   {DailyMin: 8, DailyMax: 20, WeeklyMin: 40, WeeklyMax: 100, MinLevel: 5},
			},
			ChopWood: map[string]QuestTemplate{
				"oak": {DailyMin: 10, DailyMax: 40, WeeklyMin: 80, WeeklyMax: 200},
			},
			HarvestCrops: map[string]QuestTemplate{
				"wheat": {DailyMin: 10, DailyMax: 30, WeeklyMin: 60, WeeklyMax: 150},
			},
			EarnCoins:         &QuestTemplate{DailyMin: 100, DailyMax: 500, WeeklyMin: 50, WeeklyMax: 250},
			GainXP:            &QuestTemplate{DailyMin: 50, DailyMax: 200, WeeklyMin: 100, WeeklyMax: 500},
			LevelScalingPer10: 0.05,
		},
		Rewards: RewardsConfig{
			BaseDailyCoins:  50,
			BaseWeeklyCoins: 200,
			BaseDailyXP:     25,
			BaseWeeklyXP:    100,
			DifficultyUnits: map[string]float64{
				"kill_mob":     20,
				"mine_ore":     30,
				"chop_wood":    40,
				"harvest_crop": 30,
				"earn_coins":   1000,
				"gain_xp":      400,
			},
			DifficultyStep:          0.5,
			MaxDifficultyMultiplier: 4.0,
			DifficultyMultipliers:   map[string]float64{},
			LevelScalingFactor:      0.02,
			MaxLevelMultiplier:      3.0,
		},
		Protection: ProtectionConfig{
			PreventDuplicateTypes: true,
			AcceptCooldown:        time.Second,
		},
		Ranks: RanksConfig{
			Tiers:            DefaultRankTiers(),
			BasePointsDaily:  10,
			BasePointsWeekly: 40,
			TierBonus:        0.2,
			PenalizeOnFail:   true,
			FailPenalty:      15,
		},
	}
}

// Load reads config from the given YAML file path. A .env file next to the
// process is loaded first so QUESTS_* variables can override any key.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("QUESTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/quests.db")
	v.SetDefault("database.max_open", 50)
	v.SetDefault("database.max_idle", 10)
	v.SetDefault("database.max_life", "1h")
	v.SetDefault("database.slow_threshold", "200ms")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("security.token_ttl", "24h")
	v.SetDefault("security.rate_limit_rps", 20)
	v.SetDefault("security.rate_limit_burst", 40)
	v.SetDefault("ingest.workers", 8)
	v.SetDefault("ingest.queue_size", 1024)
	v.SetDefault("ingest.channel", "quests:actions")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{Quests: DefaultQuests()}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if len(cfg.Quests.Ranks.Tiers) == 0 {
		cfg.Quests.Ranks.Tiers = DefaultRankTiers()
	}
	return cfg, nil
}
