package config

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Redis     RedisConfig
	Storage   StorageConfig   `mapstructure:"storage"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	ForceMigrate bool `mapstructure:"-"`
	MigrateOnly  bool `mapstructure:"-"`
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	ExpireTime time.Duration `mapstructure:"expire_hours"`
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type StorageConfig struct {
	Type          string `mapstructure:"type"`
	LocalPath     string `mapstructure:"local_path"`
	MinioEndpoint string `mapstructure:"minio_endpoint"`
	MinioAccessID string `mapstructure:"minio_access_key"`
	MinioSecret   string `mapstructure:"minio_secret_key"`
	MinioBucket   string `mapstructure:"minio_bucket"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

// SchedulerConfig 后台轮询引擎的周期与阈值。全部可配置，不允许硬编码散落在业务代码里。
type SchedulerConfig struct {
	EscalationIntervalSeconds int   `mapstructure:"escalation_interval_seconds"` // 事件升级轮询周期
	GenerationIntervalSeconds int   `mapstructure:"generation_interval_seconds"` // 排程补全轮询周期
	ReminderIntervalSeconds   int   `mapstructure:"reminder_interval_seconds"`   // 用药提醒轮询周期
	RetentionIntervalHours    int   `mapstructure:"retention_interval_hours"`    // 数据清理轮询周期
	TomorrowGateHour          int   `mapstructure:"tomorrow_gate_hour"`          // 明日排程的最早生成时刻
	RetentionRunHours         []int `mapstructure:"retention_run_hours"`         // 清理仅在这些整点执行

	EscalationAgeSeconds    int `mapstructure:"escalation_age_seconds"`    // 无人处理多久后升级
	EscalationDedupMinutes  int `mapstructure:"escalation_dedup_minutes"`  // 升级通知去重窗口
	ProgressReminderMinutes int `mapstructure:"progress_reminder_minutes"` // 处理中事件提醒阈值
	ProgressDedupMinutes    int `mapstructure:"progress_dedup_minutes"`    // 处理提醒去重窗口
	IncidentCleanupMinutes  int `mapstructure:"incident_cleanup_minutes"`  // 已完结事件通知清理延迟

	OverdueGraceMinutes      int `mapstructure:"overdue_grace_minutes"`      // 超时宽限
	UpcomingReminderMinutes  int `mapstructure:"upcoming_reminder_minutes"`  // 第一档提醒窗口
	ImmediateReminderMinutes int `mapstructure:"immediate_reminder_minutes"` // 第二档提醒窗口
	MaxRemindersPerDose      int `mapstructure:"max_reminders_per_dose"`

	LowStockThreshold      int `mapstructure:"low_stock_threshold"`
	ExpiryWarningDays      int `mapstructure:"expiry_warning_days"`
	ApprovedBackfillMinutes int `mapstructure:"approved_backfill_minutes"` // 新批准单据回填窗口
	RetentionDays          int `mapstructure:"retention_days"`
}

func (s SchedulerConfig) EscalationInterval() time.Duration {
	return time.Duration(s.EscalationIntervalSeconds) * time.Second
}

func (s SchedulerConfig) GenerationInterval() time.Duration {
	return time.Duration(s.GenerationIntervalSeconds) * time.Second
}

func (s SchedulerConfig) ReminderInterval() time.Duration {
	return time.Duration(s.ReminderIntervalSeconds) * time.Second
}

func (s SchedulerConfig) RetentionInterval() time.Duration {
	return time.Duration(s.RetentionIntervalHours) * time.Hour
}

func (s SchedulerConfig) OverdueGrace() time.Duration {
	return time.Duration(s.OverdueGraceMinutes) * time.Minute
}

// SchedulerHolder 调度阈值的发布点。热更新整体换掉指针，轮询循环
// 每次迭代开头 Load 一份快照，读写两侧都不加锁。
type SchedulerHolder struct {
	p atomic.Pointer[SchedulerConfig]
}

func NewSchedulerHolder(c SchedulerConfig) *SchedulerHolder {
	h := &SchedulerHolder{}
	h.p.Store(&c)
	return h
}

// Load 返回当前快照。返回值是共享的，调用方不得修改。
func (h *SchedulerHolder) Load() *SchedulerConfig {
	return h.p.Load()
}

// Store 发布新快照，下一次 Load 可见。
func (h *SchedulerHolder) Store(c SchedulerConfig) {
	h.p.Store(&c)
}

func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("SCHOOLMED")
	viper.AutomaticEnv()

	// Database
	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT
	viper.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	viper.BindEnv("server.mode", "SERVER_MODE")

	// Storage
	viper.BindEnv("storage.type", "STORAGE_TYPE")
	viper.BindEnv("storage.minio_endpoint", "MINIO_ENDPOINT")
	viper.BindEnv("storage.minio_access_key", "MINIO_ACCESS_KEY")
	viper.BindEnv("storage.minio_secret_key", "MINIO_SECRET_KEY")
	viper.BindEnv("storage.minio_bucket", "MINIO_BUCKET")

	// Tracing
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	setSchedulerDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.JWT.ExpireTime = cfg.JWT.ExpireTime * time.Hour

	// 生产环境校验 JWT Secret 强度
	if cfg.Server.Mode == "release" && len(cfg.JWT.Secret) < 32 {
		return nil, fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(cfg.JWT.Secret))
	}

	return &cfg, nil
}

func setSchedulerDefaults() {
	viper.SetDefault("scheduler.escalation_interval_seconds", 15)
	viper.SetDefault("scheduler.generation_interval_seconds", 30)
	viper.SetDefault("scheduler.reminder_interval_seconds", 60)
	viper.SetDefault("scheduler.retention_interval_hours", 6)
	viper.SetDefault("scheduler.tomorrow_gate_hour", 18)
	viper.SetDefault("scheduler.retention_run_hours", []int{2, 20})
	viper.SetDefault("scheduler.escalation_age_seconds", 30)
	viper.SetDefault("scheduler.escalation_dedup_minutes", 3)
	viper.SetDefault("scheduler.progress_reminder_minutes", 2)
	viper.SetDefault("scheduler.progress_dedup_minutes", 2)
	viper.SetDefault("scheduler.incident_cleanup_minutes", 5)
	viper.SetDefault("scheduler.overdue_grace_minutes", 60)
	viper.SetDefault("scheduler.upcoming_reminder_minutes", 5)
	viper.SetDefault("scheduler.immediate_reminder_minutes", 1)
	viper.SetDefault("scheduler.max_reminders_per_dose", 2)
	viper.SetDefault("scheduler.low_stock_threshold", 3)
	viper.SetDefault("scheduler.expiry_warning_days", 7)
	viper.SetDefault("scheduler.approved_backfill_minutes", 10)
	viper.SetDefault("scheduler.retention_days", 90)
}
