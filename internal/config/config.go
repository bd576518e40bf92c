package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"fleet-telemetry/common/config"
	"fleet-telemetry/internal/models"
)

// Config 车队遥测同步服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// 数据源配置
	Feed struct {
		BaseURL      string
		Path         string
		Database     string
		UserName     string
		SessionID    string
		ResultsLimit int           // 每页记录数，默认 1000
		Timeout      time.Duration // 单次请求超时，默认 30 秒
		RetryCount   int

		// 里程表诊断 id；为空时按名称查找包含 "odometer" 的诊断
		OdometerDiagnosticID string
	}

	// 同步配置
	Sync struct {
		Interval    time.Duration       // 轮询间隔，默认 60 秒
		LockTTL     time.Duration       // 跨进程单写锁 TTL，默认 5 分钟
		Kinds       []models.EntityKind // 参与同步的实体类型
		EventStream string              // 同步结果事件流，如 "fleet:sync:events"
		MaxBackoff  time.Duration       // 失败重试的最大退避时间
	}

	// 聚合配置
	Aggregation struct {
		CacheTTL          time.Duration // 结果缓存时间，默认 60 秒
		CorrelationWindow time.Duration // 事件定位窗口（±），默认 5 分钟
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
// 凭证字段按 CredentialChain 依次尝试环境变量和本地密钥文件。
func Load() (*Config, error) {
	cfg := &Config{}
	chain := DefaultCredentialChain(getEnv("FEED_CREDENTIALS_FILE", ".env"))

	cfg.Database = config.DatabaseConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        "fleet",
		SSLMode:         "disable",
		MaxConns:        10,
		MaxIdle:         5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnectTimeout:  10 * time.Second,
		ApplicationName: "fleet-telemetry",
	}
	cfg.Database.LoadFromEnv("DB")
	cfg.Database.Password = chain.Lookup("DB_PASSWORD", cfg.Database.Password)

	cfg.Redis = config.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	// MQTT 为空时不启用触发订阅
	cfg.MQTT = config.MQTTConfig{ClientID: "fleet-sync", QoS: 1, KeepAlive: 30 * time.Second}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Feed.BaseURL = chain.Lookup("FEED_BASE_URL", "")
	cfg.Feed.Path = getEnv("FEED_PATH", "/apiv1")
	cfg.Feed.Database = chain.Lookup("FEED_DATABASE", "")
	cfg.Feed.UserName = chain.Lookup("FEED_USERNAME", "")
	cfg.Feed.SessionID = chain.Lookup("FEED_SESSION_ID", "")
	cfg.Feed.ResultsLimit = getEnvInt("FEED_RESULTS_LIMIT", 1000)
	cfg.Feed.Timeout = getEnvSeconds("FEED_TIMEOUT", 30)
	cfg.Feed.RetryCount = getEnvInt("FEED_RETRY_COUNT", 2)
	cfg.Feed.OdometerDiagnosticID = getEnv("ODOMETER_DIAGNOSTIC_ID", "")

	cfg.Sync.Interval = getEnvSeconds("SYNC_INTERVAL", 60)
	cfg.Sync.LockTTL = getEnvSeconds("SYNC_LOCK_TTL", 300)
	cfg.Sync.EventStream = getEnv("SYNC_EVENT_STREAM", "fleet:sync:events")
	cfg.Sync.MaxBackoff = getEnvSeconds("SYNC_MAX_BACKOFF", 600)
	kinds, err := parseKinds(getEnv("SYNC_KINDS", ""))
	if err != nil {
		return nil, err
	}
	cfg.Sync.Kinds = kinds

	cfg.Aggregation.CacheTTL = getEnvSeconds("AGG_CACHE_TTL", 60)
	cfg.Aggregation.CorrelationWindow = getEnvSeconds("AGG_CORRELATION_WINDOW", 300)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// parseKinds 逗号分隔的实体类型列表，空字符串表示全部
func parseKinds(s string) ([]models.EntityKind, error) {
	if strings.TrimSpace(s) == "" {
		return append([]models.EntityKind(nil), models.SyncableKinds...), nil
	}
	var kinds []models.EntityKind
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, err := models.ParseEntityKind(part)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

// getEnvSeconds 以秒为单位的时长，非正数回退为默认值
func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil && v > 0 {
		return time.Duration(v) * time.Second
	}
	return time.Duration(defaultSeconds) * time.Second
}
