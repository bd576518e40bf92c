package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"fleet-telemetry/internal/models"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()
	chdir(t, t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.Database.Host != "localhost" {
		t.Errorf("Expected DB_HOST default 'localhost', got '%s'", cfg.Database.Host)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("Expected DB_PORT default 5432, got %d", cfg.Database.Port)
	}
	if cfg.Database.Database != "fleet" {
		t.Errorf("Expected DB_NAME default 'fleet', got '%s'", cfg.Database.Database)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Expected REDIS_ADDR default 'localhost:6379', got '%s'", cfg.Redis.Addr)
	}
	if cfg.MQTT.Enabled() {
		t.Errorf("Expected MQTT disabled by default")
	}
	if cfg.Feed.ResultsLimit != 1000 {
		t.Errorf("Expected FEED_RESULTS_LIMIT default 1000, got %d", cfg.Feed.ResultsLimit)
	}
	if cfg.Feed.Timeout != 30*time.Second {
		t.Errorf("Expected FEED_TIMEOUT default 30s, got %v", cfg.Feed.Timeout)
	}
	if cfg.Sync.Interval != 60*time.Second {
		t.Errorf("Expected SYNC_INTERVAL default 60s, got %v", cfg.Sync.Interval)
	}
	if len(cfg.Sync.Kinds) != len(models.SyncableKinds) {
		t.Errorf("Expected all syncable kinds by default, got %v", cfg.Sync.Kinds)
	}
	if cfg.Sync.EventStream != "fleet:sync:events" {
		t.Errorf("Expected SYNC_EVENT_STREAM default 'fleet:sync:events', got '%s'", cfg.Sync.EventStream)
	}
	if cfg.Aggregation.CacheTTL != 60*time.Second {
		t.Errorf("Expected AGG_CACHE_TTL default 60s, got %v", cfg.Aggregation.CacheTTL)
	}
	if cfg.Aggregation.CorrelationWindow != 5*time.Minute {
		t.Errorf("Expected AGG_CORRELATION_WINDOW default 5m, got %v", cfg.Aggregation.CorrelationWindow)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Expected LOG_LEVEL default 'info', got '%s'", cfg.Log.Level)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Clearenv()
	chdir(t, t.TempDir())

	os.Setenv("DB_HOST", "db.internal")
	os.Setenv("DB_PORT", "6543")
	os.Setenv("FEED_BASE_URL", "https://feed.example.com")
	os.Setenv("FEED_SESSION_ID", "sess-1")
	os.Setenv("SYNC_KINDS", "LogRecord, StatusData")
	os.Setenv("SYNC_INTERVAL", "15")
	os.Setenv("AGG_CACHE_TTL", "0") // 非正数回退默认值
	os.Setenv("MQTT_BROKER", "tcp://broker:1883")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.Database.Host != "db.internal" {
		t.Errorf("Expected DB_HOST 'db.internal', got '%s'", cfg.Database.Host)
	}
	if cfg.Database.Port != 6543 {
		t.Errorf("Expected DB_PORT 6543, got %d", cfg.Database.Port)
	}
	if cfg.Feed.BaseURL != "https://feed.example.com" {
		t.Errorf("Expected FEED_BASE_URL from env, got '%s'", cfg.Feed.BaseURL)
	}
	if cfg.Feed.SessionID != "sess-1" {
		t.Errorf("Expected FEED_SESSION_ID 'sess-1', got '%s'", cfg.Feed.SessionID)
	}
	if len(cfg.Sync.Kinds) != 2 || cfg.Sync.Kinds[0] != models.EntityLogRecord || cfg.Sync.Kinds[1] != models.EntityStatusData {
		t.Errorf("Expected kinds [LogRecord StatusData], got %v", cfg.Sync.Kinds)
	}
	if cfg.Sync.Interval != 15*time.Second {
		t.Errorf("Expected SYNC_INTERVAL 15s, got %v", cfg.Sync.Interval)
	}
	if cfg.Aggregation.CacheTTL != 60*time.Second {
		t.Errorf("Expected AGG_CACHE_TTL fallback 60s, got %v", cfg.Aggregation.CacheTTL)
	}
	if !cfg.MQTT.Enabled() {
		t.Errorf("Expected MQTT enabled when MQTT_BROKER is set")
	}
}

func TestLoad_InvalidKind(t *testing.T) {
	os.Clearenv()
	chdir(t, t.TempDir())
	os.Setenv("SYNC_KINDS", "LogRecord,Trip")

	if _, err := Load(); err == nil {
		t.Errorf("Expected error for unknown entity kind")
	}
}

func TestCredentialChain_EnvBeatsKeyFile(t *testing.T) {
	os.Clearenv()
	dir := t.TempDir()
	keyFile := filepath.Join(dir, ".env")
	content := "FEED_USERNAME=file-user\nFEED_DATABASE=\"file-db\"\n# comment\nFEED_SESSION_ID=file-session\n"
	if err := os.WriteFile(keyFile, []byte(content), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	os.Setenv("FEED_USERNAME", "env-user")

	chain := DefaultCredentialChain(keyFile)

	if got := chain.Lookup("FEED_USERNAME", ""); got != "env-user" {
		t.Errorf("Expected env value to win, got '%s'", got)
	}
	if got := chain.Lookup("FEED_DATABASE", ""); got != "file-db" {
		t.Errorf("Expected key file value 'file-db', got '%s'", got)
	}
	if got := chain.Lookup("FEED_BASE_URL", "fallback"); got != "fallback" {
		t.Errorf("Expected default 'fallback', got '%s'", got)
	}
	// 密钥文件不会写入进程环境变量
	if os.Getenv("FEED_SESSION_ID") != "" {
		t.Errorf("Key file must not modify the process environment")
	}
}

func TestKeyFileSource_MissingFile(t *testing.T) {
	src := NewKeyFileSource(filepath.Join(t.TempDir(), "nope.env"))
	if got := src.Get("ANY"); got != "" {
		t.Errorf("Expected empty value for missing file, got '%s'", got)
	}
}

// chdir 切换工作目录并在测试结束时恢复（等价于 Go 1.24 的 t.Chdir）
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
