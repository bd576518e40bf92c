package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestDatabaseConfig_GetDSN(t *testing.T) {
	c := DatabaseConfig{
		Host:            "db",
		Port:            5432,
		User:            "fleet",
		Password:        "p@ss word",
		Database:        "fleet",
		SSLMode:         "disable",
		ConnectTimeout:  5 * time.Second,
		ApplicationName: "fleet-telemetry",
	}
	dsn := c.GetDSN()

	for _, want := range []string{"host=db", "port=5432", "password='p@ss word'", "connect_timeout=5", "application_name=fleet-telemetry"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("Expected DSN to contain %q, got %q", want, dsn)
		}
	}
	if strings.Contains(c.Redacted(), "p@ss") {
		t.Errorf("Redacted DSN must not contain the password: %s", c.Redacted())
	}
}

func TestDatabaseConfig_Validate(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, Database: "fleet"}
	if err := c.Validate(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	c = DatabaseConfig{Port: 70000}
	err := c.Validate()
	if err == nil {
		t.Fatalf("Expected validation error")
	}
	if !strings.Contains(err.Error(), "host") || !strings.Contains(err.Error(), "port") {
		t.Errorf("Expected all problems reported, got %v", err)
	}
}

func TestLoadFromEnv_KeepsDefaultsOnInvalidValues(t *testing.T) {
	os.Clearenv()
	os.Setenv("DB_PORT", "not-a-number")
	os.Setenv("DB_HOST", "db.internal")
	os.Setenv("MQTT_QOS", "7")
	os.Setenv("REDIS_DIAL_TIMEOUT", "-1")

	db := DatabaseConfig{Host: "localhost", Port: 5432}
	db.LoadFromEnv("DB")
	if db.Host != "db.internal" {
		t.Errorf("Expected DB_HOST override, got '%s'", db.Host)
	}
	if db.Port != 5432 {
		t.Errorf("Expected port default kept, got %d", db.Port)
	}

	mq := MQTTConfig{QoS: 1}
	mq.LoadFromEnv("MQTT")
	if mq.QoS != 1 {
		t.Errorf("Expected out-of-range QoS ignored, got %d", mq.QoS)
	}

	rc := RedisConfig{DialTimeout: 3 * time.Second}
	rc.LoadFromEnv("REDIS")
	if rc.DialTimeout != 3*time.Second {
		t.Errorf("Expected dial timeout default kept, got %v", rc.DialTimeout)
	}
}
