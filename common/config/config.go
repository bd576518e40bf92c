package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConns        int
	MaxIdle         int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
	ApplicationName string
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// MQTTConfig MQTT配置（Broker 为空表示不启用）
type MQTTConfig struct {
	Broker    string
	ClientID  string
	Username  string
	Password  string
	QoS       byte
	KeepAlive time.Duration
}

// GetDSN 获取数据库连接字符串（lib/pq key=value 形式，值中的空格与引号会被转义）
func (c *DatabaseConfig) GetDSN() string {
	parts := []string{
		"host=" + dsnValue(c.Host),
		fmt.Sprintf("port=%d", c.Port),
		"user=" + dsnValue(c.User),
		"password=" + dsnValue(c.Password),
		"dbname=" + dsnValue(c.Database),
		"sslmode=" + dsnValue(c.SSLMode),
	}
	if c.ConnectTimeout > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", int(c.ConnectTimeout.Seconds())))
	}
	if c.ApplicationName != "" {
		parts = append(parts, "application_name="+dsnValue(c.ApplicationName))
	}
	return strings.Join(parts, " ")
}

func dsnValue(v string) string {
	if v == "" {
		return "''"
	}
	if !strings.ContainsAny(v, " '\\") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Redacted 日志用的连接描述（不含密码）
func (c *DatabaseConfig) Redacted() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.User(c.User),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	return u.String()
}

// Validate 检查必填项
func (c *DatabaseConfig) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("database host is empty"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("database port %d out of range", c.Port))
	}
	if c.Database == "" {
		errs = append(errs, errors.New("database name is empty"))
	}
	return errors.Join(errs...)
}

// LoadFromEnv 从 <prefix>_HOST / _PORT / _USER / _PASSWORD / _NAME / _SSLMODE / _MAX_CONNS / _MAX_IDLE 覆盖已有值
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	env := envReader(prefix)
	c.Host = env.getString("HOST", c.Host)
	c.Port = env.getInt("PORT", c.Port)
	c.User = env.getString("USER", c.User)
	c.Password = env.getString("PASSWORD", c.Password)
	c.Database = env.getString("NAME", c.Database)
	c.SSLMode = env.getString("SSLMODE", c.SSLMode)
	c.MaxConns = env.getInt("MAX_CONNS", c.MaxConns)
	c.MaxIdle = env.getInt("MAX_IDLE", c.MaxIdle)
	c.ConnMaxLifetime = env.getSeconds("CONN_MAX_LIFETIME", c.ConnMaxLifetime)
	c.ConnectTimeout = env.getSeconds("CONNECT_TIMEOUT", c.ConnectTimeout)
}

// LoadFromEnv 从 <prefix>_ADDR / _PASSWORD / _DB / _POOL_SIZE 覆盖已有值
func (c *RedisConfig) LoadFromEnv(prefix string) {
	env := envReader(prefix)
	c.Addr = env.getString("ADDR", c.Addr)
	c.Password = env.getString("PASSWORD", c.Password)
	c.DB = env.getInt("DB", c.DB)
	c.PoolSize = env.getInt("POOL_SIZE", c.PoolSize)
	c.DialTimeout = env.getSeconds("DIAL_TIMEOUT", c.DialTimeout)
}

// LoadFromEnv 从 <prefix>_BROKER / _CLIENT_ID / _USERNAME / _PASSWORD / _QOS 覆盖已有值
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	env := envReader(prefix)
	c.Broker = env.getString("BROKER", c.Broker)
	c.ClientID = env.getString("CLIENT_ID", c.ClientID)
	c.Username = env.getString("USERNAME", c.Username)
	c.Password = env.getString("PASSWORD", c.Password)
	if qos := env.getInt("QOS", int(c.QoS)); qos >= 0 && qos <= 2 {
		c.QoS = byte(qos)
	}
	c.KeepAlive = env.getSeconds("KEEPALIVE", c.KeepAlive)
}

// Enabled MQTT 是否已配置（Broker 为空时不连接）
func (c *MQTTConfig) Enabled() bool {
	return strings.TrimSpace(c.Broker) != ""
}

// envReader 读取带前缀的环境变量；未设置或无法解析时保留原值
type envReader string

func (p envReader) lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(string(p) + "_" + key))
	return v, v != ""
}

func (p envReader) getString(key, current string) string {
	if v, ok := p.lookup(key); ok {
		return v
	}
	return current
}

func (p envReader) getInt(key string, current int) int {
	if v, ok := p.lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return current
}

func (p envReader) getSeconds(key string, current time.Duration) time.Duration {
	if v, ok := p.lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return current
}
