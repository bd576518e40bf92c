package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// CredentialSource 凭证来源
type CredentialSource interface {
	Get(key string) string
}

// CredentialChain 按优先级依次查询的凭证来源，第一个非空值生效
type CredentialChain []CredentialSource

// DefaultCredentialChain 环境变量优先，其次是本地密钥文件
func DefaultCredentialChain(keyFile string) CredentialChain {
	return CredentialChain{EnvSource{}, NewKeyFileSource(keyFile)}
}

// Lookup 查询 key，所有来源都为空时返回 defaultValue
func (c CredentialChain) Lookup(key, defaultValue string) string {
	for _, src := range c {
		if v := strings.TrimSpace(src.Get(key)); v != "" {
			return v
		}
	}
	return defaultValue
}

// EnvSource 进程环境变量
type EnvSource struct{}

func (EnvSource) Get(key string) string { return os.Getenv(key) }

// KeyFileSource .env 风格的 KEY=VALUE 文件（不会修改进程环境变量）
type KeyFileSource struct {
	values map[string]string
}

// NewKeyFileSource 读取密钥文件；文件不存在或无法解析时视为空来源
func NewKeyFileSource(path string) *KeyFileSource {
	src := &KeyFileSource{values: map[string]string{}}
	if path == "" {
		return src
	}
	if values, err := godotenv.Read(path); err == nil {
		src.values = values
	}
	return src
}

func (s *KeyFileSource) Get(key string) string { return s.values[key] }
