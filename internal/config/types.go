package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// 支持的日志格式。
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// StoreFailureMode 决定回源成功但写缓存失败时的处理方式。
type StoreFailureMode string

const (
	// StoreFailureBestEffort 写缓存失败只记录日志，仍把本次回源内容返回给客户端。
	StoreFailureBestEffort StoreFailureMode = "best-effort"
	// StoreFailureFailClosed 写缓存失败视为内部错误，返回 500。
	StoreFailureFailClosed StoreFailureMode = "fail-closed"
)

// DedupeMode 描述冷缓存并发回源时的去重方式。
type DedupeMode string

const (
	DedupeNone   DedupeMode = "none"
	DedupeMemory DedupeMode = "memory"
	DedupeFSLock DedupeMode = "fslock"
)

// 支持的存储后端。
const (
	BackendFS    = "fs"
	BackendBolt  = "bolt"
	BackendS3    = "s3"
	BackendGCS   = "gcs"
	BackendRedis = "redis"
)

// GlobalConfig 描述全局运行时行为，所有 Site 共享同一份参数。
type GlobalConfig struct {
	ListenPort       int              `mapstructure:"ListenPort"`
	LogLevel         string           `mapstructure:"LogLevel"`
	LogFormat        string           `mapstructure:"LogFormat"`
	LogFilePath      string           `mapstructure:"LogFilePath"`
	LogMaxSize       int              `mapstructure:"LogMaxSize"`
	LogMaxBackups    int              `mapstructure:"LogMaxBackups"`
	LogCompress      bool             `mapstructure:"LogCompress"`
	UpstreamTimeout  Duration         `mapstructure:"UpstreamTimeout"`
	MaxObjectSize    int64            `mapstructure:"MaxObjectSize"`
	StoreFailureMode StoreFailureMode `mapstructure:"StoreFailureMode"`
	Dedupe           DedupeMode       `mapstructure:"Dedupe"`
	DedupeLockDir    string           `mapstructure:"DedupeLockDir"`
}

// StoreConfig 选择持久化后端并携带各后端所需参数，未使用的字段会被忽略。
type StoreConfig struct {
	Backend string `mapstructure:"Backend"`
	// Path 是 fs 后端的根目录，或 bolt 后端的数据库文件。
	Path string `mapstructure:"Path"`

	Bucket          string `mapstructure:"Bucket"`
	Prefix          string `mapstructure:"Prefix"`
	Region          string `mapstructure:"Region"`
	Endpoint        string `mapstructure:"Endpoint"`
	UsePathStyle    bool   `mapstructure:"UsePathStyle"`
	AccessKeyID     string `mapstructure:"AccessKeyID"`
	SecretAccessKey string `mapstructure:"SecretAccessKey"`
	CredentialsFile string `mapstructure:"CredentialsFile"`

	RedisAddr     string `mapstructure:"RedisAddr"`
	RedisPassword string `mapstructure:"RedisPassword"`
	RedisDB       int    `mapstructure:"RedisDB"`

	// FaultRate 在 0-1 之间时按比例注入存储错误，用于演练。
	FaultRate float64 `mapstructure:"FaultRate"`
}

// SiteConfig 决定一个 Host 如何映射到上游图片源。
type SiteConfig struct {
	Name      string `mapstructure:"Name"`
	Domain    string `mapstructure:"Domain"`
	Origin    string `mapstructure:"Origin"`
	KeyPrefix string `mapstructure:"KeyPrefix"`
	Proxy     string `mapstructure:"Proxy"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Store  StoreConfig  `mapstructure:"Store"`
	Sites  []SiteConfig `mapstructure:"Site"`
}

// IsDefault 表示该 Site 未绑定域名，作为兜底路由。
func (s SiteConfig) IsDefault() bool {
	return strings.TrimSpace(s.Domain) == ""
}

// SiteSummaries 返回 name=origin 形式的摘要，供启动日志使用。
func SiteSummaries(sites []SiteConfig) []string {
	if len(sites) == 0 {
		return nil
	}
	result := make([]string, len(sites))
	for i, site := range sites {
		domain := site.Domain
		if site.IsDefault() {
			domain = "*"
		}
		result[i] = fmt.Sprintf("%s:%s=%s", site.Name, domain, site.Origin)
	}
	return result
}
