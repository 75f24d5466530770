package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	defaultMaxObjectSize = 64 * 1024 * 1024
	envPrefix            = "IMGCACHE"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	// IMGCACHE_LISTENPORT、IMGCACHE_STORE_SECRETACCESSKEY 等环境变量覆盖文件中的同名字段。
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	registerKeys(v, "", reflect.TypeOf(Config{}))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyStoreDefaults(&cfg.Store)
	for i := range cfg.Sites {
		applySiteDefaults(&cfg.Sites[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Store.Path != "" {
		absPath, err := filepath.Abs(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("无法解析存储路径: %w", err)
		}
		cfg.Store.Path = absPath
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 8787)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", LogFormatJSON)
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("MaxObjectSize", defaultMaxObjectSize)
	v.SetDefault("StoreFailureMode", string(StoreFailureBestEffort))
	v.SetDefault("Dedupe", string(DedupeNone))
	v.SetDefault("Store.Backend", BackendFS)
	v.SetDefault("Store.Path", "./storage")
	v.SetDefault("Store.Region", "auto")
}

// registerKeys 为每个标量字段登记零值默认。viper 只对已知 key 应用环境变量，
// 登记后即使文件中省略该字段，IMGCACHE_<KEY> 也能生效。Site 列表只能来自文件。
func registerKeys(v *viper.Viper, prefix string, t reflect.Type) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name, opts, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if opts == "squash" {
			registerKeys(v, prefix, field.Type)
			continue
		}
		if name == "" {
			continue
		}
		switch field.Type.Kind() {
		case reflect.Slice, reflect.Map:
			continue
		case reflect.Struct:
			registerKeys(v, prefix+name+".", field.Type)
			continue
		}
		v.SetDefault(prefix+name, reflect.Zero(field.Type).Interface())
	}
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 8787
	}
	g.LogFormat = strings.ToLower(strings.TrimSpace(g.LogFormat))
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.MaxObjectSize == 0 {
		g.MaxObjectSize = defaultMaxObjectSize
	}
	g.StoreFailureMode = StoreFailureMode(strings.ToLower(strings.TrimSpace(string(g.StoreFailureMode))))
	if g.StoreFailureMode == "" {
		g.StoreFailureMode = StoreFailureBestEffort
	}
	g.Dedupe = DedupeMode(strings.ToLower(strings.TrimSpace(string(g.Dedupe))))
	if g.Dedupe == "" {
		g.Dedupe = DedupeNone
	}
}

func applyStoreDefaults(s *StoreConfig) {
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	if s.Backend == "" {
		s.Backend = BackendFS
	}
	if s.Region == "" {
		s.Region = "auto"
	}
}

func applySiteDefaults(s *SiteConfig) {
	s.Name = strings.TrimSpace(s.Name)
	s.Domain = strings.ToLower(strings.TrimSpace(s.Domain))
	s.Origin = strings.TrimRight(strings.TrimSpace(s.Origin), "/")
	s.KeyPrefix = strings.TrimLeft(strings.TrimSpace(s.KeyPrefix), "/")
}

// durationDecodeHook 让 Duration 字段同时接受 "30s" 形式的字符串与 TOML 数值（秒）。
func durationDecodeHook() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf(Duration(0))

	return func(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != target {
			return data, nil
		}

		var d Duration
		switch v := data.(type) {
		case string:
			if err := d.UnmarshalText([]byte(v)); err != nil {
				return nil, fmt.Errorf("无法解析 Duration 字段: %w", err)
			}
		case int:
			d = Duration(time.Duration(v) * time.Second)
		case int64:
			d = Duration(time.Duration(v) * time.Second)
		case float64:
			d = Duration(time.Duration(v * float64(time.Second)))
		case time.Duration:
			d = Duration(v)
		case Duration:
			d = v
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", data)
		}
		return d, nil
	}
}
