package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

var supportedBackends = map[string]struct{}{
	BackendFS:    {},
	BackendBolt:  {},
	BackendS3:    {},
	BackendGCS:   {},
	BackendRedis: {},
}

const supportedBackendList = "fs|bolt|s3|gcs|redis"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if err := c.Global.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}

	if len(c.Sites) == 0 {
		return errors.New("至少需要配置一个 Site")
	}

	seenNames := map[string]struct{}{}
	seenDomains := map[string]struct{}{}
	defaults := 0
	for i := range c.Sites {
		site := &c.Sites[i]
		if site.Name == "" {
			return newFieldError("Site[].Name", "不能为空")
		}
		if _, exists := seenNames[site.Name]; exists {
			return newFieldError(siteField(site.Name, "Name"), "重复")
		}
		seenNames[site.Name] = struct{}{}

		if site.IsDefault() {
			defaults++
			if defaults > 1 {
				return newFieldError(siteField(site.Name, "Domain"), "仅允许一个未绑定域名的默认 Site")
			}
		} else {
			if err := validateDomain(site.Domain); err != nil {
				return fmt.Errorf("%s: %w", siteField(site.Name, "Domain"), err)
			}
			if _, exists := seenDomains[site.Domain]; exists {
				return newFieldError(siteField(site.Name, "Domain"), "重复")
			}
			seenDomains[site.Domain] = struct{}{}
		}

		if err := validateOrigin(site.Origin); err != nil {
			return fmt.Errorf("%s: %w", siteField(site.Name, "Origin"), err)
		}
		if site.Proxy != "" {
			if err := validateOrigin(site.Proxy); err != nil {
				return fmt.Errorf("%s: %w", siteField(site.Name, "Proxy"), err)
			}
		}
	}

	return nil
}

func (g GlobalConfig) validate() error {
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.LogLevel != "" {
		if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
			return newFieldError("Global.LogLevel", "无法识别的日志级别")
		}
	}
	switch g.LogFormat {
	case "", LogFormatJSON, LogFormatText:
	default:
		return newFieldError("Global.LogFormat", "仅支持 json/text")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.MaxObjectSize <= 0 {
		return newFieldError("Global.MaxObjectSize", "必须大于 0")
	}
	switch g.StoreFailureMode {
	case StoreFailureBestEffort, StoreFailureFailClosed:
	default:
		return newFieldError("Global.StoreFailureMode", "仅支持 best-effort/fail-closed")
	}
	switch g.Dedupe {
	case DedupeNone, DedupeMemory, DedupeFSLock:
	default:
		return newFieldError("Global.Dedupe", "仅支持 none/memory/fslock")
	}
	return nil
}

func (s StoreConfig) validate() error {
	if _, ok := supportedBackends[s.Backend]; !ok {
		return newFieldError("Store.Backend", "仅支持 "+supportedBackendList)
	}
	switch s.Backend {
	case BackendFS, BackendBolt:
		if strings.TrimSpace(s.Path) == "" {
			return newFieldError("Store.Path", "不能为空")
		}
	case BackendS3, BackendGCS:
		if strings.TrimSpace(s.Bucket) == "" {
			return newFieldError("Store.Bucket", "不能为空")
		}
		if s.Endpoint != "" {
			if err := validateOrigin(s.Endpoint); err != nil {
				return fmt.Errorf("Store.Endpoint: %w", err)
			}
		}
		if (s.AccessKeyID == "") != (s.SecretAccessKey == "") {
			return newFieldError("Store.AccessKeyID/SecretAccessKey", "必须同时提供或同时留空")
		}
	case BackendRedis:
		if strings.TrimSpace(s.RedisAddr) == "" {
			return newFieldError("Store.RedisAddr", "不能为空")
		}
	}
	if s.FaultRate < 0 || s.FaultRate > 1 {
		return newFieldError("Store.FaultRate", "必须在 0-1 之间")
	}
	return nil
}

func validateDomain(domain string) error {
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return fmt.Errorf("上游不应包含查询串: %s", raw)
	}
	return nil
}
