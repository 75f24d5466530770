package logging

import "github.com/sirupsen/logrus"

// BaseFields 是 CLI 入口日志的公共字段。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 描述一次图片请求落在哪个站点、哪个 key 上。
func RequestFields(site, domain, key string, cacheHit bool) logrus.Fields {
	if domain == "" {
		domain = "*"
	}
	return logrus.Fields{
		"site":      site,
		"domain":    domain,
		"key":       key,
		"cache_hit": cacheHit,
	}
}
