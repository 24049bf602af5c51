package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 origin/domain/缓存状态字段，供前端请求日志复用。
func RequestFields(origin, domain, authMode, cacheStatus string) logrus.Fields {
	return logrus.Fields{
		"origin":       origin,
		"domain":       domain,
		"auth_mode":    authMode,
		"cache_status": cacheStatus,
	}
}

// ReadFields 描述一次逻辑读取。
func ReadFields(url, identity string, offset, length int64) logrus.Fields {
	return logrus.Fields{
		"url":      url,
		"identity": identity,
		"offset":   offset,
		"length":   length,
	}
}
