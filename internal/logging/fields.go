package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RouteFields 提供路由名/类型/命中状态字段，供边缘代理日志复用。
func RouteFields(route, kind, path string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"route":     route,
		"kind":      kind,
		"path":      path,
		"cache_hit": cacheHit,
	}
}

// DispatchFields 描述客户端层一次请求的分类与结果。
func DispatchFields(version, class, url, outcome string) logrus.Fields {
	return logrus.Fields{
		"version": version,
		"class":   class,
		"url":     url,
		"outcome": outcome,
	}
}
