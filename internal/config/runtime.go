package config

import (
	"github.com/currents-hub/currents/internal/upstream"
)

// RouteRuntime 将路由配置与 Kind 预设合并，方便运行时快速取用策略。
type RouteRuntime struct {
	Config  RouteConfig
	Kind    upstream.KindMetadata
	Profile upstream.Profile
}

// BuildRouteRuntime 根据路由配置和预设元数据创建运行时描述，应用路由级覆盖。
func BuildRouteRuntime(cfg RouteConfig, meta upstream.KindMetadata) RouteRuntime {
	return RouteRuntime{
		Config:  cfg,
		Kind:    meta,
		Profile: upstream.ResolveProfile(meta, cfg.ProfileOverrides()),
	}
}
