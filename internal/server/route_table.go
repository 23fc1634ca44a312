package server

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/currents-hub/currents/internal/config"
	"github.com/currents-hub/currents/internal/upstream"
)

// EdgeRoute 将路由配置与派生属性（预设策略、解析后的 Upstream URL）聚合在一起，
// 供路由/代理层直接复用，避免重复解析配置。
type EdgeRoute struct {
	// Config 是用户在 config.toml 中声明的 Route 字段副本。
	Config config.RouteConfig
	// Kind/Profile 记录预设元数据与覆盖后的最终策略。
	Kind    upstream.KindMetadata
	Profile upstream.Profile
	// UpstreamURL 在构造路由表时提前解析完成。
	UpstreamURL *url.URL
}

// Name 返回路由名，便于日志与指标。
func (r *EdgeRoute) Name() string {
	if r == nil {
		return ""
	}
	return r.Config.Name
}

// Prefix 返回用于 404 提示的路径描述。
func (r *EdgeRoute) Prefix() string {
	switch r.Profile.Match {
	case upstream.MatchCatchAll:
		return "/*"
	case upstream.MatchPrefix:
		return r.Config.Path + "*"
	default:
		return r.Config.Path
	}
}

// Remainder 返回 requestPath 去掉匹配段后的剩余部分。
func (r *EdgeRoute) Remainder(requestPath string) string {
	switch r.Profile.Match {
	case upstream.MatchExact:
		return ""
	case upstream.MatchPrefix:
		return strings.TrimPrefix(requestPath, r.Config.Path)
	default:
		return requestPath
	}
}

// RouteTable 按 exact → prefix（最长优先）→ catchall 的固定顺序解析请求路径。
type RouteTable struct {
	exact    map[string]*EdgeRoute
	prefixes []*EdgeRoute
	catchAll *EdgeRoute
	ordered  []*EdgeRoute
}

// NewRouteTable 根据配置构建路由表。调用方应在启动阶段创建一次并复用。
func NewRouteTable(cfg *config.Config) (*RouteTable, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	table := &RouteTable{
		exact: make(map[string]*EdgeRoute, len(cfg.Routes)),
	}

	for _, routeCfg := range cfg.Routes {
		route, err := buildEdgeRoute(routeCfg)
		if err != nil {
			return nil, err
		}

		switch route.Profile.Match {
		case upstream.MatchExact:
			if _, exists := table.exact[route.Config.Path]; exists {
				return nil, fmt.Errorf("duplicate exact route for %s", route.Config.Path)
			}
			table.exact[route.Config.Path] = route
		case upstream.MatchPrefix:
			table.prefixes = append(table.prefixes, route)
		case upstream.MatchCatchAll:
			if table.catchAll != nil {
				return nil, fmt.Errorf("route %s: catchall already declared by %s", route.Config.Name, table.catchAll.Config.Name)
			}
			table.catchAll = route
		default:
			return nil, fmt.Errorf("route %s: unsupported match %q", route.Config.Name, route.Profile.Match)
		}
		table.ordered = append(table.ordered, route)
	}

	// 更长的前缀更具体，必须先于较短前缀求值。
	sort.SliceStable(table.prefixes, func(i, j int) bool {
		return len(table.prefixes[i].Config.Path) > len(table.prefixes[j].Config.Path)
	})

	return table, nil
}

// Lookup 根据请求路径查找 EdgeRoute。
func (t *RouteTable) Lookup(requestPath string) (*EdgeRoute, bool) {
	if t == nil {
		return nil, false
	}
	if route, ok := t.exact[requestPath]; ok {
		return route, true
	}
	for _, route := range t.prefixes {
		if strings.HasPrefix(requestPath, route.Config.Path) {
			return route, true
		}
	}
	if t.catchAll != nil {
		return t.catchAll, true
	}
	return nil, false
}

// List 返回当前注册的路由（按配置定义的顺序），用于诊断输出。
func (t *RouteTable) List() []EdgeRoute {
	if t == nil || len(t.ordered) == 0 {
		return nil
	}

	result := make([]EdgeRoute, len(t.ordered))
	for i, route := range t.ordered {
		result[i] = *route
	}
	return result
}

// Prefixes 按求值顺序返回所有可匹配的路径描述，用于 404 提示。
func (t *RouteTable) Prefixes() []string {
	if t == nil {
		return nil
	}
	exact := make([]string, 0, len(t.exact))
	for p := range t.exact {
		exact = append(exact, p)
	}
	sort.Strings(exact)

	result := append([]string(nil), exact...)
	for _, route := range t.prefixes {
		result = append(result, route.Prefix())
	}
	if t.catchAll != nil {
		result = append(result, t.catchAll.Prefix())
	}
	return result
}

func buildEdgeRoute(routeCfg config.RouteConfig) (*EdgeRoute, error) {
	meta, ok := upstream.Resolve(routeCfg.Kind)
	if !ok {
		return nil, fmt.Errorf("route %s: kind %s is not registered", routeCfg.Name, routeCfg.Kind)
	}

	upstreamURL, err := url.Parse(routeCfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream for route %s: %w", routeCfg.Name, err)
	}

	runtime := config.BuildRouteRuntime(routeCfg, meta)
	return &EdgeRoute{
		Config:      routeCfg,
		Kind:        runtime.Kind,
		Profile:     runtime.Profile,
		UpstreamURL: upstreamURL,
	}, nil
}
