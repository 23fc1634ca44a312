package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/currents-hub/currents/internal/upstream"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if err := c.Global.validate(); err != nil {
		return err
	}
	if c.Client.configured() {
		if err := c.Client.validate(); err != nil {
			return err
		}
	}

	if len(c.Routes) == 0 && !c.Client.configured() {
		return errors.New("至少需要配置 Route 或 [Client]")
	}

	seenNames := map[string]struct{}{}
	seenPaths := map[string]struct{}{}
	catchAll := ""
	for i := range c.Routes {
		route := &c.Routes[i]
		if route.Name == "" {
			return newFieldError("Route[].Name", "不能为空")
		}
		if _, exists := seenNames[route.Name]; exists {
			return newFieldError(routeField(route.Name, "Name"), "重复")
		}
		seenNames[route.Name] = struct{}{}

		if route.Kind == "" {
			return newFieldError(routeField(route.Name, "Kind"), "不能为空")
		}
		if _, ok := upstream.Resolve(route.Kind); !ok {
			return newFieldError(routeField(route.Name, "Kind"), "仅支持 "+strings.Join(upstream.Keys(), "|"))
		}

		switch upstream.MatchKind(route.Match) {
		case upstream.MatchExact, upstream.MatchPrefix:
			if !strings.HasPrefix(route.Path, "/") {
				return newFieldError(routeField(route.Name, "Path"), "必须以 / 开头")
			}
		case upstream.MatchCatchAll:
			if catchAll != "" {
				return newFieldError(routeField(route.Name, "Match"), "catchall 已由 "+catchAll+" 声明")
			}
			catchAll = route.Name
		default:
			return newFieldError(routeField(route.Name, "Match"), "仅支持 exact/prefix/catchall")
		}

		pathKey := route.Match + ":" + route.Path
		if _, exists := seenPaths[pathKey]; exists && route.Match != string(upstream.MatchCatchAll) {
			return newFieldError(routeField(route.Name, "Path"), "与其它路由重复")
		}
		seenPaths[pathKey] = struct{}{}

		if route.FailureMode != "" {
			switch upstream.FailureMode(route.FailureMode) {
			case upstream.FailureText, upstream.FailureJSON:
			default:
				return newFieldError(routeField(route.Name, "FailureMode"), "仅支持 text/json")
			}
		}
		for _, rule := range route.CacheRules {
			if strings.TrimSpace(rule.Suffix) == "" || strings.TrimSpace(rule.CacheControl) == "" {
				return newFieldError(routeField(route.Name, "CacheRule"), "Suffix 与 CacheControl 均不能为空")
			}
		}
		if err := validateUpstream(route.Upstream); err != nil {
			return fmt.Errorf("%s: %w", routeField(route.Name, "Upstream"), err)
		}
	}

	return nil
}

// RequireRoutes 在 edge 模式启动前确认路由表非空。
func (c *Config) RequireRoutes() error {
	if len(c.Routes) == 0 {
		return newFieldError("Route", "edge 模式至少需要一个 Route")
	}
	return nil
}

// RequireClient 在 shell 模式启动前确认 [Client] 已配置。
func (c *Config) RequireClient() error {
	if !c.Client.configured() {
		return newFieldError("Client.Version", "shell 模式需要配置 [Client]")
	}
	return nil
}

func (c ClientConfig) configured() bool {
	return c.Version != "" || c.Origin != ""
}

func (g GlobalConfig) validate() error {
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	switch g.EdgeCacheBackend {
	case EdgeCacheDisk:
		if g.StoragePath == "" {
			return newFieldError("Global.StoragePath", "disk 缓存需要 StoragePath")
		}
	case EdgeCacheRedis:
		if strings.TrimSpace(g.RedisAddr) == "" {
			return newFieldError("Global.RedisAddr", "redis 缓存需要 RedisAddr")
		}
	case EdgeCacheOff:
	default:
		return newFieldError("Global.EdgeCacheBackend", "仅支持 disk/redis/off")
	}
	return nil
}

func (c ClientConfig) validate() error {
	if c.Version == "" {
		return newFieldError("Client.Version", "不能为空")
	}
	if strings.ContainsAny(c.Version, " /\x00") {
		return newFieldError("Client.Version", "不允许包含空格或 /")
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return newFieldError("Client.ListenPort", "必须在 1-65535")
	}
	if err := validateUpstream(c.Origin); err != nil {
		return fmt.Errorf("Client.Origin: %w", err)
	}
	if !strings.HasPrefix(c.ShellPath, "/") {
		return newFieldError("Client.ShellPath", "必须以 / 开头")
	}
	if strings.TrimSpace(c.TileSegment) == "" {
		return newFieldError("Client.TileSegment", "不能为空")
	}
	if c.TileRetention.DurationValue() <= 0 {
		return newFieldError("Client.TileRetention", "必须大于 0")
	}
	for _, prefix := range c.PassThroughPrefixes {
		if !strings.HasPrefix(prefix, "/") {
			return newFieldError("Client.PassThroughPrefixes", "必须以 / 开头: "+prefix)
		}
	}
	return nil
}

func validateUpstream(raw string) error {
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
	return nil
}
