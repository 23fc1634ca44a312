package routes

import (
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/currents-hub/currents/internal/metrics"
	"github.com/currents-hub/currents/internal/server"
	"github.com/currents-hub/currents/internal/upstream"
	"github.com/currents-hub/currents/internal/version"
)

// RegisterDiagnostics 暴露 /-/routes、/-/kinds、/-/metrics 与 /-/version 诊断接口。
func RegisterDiagnostics(app *fiber.App, table *server.RouteTable) {
	if app == nil || table == nil {
		return
	}

	app.Get("/-/routes", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"routes": encodeRoutes(table.List()),
			"order":  table.Prefixes(),
		})
	})

	app.Get("/-/kinds", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"kinds": encodeKinds(upstream.List())})
	})

	app.Get("/-/kinds/:key", func(c fiber.Ctx) error {
		key := strings.ToLower(strings.TrimSpace(c.Params("key")))
		meta, ok := upstream.Resolve(key)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "kind_not_found"})
		}
		return c.JSON(encodeKind(meta))
	})

	RegisterRuntime(app)
}

// RegisterRuntime 挂载 edge 与 shell 两种模式共用的 /-/metrics 与 /-/version。
func RegisterRuntime(app *fiber.App) {
	app.Get("/-/metrics", adaptor.HTTPHandler(metrics.Handler()))
	app.Get("/-/version", func(c fiber.Ctx) error {
		return c.JSON(version.Current())
	})
}

type profilePayload struct {
	Match           string            `json:"match"`
	HeadAsGet       bool              `json:"head_as_get"`
	CacheControl    string            `json:"cache_control"`
	CacheRules      []cacheRuleOutput `json:"cache_rules,omitempty"`
	EdgeTTLSeconds  int64             `json:"edge_ttl_seconds"`
	CacheEverything bool              `json:"cache_everything"`
	FailureMode     string            `json:"failure_mode"`
	SameOriginRef   bool              `json:"same_origin_referer"`
	HeaderOverrides []string          `json:"header_overrides,omitempty"`
}

type cacheRuleOutput struct {
	Suffix       string `json:"suffix"`
	CacheControl string `json:"cache_control"`
}

type routePayload struct {
	Name     string         `json:"name"`
	Kind     string         `json:"kind"`
	Path     string         `json:"path"`
	Upstream string         `json:"upstream"`
	Profile  profilePayload `json:"profile"`
}

type kindPayload struct {
	Key         string         `json:"key"`
	Description string         `json:"description"`
	Profile     profilePayload `json:"profile"`
}

func encodeRoutes(routes []server.EdgeRoute) []routePayload {
	if len(routes) == 0 {
		return nil
	}
	result := make([]routePayload, 0, len(routes))
	for _, route := range routes {
		result = append(result, routePayload{
			Name:     route.Config.Name,
			Kind:     route.Kind.Key,
			Path:     route.Config.Path,
			Upstream: route.UpstreamURL.String(),
			Profile:  encodeProfile(route.Profile),
		})
	}
	return result
}

func encodeKinds(kinds []upstream.KindMetadata) []kindPayload {
	if len(kinds) == 0 {
		return nil
	}
	sort.Slice(kinds, func(i, j int) bool {
		return kinds[i].Key < kinds[j].Key
	})
	result := make([]kindPayload, 0, len(kinds))
	for _, meta := range kinds {
		result = append(result, encodeKind(meta))
	}
	return result
}

func encodeKind(meta upstream.KindMetadata) kindPayload {
	return kindPayload{
		Key:         meta.Key,
		Description: meta.Description,
		Profile:     encodeProfile(meta.Profile),
	}
}

// encodeProfile 只输出被覆盖的头名，不回显头值。
func encodeProfile(p upstream.Profile) profilePayload {
	payload := profilePayload{
		Match:           string(p.Match),
		HeadAsGet:       p.HeadAsGet,
		CacheControl:    p.CacheControl,
		EdgeTTLSeconds:  int64(p.EdgeTTL / time.Second),
		CacheEverything: p.CacheEverything,
		FailureMode:     string(p.FailureMode),
		SameOriginRef:   p.SameOriginReferer,
	}
	for _, rule := range p.CacheRules {
		payload.CacheRules = append(payload.CacheRules, cacheRuleOutput{Suffix: rule.Suffix, CacheControl: rule.CacheControl})
	}
	for key := range p.Headers {
		payload.HeaderOverrides = append(payload.HeaderOverrides, key)
	}
	sort.Strings(payload.HeaderOverrides)
	return payload
}
