package config

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/currents-hub/currents/internal/upstream"
)

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.Global.UpstreamTimeout.DurationValue() != 20*time.Second {
		t.Fatalf("UpstreamTimeout 解析错误: %s", cfg.Global.UpstreamTimeout.DurationValue())
	}
	if !filepath.IsAbs(cfg.Global.StoragePath) {
		t.Fatalf("StoragePath 应转换为绝对路径: %s", cfg.Global.StoragePath)
	}
	if cfg.Client.ListenPort != 8788 {
		t.Fatalf("Client.ListenPort 默认值错误: %d", cfg.Client.ListenPort)
	}
	if cfg.Client.TileRetention.DurationValue() != 72*time.Hour {
		t.Fatalf("TileRetention 解析错误: %s", cfg.Client.TileRetention.DurationValue())
	}
	if cfg.Client.StaticPartition() != "v3-static" || cfg.Client.TilePartition() != "v3-tiles" {
		t.Fatalf("分区名错误: %s %s", cfg.Client.StaticPartition(), cfg.Client.TilePartition())
	}
	if len(cfg.Client.PassThroughPrefixes) != 2 {
		t.Fatalf("PassThroughPrefixes 默认值缺失: %v", cfg.Client.PassThroughPrefixes)
	}
	if len(cfg.Routes) != 5 {
		t.Fatalf("Route 数量错误: %d", len(cfg.Routes))
	}
	if cfg.Routes[1].Match != string(upstream.MatchExact) {
		t.Fatalf("magnitude 应默认 exact 匹配, got %s", cfg.Routes[1].Match)
	}
	if cfg.Routes[4].EdgeTTL.DurationValue() != time.Hour {
		t.Fatalf("整数秒 EdgeTTL 解析错误: %s", cfg.Routes[4].EdgeTTL.DurationValue())
	}
	if len(cfg.Routes[4].CacheRules) != 1 {
		t.Fatalf("CacheRule 未解析: %+v", cfg.Routes[4].CacheRules)
	}
}

func TestLoadMissingUpstream(t *testing.T) {
	_, err := Load(testConfigPath(t, "missing.toml"))
	if err == nil {
		t.Fatalf("缺少 Upstream 时应报错")
	}
	if !strings.Contains(err.Error(), "Route[tiles].Upstream") {
		t.Fatalf("错误信息应包含字段路径, got %v", err)
	}
}

func TestValidateRejectsUnknownKind(t *testing.T) {
	path := writeTempConfig(t, `
[[Route]]
Name = "x"
Kind = "ftp"
Path = "/x/"
Upstream = "https://x.example"
`)
	_, err := Load(path)
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "Route[x].Kind" {
		t.Fatalf("应返回 Kind 字段错误, got %v", err)
	}
}

func TestValidateRejectsDuplicatePaths(t *testing.T) {
	path := writeTempConfig(t, `
[[Route]]
Name = "a"
Kind = "info"
Path = "/eis-info/"
Upstream = "https://a.example"

[[Route]]
Name = "b"
Kind = "info"
Path = "/eis-info/"
Upstream = "https://b.example"
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "Route[b].Path") {
		t.Fatalf("重复路径应报错, got %v", err)
	}
}

func TestValidateSingleCatchAll(t *testing.T) {
	path := writeTempConfig(t, `
[[Route]]
Name = "a"
Kind = "info"
Match = "catchall"
Upstream = "https://a.example"

[[Route]]
Name = "b"
Kind = "info"
Match = "catchall"
Upstream = "https://b.example"
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "catchall") {
		t.Fatalf("多个 catchall 应报错, got %v", err)
	}
}

func TestValidateClientVersion(t *testing.T) {
	path := writeTempConfig(t, `
[Client]
Version = "v 1"
Origin = "https://currents.example"
`)
	_, err := Load(path)
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "Client.Version" {
		t.Fatalf("含空格的版本号应报错, got %v", err)
	}
}

func TestClientOnlyConfigRequiresRoutesForEdge(t *testing.T) {
	path := writeTempConfig(t, `
[Client]
Version = "v1"
Origin = "https://currents.example"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("仅 Client 的配置应可加载: %v", err)
	}
	if err := cfg.RequireClient(); err != nil {
		t.Fatalf("RequireClient 不应失败: %v", err)
	}
	if err := cfg.RequireRoutes(); err == nil {
		t.Fatalf("edge 模式缺少 Route 应报错")
	}
}

func TestRedisBackendRequiresAddr(t *testing.T) {
	path := writeTempConfig(t, `
EdgeCacheBackend = "redis"

[[Route]]
Name = "a"
Kind = "info"
Path = "/eis-info/"
Upstream = "https://a.example"
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "Global.RedisAddr") {
		t.Fatalf("redis 后端缺少地址应报错, got %v", err)
	}
}

func TestRouteRuntimeAppliesOverrides(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	bucket := cfg.Routes[4]
	meta, ok := upstream.Resolve(bucket.Kind)
	if !ok {
		t.Fatalf("bucket 预设未注册")
	}
	runtime := BuildRouteRuntime(bucket, meta)
	if runtime.Profile.EdgeTTL != time.Hour {
		t.Fatalf("EdgeTTL 覆盖未生效: %s", runtime.Profile.EdgeTTL)
	}
	if got := runtime.Profile.CacheDirective("/current-data/20261019_00z/manifest.json"); got != "public, max-age=31536000, immutable" {
		t.Fatalf("路由级 CacheRule 应生效, got %s", got)
	}
	if got := runtime.Profile.CacheDirective("/current-data/latest.json"); got != "public, max-age=300" {
		t.Fatalf("预设 CacheRule 应保留, got %s", got)
	}

	tiles := BuildRouteRuntime(cfg.Routes[0], mustResolve(t, "tiles"))
	if tiles.Profile.Headers["Referer"] != "https://viewer.backend.example/" {
		t.Fatalf("路由 Headers 应合并, got %v", tiles.Profile.Headers)
	}
	if !tiles.Profile.HeadAsGet {
		t.Fatalf("tiles 预设应启用 HeadAsGet")
	}
}

func mustResolve(t *testing.T, key string) upstream.KindMetadata {
	t.Helper()
	meta, ok := upstream.Resolve(key)
	if !ok {
		t.Fatalf("预设 %s 未注册", key)
	}
	return meta
}

func TestAsFieldErrorUnwrapsValidation(t *testing.T) {
	path := writeTempConfig(t, `
ListenPort = 8787
EdgeCacheBackend = "off"

[[Route]]
Name = "tiles"
Kind = "tiles"
Path = "tiles"
Upstream = "https://tiles.example/"
`)
	_, err := Load(path)
	fe, ok := AsFieldError(err)
	if !ok {
		t.Fatalf("期望 FieldError，得到 %v", err)
	}
	if fe.Field != "Route[tiles].Path" {
		t.Fatalf("字段路径错误: %s", fe.Field)
	}
	if _, ok := AsFieldError(errors.New("plain")); ok {
		t.Fatalf("普通错误不应被识别为 FieldError")
	}
}
