package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/currents-hub/currents/internal/upstream"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 边缘缓存后端。
const (
	EdgeCacheDisk  = "disk"
	EdgeCacheRedis = "redis"
	EdgeCacheOff   = "off"
)

// GlobalConfig 描述进程级运行参数，edge 与 shell 两种模式共享。
type GlobalConfig struct {
	ListenPort       int      `mapstructure:"ListenPort"`
	LogLevel         string   `mapstructure:"LogLevel"`
	LogFilePath      string   `mapstructure:"LogFilePath"`
	LogMaxSize       int      `mapstructure:"LogMaxSize"`
	LogMaxBackups    int      `mapstructure:"LogMaxBackups"`
	LogCompress      bool     `mapstructure:"LogCompress"`
	StoragePath      string   `mapstructure:"StoragePath"`
	UpstreamTimeout  Duration `mapstructure:"UpstreamTimeout"`
	EdgeCacheBackend string   `mapstructure:"EdgeCacheBackend"`
	RedisAddr        string   `mapstructure:"RedisAddr"`
	RedisDB          int      `mapstructure:"RedisDB"`
}

// ClientConfig 描述浏览器侧缓存层（shell 模式）的版本、源站与分类规则。
type ClientConfig struct {
	Version             string   `mapstructure:"Version"`
	ListenPort          int      `mapstructure:"ListenPort"`
	Origin              string   `mapstructure:"Origin"`
	ShellPath           string   `mapstructure:"ShellPath"`
	StaticAssets        []string `mapstructure:"StaticAssets"`
	TrustedHosts        []string `mapstructure:"TrustedHosts"`
	TileSegment         string   `mapstructure:"TileSegment"`
	PassThroughPrefixes []string `mapstructure:"PassThroughPrefixes"`
	TileRetention       Duration `mapstructure:"TileRetention"`
	PartitionPath       string   `mapstructure:"PartitionPath"`
	PrewarmCurrentData  bool     `mapstructure:"PrewarmCurrentData"`
	CurrentDataPrefix   string   `mapstructure:"CurrentDataPrefix"`
}

// CacheRuleConfig 按路径后缀覆盖对外的 Cache-Control。
type CacheRuleConfig struct {
	Suffix       string `mapstructure:"Suffix"`
	CacheControl string `mapstructure:"CacheControl"`
}

// RouteConfig 描述一条边缘路由；未填写的字段由 Kind 对应的预设补齐。
type RouteConfig struct {
	Name            string            `mapstructure:"Name"`
	Kind            string            `mapstructure:"Kind"`
	Path            string            `mapstructure:"Path"`
	Match           string            `mapstructure:"Match"`
	Upstream        string            `mapstructure:"Upstream"`
	Headers         map[string]string `mapstructure:"Headers"`
	CacheControl    string            `mapstructure:"CacheControl"`
	CacheRules      []CacheRuleConfig `mapstructure:"CacheRule"`
	EdgeTTL         Duration          `mapstructure:"EdgeTTL"`
	CacheEverything *bool             `mapstructure:"CacheEverything"`
	HeadAsGet       *bool             `mapstructure:"HeadAsGet"`
	FailureMode     string            `mapstructure:"FailureMode"`
}

// Config 是 TOML 文件映射的整体结构，启动时构建一次后只读传递给两层组件。
type Config struct {
	Global GlobalConfig  `mapstructure:",squash"`
	Client ClientConfig  `mapstructure:"Client"`
	Routes []RouteConfig `mapstructure:"Route"`
}

// TilePartition/StaticPartition 返回当前版本保留的两个分区名。
func (c ClientConfig) StaticPartition() string {
	return c.Version + "-static"
}

func (c ClientConfig) TilePartition() string {
	return c.Version + "-tiles"
}

// ProfileOverrides 将路由级配置映射为预设覆盖项。
func (r RouteConfig) ProfileOverrides() upstream.ProfileOverrides {
	opts := upstream.ProfileOverrides{
		Match:           upstream.MatchKind(r.Match),
		CacheControl:    strings.TrimSpace(r.CacheControl),
		EdgeTTL:         r.EdgeTTL.DurationValue(),
		CacheEverything: r.CacheEverything,
		HeadAsGet:       r.HeadAsGet,
		FailureMode:     upstream.FailureMode(r.FailureMode),
		Headers:         r.Headers,
	}
	for _, rule := range r.CacheRules {
		opts.CacheRules = append(opts.CacheRules, upstream.CacheRule{
			Suffix:       rule.Suffix,
			CacheControl: rule.CacheControl,
		})
	}
	return opts
}

// RouteSummaries 返回 name:kind:path 摘要，供启动日志使用。
func RouteSummaries(routes []RouteConfig) []string {
	if len(routes) == 0 {
		return nil
	}
	result := make([]string, len(routes))
	for i, route := range routes {
		result[i] = fmt.Sprintf("%s:%s:%s", route.Name, route.Kind, route.Path)
	}
	return result
}
