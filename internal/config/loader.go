package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/currents-hub/currents/internal/upstream"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyClientDefaults(&cfg.Client)
	for i := range cfg.Routes {
		applyRouteDefaults(&cfg.Routes[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Global.StoragePath != "" {
		absStorage, err := filepath.Abs(cfg.Global.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Global.StoragePath = absStorage
	}
	if cfg.Client.PartitionPath != "" {
		absPartitions, err := filepath.Abs(cfg.Client.PartitionPath)
		if err != nil {
			return nil, fmt.Errorf("无法解析分区目录: %w", err)
		}
		cfg.Client.PartitionPath = absPartitions
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 8787)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("EdgeCacheBackend", EdgeCacheDisk)
	v.SetDefault("Client.ListenPort", 8788)
	v.SetDefault("Client.ShellPath", "/index.html")
	v.SetDefault("Client.TileSegment", "/tiles/")
	v.SetDefault("Client.PassThroughPrefixes", []string{"/nvs/", "/noaa/"})
	v.SetDefault("Client.TileRetention", "168h")
	v.SetDefault("Client.PartitionPath", "./partitions")
	v.SetDefault("Client.CurrentDataPrefix", "/current-data/")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 8787
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	g.EdgeCacheBackend = strings.ToLower(strings.TrimSpace(g.EdgeCacheBackend))
	if g.EdgeCacheBackend == "" {
		g.EdgeCacheBackend = EdgeCacheDisk
	}
}

func applyClientDefaults(c *ClientConfig) {
	c.Version = strings.TrimSpace(c.Version)
	c.Origin = strings.TrimRight(strings.TrimSpace(c.Origin), "/")
	if c.ListenPort == 0 {
		c.ListenPort = 8788
	}
	if c.ShellPath == "" {
		c.ShellPath = "/index.html"
	}
	if c.TileSegment == "" {
		c.TileSegment = "/tiles/"
	}
	if c.TileRetention.DurationValue() == 0 {
		c.TileRetention = Duration(7 * 24 * time.Hour)
	}
	if c.CurrentDataPrefix == "" {
		c.CurrentDataPrefix = "/current-data/"
	}
	for i, host := range c.TrustedHosts {
		c.TrustedHosts[i] = strings.ToLower(strings.TrimSpace(host))
	}
}

func applyRouteDefaults(r *RouteConfig) {
	r.Kind = strings.ToLower(strings.TrimSpace(r.Kind))
	r.Match = strings.ToLower(strings.TrimSpace(r.Match))
	r.FailureMode = strings.ToLower(strings.TrimSpace(r.FailureMode))
	r.Path = strings.TrimSpace(r.Path)
	if r.Match == "" {
		if meta, ok := upstream.Resolve(r.Kind); ok {
			r.Match = string(meta.Profile.Match)
		}
	}
	if r.EdgeTTL.DurationValue() < 0 {
		r.EdgeTTL = Duration(0)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
