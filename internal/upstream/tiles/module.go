// Package tiles 描述瓦片图像后端的默认策略：前缀匹配、HEAD 降级、伪装浏览器来源。
package tiles

import (
	"time"

	"github.com/currents-hub/currents/internal/upstream"
)

const tilesDefaultTTL = 24 * time.Hour

// 瓦片后端会校验 Referer/User-Agent 且不支持 HEAD，URL 中已包含模型时次，可长期缓存。
func init() {
	upstream.MustRegister(upstream.KindMetadata{
		Key:         "tiles",
		Description: "Forecast tile imagery backend (referer-checked, GET only)",
		Profile: upstream.Profile{
			Match:             upstream.MatchPrefix,
			HeadAsGet:         true,
			CacheControl:      "public, max-age=86400",
			EdgeTTL:           tilesDefaultTTL,
			CacheEverything:   true,
			FailureMode:       upstream.FailureText,
			SameOriginReferer: true,
			Headers: map[string]string{
				"User-Agent": "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36",
				"Accept":     "image/avif,image/webp,image/png,image/*;q=0.8,*/*;q=0.5",
			},
		},
	})
}
