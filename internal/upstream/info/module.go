// Package info 描述站点/要素信息 API（/eis-info/*）的默认策略。
package info

import (
	"time"

	"github.com/currents-hub/currents/internal/upstream"
)

func init() {
	upstream.MustRegister(upstream.KindMetadata{
		Key:         "info",
		Description: "Feature info API",
		Profile: upstream.Profile{
			Match:        upstream.MatchPrefix,
			CacheControl: "public, max-age=3600",
			EdgeTTL:      time.Hour,
			FailureMode:  upstream.FailureJSON,
		},
	})
}
