// Package magnitude 描述流速量值 API（/nvs/get_values）的默认策略。
package magnitude

import (
	"time"

	"github.com/currents-hub/currents/internal/upstream"
)

func init() {
	upstream.MustRegister(upstream.KindMetadata{
		Key:         "magnitude",
		Description: "Current magnitude point-value API",
		Profile: upstream.Profile{
			Match:        upstream.MatchExact,
			CacheControl: "public, max-age=300",
			EdgeTTL:      5 * time.Minute,
			FailureMode:  upstream.FailureJSON,
			Headers: map[string]string{
				"Accept": "application/json",
			},
		},
	})
}
