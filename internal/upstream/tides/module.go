// Package tides 描述潮汐预报 API（/noaa/tides）的默认策略。
package tides

import (
	"time"

	"github.com/currents-hub/currents/internal/upstream"
)

func init() {
	upstream.MustRegister(upstream.KindMetadata{
		Key:         "tides",
		Description: "Tide prediction API",
		Profile: upstream.Profile{
			Match:        upstream.MatchExact,
			CacheControl: "public, max-age=900",
			EdgeTTL:      15 * time.Minute,
			FailureMode:  upstream.FailureJSON,
			Headers: map[string]string{
				"Accept": "application/json",
			},
		},
	})
}
