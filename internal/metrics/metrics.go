// Package metrics 汇总边缘路由与本地离线层的 Prometheus 指标。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "currents"

var (
	edgeRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edge_requests_total",
			Help:      "Edge requests by route, method and response status",
		},
		[]string{"route", "method", "status"},
	)

	edgeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "edge_request_duration_seconds",
			Help:      "Edge request latencies in seconds",
		},
		[]string{"route"},
	)

	edgeCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edge_cache_total",
			Help:      "Edge cache lookups and stores by route and result (hit, miss, store)",
		},
		[]string{"route", "result"},
	)

	upstreamFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_failures_total",
			Help:      "Upstream fetch failures by route",
		},
		[]string{"route"},
	)

	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_dispatch_total",
			Help:      "Client layer requests by class and outcome",
		},
		[]string{"class", "outcome"},
	)

	tilesPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_tiles_purged_total",
			Help:      "Tile entries removed from the tile partition",
		},
	)
)

func init() {
	prometheus.MustRegister(edgeRequests, edgeDuration, edgeCache, upstreamFailures, dispatches, tilesPurged)
}

// Cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheStore = "store"
)

// ObserveEdgeRequest records one edge request.
func ObserveEdgeRequest(route, method string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	edgeRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	edgeDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func EdgeCache(route, result string) {
	edgeCache.WithLabelValues(route, result).Inc()
}

func UpstreamFailure(route string) {
	upstreamFailures.WithLabelValues(route).Inc()
}

// Dispatch 记录客户端层一次分类处理的结果，outcome 例如 cache_hit、network、fallback。
func Dispatch(class, outcome string) {
	dispatches.WithLabelValues(class, outcome).Inc()
}

func TilesPurged(n int) {
	if n > 0 {
		tilesPurged.Add(float64(n))
	}
}

// Handler 暴露默认注册表。
func Handler() http.Handler {
	return promhttp.Handler()
}
