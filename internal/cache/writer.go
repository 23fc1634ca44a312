package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/currents-hub/currents/internal/upstream"
)

// ErrStoreUnavailable 表示当前路由未注入缓存存储实例。
var ErrStoreUnavailable = errors.New("cache store unavailable")

// defaultCacheableExtensions 对应 CDN 默认按扩展名缓存的静态资源集合；
// CacheEverything 关闭时只有这些路径会进入边缘缓存。
var defaultCacheableExtensions = map[string]struct{}{
	".7z": {}, ".avif": {}, ".bin": {}, ".bmp": {}, ".css": {}, ".csv": {}, ".eot": {},
	".gif": {}, ".gz": {}, ".ico": {}, ".jpeg": {}, ".jpg": {}, ".js": {}, ".mp4": {},
	".otf": {}, ".pdf": {}, ".png": {}, ".svg": {}, ".svgz": {}, ".tar": {}, ".tif": {},
	".tiff": {}, ".ttf": {}, ".webm": {}, ".webp": {}, ".woff": {}, ".woff2": {}, ".zip": {},
	".zst": {},
}

// StrategyWriter 注入路由的缓存策略，提供 TTL 决策与写入封装。
type StrategyWriter struct {
	store   Store
	profile upstream.Profile
	now     func() time.Time
}

// NewStrategyWriter 构造策略感知的写入器，默认使用 time.Now 作为时钟。
func NewStrategyWriter(store Store, profile upstream.Profile) StrategyWriter {
	return StrategyWriter{
		store:   store,
		profile: profile,
		now:     time.Now,
	}
}

// Enabled 返回当前是否具备缓存读写能力；EdgeTTL 为 0 视为关闭。
func (w StrategyWriter) Enabled() bool {
	return w.store != nil && w.profile.EdgeTTL > 0
}

// Put 写入缓存正文，并附带策略 TTL。
func (w StrategyWriter) Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error) {
	if w.store == nil {
		return nil, ErrStoreUnavailable
	}
	if opts.TTL <= 0 {
		opts.TTL = w.profile.EdgeTTL
	}
	return w.store.Put(ctx, locator, body, opts)
}

// Fresh 判断条目是否仍在 EdgeTTL 窗口内。
func (w StrategyWriter) Fresh(entry Entry) bool {
	ttl := w.profile.EdgeTTL
	if ttl <= 0 {
		return false
	}
	return w.now().Before(entry.StoredAt.Add(ttl))
}

// ShouldStore 决定一次上游响应是否写入边缘缓存：仅 GET 的 200 响应，
// 且路由开启 CacheEverything 或路径属于默认静态扩展名。
func (w StrategyWriter) ShouldStore(method, requestPath string, status int) bool {
	if !w.Enabled() || method != http.MethodGet || status != http.StatusOK {
		return false
	}
	if w.profile.CacheEverything {
		return true
	}
	_, ok := defaultCacheableExtensions[strings.ToLower(path.Ext(StripQueryMarker(requestPath)))]
	return ok
}
