package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"
)

// Store 负责边缘缓存的读写。磁盘实现的布局遵循：
//
//	<StoragePath>/<Route>/<path>.body    # 实际正文
//	<StoragePath>/<Route>/<path>.meta    # 状态码、响应头与写入时间
//
// 条目只有在正文完整写入后才对 Get 可见。
type Store interface {
	// Get 返回一个可流式读取的缓存条目。若不存在或已过期则返回 ErrNotFound。
	Get(ctx context.Context, locator Locator) (*ReadResult, error)

	// Put 将上游响应写入缓存，并产出新的 Entry 描述。正文读取失败时不得留下可见条目。
	Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error)

	// Remove 删除条目，不存在时视为成功。
	Remove(ctx context.Context, locator Locator) error
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	Status int
	Header http.Header
	// ModTime 为空时使用当前时间。
	ModTime time.Time
	// TTL 大于 0 时由支持过期的后端直接淘汰条目。
	TTL time.Duration
}

// Locator 唯一定位一个缓存条目（路由名 + 相对路径），所有路径均为 URL 路径风格。
type Locator struct {
	Route string
	Path  string
}

// Entry 表示一次缓存命中结果。
type Entry struct {
	Locator   Locator     `json:"locator"`
	Status    int         `json:"status"`
	Header    http.Header `json:"header"`
	SizeBytes int64       `json:"size_bytes"`
	StoredAt  time.Time   `json:"stored_at"`
}

// ReadResult 组合 Entry 与正文 Reader，便于代理层直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadCloser
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

const queryMarker = "/__qs/"

// BuildLocator 生成缓存定位；查询串以 sha1 摘要追加到路径，避免不同参数互相覆盖。
func BuildLocator(route, requestPath, rawQuery string) Locator {
	clean := path.Clean("/" + requestPath)
	if rawQuery != "" {
		sum := sha1.Sum([]byte(rawQuery))
		clean = clean + queryMarker + hex.EncodeToString(sum[:])
	}
	return Locator{Route: route, Path: clean}
}

// StripQueryMarker 去掉 BuildLocator 追加的查询摘要。
func StripQueryMarker(p string) string {
	if idx := strings.Index(p, queryMarker); idx >= 0 {
		return p[:idx]
	}
	return p
}

func locatorKey(locator Locator) string {
	return locator.Route + "::" + locator.Path
}
