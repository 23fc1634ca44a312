// Package partition holds named, versioned key/value stores of request →
// response snapshots. It is a pure storage primitive: freshness and
// retirement policy live in the offline package.
package partition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNotFound 表示分区或条目不存在。
var ErrNotFound = errors.New("partition entry not found")

// ErrNotCacheable 表示试图写入非 2xx 的响应。
var ErrNotCacheable = errors.New("response status is not cacheable")

// Store 管理所有分区。分区名遵循 <version>-<class>，由调用方决定。
type Store interface {
	// Open 打开分区，不存在时创建。
	Open(ctx context.Context, name string) (Partition, error)
	// Has 判断分区是否存在，不会创建。
	Has(ctx context.Context, name string) (bool, error)
	// Delete 删除分区及其全部条目，返回分区此前是否存在。
	Delete(ctx context.Context, name string) (bool, error)
	// Names 按字典序列出所有分区名。
	Names(ctx context.Context) ([]string, error)
	Close() error
}

// Partition 是单个命名空间内的条目集合。Put 为逐键 last-write-wins。
type Partition interface {
	Name() string
	// Match 返回 key 对应的快照，不存在时返回 ErrNotFound。
	Match(ctx context.Context, key string) (*Snapshot, error)
	// Put 读取完整 body 后一次性写入；body 中途出错时不会留下任何数据。
	Put(ctx context.Context, key string, status int, header http.Header, body io.Reader) error
	Delete(ctx context.Context, key string) (bool, error)
	// Walk 依次访问分区内的条目，fn 返回错误时停止。
	Walk(ctx context.Context, fn func(key string, snap *Snapshot) error) error
}

// Snapshot 是缓存条目的值：成功响应的状态码、头与完整正文。
type Snapshot struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// RequestKey 以 method + 完整 URL 作为条目键，不做任何规范化，
// 因此 query 中的模型时次、z/y/x 不同的瓦片永远不会落在同一个键上。
func RequestKey(method, rawURL string) string {
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + rawURL
}

// SplitKey 是 RequestKey 的逆操作。
func SplitKey(key string) (method, rawURL string, err error) {
	for i := 0; i < len(key); i++ {
		if key[i] == ' ' {
			return key[:i], key[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("malformed partition key: %q", key)
}

// IsCacheableStatus 只允许 2xx 写入分区。
func IsCacheableStatus(status int) bool {
	return status >= 200 && status < 300
}
