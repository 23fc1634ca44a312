package offline

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/currents-hub/currents/internal/body"
	"github.com/currents-hub/currents/internal/partition"
)

// Mode 对应浏览器的 Sec-Fetch-Mode，仅区分整页导航。
type Mode string

const (
	ModeNavigate Mode = "navigate"
	ModeDefault  Mode = ""
)

// Request 是客户端层看到的一次出站请求。
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Mode   Mode
	// Body 仅对非 GET/HEAD 请求有意义，原样转发给网络。
	Body []byte
}

// NewRequest 解析 rawURL 并推断导航模式。
func NewRequest(method, rawURL string, header http.Header) (*Request, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse request url: %w", err)
	}
	if !parsed.IsAbs() {
		return nil, fmt.Errorf("request url must be absolute: %s", rawURL)
	}
	if method == "" {
		method = http.MethodGet
	}
	if header == nil {
		header = http.Header{}
	}
	req := &Request{Method: method, URL: parsed, Header: header}
	req.Mode = DetectMode(method, header)
	return req, nil
}

// DetectMode 优先使用 Sec-Fetch-Mode；缺失时把接受 text/html 的 GET 视为导航。
func DetectMode(method string, header http.Header) Mode {
	if mode := strings.ToLower(strings.TrimSpace(header.Get("Sec-Fetch-Mode"))); mode != "" {
		if mode == string(ModeNavigate) {
			return ModeNavigate
		}
		return ModeDefault
	}
	if method == http.MethodGet && strings.Contains(header.Get("Accept"), "text/html") {
		return ModeNavigate
	}
	return ModeDefault
}

// Key 返回完整、未经规范化的缓存键（方法 + URL，含查询串）。
func (r *Request) Key() string {
	return partition.RequestKey(r.Method, r.URL.String())
}

// Response 是 Dispatcher 的输出。Body 归调用方所有，读完后需 Close。
type Response struct {
	Status int
	Header http.Header
	Body   *body.Body
	// Source 标记响应来源：cache、network 或 fallback。
	Source string
}

const (
	SourceCache    = "cache"
	SourceNetwork  = "network"
	SourceFallback = "fallback"
)

func newResponse(status int, header http.Header, b *body.Body, source string) *Response {
	if header == nil {
		header = http.Header{}
	}
	if b == nil {
		b = body.Empty()
	}
	return &Response{Status: status, Header: header, Body: b, Source: source}
}

func textResponse(status int, text string) *Response {
	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	return newResponse(status, header, body.FromBytes([]byte(text)), SourceFallback)
}

func snapshotResponse(snap *partition.Snapshot) *Response {
	return newResponse(snap.Status, snap.Header.Clone(), body.FromBytes(snap.Body), SourceCache)
}

// Effect 是一次待落盘的缓存写入，由宿主在返回响应的同时调用 Dispatcher.Apply 执行。
type Effect struct {
	Partition string
	Key       string
	Status    int
	Header    http.Header
	Body      *body.Body
}

// Discard 在不执行写入时释放 Effect 持有的分支。
func (e Effect) Discard() {
	if e.Body != nil {
		_ = e.Body.Close()
	}
}

// Fetcher 抽象网络访问，测试中可替换为内存实现。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}
