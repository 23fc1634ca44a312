package server

import (
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/currents-hub/currents/internal/config"
)

const defaultUpstreamTimeout = 30 * time.Second

// newTransport 为瓦片突发请求调大每主机空闲连接数；响应头超时与整体超时一致。
func newTransport(timeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
}

// NewUpstreamClient 返回 edge 代理与 shell 取数共用的 http.Client。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	timeout := defaultUpstreamTimeout
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.Global.UpstreamTimeout.DurationValue()
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: newTransport(timeout),
	}
}

// RFC 7230 §6.1 规定代理不得转发的头部。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Proxy-Connection":    {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// IsHopByHopHeader reports whether key is one of the fixed hop-by-hop headers.
func IsHopByHopHeader(key string) bool {
	_, ok := hopByHopHeaders[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

// connectionTokens 返回 Connection 头里额外声明为逐跳的字段名。
func connectionTokens(h http.Header) map[string]struct{} {
	var tokens map[string]struct{}
	for _, value := range h.Values("Connection") {
		for _, token := range strings.Split(value, ",") {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			if tokens == nil {
				tokens = map[string]struct{}{}
			}
			tokens[textproto.CanonicalMIMEHeaderKey(token)] = struct{}{}
		}
	}
	return tokens
}

// CopyHeaders 将 src 的端到端头追加到 dst，跳过固定逐跳头以及 Connection 中列出的头。
func CopyHeaders(dst, src http.Header) {
	extra := connectionTokens(src)
	for key, values := range src {
		if IsHopByHopHeader(key) {
			continue
		}
		if _, listed := extra[textproto.CanonicalMIMEHeaderKey(key)]; listed {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}
