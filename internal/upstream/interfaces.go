package upstream

import (
	"net/http"
	"strings"
	"time"
)

// MatchKind 决定路由表的求值优先级：exact → prefix → catchall。
type MatchKind string

const (
	MatchExact    MatchKind = "exact"
	MatchPrefix   MatchKind = "prefix"
	MatchCatchAll MatchKind = "catchall"
)

// FailureMode 描述上游不可达时返回给调用方的错误形态。
type FailureMode string

const (
	// FailureText 返回 502 + 纯文本说明。
	FailureText FailureMode = "text"
	// FailureJSON 返回 500 + {"error","message"} JSON。
	FailureJSON FailureMode = "json"
)

// CacheRule 按请求路径后缀覆盖对外的 Cache-Control。
type CacheRule struct {
	Suffix       string
	CacheControl string
}

// Profile 是一条路由生效的完整策略。
type Profile struct {
	Match MatchKind
	// HeadAsGet 表示上游不支持 HEAD，需要降级为 GET 转发。
	HeadAsGet bool
	// CacheControl 是默认对外指令，CacheRules 优先匹配。
	CacheControl string
	CacheRules   []CacheRule
	// EdgeTTL/CacheEverything 只作用于边缘缓存，与浏览器侧分区无关。
	EdgeTTL         time.Duration
	CacheEverything bool
	FailureMode     FailureMode
	// SameOriginReferer 让转发请求携带上游自身源站的 Referer，Headers 中的 Referer 优先。
	SameOriginReferer bool
	// Headers 会覆盖转发请求中的同名头，用于伪装同源浏览器请求。
	Headers map[string]string
}

// CacheDirective 返回 requestPath 对应的对外 Cache-Control。
func (p Profile) CacheDirective(requestPath string) string {
	for _, rule := range p.CacheRules {
		if strings.HasSuffix(requestPath, rule.Suffix) {
			return rule.CacheControl
		}
	}
	return p.CacheControl
}

// HeaderRewrite 允许预设在回写响应前调整上游头，例如补齐 Content-Type。
// objectPath 是去掉路由前缀后的剩余路径。
type HeaderRewrite func(objectPath string, header http.Header)

// KindMetadata 记录一个上游类型的静态信息，供配置校验和诊断端使用。
type KindMetadata struct {
	Key            string
	Description    string
	Profile        Profile
	RewriteHeaders HeaderRewrite
}
