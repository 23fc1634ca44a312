// Package bucket 描述预处理预报数据所在对象存储的默认策略：
// latest.json 指针短 TTL，其余按运行版本发布的对象视为不可变。
package bucket

import (
	"net/http"
	"strings"
	"time"

	"github.com/currents-hub/currents/internal/artifact"
	"github.com/currents-hub/currents/internal/upstream"
)

const (
	latestDirective    = "public, max-age=300"
	immutableDirective = "public, max-age=31536000, immutable"
)

func init() {
	upstream.MustRegister(upstream.KindMetadata{
		Key:         "bucket",
		Description: "Object-store bucket of versioned binary forecast artifacts",
		Profile: upstream.Profile{
			Match:        upstream.MatchPrefix,
			CacheControl: immutableDirective,
			CacheRules: []upstream.CacheRule{
				{Suffix: "/" + artifact.LatestFile, CacheControl: latestDirective},
			},
			EdgeTTL:         24 * time.Hour,
			CacheEverything: true,
			FailureMode:     upstream.FailureText,
		},
		RewriteHeaders: rewriteHeaders,
	})
}

// rewriteHeaders 在对象存储返回通用 MIME 时补齐真实类型。
func rewriteHeaders(objectPath string, header http.Header) {
	ref := artifact.Classify(objectPath)
	contentType := ref.ContentType()
	if contentType == "" {
		return
	}
	current := strings.ToLower(header.Get("Content-Type"))
	if current == "" || current == "binary/octet-stream" || strings.HasPrefix(current, "text/plain") {
		header.Set("Content-Type", contentType)
	}
}
