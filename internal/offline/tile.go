package offline

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// 瓦片 URL 形如 /tiles/{surface}/{start}/{end}/{z}/{y}/{x}.png 或
// /tiles/{start}/{end}/{surface}/{z}/{y}/{x}.png，
// 也兼容把模型时次放在 startTime 查询参数里的写法。
var modelRunLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006010215",
	"20060102T15",
	"20060102_15z",
	"200601021504",
	"20060102",
}

// TileModelRun 解析瓦片 URL 中嵌入的模型起报时间。
func TileModelRun(u *url.URL, segment string) (time.Time, bool) {
	if u == nil {
		return time.Time{}, false
	}
	if raw := u.Query().Get("startTime"); raw != "" {
		if t, ok := parseModelRun(raw); ok {
			return t, true
		}
	}
	idx := strings.Index(u.Path, segment)
	if segment == "" || idx < 0 {
		return time.Time{}, false
	}
	parts := strings.Split(strings.Trim(u.Path[idx+len(segment):], "/"), "/")
	// 第一个可解析的段即为起报时间，结束时间总在它之后。
	for _, part := range parts {
		if t, ok := parseModelRun(part); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseModelRun(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range modelRunLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	// 纯数字但长度不匹配上面的格式时按 Unix 秒处理。
	if len(raw) >= 9 && len(raw) <= 11 {
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return time.Unix(secs, 0).UTC(), true
		}
	}
	return time.Time{}, false
}
