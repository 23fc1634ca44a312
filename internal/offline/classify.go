package offline

import (
	"net/http"
	"strings"
)

// Class 是请求的资源类别，决定使用哪种缓存策略。
type Class string

const (
	ClassNavigation  Class = "navigation"
	ClassTile        Class = "tile"
	ClassPassThrough Class = "passthrough"
	ClassStatic      Class = "static"
)

// Classifier 依据路径规则划分资源类别。
type Classifier struct {
	TileSegment         string
	PassThroughPrefixes []string
}

// Classify 按导航 → 瓦片 → 实时数据 → 静态资源的顺序归类。
func (c Classifier) Classify(req *Request) Class {
	if req.Mode == ModeNavigate {
		return ClassNavigation
	}
	p := req.URL.Path
	if c.TileSegment != "" && strings.Contains(p, c.TileSegment) {
		return ClassTile
	}
	for _, prefix := range c.PassThroughPrefixes {
		if strings.HasPrefix(p, prefix) {
			return ClassPassThrough
		}
	}
	return ClassStatic
}

// cacheableMethod 只有 GET 会被写入分区。
func cacheableMethod(method string) bool {
	return method == http.MethodGet
}
