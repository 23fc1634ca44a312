package proxy

import (
	"github.com/gofiber/fiber/v3"

	"github.com/currents-hub/currents/internal/artifact"
	"github.com/currents-hub/currents/internal/server"
)

// BucketKind 与 upstream/bucket 预设的 key 一致。
const BucketKind = "bucket"

// BucketHandler 只让按运行版本发布的不可变产物进入边缘缓存；
// latest.json 等可变对象每次回源，避免 EdgeTTL 内固定住旧的运行指针。
type BucketHandler struct {
	immutable *Handler
	mutable   *Handler
}

// NewBucketHandler 基于默认 Handler 构造，可变对象复用同一 client/logger 但不挂缓存。
func NewBucketHandler(base *Handler) *BucketHandler {
	return &BucketHandler{
		immutable: base,
		mutable:   NewHandler(base.client, base.logger, nil),
	}
}

// Handle 实现 server.ProxyHandler。
func (b *BucketHandler) Handle(c fiber.Ctx, route *server.EdgeRoute) error {
	ref := artifact.Classify(route.Remainder(requestPath(c)))
	if ref.Immutable() {
		return b.immutable.Handle(c, route)
	}
	return b.mutable.Handle(c, route)
}
