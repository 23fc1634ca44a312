package server

import (
	"net/http"

	"github.com/gofiber/fiber/v3"
)

// corsHeaders 是所有边缘响应都必须携带的跨域头集合，与请求是否带 Origin 无关。
var corsHeaders = [][2]string{
	{fiber.HeaderAccessControlAllowOrigin, "*"},
	{fiber.HeaderAccessControlAllowMethods, "GET, OPTIONS, HEAD"},
	{fiber.HeaderAccessControlAllowHeaders, "*"},
	{fiber.HeaderAccessControlMaxAge, "86400"},
}

// ApplyCORS 覆盖写入 CORS 头，代理层在复制上游头之后需再次调用。
func ApplyCORS(c fiber.Ctx) {
	for _, kv := range corsHeaders {
		c.Set(kv[0], kv[1])
	}
}

// ApplyCORSHeader 与 ApplyCORS 相同，但作用于 net/http 头。
func ApplyCORSHeader(h http.Header) {
	for _, kv := range corsHeaders {
		h.Set(kv[0], kv[1])
	}
}

// corsMiddleware 预先写入 CORS 头，并直接应答预检请求。
func corsMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		ApplyCORS(c)
		if c.Method() == fiber.MethodOptions {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.Next()
	}
}
