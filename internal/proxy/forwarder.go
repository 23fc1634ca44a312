package proxy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/currents-hub/currents/internal/logging"
	"github.com/currents-hub/currents/internal/server"
)

// Forwarder 根据 EdgeRoute 的 kind 选择对应的 ProxyHandler，默认回退到构造时注入的 handler。
// 任何 handler panic 都会被转换为带 CORS 头的 500 响应。
type Forwarder struct {
	defaultHandler server.ProxyHandler
	logger         *logrus.Logger
	kinds          sync.Map
}

// NewForwarder 创建 Forwarder。
func NewForwarder(defaultHandler server.ProxyHandler, logger *logrus.Logger) *Forwarder {
	return &Forwarder{
		defaultHandler: defaultHandler,
		logger:         logger,
	}
}

// Handle 实现 server.ProxyHandler。
func (f *Forwarder) Handle(c fiber.Ctx, route *server.EdgeRoute) error {
	requestID := server.RequestID(c)
	handler := f.lookup(route)
	if handler == nil {
		return f.respondMissingHandler(c, route, requestID)
	}
	return f.invokeHandler(c, route, handler, requestID)
}

func (f *Forwarder) respondMissingHandler(c fiber.Ctx, route *server.EdgeRoute, requestID string) error {
	f.logKindError(route, "kind_handler_missing", nil, requestID)
	setResponseHeaders(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "kind_handler_missing"})
}

func (f *Forwarder) invokeHandler(c fiber.Ctx, route *server.EdgeRoute, handler server.ProxyHandler, requestID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = f.respondHandlerPanic(c, route, r, requestID)
		}
	}()
	return handler.Handle(c, route)
}

func (f *Forwarder) respondHandlerPanic(c fiber.Ctx, route *server.EdgeRoute, recovered interface{}, requestID string) error {
	f.logKindError(route, "kind_handler_panic", fmt.Errorf("panic: %v", recovered), requestID)
	c.Response().ResetBody()
	setResponseHeaders(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "kind_handler_panic"})
}

func setResponseHeaders(c fiber.Ctx, requestID string) {
	server.ApplyCORS(c)
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func (f *Forwarder) logKindError(route *server.EdgeRoute, code string, err error, requestID string) {
	if f.logger == nil {
		return
	}
	fields := f.routeFields(route, requestID)
	fields["action"] = "proxy"
	fields["error"] = code
	if err != nil {
		f.logger.WithFields(fields).Error(err.Error())
		return
	}
	f.logger.WithFields(fields).Error("kind handler unavailable")
}

func (f *Forwarder) lookup(route *server.EdgeRoute) server.ProxyHandler {
	if route != nil {
		if handler := f.lookupKind(route.Kind.Key); handler != nil {
			return handler
		}
	}
	return f.defaultHandler
}

func (f *Forwarder) lookupKind(key string) server.ProxyHandler {
	normalized := normalizeKindKey(key)
	if normalized == "" {
		return nil
	}
	if value, ok := f.kinds.Load(normalized); ok {
		if handler, ok := value.(server.ProxyHandler); ok {
			return handler
		}
	}
	return nil
}

func normalizeKindKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (f *Forwarder) routeFields(route *server.EdgeRoute, requestID string) logrus.Fields {
	if route == nil {
		return logrus.Fields{
			"route":      "",
			"kind":       "",
			"path":       "",
			"cache_hit":  false,
			"request_id": requestID,
		}
	}

	fields := logging.RouteFields(route.Config.Name, route.Kind.Key, route.Config.Path, false)
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}
