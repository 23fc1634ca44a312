package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/currents-hub/currents/internal/metrics"
)

// ProxyHandler describes the component responsible for forwarding a matched
// request to its upstream. It allows injecting fake handlers during tests.
type ProxyHandler interface {
	Handle(fiber.Ctx, *EdgeRoute) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx, *EdgeRoute) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx, route *EdgeRoute) error {
	return f(c, route)
}

// AppOptions controls how the edge Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Routes     *RouteTable
	Proxy      ProxyHandler
	ListenPort int
}

const (
	contextKeyRoute     = "_currents_route"
	contextKeyRequestID = "_currents_request_id"
)

const healthPath = "/healthz"

// NewApp builds the edge Fiber application: CORS on every response, OPTIONS
// short-circuit, path-based route resolution and structured error handling.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Routes == nil {
		return nil, errors.New("route table is required")
	}
	if opts.Proxy == nil {
		return nil, errors.New("proxy handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  errorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())
	app.Use(corsMiddleware())
	app.Use(metricsMiddleware())

	app.All("/*", func(c fiber.Ctx) error {
		requestPath := string(c.Request().URI().Path())
		if requestPath == healthPath {
			return c.SendString("ok")
		}
		if isDiagnosticsPath(requestPath) {
			return c.Next()
		}
		route, ok := opts.Routes.Lookup(requestPath)
		if !ok {
			return renderUnmatched(c, opts.Logger, opts.Routes, requestPath)
		}
		c.Locals(contextKeyRoute, route)
		return opts.Proxy.Handle(c, route)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

func metricsMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		started := time.Now()
		err := c.Next()
		if isDiagnosticsPath(c.Path()) || c.Method() == fiber.MethodOptions {
			return err
		}
		route, _ := getRouteFromContext(c)
		metrics.ObserveEdgeRequest(route.Name(), c.Method(), c.Response().StatusCode(), time.Since(started))
		return err
	}
}

// errorHandler 保证未处理的错误（包括 recover 捕获的 panic）仍带 CORS 头返回。
func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			status = fiberErr.Code
		}
		logger.WithFields(logrus.Fields{
			"action":     "edge_error",
			"path":       c.Path(),
			"request_id": RequestID(c),
			"status":     status,
		}).Error(err.Error())

		ApplyCORS(c)
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.Status(status).SendString(err.Error())
	}
}

func renderUnmatched(c fiber.Ctx, logger *logrus.Logger, routes *RouteTable, requestPath string) error {
	logger.WithFields(logrus.Fields{
		"action":     "route_lookup",
		"path":       requestPath,
		"request_id": RequestID(c),
	}).Warn("route unmatched")

	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(fiber.StatusNotFound).SendString(UnmatchedMessage(requestPath, routes.Prefixes()))
}

// UnmatchedMessage 生成 404 提示文本，列出所有可用路径。
func UnmatchedMessage(requestPath string, prefixes []string) string {
	if len(prefixes) == 0 {
		return fmt.Sprintf("no route for %s; no routes are configured", requestPath)
	}
	return fmt.Sprintf("no route for %s; valid paths: %s", requestPath, strings.Join(prefixes, ", "))
}

func getRouteFromContext(c fiber.Ctx) (*EdgeRoute, bool) {
	if value := c.Locals(contextKeyRoute); value != nil {
		if route, ok := value.(*EdgeRoute); ok {
			return route, true
		}
	}
	return nil, false
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
