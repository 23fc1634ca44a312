package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/currents-hub/currents/internal/offline"
)

// ShellOptions 控制 shell 模式（浏览器侧缓存层宿主）的行为。
type ShellOptions struct {
	Logger     *logrus.Logger
	Runtime    *offline.Runtime
	Origin     string
	ListenPort int
	// AcquireTimeout 限制请求等待就绪门的时长，超时返回 503。
	AcquireTimeout time.Duration
}

const defaultAcquireTimeout = 15 * time.Second

const (
	shellMessagePath = "/-/sw/message"
	shellStatePath   = "/-/sw/state"
)

// NewShellApp 把 offline.Runtime 挂到 fiber 上：普通请求先等待就绪，
// 再交给当前版本的 Dispatcher，控制通道走 /-/sw/*。
func NewShellApp(opts ShellOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Runtime == nil {
		return nil, errors.New("offline runtime is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}
	origin, err := url.Parse(opts.Origin)
	if err != nil || origin.Host == "" {
		return nil, fmt.Errorf("invalid shell origin %q", opts.Origin)
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = defaultAcquireTimeout
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  errorHandler(opts.Logger),
	})
	trackClients(app.Server(), opts.Runtime)
	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	app.Get(healthPath, func(c fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get(shellStatePath, func(c fiber.Ctx) error {
		return c.JSON(opts.Runtime.State())
	})
	app.Post(shellMessagePath, func(c fiber.Ctx) error {
		return handleShellMessage(c, opts)
	})

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(c.Path()) {
			return c.Next()
		}
		return serveOffline(c, opts, origin)
	})

	return app, nil
}

func handleShellMessage(c fiber.Ctx, opts ShellOptions) error {
	result, err := opts.Runtime.HandleMessage(c.Context(), c.Body())
	switch {
	case err == nil:
		return c.JSON(result)
	case errors.Is(err, offline.ErrUnknownCommand):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_command", "message": err.Error()})
	case errors.Is(err, offline.ErrNotActive):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "not_active", "message": err.Error()})
	}
	opts.Logger.WithFields(logrus.Fields{
		"action":     "shell_message",
		"request_id": RequestID(c),
	}).WithError(err).Error("control message failed")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "control_failed", "message": err.Error()})
}

// trackClients 把 shell 的每条连接登记为运行时的一个打开的客户端。
func trackClients(srv *fasthttp.Server, rt *offline.Runtime) {
	var mu sync.Mutex
	open := map[net.Conn]func(){}
	srv.ConnState = func(conn net.Conn, state fasthttp.ConnState) {
		mu.Lock()
		defer mu.Unlock()
		switch state {
		case fasthttp.StateNew, fasthttp.StateActive:
			if _, ok := open[conn]; !ok {
				open[conn] = rt.Attach()
			}
		case fasthttp.StateClosed, fasthttp.StateHijacked:
			if detach, ok := open[conn]; ok {
				delete(open, conn)
				detach()
			}
		}
	}
}

func serveOffline(c fiber.Ctx, opts ShellOptions, origin *url.URL) error {
	req, err := buildOfflineRequest(c, origin)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	ctx := c.Context()
	acquireCtx, cancel := context.WithTimeout(ctx, opts.AcquireTimeout)
	dispatcher, release, err := opts.Runtime.Acquire(acquireCtx)
	cancel()
	if err != nil {
		opts.Logger.WithFields(logrus.Fields{
			"action":     "offline_acquire",
			"url":        req.URL.String(),
			"request_id": RequestID(c),
		}).WithError(err).Warn("client cache not ready")
		return fiber.NewError(fiber.StatusServiceUnavailable, "client cache not ready")
	}
	defer release()

	resp, effects := dispatcher.Handle(ctx, req)

	// 存储分支与客户端分支并行读取，避免整段响应堆积在 tee 缓冲里。
	applied := make(chan error, 1)
	go func() {
		applied <- dispatcher.Apply(context.WithoutCancel(ctx), effects)
	}()

	copyOfflineHeaders(c, resp.Header)
	c.Set("X-Currents-Source", resp.Source)
	c.Set("X-Currents-Version", dispatcher.Version())
	c.Status(resp.Status)
	_, copyErr := io.Copy(c.Response().BodyWriter(), resp.Body)
	_ = resp.Body.Close()

	if applyErr := <-applied; applyErr != nil {
		opts.Logger.WithFields(logrus.Fields{
			"action":     "offline_store",
			"url":        req.URL.String(),
			"request_id": RequestID(c),
		}).WithError(applyErr).Warn("cache write discarded")
	}
	return copyErr
}

// buildOfflineRequest 把请求路径与查询串映射到源站 URL。
func buildOfflineRequest(c fiber.Ctx, origin *url.URL) (*offline.Request, error) {
	uri := c.Request().URI()
	ref := &url.URL{Path: string(uri.Path()), RawQuery: string(uri.QueryString())}
	target := origin.ResolveReference(ref).String()

	header := http.Header{}
	for key, values := range c.GetReqHeaders() {
		if IsHopByHopHeader(key) || strings.EqualFold(key, fiber.HeaderHost) || strings.EqualFold(key, fiber.HeaderAcceptEncoding) {
			continue
		}
		for _, value := range values {
			header.Add(key, value)
		}
	}

	req, err := offline.NewRequest(c.Method(), target, header)
	if err != nil {
		return nil, err
	}
	if c.Method() != fiber.MethodGet && c.Method() != fiber.MethodHead {
		req.Body = append([]byte(nil), c.Body()...)
	}
	return req, nil
}

func copyOfflineHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if IsHopByHopHeader(key) || strings.EqualFold(key, fiber.HeaderContentLength) {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
}
