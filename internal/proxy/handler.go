package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/currents-hub/currents/internal/cache"
	"github.com/currents-hub/currents/internal/logging"
	"github.com/currents-hub/currents/internal/metrics"
	"github.com/currents-hub/currents/internal/server"
	"github.com/currents-hub/currents/internal/upstream"
)

// Handler 负责 orchestrate “边缘缓存命中 → 回源 → 重写响应头 → 写缓存” 的全流程，
// 对外暴露 Fiber handler，内部复用共享 http.Client 与边缘缓存。
type Handler struct {
	client *http.Client
	logger *logrus.Logger
	store  cache.Store
}

// NewHandler constructs a proxy handler with shared HTTP client/logger/store.
// store 为 nil 时关闭边缘缓存。
func NewHandler(client *http.Client, logger *logrus.Logger, store cache.Store) *Handler {
	return &Handler{
		client: client,
		logger: logger,
		store:  store,
	}
}

// forwardRequest 汇总一次转发所需的派生信息。
type forwardRequest struct {
	route     *server.EdgeRoute
	method    string
	upstream  string
	path      string
	rawQuery  string
	remainder string
	requestID string
	started   time.Time
}

// Handle 执行缓存查找、回源和最终响应改写逻辑，任何阶段出错都会输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx, route *server.EdgeRoute) error {
	requestPath := requestPath(c)
	req := forwardRequest{
		route:     route,
		method:    c.Method(),
		upstream:  c.Method(),
		path:      requestPath,
		rawQuery:  string(c.Request().URI().QueryString()),
		remainder: route.Remainder(requestPath),
		requestID: server.RequestID(c),
		started:   time.Now(),
	}
	if req.method == http.MethodHead && route.Profile.HeadAsGet {
		req.upstream = http.MethodGet
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	writer := cache.NewStrategyWriter(h.store, route.Profile)
	locator := cache.BuildLocator(route.Name(), req.path, req.rawQuery)

	if writer.Enabled() && (req.method == http.MethodGet || req.method == http.MethodHead) {
		result, err := h.store.Get(ctx, locator)
		switch {
		case err == nil:
			if writer.Fresh(result.Entry) {
				metrics.EdgeCache(route.Name(), metrics.CacheHit)
				return h.serveCache(c, req, result)
			}
			result.Reader.Close()
		case errors.Is(err, cache.ErrNotFound):
		default:
			h.logger.WithError(err).
				WithFields(logrus.Fields{"route": route.Name(), "request_id": req.requestID}).
				Warn("cache_get_failed")
		}
		metrics.EdgeCache(route.Name(), metrics.CacheMiss)
	}

	return h.fetchAndStream(ctx, c, req, writer, locator)
}

func (h *Handler) serveCache(c fiber.Ctx, req forwardRequest, result *cache.ReadResult) error {
	defer result.Reader.Close()

	copyResponseHeaders(c, result.Entry.Header)
	h.finishHeaders(c, req, result.Entry.Status)
	c.Set("X-Currents-Cache-Hit", "true")
	c.Status(result.Entry.Status)

	if req.method == http.MethodHead {
		c.Response().Header.SetContentLength(int(result.Entry.SizeBytes))
		h.logResult(req, req.route.UpstreamURL.String(), result.Entry.Status, true, nil)
		return nil
	}

	_, err := io.Copy(c.Response().BodyWriter(), result.Reader)
	h.logResult(req, req.route.UpstreamURL.String(), result.Entry.Status, true, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("read cache failed: %v", err))
	}
	return nil
}

func (h *Handler) fetchAndStream(
	ctx context.Context,
	c fiber.Ctx,
	req forwardRequest,
	writer cache.StrategyWriter,
	locator cache.Locator,
) error {
	upstreamURL := BuildUpstreamURL(req.route.UpstreamURL, req.remainder, req.rawQuery)
	outbound, err := h.buildUpstreamRequest(ctx, c, req, upstreamURL)
	if err != nil {
		return h.writeFailure(c, req, upstreamURL.String(), err)
	}

	resp, err := h.client.Do(outbound)
	if err != nil {
		return h.writeFailure(c, req, upstreamURL.String(), err)
	}
	defer resp.Body.Close()

	header := resp.Header.Clone()
	if rewrite := req.route.Kind.RewriteHeaders; rewrite != nil && isSuccess(resp.StatusCode) {
		rewrite(req.remainder, header)
	}

	copyResponseHeaders(c, header)
	h.finishHeaders(c, req, resp.StatusCode)
	c.Set("X-Currents-Cache-Hit", "false")
	c.Status(resp.StatusCode)

	if req.method == http.MethodHead {
		if resp.ContentLength >= 0 {
			c.Response().Header.SetContentLength(int(resp.ContentLength))
		}
		h.logResult(req, upstreamURL.String(), resp.StatusCode, false, nil)
		return nil
	}

	if writer.ShouldStore(req.upstream, req.path, resp.StatusCode) {
		reader := io.TeeReader(resp.Body, c.Response().BodyWriter())
		_, err := writer.Put(ctx, locator, reader, cache.PutOptions{
			Status: resp.StatusCode,
			Header: header,
		})
		h.logResult(req, upstreamURL.String(), resp.StatusCode, false, err)
		if err != nil {
			return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("cache_write_failed: %v", err))
		}
		metrics.EdgeCache(req.route.Name(), metrics.CacheStore)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(req, upstreamURL.String(), resp.StatusCode, false, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

// finishHeaders 在复制上游头之后覆盖 CORS 与对外 Cache-Control；非 2xx 保留上游原值。
func (h *Handler) finishHeaders(c fiber.Ctx, req forwardRequest, status int) {
	if isSuccess(status) {
		c.Set(fiber.HeaderCacheControl, req.route.Profile.CacheDirective(req.path))
	}
	server.ApplyCORS(c)
	c.Set("X-Currents-Route", req.route.Name())
	if req.requestID != "" {
		c.Set("X-Request-ID", req.requestID)
	}
}

func (h *Handler) buildUpstreamRequest(
	ctx context.Context,
	c fiber.Ctx,
	req forwardRequest,
	upstreamURL *url.URL,
) (*http.Request, error) {
	body := io.Reader(http.NoBody)
	if req.upstream != http.MethodGet && req.upstream != http.MethodHead {
		body = bytesReader(c.Body())
	}

	outbound, err := http.NewRequestWithContext(ctx, req.upstream, upstreamURL.String(), body)
	if err != nil {
		return nil, err
	}

	server.CopyHeaders(outbound.Header, fiberHeadersAsHTTP(c))
	outbound.Header.Del("Accept-Encoding")
	outbound.Header.Del("Host")
	outbound.Host = upstreamURL.Host
	outbound.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := outbound.Header.Get("X-Forwarded-For"); prior != "" {
			outbound.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			outbound.Header.Set("X-Forwarded-For", ip)
		}
	}
	outbound.Header.Set("X-Forwarded-Proto", c.Protocol())

	if req.route.Profile.SameOriginReferer {
		outbound.Header.Set("Referer", upstreamURL.Scheme+"://"+upstreamURL.Host+"/")
	}
	for key, value := range req.route.Profile.Headers {
		outbound.Header.Set(key, value)
	}
	return outbound, nil
}

// BuildUpstreamURL 用路由的上游基址替换匹配段，查询串原样透传。
func BuildUpstreamURL(base *url.URL, remainder, rawQuery string) *url.URL {
	target := *base
	if remainder != "" {
		target.Path = strings.TrimSuffix(base.Path, "/") + "/" + strings.TrimPrefix(remainder, "/")
		target.RawPath = ""
	}
	target.RawQuery = rawQuery
	target.Fragment = ""
	return &target
}

// writeFailure 将上游不可达映射为 502 文本或 500 JSON，均携带 CORS 头。
func (h *Handler) writeFailure(c fiber.Ctx, req forwardRequest, upstreamURL string, cause error) error {
	metrics.UpstreamFailure(req.route.Name())
	h.logResult(req, upstreamURL, 0, false, cause)

	server.ApplyCORS(c)
	if req.requestID != "" {
		c.Set("X-Request-ID", req.requestID)
	}
	c.Set(fiber.HeaderCacheControl, "no-store")
	message := fmt.Sprintf("upstream %s unreachable: %v", req.route.Name(), cause)
	if req.route.Profile.FailureMode == upstream.FailureJSON {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "upstream_error",
			"message": message,
		})
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(fiber.StatusBadGateway).SendString(message)
}

func (h *Handler) logResult(req forwardRequest, upstreamURL string, status int, cacheHit bool, err error) {
	fields := logging.RouteFields(req.route.Name(), req.route.Kind.Key, req.path, cacheHit)
	fields["action"] = "proxy"
	fields["method"] = req.method
	fields["upstream"] = upstreamURL
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(req.started).Milliseconds()
	if req.requestID != "" {
		fields["request_id"] = req.requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func requestPath(c fiber.Ctx) string {
	if c == nil {
		return "/"
	}
	uri := c.Request().URI()
	if uri == nil {
		return "/"
	}
	pathVal := string(uri.Path())
	if pathVal == "" {
		return "/"
	}
	return pathVal
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(b)
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// copyResponseHeaders 复制上游头；Content-Length 交由 fasthttp 按实际正文计算。
func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || strings.EqualFold(key, fiber.HeaderContentLength) {
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
