package proxy

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/currents-hub/currents/internal/config"
	"github.com/currents-hub/currents/internal/server"
	"github.com/currents-hub/currents/internal/upstream"
)

const requestIDKey = "_currents_request_id"

func TestForwarderMissingHandler(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()

	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)
	ctx.Locals(requestIDKey, "missing-req")

	logger := logrus.New()
	logBuf := &bytes.Buffer{}
	logger.SetOutput(logBuf)

	forwarder := NewForwarder(nil, logger)
	route := testRouteWithKind("missing-kind")

	if err := forwarder.Handle(ctx, route); err != nil {
		t.Fatalf("forwarder.Handle returned unexpected error: %v", err)
	}
	if status := ctx.Response().StatusCode(); status != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 for missing handler, got %d", status)
	}
	if body := string(ctx.Response().Body()); !strings.Contains(body, "kind_handler_missing") {
		t.Fatalf("expected error body to mention kind_handler_missing, got %s", body)
	}
	if !strings.Contains(logBuf.String(), "kind_handler_missing") {
		t.Fatalf("expected log to mention kind_handler_missing, got %s", logBuf.String())
	}
	if got := string(ctx.Response().Header.Peek("X-Request-ID")); got != "missing-req" {
		t.Fatalf("expected request id header missing-req, got %s", got)
	}
	if got := string(ctx.Response().Header.Peek("Access-Control-Allow-Origin")); got != "*" {
		t.Fatalf("expected CORS header on failure, got %q", got)
	}
}

func TestForwarderHandlerPanic(t *testing.T) {
	const kindKey = "panic-kind"
	logger := logrus.New()
	logBuf := &bytes.Buffer{}
	logger.SetOutput(logBuf)

	forwarder := NewForwarder(nil, logger)
	forwarder.MustRegister(KindRegistration{
		Key: kindKey,
		Handler: server.ProxyHandlerFunc(func(fiber.Ctx, *server.EdgeRoute) error {
			panic("boom")
		}),
	})

	app := fiber.New()
	defer app.Shutdown()
	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)
	ctx.Locals(requestIDKey, "panic-req")

	route := testRouteWithKind(kindKey)

	if err := forwarder.Handle(ctx, route); err != nil {
		t.Fatalf("forwarder.Handle returned unexpected error: %v", err)
	}
	if status := ctx.Response().StatusCode(); status != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 for handler panic, got %d", status)
	}
	if body := string(ctx.Response().Body()); !strings.Contains(body, "kind_handler_panic") {
		t.Fatalf("expected error body to mention kind_handler_panic, got %s", body)
	}
	if !strings.Contains(logBuf.String(), "panic-req") {
		t.Fatalf("expected log to include panic request id, got %s", logBuf.String())
	}
	if got := string(ctx.Response().Header.Peek("Access-Control-Allow-Methods")); got != "GET, OPTIONS, HEAD" {
		t.Fatalf("expected CORS header on panic, got %q", got)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	const kindKey = "dup-kind"
	forwarder := NewForwarder(nil, nil)

	handler := server.ProxyHandlerFunc(func(c fiber.Ctx, _ *server.EdgeRoute) error { return nil })
	if err := forwarder.Register(KindRegistration{Key: kindKey, Handler: handler}); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	if err := forwarder.Register(KindRegistration{Key: "DUP-KIND", Handler: handler}); !errors.Is(err, ErrKindHandlerExists) {
		t.Fatalf("expected duplicate registration error, got %v", err)
	}
	if err := forwarder.Register(KindRegistration{Key: "", Handler: handler}); err == nil {
		t.Fatalf("expected empty key to fail")
	}
	if NewForwarder(nil, nil).lookupKind(kindKey) != nil {
		t.Fatalf("registrations must not leak across forwarders")
	}
}

func TestEdgeForwarderRoutesBucketKind(t *testing.T) {
	base := NewHandler(nil, logrus.New(), nil)
	forwarder := NewEdgeForwarder(base, nil)
	if _, ok := forwarder.lookup(testRouteWithKind("bucket")).(*BucketHandler); !ok {
		t.Fatalf("bucket routes should use the bucket handler")
	}
	if forwarder.lookup(testRouteWithKind("tiles")) != server.ProxyHandler(base) {
		t.Fatalf("other kinds should fall back to the default handler")
	}
}

func testRouteWithKind(kindKey string) *server.EdgeRoute {
	return &server.EdgeRoute{
		Config: config.RouteConfig{
			Name: "test",
			Kind: kindKey,
			Path: "/test/",
		},
		Kind: upstream.KindMetadata{Key: kindKey},
	}
}
