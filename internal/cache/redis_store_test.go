package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// 需要真实 Redis，通过 CURRENTS_TEST_REDIS=host:port 开启。
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("CURRENTS_TEST_REDIS")
	if addr == "" {
		t.Skip("CURRENTS_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	return NewRedisStore(client, "currents-test-"+t.Name())
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()
	locator := BuildLocator("bucket", "/current-data/latest.json", "")
	header := http.Header{}
	header.Set("Content-Type", "application/json")

	if _, err := store.Put(ctx, locator, bytes.NewReader([]byte(`{"run":"20261019_00z"}`)), PutOptions{
		Status: 200,
		Header: header,
		TTL:    time.Minute,
	}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	t.Cleanup(func() { _ = store.Remove(ctx, locator) })

	result, err := store.Get(ctx, locator)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	body, _ := io.ReadAll(result.Reader)
	if string(body) != `{"run":"20261019_00z"}` {
		t.Fatalf("unexpected body %s", body)
	}
	if result.Entry.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("header not persisted")
	}

	if err := store.Remove(ctx, locator); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if _, err := store.Get(ctx, locator); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected miss after remove, got %v", err)
	}
}
