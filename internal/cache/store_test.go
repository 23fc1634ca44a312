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
)

func TestStorePutAndGet(t *testing.T) {
	store := newTestStore(t)
	locator := BuildLocator("tiles", "/tiles/surface/2026101900/2026102200/5/11/5.png", "")

	modTime := time.Now().Add(-time.Hour).UTC()
	payload := []byte("payload")
	header := http.Header{}
	header.Set("Content-Type", "image/png")
	if _, err := store.Put(context.Background(), locator, bytes.NewReader(payload), PutOptions{
		Status:  http.StatusOK,
		Header:  header,
		ModTime: modTime,
	}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	result, err := store.Get(context.Background(), locator)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer result.Reader.Close()

	body, err := io.ReadAll(result.Reader)
	if err != nil {
		t.Fatalf("read cached body error: %v", err)
	}
	if string(body) != string(payload) {
		t.Fatalf("cached payload mismatch: %s", string(body))
	}
	if result.Entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", result.Entry.SizeBytes)
	}
	if !result.Entry.StoredAt.Equal(modTime) {
		t.Fatalf("stored_at mismatch: expected %v got %v", modTime, result.Entry.StoredAt)
	}
	if result.Entry.Status != http.StatusOK {
		t.Fatalf("status mismatch: %d", result.Entry.Status)
	}
	if got := result.Entry.Header.Get("Content-Type"); got != "image/png" {
		t.Fatalf("header not persisted, got %q", got)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), Locator{Route: "tiles", Path: "/missing"})
	if err == nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreRemove(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Route: "bucket", Path: "/current-data/latest.json"}
	if _, err := store.Put(context.Background(), locator, bytes.NewReader([]byte("data")), PutOptions{Status: 200}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if err := store.Remove(context.Background(), locator); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if _, err := store.Get(context.Background(), locator); err == nil || err != ErrNotFound {
		t.Fatalf("expected not found after remove, got %v", err)
	}
}

func TestStoreExpiresAfterTTL(t *testing.T) {
	store := newTestStore(t)
	fs := store.(*fileStore)
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	fs.now = func() time.Time { return now }

	locator := Locator{Route: "magnitude", Path: "/nvs/get_values"}
	if _, err := store.Put(context.Background(), locator, bytes.NewReader([]byte("{}")), PutOptions{
		Status: 200,
		TTL:    5 * time.Minute,
	}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	now = now.Add(4 * time.Minute)
	if _, err := store.Get(context.Background(), locator); err != nil {
		t.Fatalf("entry should still be valid: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := store.Get(context.Background(), locator); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired entry to miss, got %v", err)
	}
}

type failingReader struct{ sent bool }

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		return copy(p, "partial"), nil
	}
	return 0, errors.New("upstream reset")
}

func TestStoreDiscardsAbortedBody(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Route: "bucket", Path: "/current-data/20261019_00z/geometry.bin"}
	if _, err := store.Put(context.Background(), locator, &failingReader{}, PutOptions{Status: 200}); err == nil {
		t.Fatalf("expected put to fail")
	}
	if _, err := store.Get(context.Background(), locator); !errors.Is(err, ErrNotFound) {
		t.Fatalf("aborted body must not be visible, got %v", err)
	}
}

func TestStoreNestedPathsDoNotCollide(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	parent := Locator{Route: "info", Path: "/eis-info/station"}
	child := Locator{Route: "info", Path: "/eis-info/station/42"}
	for _, loc := range []Locator{parent, child} {
		if _, err := store.Put(ctx, loc, bytes.NewReader([]byte(loc.Path)), PutOptions{Status: 200}); err != nil {
			t.Fatalf("put %s: %v", loc.Path, err)
		}
	}
	for _, loc := range []Locator{parent, child} {
		result, err := store.Get(ctx, loc)
		if err != nil {
			t.Fatalf("get %s: %v", loc.Path, err)
		}
		body, _ := io.ReadAll(result.Reader)
		result.Reader.Close()
		if string(body) != loc.Path {
			t.Fatalf("expected %s, got %s", loc.Path, body)
		}
	}
}

func TestStoreIgnoresDirectories(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Route: "tiles", Path: "/tiles"}

	fs, ok := store.(*fileStore)
	if !ok {
		t.Fatalf("unexpected store type %T", store)
	}

	base, err := fs.entryPath(locator)
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	if err := os.MkdirAll(base+bodySuffix, 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	if _, err := store.Get(context.Background(), locator); err == nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
}

func TestBuildLocatorHashesQuery(t *testing.T) {
	a := BuildLocator("tides", "/noaa/tides", "station=1")
	b := BuildLocator("tides", "/noaa/tides", "station=2")
	if a.Path == b.Path {
		t.Fatalf("different queries should map to different locators")
	}
	if StripQueryMarker(a.Path) != "/noaa/tides" {
		t.Fatalf("unexpected stripped path %s", StripQueryMarker(a.Path))
	}
	if got := BuildLocator("tides", "noaa/../noaa/tides", "").Path; got != "/noaa/tides" {
		t.Fatalf("expected cleaned path, got %s", got)
	}
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}
