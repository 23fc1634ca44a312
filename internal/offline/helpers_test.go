package offline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/currents-hub/currents/internal/body"
	"github.com/currents-hub/currents/internal/config"
	"github.com/currents-hub/currents/internal/partition"
)

const testOrigin = "https://currents.example"

var errNetworkDown = errors.New("network down")

type fakeResponse struct {
	status int
	header http.Header
	body   string
	stream func() io.ReadCloser
}

// fakeFetcher 按完整 URL 返回预置响应，并记录每个 URL 的请求次数。
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	calls     map[string]int
	offline   bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{responses: map[string]fakeResponse{}, calls: map[string]int{}}
}

func (f *fakeFetcher) set(rawURL string, status int, payload string, headers ...string) {
	header := http.Header{}
	for i := 0; i+1 < len(headers); i += 2 {
		header.Set(headers[i], headers[i+1])
	}
	f.mu.Lock()
	f.responses[rawURL] = fakeResponse{status: status, header: header, body: payload}
	f.mu.Unlock()
}

func (f *fakeFetcher) setStream(rawURL string, stream func() io.ReadCloser) {
	f.mu.Lock()
	f.responses[rawURL] = fakeResponse{status: http.StatusOK, header: http.Header{}, stream: stream}
	f.mu.Unlock()
}

func (f *fakeFetcher) setOffline(offline bool) {
	f.mu.Lock()
	f.offline = offline
	f.mu.Unlock()
}

func (f *fakeFetcher) count(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rawURL]
}

func (f *fakeFetcher) Fetch(ctx context.Context, req *Request) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := req.URL.String()
	f.calls[key]++
	if f.offline {
		return nil, errNetworkDown
	}
	resp, ok := f.responses[key]
	if !ok {
		return newResponse(http.StatusNotFound, nil, body.FromBytes([]byte("not found")), SourceNetwork), nil
	}
	b := body.FromBytes([]byte(resp.body))
	if resp.stream != nil {
		b = body.New(resp.stream())
	}
	return newResponse(resp.status, resp.header.Clone(), b, SourceNetwork), nil
}

func testClientConfig(version string) config.ClientConfig {
	return config.ClientConfig{
		Version:             version,
		Origin:              testOrigin,
		ShellPath:           "/index.html",
		StaticAssets:        []string{"/index.html", "/app.js", "https://cdn.example/lib.js"},
		TrustedHosts:        []string{"cdn.example"},
		TileSegment:         "/tiles/",
		PassThroughPrefixes: []string{"/nvs/", "/noaa/"},
		TileRetention:       config.Duration(7 * 24 * time.Hour),
		CurrentDataPrefix:   "/current-data/",
	}
}

func newTestStore(t *testing.T) *partition.LevelStore {
	t.Helper()
	store, err := partition.OpenMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestDispatcher(t *testing.T, store partition.Store, fetcher Fetcher) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(testClientConfig("v1"), store, fetcher, quietLogger())
	require.NoError(t, err)
	return d
}

func mustRequest(t *testing.T, method, rawURL string, headers ...string) *Request {
	t.Helper()
	header := http.Header{}
	for i := 0; i+1 < len(headers); i += 2 {
		header.Set(headers[i], headers[i+1])
	}
	req, err := NewRequest(method, rawURL, header)
	require.NoError(t, err)
	return req
}

// roundTrip 模拟宿主：读完返回给客户端的分支，再执行缓存写入。
func roundTrip(t *testing.T, d *Dispatcher, req *Request) (*Response, string, error) {
	t.Helper()
	resp, effects := d.Handle(context.Background(), req)
	payload, readErr := resp.Body.ReadAll()
	applyErr := d.Apply(context.Background(), effects)
	if readErr != nil {
		return resp, string(payload), readErr
	}
	return resp, string(payload), applyErr
}

func partitionEntry(t *testing.T, store partition.Store, name, key string) (*partition.Snapshot, error) {
	t.Helper()
	p, err := store.Open(context.Background(), name)
	require.NoError(t, err)
	return p.Match(context.Background(), key)
}
