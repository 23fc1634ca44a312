package offline

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/currents-hub/currents/internal/body"
)

// HTTPFetcher 使用共享 http.Client 访问网络。
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher wraps client; nil falls back to http.DefaultClient.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request) (*Response, error) {
	var payload io.Reader = http.NoBody
	if len(req.Body) > 0 {
		payload = bytes.NewReader(req.Body)
	}
	outbound, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), payload)
	if err != nil {
		return nil, err
	}
	for key, values := range req.Header {
		for _, value := range values {
			outbound.Header.Add(key, value)
		}
	}
	resp, err := f.client.Do(outbound)
	if err != nil {
		return nil, err
	}
	return newResponse(resp.StatusCode, resp.Header, body.New(resp.Body), SourceNetwork), nil
}
