package tilecache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// HTTPProvider fetches tiles from a templated URL. The template uses
// {z}, {x} and {y} placeholders; the API key, when set, is appended as
// the api_key query parameter.
type HTTPProvider struct {
	client   *http.Client
	template string
	apiKey   string
}

var _ Provider = (*HTTPProvider)(nil)

func NewHTTPProvider(client *http.Client, template, apiKey string) *HTTPProvider {
	return &HTTPProvider{client: client, template: template, apiKey: apiKey}
}

func (p *HTTPProvider) URL(z, x, y int) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
	)
	u := r.Replace(p.template)
	if p.apiKey != "" {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + "api_key=" + p.apiKey
	}
	return u
}

func (p *HTTPProvider) FetchTile(ctx context.Context, z, x, y int) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL(z, x, y), nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, "", fmt.Errorf("tile upstream status %d: %s", resp.StatusCode, string(b))
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	return b, resp.Header.Get("Content-Type"), nil
}
