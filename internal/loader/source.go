package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// TrackSource supplies raw track text for a candidate's source path.
// Fetch failures surface as per-item load failures, never as panics.
type TrackSource interface {
	FetchTrack(ctx context.Context, sourcePath string) (string, error)
}

// HTTPTrackSource resolves source paths against a base URL.
type HTTPTrackSource struct {
	client  *http.Client
	baseURL string
}

var _ TrackSource = (*HTTPTrackSource)(nil)

func NewHTTPTrackSource(client *http.Client, baseURL string) *HTTPTrackSource {
	return &HTTPTrackSource{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *HTTPTrackSource) FetchTrack(ctx context.Context, sourcePath string) (string, error) {
	u := s.baseURL + "/" + strings.TrimLeft(sourcePath, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return "", fmt.Errorf("track upstream status %d: %s", resp.StatusCode, string(b))
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(b), nil
}
