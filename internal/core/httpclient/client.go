// Package httpclient builds the tuned outbound HTTP client shared by the
// tile and track fetchers.
package httpclient

import (
	"net/http"
	"time"
)

func NewOutbound() *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 64
	t.MaxIdleConnsPerHost = 16
	t.IdleConnTimeout = 90 * time.Second

	return &http.Client{
		Transport: t,
		Timeout:   30 * time.Second,
	}
}
