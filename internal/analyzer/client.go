package analyzer

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

var errTooManyRedirects = errors.New("too many redirects")

// ClientConfig controls the HTTP client shared by every worker.
type ClientConfig struct {
	MaxRedirects       int
	InsecureSkipVerify bool
	MaxIdleConns       int
}

// NewHTTPClient builds the client shared across workers. It carries no
// overall timeout; each request is bounded by its context.
func NewHTTPClient(cfg ClientConfig) *http.Client {
	maxRedirects := cfg.MaxRedirects
	if maxRedirects < 0 {
		maxRedirects = 0
	}
	return &http.Client{
		Transport: newHTTPTransport(cfg),
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return fmt.Errorf("%w: limit %d", errTooManyRedirects, maxRedirects)
			}
			return nil
		},
	}
}

func newHTTPTransport(cfg ClientConfig) *http.Transport {
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 100
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // many target sites carry broken certificates
		},
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
		DisableCompression:    true,
	}
}
