package analyzer

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/domain-enricher/internal/metrics"
)

// maxInflateRatio bounds a gzip body's decoded size relative to the download cap.
const maxInflateRatio = 20

var errInflateLimit = errors.New("decoded body exceeds inflate limit")

// page is a homepage response whose body has been read (or skipped because
// it exceeded the download cap).
type page struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	TooLarge    bool
}

// attempt is the outcome of one candidate URL: either a page or the reason it failed.
type attempt struct {
	URL  string
	Page page
	Err  error
}

func (a attempt) ok() bool {
	return a.Err == nil
}

// fetchFirst tries each candidate for host in order and returns the first
// page that produced any HTTP response.
func (a *Analyzer) fetchFirst(ctx context.Context, host string) (page, bool) {
	for _, candidate := range Candidates(host) {
		out := a.try(ctx, candidate)
		if out.ok() {
			metrics.ObserveFetch(metrics.StatusClass(out.Page.StatusCode))
			return out.Page, true
		}
		metrics.ObserveFetch(metrics.StatusClassError)
		a.logger.Debug("candidate failed", zap.String("url", out.URL), zap.Error(out.Err))
		if ctx.Err() != nil {
			break
		}
	}
	return page{}, false
}

// try performs a single bounded GET. The response body is always closed
// before returning so the connection goes back to the shared transport.
func (a *Analyzer) try(ctx context.Context, target string) attempt {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return attempt{URL: target, Err: fmt.Errorf("rate limit wait: %w", err)}
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return attempt{URL: target, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", a.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	// With an explicit Accept-Encoding the transport leaves gzip bodies encoded;
	// Content-Length and the download cap count wire bytes.
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := a.client.Do(req)
	if err != nil {
		return attempt{URL: target, Err: fmt.Errorf("get %s: %w", target, err)}
	}
	defer resp.Body.Close() //nolint:errcheck // body is drained or abandoned

	p := page{
		URL:         target,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if resp.Request != nil && resp.Request.URL != nil {
		p.URL = resp.Request.URL.String()
	}
	if declaredLength(resp) > a.cfg.MaxDownloadBytes {
		p.TooLarge = true
		return attempt{URL: target, Page: p}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, a.cfg.MaxDownloadBytes+1))
	if err != nil {
		return attempt{URL: target, Err: fmt.Errorf("read body %s: %w", target, err)}
	}
	if int64(len(raw)) > a.cfg.MaxDownloadBytes {
		p.TooLarge = true
		return attempt{URL: target, Page: p}
	}
	body, err := decodeBody(raw, resp.Header.Get("Content-Encoding"), a.cfg.MaxDownloadBytes*maxInflateRatio)
	if errors.Is(err, errInflateLimit) {
		p.TooLarge = true
		return attempt{URL: target, Page: p}
	}
	if err != nil {
		return attempt{URL: target, Err: fmt.Errorf("decode body %s: %w", target, err)}
	}
	p.Body = body
	return attempt{URL: target, Page: p}
}

// decodeBody inflates gzip-encoded bodies up to limit bytes. Other encodings
// are passed through.
func decodeBody(raw []byte, encoding string, limit int64) ([]byte, error) {
	if len(raw) == 0 || !strings.EqualFold(strings.TrimSpace(encoding), "gzip") {
		return raw, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("gzip header: %w", err)
	}
	defer zr.Close() //nolint:errcheck // in-memory reader
	out, err := io.ReadAll(io.LimitReader(zr, limit+1))
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	if int64(len(out)) > limit {
		return nil, errInflateLimit
	}
	return out, nil
}

// declaredLength returns the response's advertised size, or -1 when unknown.
func declaredLength(resp *http.Response) int64 {
	if resp.ContentLength >= 0 {
		return resp.ContentLength
	}
	if raw := resp.Header.Get("Content-Length"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	}
	return -1
}
