// Package analyzer fetches a domain's homepage and extracts enrichment
// signals from it: title, description, contact emails, social profiles, and
// a technology fingerprint.
//
// An Analyzer is stateless apart from its shared HTTP client and optional
// rate limiter, so one instance serves every worker concurrently.
package analyzer

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/domain-enricher/internal/enricher"
	"github.com/JakeFAU/domain-enricher/internal/techsig"
)

// DefaultUserAgent mimics a desktop browser; many small sites reject obvious bots.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:135.0) Gecko/20100101 Firefox/135.0"

const (
	defaultRequestTimeout   = 15 * time.Second
	defaultMaxDownloadBytes = 3 * 1024 * 1024
)

// Config controls per-request limits.
type Config struct {
	// RequestTimeout bounds each candidate URL attempt, body included.
	RequestTimeout time.Duration
	// MaxDownloadBytes skips pages larger than this.
	MaxDownloadBytes int64
	UserAgent        string
	// RequestsPerSecond caps outbound requests across all workers; 0 disables the cap.
	RequestsPerSecond float64
}

// Analyzer implements enricher.Analyzer.
type Analyzer struct {
	client   *http.Client
	registry *techsig.Registry
	limiter  *rate.Limiter
	cfg      Config
	logger   *zap.Logger
}

var _ enricher.Analyzer = (*Analyzer)(nil)

// New constructs an Analyzer around a shared client.
func New(client *http.Client, registry *techsig.Registry, cfg Config, logger *zap.Logger) *Analyzer {
	if client == nil {
		client = NewHTTPClient(ClientConfig{MaxRedirects: 3})
	}
	if registry == nil {
		registry = techsig.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.MaxDownloadBytes <= 0 {
		cfg.MaxDownloadBytes = defaultMaxDownloadBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &Analyzer{
		client:   client,
		registry: registry,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger,
	}
}

// Analyze resolves rawDomain to a homepage and extracts its signals. It never
// returns an error: every failure mode maps to a terminal result with a
// diagnostic title.
func (a *Analyzer) Analyze(ctx context.Context, jobID int64, rawDomain string) enricher.AnalysisResult {
	host := NormalizeHost(rawDomain)
	if host == "" {
		return enricher.TerminalResult(jobID, 0, enricher.TitleInvalidDomain)
	}

	p, ok := a.fetchFirst(ctx, host)
	switch {
	case !ok:
		return enricher.TerminalResult(jobID, 0, enricher.TitleConnectionFailed)
	case p.TooLarge:
		return enricher.TerminalResult(jobID, p.StatusCode, enricher.TitlePageTooLarge)
	case len(p.Body) == 0:
		return enricher.TerminalResult(jobID, p.StatusCode, enricher.TitleEmpty)
	}
	return a.extract(jobID, p)
}
