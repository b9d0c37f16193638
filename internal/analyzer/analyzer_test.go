package analyzer

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/domain-enricher/internal/enricher"
	"github.com/JakeFAU/domain-enricher/internal/techsig"
)

type routeFunc func(*http.Request) (*http.Response, error)

// stubTransport answers requests from a route table and records the order of calls.
type stubTransport struct {
	mu     sync.Mutex
	calls  []string
	routes map[string]routeFunc
}

func (s *stubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req.URL.String())
	route, ok := s.routes[req.URL.String()]
	s.mu.Unlock()
	if !ok {
		return nil, errors.New("dial tcp: connection refused")
	}
	return route(req)
}

func (s *stubTransport) called() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func htmlRoute(status int, body string) routeFunc {
	return func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode:    status,
			Header:        http.Header{"Content-Type": {"text/html; charset=utf-8"}},
			Body:          io.NopCloser(strings.NewReader(body)),
			ContentLength: int64(len(body)),
			Request:       req,
		}, nil
	}
}

func gzipBytes(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := io.WriteString(zw, body)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func gzipRoute(encoded []byte) routeFunc {
	return func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header: http.Header{
				"Content-Type":     {"text/html; charset=utf-8"},
				"Content-Encoding": {"gzip"},
			},
			Body:          io.NopCloser(bytes.NewReader(encoded)),
			ContentLength: int64(len(encoded)),
			Request:       req,
		}, nil
	}
}

func failRoute(msg string) routeFunc {
	return func(*http.Request) (*http.Response, error) {
		return nil, errors.New(msg)
	}
}

// trackingBody records whether anything tried to read it.
type trackingBody struct {
	mu     sync.Mutex
	reads  int
	closed bool
}

func (b *trackingBody) Read([]byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads++
	return 0, io.EOF
}

func (b *trackingBody) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func newTestAnalyzer(transport http.RoundTripper, cfg Config) *Analyzer {
	client := &http.Client{Transport: transport}
	return New(client, techsig.Default(), cfg, zap.NewNop())
}

func TestNormalizeHost(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		input string
		want  string
	}{
		{"bare domain", "example.com", "example.com"},
		{"with scheme and path", "https://example.com/about", "example.com"},
		{"with port", "example.com:8080", "example.com:8080"},
		{"surrounding space", "  example.org  ", "example.org"},
		{"empty", "", ""},
		{"whitespace", "   ", ""},
		{"scheme only", "http://", ""},
		{"unparseable", "http://%zz", ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, NormalizeHost(tc.input))
		})
	}
}

func TestCandidatesOrder(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{
		"https://example.com",
		"http://example.com",
		"https://www.example.com",
	}, Candidates("example.com"))
}

func TestAnalyzeInvalidDomain(t *testing.T) {
	t.Parallel()

	transport := &stubTransport{}
	a := newTestAnalyzer(transport, Config{})

	res := a.Analyze(context.Background(), 9, "   ")
	require.Equal(t, enricher.TerminalResult(9, 0, enricher.TitleInvalidDomain), res)
	require.Empty(t, transport.called())
}

func TestAnalyzeFallsThroughToNextCandidate(t *testing.T) {
	t.Parallel()

	transport := &stubTransport{routes: map[string]routeFunc{
		"https://example.com": failRoute("tls: handshake failure"),
		"http://example.com":  htmlRoute(http.StatusOK, "<html><head><title>Home</title></head></html>"),
	}}
	a := newTestAnalyzer(transport, Config{})

	res := a.Analyze(context.Background(), 1, "example.com")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "Home", res.Title)
	require.Equal(t, []string{"https://example.com", "http://example.com"}, transport.called())
}

func TestAnalyzeUsesFirstResponseRegardlessOfStatus(t *testing.T) {
	t.Parallel()

	transport := &stubTransport{routes: map[string]routeFunc{
		"https://example.com": htmlRoute(http.StatusServiceUnavailable, "<title>Maintenance window</title>"),
		"http://example.com":  htmlRoute(http.StatusOK, "<title>Should not be used</title>"),
	}}
	a := newTestAnalyzer(transport, Config{})

	res := a.Analyze(context.Background(), 1, "example.com")
	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	require.Equal(t, "Maintenance window", res.Title)
	require.Len(t, transport.called(), 1)
}

func TestAnalyzeConnectionFailed(t *testing.T) {
	t.Parallel()

	transport := &stubTransport{}
	a := newTestAnalyzer(transport, Config{})

	res := a.Analyze(context.Background(), 5, "example.com")
	require.Equal(t, enricher.TerminalResult(5, 0, enricher.TitleConnectionFailed), res)
	require.Equal(t, Candidates("example.com"), transport.called())
}

func TestAnalyzeRequestTimeoutFallsThrough(t *testing.T) {
	t.Parallel()

	transport := &stubTransport{routes: map[string]routeFunc{
		"https://example.com": func(req *http.Request) (*http.Response, error) {
			<-req.Context().Done()
			return nil, req.Context().Err()
		},
		"http://example.com": htmlRoute(http.StatusOK, "<title>Home</title>"),
	}}
	a := newTestAnalyzer(transport, Config{RequestTimeout: 20 * time.Millisecond})

	res := a.Analyze(context.Background(), 1, "example.com")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "Home", res.Title)
}

func TestAnalyzePageTooLargeSkipsBody(t *testing.T) {
	t.Parallel()

	body := &trackingBody{}
	transport := &stubTransport{routes: map[string]routeFunc{
		"https://example.com": func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode:    http.StatusOK,
				Header:        http.Header{"Content-Length": {"4194304"}},
				Body:          body,
				ContentLength: 4 * 1024 * 1024,
				Request:       req,
			}, nil
		},
	}}
	a := newTestAnalyzer(transport, Config{})

	res := a.Analyze(context.Background(), 2, "example.com")
	require.Equal(t, enricher.TerminalResult(2, http.StatusOK, enricher.TitlePageTooLarge), res)
	require.Zero(t, body.reads)
	require.True(t, body.closed)
}

func TestAnalyzeUndeclaredBodyOverCapIsTooLarge(t *testing.T) {
	t.Parallel()

	transport := &stubTransport{routes: map[string]routeFunc{
		"https://example.com": func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode:    http.StatusOK,
				Header:        http.Header{},
				Body:          io.NopCloser(strings.NewReader(strings.Repeat("a", 64))),
				ContentLength: -1,
				Request:       req,
			}, nil
		},
	}}
	a := newTestAnalyzer(transport, Config{MaxDownloadBytes: 32})

	res := a.Analyze(context.Background(), 2, "example.com")
	require.Equal(t, enricher.TitlePageTooLarge, res.Title)
	require.False(t, res.Parsed)
}

func TestAnalyzeEmptyBody(t *testing.T) {
	t.Parallel()

	transport := &stubTransport{routes: map[string]routeFunc{
		"https://example.com": htmlRoute(http.StatusNoContent, ""),
	}}
	a := newTestAnalyzer(transport, Config{})

	res := a.Analyze(context.Background(), 3, "example.com")
	require.Equal(t, enricher.TerminalResult(3, http.StatusNoContent, enricher.TitleEmpty), res)
}

const acmeHomepage = `<html><head>
<title>
  Acme Widgets
</title>
<meta name="description" content="Quality widgets shipped worldwide since 1999.">
<link rel="stylesheet" href="/wp-content/themes/acme/style.css">
<script src="https://connect.facebook.net/en_US/fbevents.js"></script>
</head><body>
<a href="mailto:sales@acme-widgets.com">sales@acme-widgets.com</a>
<p>Support: support@acme-widgets.com, logo: logo@2x.png, info@example.com, sales@acme-widgets.com</p>
<a href="https://www.facebook.com/sharer/sharer.php?u=acme">Share</a>
<a href="https://www.facebook.com/acmewidgets">Facebook</a>
<a href="https://www.facebook.com/acmewidgets-other">Facebook again</a>
<a href="https://instagram.com/acme">Instagram</a>
<a href="https://twitter.com/intent/tweet?text=hi">Tweet</a>
<a href="https://x.com/acmewidgets">X</a>
<a href="/relative/linkedin.com/page">Relative</a>
</body></html>`

func TestAnalyzeExtractsSignals(t *testing.T) {
	t.Parallel()

	transport := &stubTransport{routes: map[string]routeFunc{
		"https://acme-widgets.com": htmlRoute(http.StatusOK, acmeHomepage),
	}}
	a := newTestAnalyzer(transport, Config{})

	res := a.Analyze(context.Background(), 77, "acme-widgets.com")
	require.Equal(t, enricher.AnalysisResult{
		JobID:       77,
		StatusCode:  http.StatusOK,
		Title:       "Acme Widgets",
		Description: "Quality widgets shipped worldwide since 1999.",
		Emails:      []string{"sales@acme-widgets.com", "support@acme-widgets.com"},
		Socials: map[string]string{
			enricher.PlatformFacebook:  "https://www.facebook.com/acmewidgets",
			enricher.PlatformInstagram: "https://instagram.com/acme",
			enricher.PlatformTwitter:   "https://x.com/acmewidgets",
		},
		TechStack:   []string{"WordPress", "Facebook Pixel"},
		IsEcommerce: false,
		HasAds:      true,
		Parsed:      true,
	}, res)
}

func TestAnalyzeWooCommerceStore(t *testing.T) {
	t.Parallel()

	transport := &stubTransport{routes: map[string]routeFunc{
		"https://shop.example": htmlRoute(http.StatusOK, `<html><body class="woocommerce"><title>The Shop</title></body></html>`),
	}}
	a := newTestAnalyzer(transport, Config{})

	res := a.Analyze(context.Background(), 8, "shop.example")
	require.True(t, res.IsEcommerce)
	require.Equal(t, []string{"WordPress"}, res.TechStack)
}

func TestAnalyzeIsIdempotent(t *testing.T) {
	t.Parallel()

	transport := &stubTransport{routes: map[string]routeFunc{
		"https://acme-widgets.com": htmlRoute(http.StatusOK, acmeHomepage),
	}}
	a := newTestAnalyzer(transport, Config{})

	first := a.Analyze(context.Background(), 77, "acme-widgets.com")
	second := a.Analyze(context.Background(), 77, "acme-widgets.com")
	require.Equal(t, first, second)
}

func TestAnalyzeCanceledContextStopsCandidates(t *testing.T) {
	t.Parallel()

	transport := &stubTransport{}
	a := newTestAnalyzer(transport, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := a.Analyze(ctx, 4, "example.com")
	require.Equal(t, enricher.TitleConnectionFailed, res.Title)
	require.LessOrEqual(t, len(transport.called()), 1)
}

func TestAnalyzeRateLimitedClientStillCompletes(t *testing.T) {
	t.Parallel()

	transport := &stubTransport{routes: map[string]routeFunc{
		"https://example.com": htmlRoute(http.StatusOK, "<title>Limited</title>"),
	}}
	a := newTestAnalyzer(transport, Config{RequestsPerSecond: 1000})

	res := a.Analyze(context.Background(), 1, "example.com")
	require.Equal(t, "Limited", res.Title)
}

func TestAnalyzeAgainstHTTPServer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, `<html><head><title>Local Site</title></head><body>hello@localsite.dev</body></html>`)
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	a := New(NewHTTPClient(ClientConfig{MaxRedirects: 3}), nil, Config{RequestTimeout: 2 * time.Second}, nil)

	// The https candidate fails the TLS handshake against a plain listener,
	// so the http candidate answers.
	res := a.Analyze(context.Background(), 11, host)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "Local Site", res.Title)
	require.Equal(t, []string{"hello@localsite.dev"}, res.Emails)
}

func TestHTTPClientStopsRedirectLoops(t *testing.T) {
	t.Parallel()

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	client := NewHTTPClient(ClientConfig{MaxRedirects: 3})
	resp, err := client.Get(srv.URL + "/")
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.Error(t, err)
	require.True(t, errors.Is(err, errTooManyRedirects))
}

func TestAnalyzeGzipBodyCappedOnWireBytes(t *testing.T) {
	t.Parallel()

	page := "<html><head><title>Compressed Catalog</title></head><body>" +
		strings.Repeat("<p>widget</p>", 4*1024*1024/13) + "</body></html>"
	encoded := gzipBytes(t, page)

	acceptEncoding := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case acceptEncoding <- r.Header.Get("Accept-Encoding"):
		default:
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Length", strconv.Itoa(len(encoded)))
		_, _ = w.Write(encoded)
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	a := New(NewHTTPClient(ClientConfig{MaxRedirects: 3}), nil, Config{
		RequestTimeout:   5 * time.Second,
		MaxDownloadBytes: 3 * 1024 * 1024,
	}, nil)

	res := a.Analyze(context.Background(), 12, host)
	require.Equal(t, "gzip", <-acceptEncoding)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.True(t, res.Parsed)
	require.Equal(t, "Compressed Catalog", res.Title)
}

func TestAnalyzeGzipInflateLimit(t *testing.T) {
	t.Parallel()

	encoded := gzipBytes(t, strings.Repeat("a", 1024*maxInflateRatio+1))
	transport := &stubTransport{routes: map[string]routeFunc{
		"https://example.com": gzipRoute(encoded),
	}}
	a := newTestAnalyzer(transport, Config{MaxDownloadBytes: 1024})

	res := a.Analyze(context.Background(), 13, "example.com")
	require.Equal(t, enricher.TitlePageTooLarge, res.Title)
	require.False(t, res.Parsed)
}

func TestAnalyzeCorruptGzipFallsThrough(t *testing.T) {
	t.Parallel()

	transport := &stubTransport{routes: map[string]routeFunc{
		"https://example.com": gzipRoute([]byte("not gzip at all")),
		"http://example.com":  htmlRoute(http.StatusOK, "<title>Plain Home</title>"),
	}}
	a := newTestAnalyzer(transport, Config{})

	res := a.Analyze(context.Background(), 14, "example.com")
	require.Equal(t, "Plain Home", res.Title)
}
