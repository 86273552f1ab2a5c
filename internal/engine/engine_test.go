package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomkangali/kalki/internal/config"
	"github.com/roomkangali/kalki/internal/finding"
	"github.com/roomkangali/kalki/internal/httpclient"
	"github.com/roomkangali/kalki/internal/logger"
	"github.com/roomkangali/kalki/internal/metrics"
	"github.com/roomkangali/kalki/internal/risk"
)

const tokenBase = "aB3dE5fG7hJ9kL1mN2pQ4rS6tU8vW0xYz"

const transferPage = `<html><body>
<h1>Transfer</h1>
<form method="post" action="/transfer">
  <input type="hidden" name="csrf_token" value="%s">
  <input type="text" name="amount" value="10">
  <input type="submit" value="Send">
</form>
</body></html>`

// bank protects its transfer form with rotating tokens, an Origin check and a
// SameSite session cookie, but never throttles submissions. onSubmit, when set, runs
// before every accepted transfer.
func bank(onSubmit func()) *httptest.Server {
	var issued sync.Map
	var n atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			token := fmt.Sprintf("%s%d", tokenBase, n.Add(1))
			issued.Store(token, true)
			http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "s1", Path: "/", SameSite: http.SameSiteLaxMode})
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprintf(w, transferPage, token)
		case "/transfer":
			_ = r.ParseForm()
			if origin := r.Header.Get("Origin"); origin != "" && origin != srv.URL {
				w.WriteHeader(http.StatusForbidden)
				fmt.Fprint(w, "cross-site request rejected")
				return
			}
			if _, ok := issued.Load(r.PostForm.Get("csrf_token")); !ok {
				w.WriteHeader(http.StatusForbidden)
				fmt.Fprint(w, "Invalid CSRF token")
				return
			}
			if onSubmit != nil {
				onSubmit()
			}
			fmt.Fprint(w, "<p>Transfer complete</p>")
		default:
			http.NotFound(w, r)
		}
	}))
	return srv
}

func testConfig() config.ScanConfiguration {
	cfg := config.Default()
	cfg.Timeout = 5 * time.Second
	cfg.MaxRetries = 1
	cfg.BackoffFactor = 10 * time.Millisecond
	return cfg
}

func categories(findings []finding.Finding) []finding.Category {
	out := make([]finding.Category, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Category)
	}
	return out
}

func TestRun_RateLimitingGap(t *testing.T) {
	srv := bank(nil)
	defer srv.Close()

	m, err := metrics.New()
	require.NoError(t, err)
	res, err := New(testConfig(), logger.Discard(), WithMetrics(m)).Run(context.Background(), srv.URL+"/", "csrf")
	require.NoError(t, err)

	assert.False(t, res.Partial)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, []string{finding.DetectorCSRF}, res.Detectors)
	assert.Equal(t, []finding.Category{finding.CategoryCSRFRateLimit}, categories(res.Findings))
	assert.Equal(t, srv.URL+"/transfer", res.Findings[0].Location)
	assert.Equal(t, 1, res.Counts[finding.CategoryCSRFRateLimit])
	assert.GreaterOrEqual(t, res.Duration, time.Duration(0))

	require.NotNil(t, res.CSRF)
	assert.Equal(t, 1, res.CSRF.FormsScanned)
	assert.Equal(t, 1, res.CSRF.VulnerableForms)
	assert.Equal(t, 1, res.CSRF.TotalVulnerabilities)
	assert.Equal(t, 98, res.CSRF.SecurityScore)
	assert.Equal(t, risk.LevelLow, res.CSRF.OverallRiskLevel)

	rep, ok := res.Report(finding.DetectorCSRF)
	require.True(t, ok)
	assert.Equal(t, 2, rep.TotalRiskScore)
	assert.Equal(t, risk.LevelLow, rep.RiskLevel)
	assert.Len(t, rep.Vulnerabilities, 1)
}

func TestRun_SkipRateLimiting(t *testing.T) {
	var submissions atomic.Int32
	srv := bank(func() { submissions.Add(1) })
	defer srv.Close()

	cfg := testConfig()
	cfg.SkipChecks = []string{config.CheckRateLimiting}
	res, err := New(cfg, logger.Discard()).Run(context.Background(), srv.URL+"/", "csrf")
	require.NoError(t, err)

	assert.Empty(t, res.Findings)
	assert.Equal(t, []string{config.CheckRateLimiting}, res.SkippedChecks)
	require.NotNil(t, res.CSRF)
	assert.Equal(t, 100, res.CSRF.SecurityScore)
	assert.Equal(t, 0, res.CSRF.VulnerableForms)
	assert.Less(t, int(submissions.Load()), cfg.RateLimitRequests, "the burst is not sent")
}

func TestRun_InvalidTargetMakesNoRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	e := New(testConfig(), logger.Discard())
	for _, target := range []string{"", "ftp://" + srv.Listener.Addr().String(), srv.Listener.Addr().String(), "http://"} {
		res, err := e.Run(context.Background(), target)
		assert.Nil(t, res)
		var invalid *config.InvalidTargetError
		assert.ErrorAs(t, err, &invalid, target)
	}
	assert.Zero(t, hits.Load())
}

func TestRun_RootFetchFailureAborts(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	res, err := New(testConfig(), logger.Discard()).Run(context.Background(), srv.URL+"/missing")
	assert.Nil(t, res)
	var fe *httpclient.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
}

func TestRun_UnknownDetector(t *testing.T) {
	_, err := New(testConfig(), logger.Discard()).Run(context.Background(), "http://127.0.0.1:1/", "lfi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown detector")
}

func TestRun_SkippedDetectorDoesNotRun(t *testing.T) {
	var submissions atomic.Int32
	srv := bank(func() { submissions.Add(1) })
	defer srv.Close()

	cfg := testConfig()
	cfg.SkipChecks = []string{config.CheckCSRF, config.CheckSQLi, config.CheckSSRF, config.CheckXSS}
	res, err := New(cfg, logger.Discard()).Run(context.Background(), srv.URL+"/")
	require.NoError(t, err)

	assert.Equal(t, []string{finding.DetectorStatic}, res.Detectors)
	assert.Nil(t, res.CSRF)
	assert.Zero(t, submissions.Load())
	require.Len(t, res.Static, 1)
	assert.Equal(t, srv.URL+"/", res.Static[0].Location)
	assert.Positive(t, res.Static[0].TotalTokens)
}

func TestRun_ConfigCorrectionsReported(t *testing.T) {
	srv := bank(nil)
	defer srv.Close()

	cfg := testConfig()
	cfg.EntropyThreshold = -1
	e := New(cfg, logger.Discard())
	assert.Equal(t, config.DefaultEntropyThreshold, e.Config().EntropyThreshold)

	res, err := e.Run(context.Background(), srv.URL+"/", "static")
	require.NoError(t, err)
	require.Len(t, res.ConfigCorrections, 1)
	assert.Contains(t, res.ConfigCorrections[0], "entropy_threshold")
}

func TestRun_CancellationReturnsPartialResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := bank(cancel)
	defer srv.Close()

	res, err := New(testConfig(), logger.Discard()).Run(ctx, srv.URL+"/", "csrf")
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.NotContains(t, categories(res.Findings), finding.CategoryCSRFRateLimit)
}

func TestRun_SessionCookieIssuedOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			if _, err := r.Cookie("PHPSESSID"); err != nil {
				http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: "abc", Path: "/"})
			}
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprintf(w, transferPage, tokenBase)
		default:
			fmt.Fprint(w, "<p>Transfer complete</p>")
		}
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.SkipChecks = []string{config.CheckTokens, config.CheckForms, config.CheckHeaders, config.CheckRateLimiting}
	res, err := New(cfg, logger.Discard()).Run(context.Background(), srv.URL+"/", "csrf")
	require.NoError(t, err)

	require.Equal(t, []finding.Category{finding.CategoryCSRFCookie}, categories(res.Findings))
	assert.Equal(t, "PHPSESSID", res.Findings[0].Parameter)
	require.NotNil(t, res.CSRF)
	assert.Equal(t, 0, res.CSRF.VulnerableForms, "cookie findings belong to the host")
}

// shop reflects its search term unencoded.
func shop() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, `<html><body><a href="/search?q=shoes">Search</a></body></html>`)
		case "/search":
			fmt.Fprintf(w, "<html><body><p>Results for %s</p></body></html>", r.URL.Query().Get("q"))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestRun_ReflectedXSSThroughCrawl(t *testing.T) {
	srv := shop()
	defer srv.Close()

	res, err := New(testConfig(), logger.Discard()).Run(context.Background(), srv.URL+"/", "xss")
	require.NoError(t, err)

	assert.Equal(t, 2, res.PagesCrawled)
	require.Contains(t, categories(res.Findings), finding.CategoryXSSReflected)
	rep, ok := res.Report(finding.DetectorXSS)
	require.True(t, ok)
	assert.Equal(t, 7, rep.TotalRiskScore)
	assert.Equal(t, risk.LevelMedium, rep.RiskLevel)
	_, ok = res.Report(finding.DetectorCSRF)
	assert.False(t, ok)
}

func TestNewDetectorReport(t *testing.T) {
	findings := []finding.Finding{
		finding.New(finding.CategorySQLiError, "Error-based SQLi", "http://t/a", "id", "'", "syntax error"),
		finding.New(finding.CategorySQLiBoolean, "Boolean-based SQLi", "http://t/b", "id", "' AND 1=1--", "differs"),
		finding.New(finding.CategoryXSSDOM, "DOM-based XSS", "http://t/c", "q", "", "innerHTML"),
	}
	rep := NewDetectorReport(finding.DetectorSQLi, findings)
	assert.Len(t, rep.Vulnerabilities, 2)
	assert.Equal(t, 17, rep.TotalRiskScore)
	assert.Equal(t, risk.LevelHigh, rep.RiskLevel)
}
