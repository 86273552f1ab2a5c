package httpclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/roomkangali/kalki/internal/config"
	"github.com/roomkangali/kalki/internal/logger"
	"github.com/roomkangali/kalki/internal/metrics"
)

const maxRedirects = 10

// Client is the network session shared by every probe of one scan: one transport,
// one cookie jar, one rate limiter and one retry policy.
type Client struct {
	httpClient *http.Client // Follows redirects.
	noRedirect *http.Client // Same transport and jar, never follows redirects.
	logger     *logger.Logger
	metrics    *metrics.Metrics
	limiter    *rate.Limiter
	jar        *recordingJar
	userAgent  string
	headers    map[string]string
	policy     RetryPolicy
	sleeper    sleeper
}

// ClientOptions holds configuration parameters for initializing the Client.
type ClientOptions struct {
	Timeout           time.Duration     // Per-request timeout.
	UserAgent         string            // User-Agent sent with every request.
	Proxy             string            // http, https or socks5 proxy URL.
	VerifySSL         bool              // Verify TLS certificates.
	Cookies           map[string]string // Static session cookies scoped to TargetBaseURL.
	Headers           map[string]string // Static headers added to every request.
	TargetBaseURL     string            // Used for cookie scope.
	RequestsPerSecond float64           // 0 means unlimited.
	Retry             RetryPolicy       // Used by Fetch only.
	Metrics           *metrics.Metrics  // Optional.
}

// OptionsFromConfig maps a normalized scan configuration onto client options.
func OptionsFromConfig(cfg config.ScanConfiguration, target string) ClientOptions {
	return ClientOptions{
		Timeout:           cfg.Timeout,
		UserAgent:         cfg.UserAgent,
		Proxy:             cfg.Proxy,
		VerifySSL:         cfg.VerifySSL,
		Cookies:           cfg.Cookies,
		Headers:           cfg.Headers,
		TargetBaseURL:     target,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Retry: RetryPolicy{
			MaxRetries:    cfg.MaxRetries,
			BackoffFactor: cfg.BackoffFactor,
			MaxBackoff:    cfg.MaxBackoff,
		},
	}
}

// NewClient creates a Client. It fails only on a proxy URL that cannot be parsed.
func NewClient(log *logger.Logger, opts ClientOptions) (*Client, error) {
	if opts.UserAgent == "" {
		opts.UserAgent = config.DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = config.DefaultTimeout
	}
	if opts.Retry.MaxRetries < 0 {
		opts.Retry.MaxRetries = 0
	}
	if opts.Retry.MaxBackoff <= 0 {
		opts.Retry.MaxBackoff = config.DefaultMaxBackoff
	}
	if log == nil {
		log = logger.Discard()
	}

	transport := &http.Transport{
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: !opts.VerifySSL},
		MaxIdleConnsPerHost: 16,
	}
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy %q: %w", opts.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	session, _ := cookiejar.New(nil)
	jar := newRecordingJar(session)

	c := &Client{
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
			Jar:       jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					log.Warn("Exceeded maximum redirects (%d).", maxRedirects)
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		logger:    log,
		metrics:   opts.Metrics,
		limiter:   newLimiter(opts.RequestsPerSecond),
		jar:       jar,
		userAgent: opts.UserAgent,
		headers:   opts.Headers,
		policy:    opts.Retry.withDefaults(),
		sleeper:   realSleeper{},
	}
	c.noRedirect = &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
		Jar:       jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	if len(opts.Cookies) > 0 {
		targetURL, err := url.Parse(opts.TargetBaseURL)
		if err != nil || targetURL.Host == "" {
			log.Error("Failed to parse target URL for setting cookies: %s", opts.TargetBaseURL)
		} else {
			cookies := make([]*http.Cookie, 0, len(opts.Cookies))
			for name, value := range opts.Cookies {
				cookies = append(cookies, &http.Cookie{Name: name, Value: value})
			}
			session.SetCookies(targetURL, cookies)
			log.Debug("Static session cookies set for domain %s", targetURL.Host)
		}
	}
	if len(opts.Headers) > 0 {
		log.Debug("Static headers configured: %d", len(opts.Headers))
	}
	return c, nil
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Do performs a single attempt and follows redirects. Any HTTP status is a valid
// response; only transport failures are errors. Once ctx is done no new request is
// started, but a request already on the wire runs to completion or timeout.
func (c *Client) Do(ctx context.Context, req *http.Request) (*Response, error) {
	resp, err := c.send(ctx, c.httpClient, req)
	c.observe(resp, err)
	return resp, err
}

// DoNoRedirect is Do without following redirects, used where the redirect itself is
// the signal (form submissions, login flows).
func (c *Client) DoNoRedirect(ctx context.Context, req *http.Request) (*Response, error) {
	resp, err := c.send(ctx, c.noRedirect, req)
	c.observe(resp, err)
	return resp, err
}

// Get performs a single GET attempt.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Reason: ReasonInvalidURL, Err: err}
	}
	return c.Do(ctx, req)
}

func (c *Client) send(ctx context.Context, hc *http.Client, req *http.Request) (*Response, error) {
	target := req.URL.String()
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{URL: target, Reason: ReasonCanceled, Err: err}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{URL: target, Reason: ReasonCanceled, Err: err}
	}

	out := req.Clone(context.WithoutCancel(ctx))
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err == nil {
			out.Body = body
		}
	}
	out.Header.Set("User-Agent", c.userAgent)
	for key, value := range c.headers {
		out.Header.Set(key, value)
	}

	c.logger.Trace("Sending request: %s %s", out.Method, target)
	if cookies := hc.Jar.Cookies(out.URL); len(cookies) > 0 {
		var cookieStrings []string
		for _, cookie := range cookies {
			cookieStrings = append(cookieStrings, cookie.Name+"="+cookie.Value)
		}
		c.logger.Trace("  -> Cookies from Jar to be sent: %s", strings.Join(cookieStrings, "; "))
	}

	start := time.Now()
	resp, err := hc.Do(out)
	if err != nil {
		return nil, &FetchError{URL: target, Reason: classify(err), Attempts: 1, Err: err}
	}
	r, err := readResponse(resp, start)
	if err != nil {
		return nil, &FetchError{URL: target, Reason: classify(err), StatusCode: resp.StatusCode, Attempts: 1, Err: err}
	}
	c.logger.Trace("  <- %d %s (%d bytes, %s)", r.StatusCode, target, len(r.Body), r.Duration.Round(time.Millisecond))
	return r, nil
}

func (c *Client) observe(resp *Response, err error) {
	switch {
	case err == nil:
		c.metrics.ObserveRequest(metrics.OutcomeSuccess, resp.Duration)
	case IsCanceled(err):
		c.metrics.ObserveRequest(metrics.OutcomeCanceled, 0)
	default:
		c.metrics.ObserveRequest(metrics.OutcomeFailure, 0)
	}
}
