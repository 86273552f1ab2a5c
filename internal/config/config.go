package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Documented defaults.
const (
	DefaultTimeout           = 10 * time.Second
	DefaultUserAgent         = "CSRF-Scanner/1.0"
	DefaultScanDepth         = 2
	DefaultEntropyThreshold  = 3.5
	DefaultRateLimitRequests = 5
	DefaultConcurrency       = 5
	DefaultMaxRetries        = 5
	DefaultBackoffFactor     = 300 * time.Millisecond
	DefaultMaxBackoff        = 10 * time.Second
	DefaultTimeDelay         = 5 * time.Second
	DefaultLatencyFactor     = 3.0
	DefaultLengthThreshold   = 0.10

	maxScanDepth         = 10
	maxRateLimitRequests = 100
	maxEntropy           = 8.0
)

// Check names accepted in skip_checks. The first five are CSRF sub-checks, the rest
// switch off whole detectors.
const (
	CheckHeaders      = "headers"
	CheckCookies      = "cookies"
	CheckTokens       = "tokens"
	CheckForms        = "forms"
	CheckRateLimiting = "rate-limiting"

	CheckStatic = "static"
	CheckSQLi   = "sqli"
	CheckCSRF   = "csrf"
	CheckSSRF   = "ssrf"
	CheckXSS    = "xss"
)

var knownChecks = map[string]bool{
	CheckHeaders: true, CheckCookies: true, CheckTokens: true, CheckForms: true, CheckRateLimiting: true,
	CheckStatic: true, CheckSQLi: true, CheckCSRF: true, CheckSSRF: true, CheckXSS: true,
}

// SQLiConfig tunes the dynamic SQL injection prober.
type SQLiConfig struct {
	TimeDelay       time.Duration `yaml:"time_delay"`       // Delay injected by time-based payloads.
	LatencyFactor   float64       `yaml:"latency_factor"`   // Multiple of baseline latency that counts as a delay.
	LengthThreshold float64       `yaml:"length_threshold"` // Relative body-length change that counts as divergence.
}

// OutputConfig holds settings for the reporting collaborator.
type OutputConfig struct {
	File        string `yaml:"file"`         // JSON report path, empty disables it.
	MetricsFile string `yaml:"metrics_file"` // Prometheus textfile path, empty disables it.
}

// ScanConfiguration is supplied once per scan and read-only while the scan runs.
type ScanConfiguration struct {
	Timeout           time.Duration     `yaml:"timeout"`
	UserAgent         string            `yaml:"user_agent"`
	Cookies           map[string]string `yaml:"cookies"`
	Headers           map[string]string `yaml:"headers"`
	Proxy             string            `yaml:"proxy"`
	ScanDepth         int               `yaml:"scan_depth"`
	VerifySSL         bool              `yaml:"verify_ssl"`
	EntropyThreshold  float64           `yaml:"entropy_threshold"`
	RateLimitRequests int               `yaml:"rate_limit_requests"`
	SkipChecks        []string          `yaml:"skip_checks"`

	Concurrency       int           `yaml:"concurrency"`         // Concurrent workers and probe points.
	MaxRetries        int           `yaml:"max_retries"`         // Fetch retry budget.
	BackoffFactor     time.Duration `yaml:"backoff_factor"`      // Base of the exponential backoff.
	MaxBackoff        time.Duration `yaml:"max_backoff"`         // Upper bound of a single backoff.
	RequestsPerSecond float64       `yaml:"requests_per_second"` // 0 means unlimited.
	SQLi              SQLiConfig    `yaml:"sqli"`
	OAST              bool          `yaml:"oast"`      // Blind SSRF through interactsh.
	RenderJS          bool          `yaml:"render_js"` // Headless Chrome for crawling and DOM confirmation.
	LogLevel          string        `yaml:"log_level"`
	Output            OutputConfig  `yaml:"output"`
}

// Default returns a configuration populated with the documented defaults.
func Default() ScanConfiguration {
	return ScanConfiguration{
		Timeout:           DefaultTimeout,
		UserAgent:         DefaultUserAgent,
		ScanDepth:         DefaultScanDepth,
		VerifySSL:         true,
		EntropyThreshold:  DefaultEntropyThreshold,
		RateLimitRequests: DefaultRateLimitRequests,
		Concurrency:       DefaultConcurrency,
		MaxRetries:        DefaultMaxRetries,
		BackoffFactor:     DefaultBackoffFactor,
		MaxBackoff:        DefaultMaxBackoff,
		SQLi: SQLiConfig{
			TimeDelay:       DefaultTimeDelay,
			LatencyFactor:   DefaultLatencyFactor,
			LengthThreshold: DefaultLengthThreshold,
		},
		LogLevel: "info",
	}
}

// LoadConfig reads a YAML file on top of the defaults.
// A missing file is not an error: the defaults are returned.
func LoadConfig(filePath string) (ScanConfiguration, error) {
	cfg := Default()
	if filePath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", filePath, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("parse config %s: %w", filePath, err)
	}
	return cfg, nil
}

// Normalize replaces invalid values with their documented defaults and returns one
// ConfigurationError per correction. The receiver is valid afterwards.
func (c *ScanConfiguration) Normalize() []*ConfigurationError {
	var fixes []*ConfigurationError
	fix := func(field string, value, def interface{}, reason string) {
		fixes = append(fixes, &ConfigurationError{Field: field, Value: value, Default: def, Reason: reason})
	}

	if c.Timeout <= 0 {
		fix("timeout", c.Timeout, DefaultTimeout, "must be positive")
		c.Timeout = DefaultTimeout
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		fix("user_agent", c.UserAgent, DefaultUserAgent, "must not be empty")
		c.UserAgent = DefaultUserAgent
	}
	if c.ScanDepth < 0 || c.ScanDepth > maxScanDepth {
		fix("scan_depth", c.ScanDepth, DefaultScanDepth, fmt.Sprintf("must be between 0 and %d", maxScanDepth))
		c.ScanDepth = DefaultScanDepth
	}
	if c.EntropyThreshold <= 0 || c.EntropyThreshold > maxEntropy {
		fix("entropy_threshold", c.EntropyThreshold, DefaultEntropyThreshold, "must be in (0, 8] bits per character")
		c.EntropyThreshold = DefaultEntropyThreshold
	}
	if c.RateLimitRequests < 1 || c.RateLimitRequests > maxRateLimitRequests {
		fix("rate_limit_requests", c.RateLimitRequests, DefaultRateLimitRequests, fmt.Sprintf("must be between 1 and %d", maxRateLimitRequests))
		c.RateLimitRequests = DefaultRateLimitRequests
	}
	if c.Proxy != "" {
		if u, err := url.Parse(c.Proxy); err != nil || u.Host == "" || !isProxyScheme(u.Scheme) {
			fix("proxy", c.Proxy, "", "must be an http, https or socks5 URL")
			c.Proxy = ""
		}
	}
	if len(c.SkipChecks) > 0 {
		kept := make([]string, 0, len(c.SkipChecks))
		for _, name := range c.SkipChecks {
			n := strings.ToLower(strings.TrimSpace(name))
			if !knownChecks[n] {
				fix("skip_checks", name, nil, "unknown check name dropped")
				continue
			}
			kept = append(kept, n)
		}
		c.SkipChecks = kept
	}
	if c.Concurrency < 1 {
		fix("concurrency", c.Concurrency, DefaultConcurrency, "must be at least 1")
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxRetries < 0 {
		fix("max_retries", c.MaxRetries, DefaultMaxRetries, "must not be negative")
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BackoffFactor < 0 {
		fix("backoff_factor", c.BackoffFactor, DefaultBackoffFactor, "must not be negative")
		c.BackoffFactor = DefaultBackoffFactor
	}
	if c.MaxBackoff <= 0 {
		fix("max_backoff", c.MaxBackoff, DefaultMaxBackoff, "must be positive")
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.RequestsPerSecond < 0 {
		fix("requests_per_second", c.RequestsPerSecond, 0, "must not be negative")
		c.RequestsPerSecond = 0
	}
	if c.SQLi.TimeDelay <= 0 {
		fix("sqli.time_delay", c.SQLi.TimeDelay, DefaultTimeDelay, "must be positive")
		c.SQLi.TimeDelay = DefaultTimeDelay
	}
	if c.SQLi.LatencyFactor < 1 {
		fix("sqli.latency_factor", c.SQLi.LatencyFactor, DefaultLatencyFactor, "must be at least 1")
		c.SQLi.LatencyFactor = DefaultLatencyFactor
	}
	if c.SQLi.LengthThreshold <= 0 || c.SQLi.LengthThreshold >= 1 {
		fix("sqli.length_threshold", c.SQLi.LengthThreshold, DefaultLengthThreshold, "must be in (0, 1)")
		c.SQLi.LengthThreshold = DefaultLengthThreshold
	}
	return fixes
}

// Skips reports whether the named check is listed in skip_checks.
func (c ScanConfiguration) Skips(check string) bool {
	for _, name := range c.SkipChecks {
		if strings.EqualFold(name, check) {
			return true
		}
	}
	return false
}

// SortedSkips returns skip_checks in a stable order for reports.
func (c ScanConfiguration) SortedSkips() []string {
	out := append([]string(nil), c.SkipChecks...)
	sort.Strings(out)
	return out
}

func isProxyScheme(s string) bool {
	switch strings.ToLower(s) {
	case "http", "https", "socks5":
		return true
	}
	return false
}

var targetPattern = regexp.MustCompile(`^(http|https)://[^\s]+$`)

// ValidateTarget rejects anything that is not a syntactically valid http(s) URL.
// It performs no network activity.
func ValidateTarget(target string) error {
	if !targetPattern.MatchString(target) {
		return &InvalidTargetError{Target: target, Reason: "must match http(s)://..."}
	}
	u, err := url.Parse(target)
	if err != nil {
		return &InvalidTargetError{Target: target, Reason: err.Error()}
	}
	if u.Hostname() == "" {
		return &InvalidTargetError{Target: target, Reason: "missing host"}
	}
	return nil
}
