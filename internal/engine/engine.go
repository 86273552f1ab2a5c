// Package engine runs a complete scan: it fetches the target, analyzes page source,
// crawls for forms and parameters, probes them with the dynamic scanners and scores the
// result.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roomkangali/kalki/internal/config"
	"github.com/roomkangali/kalki/internal/crawler"
	"github.com/roomkangali/kalki/internal/finding"
	"github.com/roomkangali/kalki/internal/fingerprint"
	"github.com/roomkangali/kalki/internal/httpclient"
	"github.com/roomkangali/kalki/internal/logger"
	"github.com/roomkangali/kalki/internal/metrics"
	"github.com/roomkangali/kalki/internal/oast"
	"github.com/roomkangali/kalki/internal/renderer"
	"github.com/roomkangali/kalki/internal/risk"
	"github.com/roomkangali/kalki/internal/scanner"
	"github.com/roomkangali/kalki/internal/scanner/csrf"
	"github.com/roomkangali/kalki/internal/scanner/sqli"
	"github.com/roomkangali/kalki/internal/scanner/ssrf"
	"github.com/roomkangali/kalki/internal/scanner/xss"
	"github.com/roomkangali/kalki/internal/static"
)

// Detectors lists every detector in run order.
var Detectors = []string{
	finding.DetectorStatic,
	finding.DetectorSQLi,
	finding.DetectorCSRF,
	finding.DetectorSSRF,
	finding.DetectorXSS,
}

// DefaultOASTWait is how long a scan waits for late out-of-band interactions.
const DefaultOASTWait = 10 * time.Second

// Browser renders pages for the crawler and confirms DOM-based XSS.
type Browser interface {
	crawler.Renderer
	scanner.DOMConfirmer
}

// Engine holds the normalized configuration of a scan. It keeps no state between runs.
type Engine struct {
	cfg         config.ScanConfiguration
	corrections []string
	log         *logger.Logger
	metrics     *metrics.Metrics
	browser     Browser
	oastWait    time.Duration
}

// Option customizes an Engine.
type Option func(*Engine)

// WithMetrics records request, point and finding counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithBrowser supplies the browser used when render_js is enabled, instead of starting
// a headless Chrome.
func WithBrowser(b Browser) Option {
	return func(e *Engine) { e.browser = b }
}

// WithOASTWait overrides how long a scan waits for late interactions.
func WithOASTWait(d time.Duration) Option {
	return func(e *Engine) { e.oastWait = d }
}

// New normalizes cfg. Every corrected value is logged at WARN and reported in each
// ScanResult.
func New(cfg config.ScanConfiguration, log *logger.Logger, opts ...Option) *Engine {
	if log == nil {
		log = logger.Discard()
	}
	e := &Engine{log: log, oastWait: DefaultOASTWait}
	for _, fix := range cfg.Normalize() {
		log.Warn("%v", fix)
		e.corrections = append(e.corrections, fix.Error())
	}
	e.cfg = cfg
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the normalized configuration.
func (e *Engine) Config() config.ScanConfiguration { return e.cfg }

// Run scans target with the named detectors, or with every detector when none are
// named. Detectors listed in skip_checks do not run.
//
// The target is validated before any network activity. Only an invalid target, an
// unknown detector or a failed fetch of the target abort the scan. When ctx is done
// during the scan, the findings gathered so far are returned with Partial set.
func (e *Engine) Run(ctx context.Context, target string, detectors ...string) (*ScanResult, error) {
	if err := config.ValidateTarget(target); err != nil {
		return nil, err
	}
	selected, err := e.selectDetectors(detectors)
	if err != nil {
		return nil, err
	}

	res := &ScanResult{
		ID:                uuid.NewString(),
		Target:            target,
		StartedAt:         time.Now(),
		Detectors:         selected,
		ConfigCorrections: e.corrections,
		SkippedChecks:     e.cfg.SortedSkips(),
	}
	e.log.Info("Scan %s: target %s, detectors %s", res.ID, target, strings.Join(selected, ","))

	opts := httpclient.OptionsFromConfig(e.cfg, target)
	opts.Metrics = e.metrics
	client, err := httpclient.NewClient(e.log, opts)
	if err != nil {
		return nil, err
	}

	root, err := client.Fetch(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", target, err)
	}
	res.Technologies = fingerprint.Analyze(root)
	if len(res.Technologies) > 0 {
		e.log.Info("Technologies Detected: %v", res.Technologies)
	}

	browser, closeBrowser := e.startBrowser()
	defer closeBrowser()

	phase := time.Now()
	pages, requests, crawlErr := e.crawl(ctx, client, target, root, browser)
	e.metrics.ObservePhase("crawl", time.Since(phase))
	res.PagesCrawled = len(pages)
	res.RequestsScanned = len(requests)

	var all []finding.Finding
	if contains(selected, finding.DetectorStatic) {
		phase = time.Now()
		for _, page := range pages {
			rep := static.Analyze(page.URL, page.Body)
			res.Static = append(res.Static, rep)
			all = append(all, rep.Findings...)
			for _, perr := range rep.ParseErrors {
				res.Annotations = append(res.Annotations, "static: "+page.URL+": "+perr)
			}
		}
		e.metrics.ObservePhase("static", time.Since(phase))
	}

	dynamicStart := time.Now()
	dynamic, dynErr := e.probe(ctx, client, requests, selected, browser)
	res.Duration = time.Since(dynamicStart)
	e.metrics.ObservePhase("dynamic", res.Duration)
	all = append(all, dynamic.Findings...)
	res.Points = dynamic.Points
	res.Annotations = append(res.Annotations, dynamic.Annotations()...)
	res.Partial = crawlErr != nil || dynErr != nil

	all = e.filter(all, selected)
	res.Findings = all
	res.Risk = risk.Aggregate(all)
	res.Counts = res.Risk.ByCategory
	for _, d := range selected {
		res.Reports = append(res.Reports, NewDetectorReport(d, all))
	}
	if contains(selected, finding.DetectorCSRF) {
		summary := csrf.Summarize(csrf.CountForms(requests), all, res.Duration)
		res.CSRF = &summary
	}
	e.metrics.ObserveFindings(all)

	if res.Partial {
		e.log.Warn("Scan %s interrupted, results are partial.", res.ID)
	}
	e.log.Info("Scan %s finished: %d findings, risk %s (score %d).", res.ID, len(all), res.Risk.Level, res.Risk.TotalScore)
	return res, nil
}

func (e *Engine) selectDetectors(names []string) ([]string, error) {
	want := make(map[string]bool)
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" || n == "all" {
			continue
		}
		if !contains(Detectors, n) {
			return nil, fmt.Errorf("unknown detector %q (available: %s)", n, strings.Join(Detectors, ", "))
		}
		want[n] = true
	}

	var out []string
	for _, d := range Detectors {
		if len(want) > 0 && !want[d] {
			continue
		}
		if e.cfg.Skips(d) {
			e.log.Info("Detector %s disabled by skip_checks.", d)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// startBrowser returns the injected browser, or starts a headless Chrome when
// render_js is on. A browser that fails to start disables rendering for the scan.
func (e *Engine) startBrowser() (Browser, func()) {
	if !e.cfg.RenderJS {
		return nil, func() {}
	}
	if e.browser != nil {
		return e.browser, func() {}
	}
	e.log.Info("JavaScript rendering is ENABLED. Initializing headless browser...")
	r, err := renderer.New(3 * e.cfg.Timeout)
	if err != nil {
		e.log.Error("Failed to initialize headless browser renderer: %v. Disabling JS rendering.", err)
		return nil, func() {}
	}
	return r, r.Close
}

func (e *Engine) crawl(ctx context.Context, client *httpclient.Client, target string, root *httpclient.Response, browser Browser) ([]crawler.Page, []crawler.ParameterizedRequest, error) {
	var rend crawler.Renderer
	if browser != nil {
		rend = browser
	}
	c, err := crawler.NewCrawler(client, e.log, target, e.cfg.ScanDepth, e.cfg.Concurrency, rend)
	if err != nil {
		return nil, nil, err
	}
	e.log.Info("Starting crawling from %s (depth %d)...", target, e.cfg.ScanDepth)
	result, err := c.Crawl(ctx, crawler.Page{URL: target, Body: root.Body})
	e.log.Info("Crawler: %d pages, %d forms, %d parameterized requests.", len(result.Pages), len(result.Forms), len(result.Requests))
	return result.Pages, result.Requests, err
}

// probe runs the selected dynamic scanners. Blind SSRF interactions are collected after
// every in-band probe finished.
func (e *Engine) probe(ctx context.Context, client *httpclient.Client, requests []crawler.ParameterizedRequest, selected []string, browser Browser) (scanner.Result, error) {
	opts := scanner.OptionsFromConfig(e.cfg)
	opts.Metrics = e.metrics
	if browser != nil {
		opts.DOM = browser
	}

	var session *oast.Session
	if e.cfg.OAST && contains(selected, finding.DetectorSSRF) {
		s, err := oast.Start(e.log)
		if err != nil {
			e.log.Error("%v. Disabling OAST.", err)
		} else {
			session = s
			defer session.Close()
			opts.OOB = session
		}
	}

	m := scanner.NewManager(client, e.log, opts)
	for _, d := range selected {
		switch d {
		case finding.DetectorSQLi:
			m.RegisterScanner(sqli.NewSQLiScanner())
		case finding.DetectorCSRF:
			m.RegisterScanner(csrf.NewCSRFScanner())
		case finding.DetectorSSRF:
			m.RegisterScanner(ssrf.NewSSRFScanner())
		case finding.DetectorXSS:
			m.RegisterScanner(xss.NewXSSScanner())
		}
	}
	if len(m.Scanners()) == 0 {
		return scanner.Result{}, ctx.Err()
	}

	res, err := m.RunScans(ctx, requests)
	if session != nil {
		res.Findings = append(res.Findings, session.Collect(ctx, e.oastWait)...)
	}
	return res, err
}

// filter drops findings of detectors that did not run and of categories whose check is
// skipped, preserving order.
func (e *Engine) filter(findings []finding.Finding, selected []string) []finding.Finding {
	return risk.Filter(findings, func(f finding.Finding) bool {
		return contains(selected, f.Detector) && !e.cfg.Skips(f.Category.Check())
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
