package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roomkangali/kalki/internal/config"
	"github.com/roomkangali/kalki/internal/engine"
	"github.com/roomkangali/kalki/internal/finding"
	"github.com/roomkangali/kalki/internal/logger"
	"github.com/roomkangali/kalki/internal/metrics"
	"github.com/roomkangali/kalki/internal/reporter"
)

const defaultConfigFile = "kalki.yaml"

// flags holds the command-line values. Only flags the user actually set override the
// configuration file.
type flags struct {
	configFile  string
	verbose     bool
	trace       bool
	quiet       bool
	timeout     time.Duration
	userAgent   string
	proxy       string
	depth       int
	insecure    bool
	skip        []string
	concurrency int
	rps         float64
	retries     int
	oast        bool
	renderJS    bool
	output      string
	metricsFile string
	cookies     map[string]string
	headers     []string
}

func newRootCmd() *cobra.Command {
	return newCommand(&flags{})
}

func newCommand(f *flags) *cobra.Command {
	root := &cobra.Command{
		Use:   "kalki",
		Short: "kalki is a multi-vector web vulnerability scanner for SQL injection, XSS, CSRF and SSRF.",
		Long: `kalki statically inspects page source for injectable patterns and dynamically probes
live forms and parameters for SQL injection, XSS, CSRF and SSRF weaknesses, then
aggregates the findings into a scored report.

Results are heuristic signals, not proofs. Only scan applications you own or have
explicit permission to test.`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&f.configFile, "config", "c", defaultConfigFile, "YAML configuration file (missing file means defaults)")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "Enable verbose output (DEBUG level)")
	pf.BoolVar(&f.trace, "vv", false, "Enable trace-level output (every request)")
	pf.BoolVarP(&f.quiet, "quiet", "q", false, "Only log warnings and findings, show a progress spinner")
	pf.DurationVar(&f.timeout, "timeout", config.DefaultTimeout, "Per-request timeout")
	pf.StringVar(&f.userAgent, "user-agent", config.DefaultUserAgent, "User-Agent header")
	pf.StringVar(&f.proxy, "proxy", "", "http, https or socks5 proxy URL")
	pf.IntVarP(&f.depth, "depth", "d", config.DefaultScanDepth, "Maximum crawling depth (0 scans the target page only)")
	pf.BoolVarP(&f.insecure, "insecure", "k", false, "Skip TLS certificate verification")
	pf.StringSliceVar(&f.skip, "skip", nil, "Checks to skip: headers,cookies,tokens,forms,rate-limiting,static,sqli,csrf,ssrf,xss")
	pf.IntVar(&f.concurrency, "concurrency", config.DefaultConcurrency, "Concurrent workers")
	pf.Float64Var(&f.rps, "rps", 0, "Maximum requests per second (0 means unlimited)")
	pf.IntVarP(&f.retries, "retries", "r", config.DefaultMaxRetries, "Retry budget for page fetches")
	pf.BoolVar(&f.oast, "oast", false, "Enable blind SSRF detection through interactsh")
	pf.BoolVar(&f.renderJS, "render-js", false, "Render pages and confirm DOM XSS in headless Chrome")
	pf.StringVarP(&f.output, "output-json", "o", "", "Write the JSON report to this path")
	pf.StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus metrics in textfile format to this path")
	pf.StringToStringVar(&f.cookies, "cookie", nil, "Session cookie name=value (repeatable)")
	pf.StringArrayVarP(&f.headers, "header", "H", nil, `Extra header "Name: value" (repeatable)`)

	root.AddCommand(
		newScanCmd(f, "scan", "Run every detector against the target", nil),
		newScanCmd(f, finding.DetectorStatic, "Analyze page source for injectable HTML, JavaScript and SQL patterns", []string{finding.DetectorStatic}),
		newScanCmd(f, finding.DetectorSQLi, "Probe parameters for SQL injection", []string{finding.DetectorSQLi}),
		newScanCmd(f, finding.DetectorCSRF, "Analyze forms for CSRF weaknesses", []string{finding.DetectorCSRF}),
		newScanCmd(f, finding.DetectorSSRF, "Probe URL parameters for server-side request forgery", []string{finding.DetectorSSRF}),
		newScanCmd(f, finding.DetectorXSS, "Probe parameters for reflected, stored and DOM-based XSS", []string{finding.DetectorXSS}),
	)
	return root
}

func newScanCmd(f *flags, name, short string, detectors []string) *cobra.Command {
	return &cobra.Command{
		Use:     name + " <target-url>",
		Short:   short,
		Args:    cobra.ExactArgs(1),
		Example: fmt.Sprintf("  kalki %s https://example.com --depth 1 -o report.json", name),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, f, args[0], detectors)
		},
	}
}

func runScan(cmd *cobra.Command, f *flags, target string, detectors []string) error {
	cfg, err := config.LoadConfig(f.configFile)
	if err != nil {
		return err
	}
	if err := f.apply(cmd, &cfg); err != nil {
		return err
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	switch {
	case f.trace:
		level = logger.TRACE
	case f.verbose:
		level = logger.DEBUG
	case f.quiet:
		level = logger.WARN
	}
	log := logger.NewLogger(level)

	var opts []engine.Option
	var m *metrics.Metrics
	if cfg.Output.MetricsFile != "" {
		if m, err = metrics.New(); err != nil {
			return err
		}
		opts = append(opts, engine.WithMetrics(m))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	spinner := startProgress("Scanning "+target, level >= logger.WARN)
	res, err := engine.New(cfg, log, opts...).Run(ctx, target, detectors...)
	spinner.Done()
	if err != nil {
		log.Error("%v", err)
		return err
	}

	printSummary(cmd.OutOrStdout(), res)

	if cfg.Output.File != "" {
		if err := reporter.WriteJSONReport(reporter.NewReport(res, time.Now()), cfg.Output.File); err != nil {
			log.Error("Failed to write JSON report: %v", err)
		} else {
			log.Success("JSON report successfully saved to %s", cfg.Output.File)
		}
	}
	if err := m.WriteTextfile(cfg.Output.MetricsFile); err != nil {
		log.Error("%v", err)
	}
	if res.Partial {
		return context.Canceled
	}
	return nil
}

// apply copies the flags the user set onto cfg.
func (f *flags) apply(cmd *cobra.Command, cfg *config.ScanConfiguration) error {
	changed := cmd.Flags().Changed
	if changed("timeout") {
		cfg.Timeout = f.timeout
	}
	if changed("user-agent") {
		cfg.UserAgent = f.userAgent
	}
	if changed("proxy") {
		cfg.Proxy = f.proxy
	}
	if changed("depth") {
		cfg.ScanDepth = f.depth
	}
	if changed("insecure") {
		cfg.VerifySSL = !f.insecure
	}
	if changed("skip") {
		cfg.SkipChecks = append(cfg.SkipChecks, f.skip...)
	}
	if changed("concurrency") {
		cfg.Concurrency = f.concurrency
	}
	if changed("rps") {
		cfg.RequestsPerSecond = f.rps
	}
	if changed("retries") {
		cfg.MaxRetries = f.retries
	}
	if changed("oast") {
		cfg.OAST = f.oast
	}
	if changed("render-js") {
		cfg.RenderJS = f.renderJS
	}
	if changed("output-json") {
		cfg.Output.File = f.output
	}
	if changed("metrics-file") {
		cfg.Output.MetricsFile = f.metricsFile
	}
	if len(f.cookies) > 0 {
		if cfg.Cookies == nil {
			cfg.Cookies = make(map[string]string)
		}
		for k, v := range f.cookies {
			cfg.Cookies[k] = v
		}
	}
	for _, h := range f.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return fmt.Errorf("invalid header %q, expected \"Name: value\"", h)
		}
		if cfg.Headers == nil {
			cfg.Headers = make(map[string]string)
		}
		cfg.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return nil
}

func printSummary(w io.Writer, res *engine.ScanResult) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "--- Scan %s ---\n", res.ID)
	fmt.Fprintf(w, "Target:    %s\n", res.Target)
	fmt.Fprintf(w, "Detectors: %s\n", strings.Join(res.Detectors, ", "))
	fmt.Fprintf(w, "Crawled:   %d pages, %d parameterized requests\n", res.PagesCrawled, res.RequestsScanned)
	fmt.Fprintf(w, "Duration:  %s (dynamic phase)\n", res.Duration.Round(time.Millisecond))
	if res.Partial {
		fmt.Fprintln(w, "Status:    interrupted, results are partial")
	}

	for _, f := range res.Findings {
		fmt.Fprintf(w, "\n[%s] %s\n", f.Severity, f.Technique)
		fmt.Fprintf(w, "  URL: %s\n", f.Location)
		if f.Parameter != "" {
			fmt.Fprintf(w, "  Parameter: %s\n", f.Parameter)
		}
		if f.Payload != "" {
			fmt.Fprintf(w, "  Payload: %s\n", f.Payload)
		}
		fmt.Fprintf(w, "  Evidence: %s\n", f.Evidence)
	}

	fmt.Fprintln(w)
	for _, rep := range res.Reports {
		fmt.Fprintf(w, "%-7s %3d findings  score %3d  %s\n", rep.Detector, len(rep.Vulnerabilities), rep.TotalRiskScore, rep.RiskLevel)
	}
	if s := res.CSRF; s != nil {
		fmt.Fprintf(w, "CSRF: %d/%d forms vulnerable, security score %d/100 (%s)\n", s.VulnerableForms, s.FormsScanned, s.SecurityScore, s.OverallRiskLevel)
	}
	for _, st := range res.Static {
		checkers := make([]string, 0, len(st.CountsByChecker))
		for name, n := range st.CountsByChecker {
			checkers = append(checkers, fmt.Sprintf("%s=%d", name, n))
		}
		sort.Strings(checkers)
		fmt.Fprintf(w, "Static %s: %d tokens, %s\n", st.Location, st.TotalTokens, strings.Join(checkers, " "))
	}
	if len(res.Annotations) > 0 {
		fmt.Fprintf(w, "%d probe(s) ended early (timeouts or fetch errors), see the JSON report.\n", len(res.Annotations))
	}
	fmt.Fprintf(w, "Overall: %d findings, risk score %d, %s, security score %d/100\n",
		len(res.Findings), res.Risk.TotalScore, res.Risk.Level, res.Risk.SecurityScore)
}
