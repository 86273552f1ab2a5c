package sqli

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roomkangali/kalki/internal/config"
	"github.com/roomkangali/kalki/internal/crawler"
	"github.com/roomkangali/kalki/internal/finding"
	"github.com/roomkangali/kalki/internal/httpclient"
	"github.com/roomkangali/kalki/internal/logger"
	"github.com/roomkangali/kalki/internal/payloads"
	"github.com/roomkangali/kalki/internal/scanner"
)

// State is the progress of one injection point.
type State int

const (
	StateIdle State = iota
	StateBaselineFetched
	StatePayloadSent
	StateResponseCompared
	StateVulnerable
	StateClean
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateBaselineFetched:
		return "BaselineFetched"
	case StatePayloadSent:
		return "PayloadSent"
	case StateResponseCompared:
		return "ResponseCompared"
	case StateVulnerable:
		return "Vulnerable"
	case StateClean:
		return "Clean"
	}
	return "Unknown"
}

// Outcome is the terminal result of probing one point.
type Outcome struct {
	State      State // StateVulnerable or StateClean.
	Signal     Signal
	Payload    string
	Annotation string
	Trace      []State
}

// SQLiScanner implements the Scanner interface for SQL Injection.
// Each parameter is probed with error-based, boolean-based and time-based payloads in
// that order, stopping at the first signal.
type SQLiScanner struct{}

// NewSQLiScanner creates a new instance of SQLiScanner.
func NewSQLiScanner() *SQLiScanner {
	return &SQLiScanner{}
}

// Name returns the name of the scanner.
func (s *SQLiScanner) Name() string { return "sqli" }

// Detector returns the detector the findings belong to.
func (s *SQLiScanner) Detector() string { return finding.DetectorSQLi }

// Scan probes every injectable parameter of req concurrently.
func (s *SQLiScanner) Scan(ctx context.Context, req crawler.ParameterizedRequest, client *httpclient.Client, log *logger.Logger, opts scanner.ScannerOptions) (scanner.Result, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		return scanner.Result{}, nil
	}

	var params []string
	for _, name := range req.ParamNames {
		if payloads.IsIgnoredParam(name) || payloads.IsCSRFTokenName(name) {
			continue
		}
		params = append(params, name)
	}

	p := prober{
		client:     client,
		log:        log,
		thresholds: Thresholds{LengthThreshold: opts.Config.SQLi.LengthThreshold, LatencyFactor: opts.Config.SQLi.LatencyFactor},
		delay:      opts.Config.SQLi.TimeDelay,
	}
	if p.thresholds.LengthThreshold <= 0 || p.thresholds.LatencyFactor < 1 {
		p.thresholds = DefaultThresholds()
	}
	if p.delay <= 0 {
		p.delay = config.DefaultTimeDelay
	}

	return scanner.ForEachPoint(ctx, params, opts, func(ctx context.Context, param string) scanner.Result {
		log.Debug("SQLi: Testing parameter '%s' in %s", param, req.URL)
		out := p.probe(ctx, req, param)
		log.Trace("SQLi: %s [%s]: %s", req.URL, param, out.Describe())

		res := scanner.Result{}
		verdict := scanner.VerdictClean
		if out.State == StateVulnerable {
			verdict = scanner.VerdictVulnerable
			res.Findings = append(res.Findings, finding.New(
				out.Signal.Category,
				techniqueFor(out.Signal),
				req.URL, param, out.Payload, out.Signal.Evidence,
			))
		}
		res.Points = append(res.Points, scanner.Point(s.Name(), req, param, verdict, out.Annotation))
		return res
	}), nil
}

func techniqueFor(sig Signal) string {
	switch sig.Category {
	case finding.CategorySQLiError:
		return "SQL Injection (Error-Based)"
	case finding.CategorySQLiBoolean:
		return "SQL Injection (Boolean-Based)"
	case finding.CategorySQLiTime:
		return "SQL Injection (Time-Based)"
	}
	return "SQL Injection (Response Divergence)"
}

type prober struct {
	client     *httpclient.Client
	log        *logger.Logger
	thresholds Thresholds
	delay      time.Duration
}

type point struct {
	trace []State
}

func (pt *point) move(s State) { pt.trace = append(pt.trace, s) }

func (pt *point) finish(s State, sig Signal, payload, annotation string) Outcome {
	pt.move(s)
	return Outcome{State: s, Signal: sig, Payload: payload, Annotation: annotation, Trace: pt.trace}
}

// probe runs the per-point state machine. Payloads are strictly sequential since every
// comparison is against the same baseline.
func (p prober) probe(ctx context.Context, req crawler.ParameterizedRequest, param string) Outcome {
	pt := &point{trace: []State{StateIdle}}

	baseline, err := p.observe(ctx, req, req.Values())
	if err != nil {
		p.log.Debug("SQLi: Baseline for %s [%s] failed: %v", req.URL, param, err)
		return pt.finish(StateClean, Signal{}, "", scanner.Annotate(err))
	}
	pt.move(StateBaselineFetched)
	original := req.Defaults.Get(param)

	for _, payload := range payloads.SQLiPayloads {
		value := original + payload
		pt.move(StatePayloadSent)
		obs, err := p.observe(ctx, req, req.With(param, value))
		if err != nil {
			return pt.finish(StateClean, Signal{}, value, scanner.Annotate(err))
		}
		pt.move(StateResponseCompared)
		if sig, ok := p.thresholds.Compare(baseline, obs, Probe{Kind: payloads.SQLiErrorBased, Value: value}); ok {
			return pt.finish(StateVulnerable, sig, value, "")
		}
	}

	for _, test := range payloads.BooleanSQLiTests {
		pt.move(StatePayloadSent)
		trueObs, err := p.observe(ctx, req, req.With(param, original+test.TruePayload))
		if err != nil {
			return pt.finish(StateClean, Signal{}, test.TruePayload, scanner.Annotate(err))
		}
		falseObs, err := p.observe(ctx, req, req.With(param, original+test.FalsePayload))
		if err != nil {
			return pt.finish(StateClean, Signal{}, test.FalsePayload, scanner.Annotate(err))
		}
		pt.move(StateResponseCompared)
		for _, obs := range []Observation{trueObs, falseObs} {
			if sig, ok := p.thresholds.Compare(baseline, obs, Probe{Kind: payloads.SQLiBooleanBased}); ok && sig.Kind == SignalDBError {
				return pt.finish(StateVulnerable, sig, test.TruePayload, "")
			}
		}
		if sig, ok := p.thresholds.CompareBoolean(baseline, trueObs, falseObs, test); ok {
			return pt.finish(StateVulnerable, sig, fmt.Sprintf("%s / %s", test.TruePayload, test.FalsePayload), "")
		}
	}

	for _, test := range payloads.TimeBasedSQLiTests {
		value := original + test.Render(p.delay)
		pt.move(StatePayloadSent)
		obs, err := p.observe(ctx, req, req.With(param, value))
		if err != nil {
			return pt.finish(StateClean, Signal{}, value, scanner.Annotate(err))
		}
		pt.move(StateResponseCompared)
		if sig, ok := p.thresholds.Compare(baseline, obs, Probe{Kind: payloads.SQLiTimeBased, Value: value, Delay: p.delay}); ok {
			return pt.finish(StateVulnerable, sig, value, "")
		}
	}

	return pt.finish(StateClean, Signal{}, "", "")
}

func (p prober) observe(ctx context.Context, req crawler.ParameterizedRequest, values url.Values) (Observation, error) {
	resp, err := scanner.Send(ctx, p.client, req, values)
	if err != nil {
		return Observation{}, err
	}
	return Observation{StatusCode: resp.StatusCode, Body: resp.Body, Latency: resp.Duration}, nil
}

// Describe renders an outcome trace for logs.
func (o Outcome) Describe() string {
	names := make([]string, len(o.Trace))
	for i, s := range o.Trace {
		names[i] = s.String()
	}
	return strings.Join(names, " -> ")
}
