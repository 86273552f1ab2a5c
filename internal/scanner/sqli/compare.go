package sqli

import (
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/roomkangali/kalki/internal/config"
	"github.com/roomkangali/kalki/internal/finding"
	"github.com/roomkangali/kalki/internal/payloads"
	"github.com/roomkangali/kalki/internal/scanner"
)

// Observation is the part of a response the comparison looks at.
type Observation struct {
	StatusCode int
	Body       string
	Latency    time.Duration
}

// Probe is one payload as sent.
type Probe struct {
	Kind  payloads.SQLiKind
	Value string        // Exact string injected into the parameter.
	Delay time.Duration // Injected sleep, time-based probes only.
}

// SignalKind names what made a response suspicious.
type SignalKind string

const (
	SignalDBError SignalKind = "db-error"
	SignalStatus  SignalKind = "status-divergence"
	SignalLength  SignalKind = "length-divergence"
	SignalLatency SignalKind = "latency"
	SignalBoolean SignalKind = "boolean-divergence"
)

// Signal is the first piece of evidence found by Compare.
type Signal struct {
	Kind     SignalKind
	Category finding.Category
	Evidence string
}

// Thresholds tune the comparison.
type Thresholds struct {
	LengthThreshold float64 // Relative length change that counts as divergence.
	LatencyFactor   float64 // Multiple of baseline latency that counts as a delay.
}

// DefaultThresholds returns the documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{LengthThreshold: config.DefaultLengthThreshold, LatencyFactor: config.DefaultLatencyFactor}
}

// Compare classifies observed against baseline using the default thresholds.
func Compare(baseline, observed Observation, probe Probe) (Signal, bool) {
	return DefaultThresholds().Compare(baseline, observed, probe)
}

// Compare checks, in order: a database error that the baseline did not show, the
// injected delay for time-based probes, a change of status class, and a body length
// change beyond LengthThreshold once the reflected payload is stripped.
func (t Thresholds) Compare(baseline, observed Observation, probe Probe) (Signal, bool) {
	if match, ok := payloads.MatchSQLError(observed.Body); ok {
		if _, inBaseline := payloads.MatchSQLError(baseline.Body); !inBaseline {
			return Signal{
				Kind:     SignalDBError,
				Category: finding.CategorySQLiError,
				Evidence: fmt.Sprintf("%s (%s)", match, payloads.InferDBType(match)),
			}, true
		}
	}

	if probe.Kind == payloads.SQLiTimeBased {
		threshold := time.Duration(float64(baseline.Latency) * t.LatencyFactor)
		if observed.Latency >= probe.Delay && observed.Latency >= threshold {
			return Signal{
				Kind:     SignalLatency,
				Category: finding.CategorySQLiTime,
				Evidence: fmt.Sprintf("response took %s (baseline %s, injected delay %s)",
					observed.Latency.Round(time.Millisecond), baseline.Latency.Round(time.Millisecond), probe.Delay),
			}, true
		}
		return Signal{}, false
	}

	if observed.StatusCode/100 != baseline.StatusCode/100 {
		return Signal{
			Kind:     SignalStatus,
			Category: finding.CategorySQLiDivergence,
			Evidence: fmt.Sprintf("status %d, baseline %d", observed.StatusCode, baseline.StatusCode),
		}, true
	}

	if t.diverges(baseline.Body, stripReflection(observed.Body, probe.Value)) {
		return Signal{
			Kind:     SignalLength,
			Category: finding.CategorySQLiDivergence,
			Evidence: fmt.Sprintf("body length %d, baseline %d", len(observed.Body), len(baseline.Body)),
		}, true
	}
	return Signal{}, false
}

// CompareBoolean flags a true/false pair where the true condition keeps the baseline
// page and the false condition changes it.
func (t Thresholds) CompareBoolean(baseline, trueObs, falseObs Observation, test payloads.BooleanSQLiTest) (Signal, bool) {
	trueBody := stripReflection(trueObs.Body, test.TruePayload)
	falseBody := stripReflection(falseObs.Body, test.FalsePayload)
	trueSame := trueObs.StatusCode == baseline.StatusCode && !t.diverges(baseline.Body, trueBody)
	falseDiffers := falseObs.StatusCode != baseline.StatusCode || t.diverges(baseline.Body, falseBody)
	if trueSame && falseDiffers {
		return Signal{
			Kind:     SignalBoolean,
			Category: finding.CategorySQLiBoolean,
			Evidence: fmt.Sprintf("true condition matched baseline (%d bytes), false condition returned %d bytes with status %d",
				len(trueObs.Body), len(falseObs.Body), falseObs.StatusCode),
		}, true
	}
	return Signal{}, false
}

// diverges reports a relative length change beyond the threshold, confirmed by edit
// distance on bodies small enough to compare.
func (t Thresholds) diverges(baseline, observed string) bool {
	base := len(baseline)
	if base == 0 {
		base = 1
	}
	delta := len(observed) - len(baseline)
	if delta < 0 {
		delta = -delta
	}
	if float64(delta)/float64(base) <= t.LengthThreshold {
		return false
	}
	return scanner.Similarity(baseline, observed) < 1-t.LengthThreshold
}

// stripReflection removes the payload as the page may echo it back, raw or encoded,
// so an echo alone is not mistaken for a different page.
func stripReflection(body, payload string) string {
	if payload == "" {
		return body
	}
	for _, form := range []string{payload, html.EscapeString(payload), url.QueryEscape(payload)} {
		body = strings.ReplaceAll(body, form, "")
	}
	return body
}
