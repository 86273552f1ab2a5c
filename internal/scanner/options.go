package scanner

import (
	"context"

	"github.com/roomkangali/kalki/internal/config"
	"github.com/roomkangali/kalki/internal/finding"
	"github.com/roomkangali/kalki/internal/metrics"
)

// OOBProbe describes an out-of-band payload before it is sent, so that an interaction
// arriving later can be turned into a finding.
type OOBProbe struct {
	Category  finding.Category
	Technique string
	Location  string
	Parameter string
}

// OOBRegistry hands out unique callback URLs.
type OOBRegistry interface {
	Register(probe OOBProbe) (callbackURL string)
}

// DOMConfirmer loads a page in a browser and reports whether marker surfaced
// through script execution.
type DOMConfirmer interface {
	ConfirmDOM(ctx context.Context, pageURL, marker string) (bool, error)
}

// ScannerOptions carries per-scan settings shared by all scanners.
type ScannerOptions struct {
	Config      config.ScanConfiguration
	Concurrency int              // Concurrent injection points per request.
	OOB         OOBRegistry      // nil unless oast is enabled.
	DOM         DOMConfirmer     // nil unless render_js is enabled.
	Metrics     *metrics.Metrics // Optional.
}

// OptionsFromConfig builds options from a normalized configuration.
func OptionsFromConfig(cfg config.ScanConfiguration) ScannerOptions {
	return ScannerOptions{Config: cfg, Concurrency: cfg.Concurrency}
}

func (o ScannerOptions) limit() int {
	if o.Concurrency < 1 {
		return 1
	}
	return o.Concurrency
}
