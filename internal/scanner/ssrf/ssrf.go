package ssrf

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/roomkangali/kalki/internal/crawler"
	"github.com/roomkangali/kalki/internal/finding"
	"github.com/roomkangali/kalki/internal/httpclient"
	"github.com/roomkangali/kalki/internal/logger"
	"github.com/roomkangali/kalki/internal/payloads"
	"github.com/roomkangali/kalki/internal/scanner"
)

// SSRFScanner implements the Scanner interface for Server-Side Request Forgery.
type SSRFScanner struct{}

// NewSSRFScanner creates a new instance of SSRFScanner.
func NewSSRFScanner() *SSRFScanner {
	return &SSRFScanner{}
}

// Name returns the scanner's name.
func (s *SSRFScanner) Name() string { return "ssrf" }

// Detector returns the detector the findings belong to.
func (s *SSRFScanner) Detector() string { return finding.DetectorSSRF }

// Scan substitutes the target battery into every parameter that looks like it feeds an
// outbound request. The first target that answers wins for a parameter. When an OOB
// registry is configured, parameters without an in-band hit also get a callback URL
// whose interactions are reported later as blind SSRF.
func (s *SSRFScanner) Scan(ctx context.Context, req crawler.ParameterizedRequest, client *httpclient.Client, log *logger.Logger, opts scanner.ScannerOptions) (scanner.Result, error) {
	var params []string
	for _, name := range req.ParamNames {
		if payloads.IsSSRFParam(name, req.Defaults.Get(name)) {
			params = append(params, name)
		}
	}
	if len(params) == 0 {
		return scanner.Result{}, nil
	}
	log.Debug("Starting SSRF scan for %s %s (%d candidate parameters)", req.Method, req.URL, len(params))

	return scanner.ForEachPoint(ctx, params, opts, func(ctx context.Context, param string) scanner.Result {
		p := prober{client: client, log: log, req: req, param: param}
		hit := p.run(ctx)

		res := scanner.Result{}
		verdict := scanner.VerdictClean
		if hit.found {
			verdict = scanner.VerdictVulnerable
			res.Findings = append(res.Findings, finding.New(categoryFor(hit.target.Class), techniqueFor(hit.target.Class),
				req.URL, param, hit.target.URL, hit.evidence))
		} else if opts.OOB != nil && ctx.Err() == nil {
			p.blind(ctx, opts.OOB)
		}
		res.Points = append(res.Points, scanner.Point(s.Name(), req, param, verdict, hit.annotation))
		return res
	}), nil
}

func categoryFor(c payloads.SSRFClass) finding.Category {
	switch c {
	case payloads.SSRFMetadata:
		return finding.CategorySSRFMetadata
	case payloads.SSRFInternal:
		return finding.CategorySSRFInternal
	}
	return finding.CategorySSRFLocal
}

func techniqueFor(c payloads.SSRFClass) string {
	switch c {
	case payloads.SSRFMetadata:
		return "Cloud-metadata SSRF"
	case payloads.SSRFInternal:
		return "Internal-network SSRF"
	}
	return "Loopback/local-file SSRF"
}

type hit struct {
	found      bool
	target     payloads.SSRFTarget
	evidence   string
	annotation string
}

type prober struct {
	client *httpclient.Client
	log    *logger.Logger
	req    crawler.ParameterizedRequest
	param  string
}

// run sends the control request and then walks the battery.
func (p prober) run(ctx context.Context) hit {
	control, err := p.send(ctx, payloads.SSRFControlURL, nil)
	if err != nil {
		p.log.Debug("SSRF: Control request for %s [%s] failed: %v", p.req.URL, p.param, err)
		if httpclient.IsCanceled(err) {
			return hit{annotation: scanner.Annotate(err)}
		}
		control = nil
	}

	var annotation string
	for _, target := range payloads.SSRFTargets {
		var header http.Header
		if strings.Contains(target.URL, "metadata.google.internal") {
			header = http.Header{"Metadata-Flavor": {"Google"}}
		}
		resp, err := p.send(ctx, target.URL, header)
		if err != nil {
			if httpclient.IsCanceled(err) {
				return hit{annotation: scanner.Annotate(err)}
			}
			// A hanging outbound fetch proves nothing on its own.
			if annotation == "" {
				annotation = scanner.Annotate(err)
			}
			p.log.Debug("SSRF: %s [%s] with %s: %v", p.req.URL, p.param, target.Label, err)
			continue
		}
		if evidence, ok := evaluate(control, resp, target); ok {
			p.log.Debug("SSRF: %s [%s] reached %s", p.req.URL, p.param, target.Label)
			return hit{found: true, target: target, evidence: evidence}
		}
	}
	return hit{annotation: annotation}
}

func (p prober) blind(ctx context.Context, oob scanner.OOBRegistry) {
	callback := oob.Register(scanner.OOBProbe{
		Category:  finding.CategorySSRFBlind,
		Technique: "Blind SSRF (OAST)",
		Location:  p.req.URL,
		Parameter: p.param,
	})
	if callback == "" {
		return
	}
	p.log.Debug("BlindSSRF: Injecting OAST payload '%s' into param '%s'", callback, p.param)
	if _, err := p.send(ctx, callback, nil); err != nil {
		p.log.Debug("BlindSSRF: %s [%s]: %v", p.req.URL, p.param, err)
	}
}

func (p prober) send(ctx context.Context, value string, header http.Header) (*httpclient.Response, error) {
	httpReq, err := scanner.Build(p.req, p.req.With(p.param, value))
	if err != nil {
		return nil, err
	}
	for key, vals := range header {
		httpReq.Header[key] = vals
	}
	return p.client.DoNoRedirect(ctx, httpReq)
}

// evaluate looks for the target's markers first and falls back to a connection signal:
// a 2xx answer that differs from the control, where the control itself failed.
func evaluate(control, resp *httpclient.Response, target payloads.SSRFTarget) (string, bool) {
	stripped := stripEcho(resp.Body, target.URL)
	body := strings.ToLower(stripped)
	for _, marker := range target.Markers {
		i := strings.Index(body, marker)
		if i < 0 {
			continue
		}
		if control != nil && strings.Contains(strings.ToLower(control.Body), marker) {
			continue
		}
		return fmt.Sprintf("%s answered (status %d): %s", target.Label, resp.StatusCode,
			finding.Window(stripped, i, i+len(marker), 60)), true
	}

	if target.Class == payloads.SSRFMetadata {
		if keys, ok := metadataDocument(stripped); ok {
			if control == nil {
				return describeDocument(target, resp, keys), true
			}
			if _, inControl := metadataDocument(control.Body); !inControl {
				return describeDocument(target, resp, keys), true
			}
		}
	}

	if control == nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", false
	}
	if !failed(control) || failedBody(body) {
		return "", false
	}
	controlBody := stripEcho(control.Body, payloads.SSRFControlURL)
	if resp.StatusCode == control.StatusCode && scanner.Similarity(stripped, controlBody) >= 0.9 {
		return "", false
	}
	return fmt.Sprintf("%s returned status %d (%d bytes) while the unresolvable control returned status %d",
		target.Label, resp.StatusCode, len(resp.Body), control.StatusCode), true
}

func describeDocument(target payloads.SSRFTarget, resp *httpclient.Response, keys []string) string {
	return fmt.Sprintf("%s answered (status %d) with a metadata document carrying %s",
		target.Label, resp.StatusCode, strings.Join(keys, ", "))
}

// maxDocumentStarts bounds how many '{' positions are tried as the start of a JSON
// document.
const maxDocumentStarts = 32

// metadataDocument looks for a JSON object in body, possibly embedded in a page, whose
// keys at any depth include enough known metadata keys. It returns them sorted, each
// with its provider.
func metadataDocument(body string) ([]string, bool) {
	offset := 0
	for tries := 0; tries < maxDocumentStarts; tries++ {
		i := strings.IndexByte(body[offset:], '{')
		if i < 0 {
			return nil, false
		}
		offset += i
		var doc map[string]any
		if err := json.NewDecoder(strings.NewReader(body[offset:])).Decode(&doc); err == nil {
			found := map[string]bool{}
			collectMetadataKeys(doc, found)
			if len(found) >= payloads.MetadataDocumentMinKeys {
				keys := make([]string, 0, len(found))
				for k := range found {
					keys = append(keys, fmt.Sprintf("%s (%s)", k, payloads.MetadataDocumentKeys[k]))
				}
				sort.Strings(keys)
				return keys, true
			}
		}
		offset++
	}
	return nil, false
}

func collectMetadataKeys(v any, found map[string]bool) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if _, ok := payloads.MetadataDocumentKeys[k]; ok {
				found[k] = true
			}
			collectMetadataKeys(child, found)
		}
	case []any:
		for _, child := range t {
			collectMetadataKeys(child, found)
		}
	}
}

func failed(control *httpclient.Response) bool {
	return control.StatusCode >= 400 || failedBody(strings.ToLower(control.Body))
}

func failedBody(lower string) bool {
	for _, k := range payloads.SSRFFailureKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// stripEcho removes the injected URL as the page may echo it back, raw or encoded.
func stripEcho(body, injected string) string {
	for _, form := range []string{injected, html.EscapeString(injected), url.QueryEscape(injected)} {
		body = strings.ReplaceAll(body, form, "")
	}
	return body
}
