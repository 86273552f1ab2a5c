package xss

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/roomkangali/kalki/internal/crawler"
	"github.com/roomkangali/kalki/internal/finding"
	"github.com/roomkangali/kalki/internal/httpclient"
	"github.com/roomkangali/kalki/internal/logger"
	"github.com/roomkangali/kalki/internal/payloads"
	"github.com/roomkangali/kalki/internal/scanner"
)

// XSSScanner implements the Scanner interface for Cross-Site Scripting.
//
// Every parameter is first probed with an inert marker to learn where its value lands.
// Context-matched payloads are then checked against three sinks: the immediate response
// (reflected), a follow-up fetch of the page that lists the form's submissions (stored)
// and inline scripts that hand the value to a DOM sink (DOM-based).
type XSSScanner struct{}

// NewXSSScanner creates a new instance of XSSScanner.
func NewXSSScanner() *XSSScanner { return &XSSScanner{} }

// Name returns the scanner's name.
func (s *XSSScanner) Name() string { return "xss" }

// Detector returns the detector the findings belong to.
func (s *XSSScanner) Detector() string { return finding.DetectorXSS }

// Scan probes every text-carrying parameter of req.
func (s *XSSScanner) Scan(ctx context.Context, req crawler.ParameterizedRequest, client *httpclient.Client, log *logger.Logger, opts scanner.ScannerOptions) (scanner.Result, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		return scanner.Result{}, nil
	}
	var params []string
	for _, name := range req.ParamNames {
		if payloads.IsIgnoredParam(name) || payloads.IsCSRFTokenName(name) {
			continue
		}
		if in, ok := req.Input(name); ok && (in.Type == "submit" || in.Type == "button" || in.Type == "reset") {
			continue
		}
		params = append(params, name)
	}

	return scanner.ForEachPoint(ctx, params, opts, func(ctx context.Context, param string) scanner.Result {
		p := &prober{client: client, log: log, req: req, param: param, dom: opts.DOM}
		findings, annotation := p.run(ctx)

		verdict := scanner.VerdictClean
		if len(findings) > 0 {
			verdict = scanner.VerdictVulnerable
		}
		return scanner.Result{
			Findings: findings,
			Points:   []scanner.PointResult{scanner.Point(s.Name(), req, param, verdict, annotation)},
		}
	}), nil
}

type prober struct {
	client *httpclient.Client
	log    *logger.Logger
	req    crawler.ParameterizedRequest
	param  string
	dom    scanner.DOMConfirmer
}

// stores reports whether submissions may persist and show up on the source page.
func (p *prober) stores() bool {
	return p.req.IsForm() && p.req.Method == http.MethodPost && p.req.SourceURL != ""
}

func (p *prober) run(ctx context.Context) ([]finding.Finding, string) {
	marker := scanner.Marker("kalki")
	probe, err := p.submit(ctx, marker)
	if err != nil {
		p.log.Debug("XSS: Probe for %s [%s] failed: %v", p.req.URL, p.param, err)
		return nil, scanner.Annotate(err)
	}

	reflected := Classify(probe.response.Body, marker)
	var stored []Reflection
	if probe.after != nil {
		stored = Classify(probe.after.Body, marker)
	}
	if len(reflected) == 0 && len(stored) == 0 {
		p.log.Debug("XSS: Parameter '%s' at %s is not reflected", p.param, p.req.URL)
		return nil, ""
	}
	p.log.Debug("XSS: Parameter '%s' reflected in %v, stored in %v", p.param, Contexts(reflected), Contexts(stored))

	var out []finding.Finding
	var annotation string
	note := func(err error) {
		if annotation == "" {
			annotation = scanner.Annotate(err)
		}
	}

	if f, err := p.reflected(ctx, reflected); err != nil {
		note(err)
	} else if f != nil {
		out = append(out, *f)
	}
	if f, err := p.stored(ctx, stored); err != nil {
		note(err)
	} else if f != nil {
		out = append(out, *f)
	}
	if f, err := p.domBased(ctx, reflected); err != nil {
		note(err)
	} else if f != nil {
		out = append(out, *f)
	}
	return out, annotation
}

// reflected tries context-matched payloads until one comes back unencoded in the
// immediate response.
func (p *prober) reflected(ctx context.Context, refs []Reflection) (*finding.Finding, error) {
	for _, test := range Tests(refs) {
		payload, detector := test.Render(scanner.Marker("kalki"))
		resp, err := scanner.Send(ctx, p.client, p.req, p.req.With(p.param, payload))
		if err != nil {
			return nil, err
		}
		if !isHTML(resp) {
			continue
		}
		if match, ok := verify(resp.Body, detector, test.Context); ok {
			f := finding.New(finding.CategoryXSSReflected, "Reflected XSS", p.req.URL, p.param, payload,
				fmt.Sprintf("%s context, %s: %s", test.Context, test.Description, match))
			return &f, nil
		}
	}
	return nil, nil
}

// stored submits payloads and looks for them on the source page, which must not have
// shown them before the submission.
func (p *prober) stored(ctx context.Context, refs []Reflection) (*finding.Finding, error) {
	if !p.stores() {
		return nil, nil
	}
	for _, test := range Tests(refs) {
		payload, detector := test.Render(scanner.Marker("kalki"))
		sub, err := p.submit(ctx, payload)
		if err != nil {
			return nil, err
		}
		if sub.after == nil || detector.MatchString(sub.before) {
			continue
		}
		if match, ok := verify(sub.after.Body, detector, test.Context); ok {
			f := finding.New(finding.CategoryXSSStored, "Stored XSS", p.req.URL, p.param, payload,
				fmt.Sprintf("payload persisted on %s in %s context, %s: %s", p.req.SourceURL, test.Context, test.Description, match))
			return &f, nil
		}
	}
	return nil, nil
}

// domBased flags a marker that lands in an inline script feeding a DOM sink. With a
// browser available the finding also needs the payload to surface in the rendered DOM.
func (p *prober) domBased(ctx context.Context, refs []Reflection) (*finding.Finding, error) {
	ref, sink, ok := domSink(refs)
	if !ok {
		return nil, nil
	}
	evidence := fmt.Sprintf("value reaches inline script sink %q: %s", sink, ref.Text)
	payload := ""

	if p.dom != nil && p.req.Location == crawler.LocationQuery {
		confirmed, used, err := p.confirmDOM(ctx)
		switch {
		case err != nil:
			p.log.Debug("XSS: DOM confirmation for %s [%s] failed: %v", p.req.URL, p.param, err)
		case !confirmed:
			p.log.Debug("XSS: Sink at %s [%s] did not execute in the browser", p.req.URL, p.param)
			return nil, nil
		default:
			payload = used
			evidence = "confirmed in headless browser; " + evidence
		}
	}
	f := finding.New(finding.CategoryXSSDOM, "DOM-based XSS", p.req.URL, p.param, payload, evidence)
	return &f, nil
}

func (p *prober) confirmDOM(ctx context.Context) (bool, string, error) {
	for _, test := range payloads.DOMXSSPayloads {
		marker := scanner.Marker("kalkidom")
		payload := strings.ReplaceAll(test.Payload, payloads.DOMMarkerPlaceholder, marker)
		httpReq, err := scanner.Build(p.req, p.req.With(p.param, payload))
		if err != nil {
			return false, "", err
		}
		ok, err := p.dom.ConfirmDOM(ctx, httpReq.URL.String(), marker)
		if err != nil {
			return false, "", err
		}
		if ok {
			return true, payload, nil
		}
	}
	return false, "", nil
}

// submission is one value sent through the request. For forms that store, before and
// after hold the source page around the submission.
type submission struct {
	before   string
	response *httpclient.Response
	after    *httpclient.Response
}

func (p *prober) submit(ctx context.Context, value string) (submission, error) {
	var sub submission
	values := p.req.With(p.param, value)

	if p.stores() {
		page, err := p.client.Get(ctx, p.req.SourceURL)
		if err != nil {
			return sub, err
		}
		sub.before = page.Body
		p.refreshToken(values, page)
	}

	resp, err := scanner.Send(ctx, p.client, p.req, values)
	if err != nil {
		return sub, err
	}
	sub.response = resp

	if p.stores() {
		after, err := p.client.Get(ctx, p.req.SourceURL)
		if err != nil {
			return sub, err
		}
		sub.after = after
	}
	return sub, nil
}

// refreshToken copies a fresh anti-CSRF token from page into values, so that forms
// which rotate tokens still accept the submission.
func (p *prober) refreshToken(values url.Values, page *httpclient.Response) {
	forms, err := crawler.ParseForms(page.URL, page.Body)
	if err != nil {
		return
	}
	for _, form := range forms {
		if crawler.FromForm(form, p.req.SourceURL).Key() != p.req.Key() {
			continue
		}
		for _, in := range form.Inputs {
			if in.Name != p.param && payloads.IsCSRFTokenName(in.Name) {
				values.Set(in.Name, in.Value)
			}
		}
		return
	}
}

// verify requires the payload to match in the raw body. A match that only appears
// once entities are decoded means the server encoded the payload. Outside the script
// context the match must start where the parser reads markup, not inside a comment or
// the text of a textarea, title, style or script element.
func verify(body string, detector *regexp.Regexp, c payloads.XSSContext) (string, bool) {
	var regions []region
	if c != payloads.ContextScript {
		regions = textRegions(body)
	}
next:
	for _, loc := range detector.FindAllStringIndex(body, -1) {
		for _, g := range regions {
			if g.contains(loc[0]) {
				continue next
			}
		}
		return finding.Window(body, loc[0], loc[1], 40), true
	}
	return "", false
}

func isHTML(resp *httpclient.Response) bool {
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	return ct == "" || strings.Contains(ct, "html")
}
