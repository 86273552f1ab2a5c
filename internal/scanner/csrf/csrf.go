package csrf

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/roomkangali/kalki/internal/config"
	"github.com/roomkangali/kalki/internal/crawler"
	"github.com/roomkangali/kalki/internal/finding"
	"github.com/roomkangali/kalki/internal/httpclient"
	"github.com/roomkangali/kalki/internal/logger"
	"github.com/roomkangali/kalki/internal/payloads"
	"github.com/roomkangali/kalki/internal/scanner"
)

const (
	forgedOrigin  = "https://kalki-cross-site.example"
	forgedReferer = forgedOrigin + "/csrf.html"
	invalidToken  = "kalki_invalid_csrf_token_"
)

// CSRFScanner implements the Scanner interface for Cross-Site Request Forgery.
// It analyzes every discovered form: token presence, strength and replay, token
// enforcement, Origin/Referer validation, SameSite on session cookies and throttling
// of repeated submissions. Checks named in skip_checks are not run.
//
// A scanner instance keeps per-scan state so that cookie checks run once per host and
// rate-limit probes run once per action; use a fresh instance per scan.
type CSRFScanner struct {
	cookieHosts sync.Map
	rateTargets sync.Map
}

// NewCSRFScanner creates a new instance of CSRFScanner.
func NewCSRFScanner() *CSRFScanner {
	return &CSRFScanner{}
}

// Name returns the scanner's name.
func (s *CSRFScanner) Name() string { return "csrf" }

// Detector returns the detector the findings belong to.
func (s *CSRFScanner) Detector() string { return finding.DetectorCSRF }

// Scan analyzes a form-derived request. Requests built from plain links are ignored.
func (s *CSRFScanner) Scan(ctx context.Context, req crawler.ParameterizedRequest, client *httpclient.Client, log *logger.Logger, opts scanner.ScannerOptions) (scanner.Result, error) {
	if !req.IsForm() {
		return scanner.Result{}, nil
	}
	log.Debug("Starting CSRF analysis for %s form: %s", req.Method, req.URL)

	f := &form{
		req:    req,
		client: client,
		log:    log,
		cfg:    opts.Config,
		token:  tokenField(req),
	}
	if f.cfg.EntropyThreshold <= 0 {
		f.cfg.EntropyThreshold = config.DefaultEntropyThreshold
	}
	if f.cfg.RateLimitRequests <= 0 {
		f.cfg.RateLimitRequests = config.DefaultRateLimitRequests
	}

	checks := []struct {
		name string
		run  func(context.Context) []finding.Finding
	}{
		{config.CheckTokens, f.checkTokens},
		{config.CheckForms, f.checkForms},
		{config.CheckHeaders, f.checkHeaders},
		{config.CheckCookies, func(ctx context.Context) []finding.Finding {
			u, err := url.Parse(req.SourceURL)
			if err != nil || u.Host == "" || !firstVisit(&s.cookieHosts, u.Host) {
				return nil
			}
			return f.checkCookies(ctx)
		}},
		{config.CheckRateLimiting, func(ctx context.Context) []finding.Finding {
			if !firstVisit(&s.rateTargets, req.Method+" "+req.URL) {
				return nil
			}
			return f.checkRateLimiting(ctx)
		}},
	}

	var res scanner.Result
	for _, c := range checks {
		if opts.Config.Skips(c.name) {
			log.Debug("CSRF: Skipping '%s' checks for %s", c.name, req.URL)
			continue
		}
		if ctx.Err() != nil {
			break
		}
		res.Findings = append(res.Findings, c.run(ctx)...)
	}

	verdict := scanner.VerdictClean
	if len(res.Findings) > 0 {
		verdict = scanner.VerdictVulnerable
	}
	res.Points = append(res.Points, scanner.Point(s.Name(), req, req.FormName, verdict, f.annotation))
	return res, nil
}

func firstVisit(m *sync.Map, key string) bool {
	_, seen := m.LoadOrStore(key, struct{}{})
	return !seen
}

// form carries the state of one form analysis. The baseline submission is made lazily
// and shared by the checks that compare against it.
type form struct {
	req    crawler.ParameterizedRequest
	client *httpclient.Client
	log    *logger.Logger
	cfg    config.ScanConfiguration
	token  string

	baseline     *httpclient.Response
	baselineDone bool
	annotation   string
}

func (f *form) newFinding(category finding.Category, technique, parameter, payload, evidence string) finding.Finding {
	fd := finding.New(category, technique, f.req.URL, parameter, payload, evidence)
	fd.Form = formIdentity(f.req)
	return fd
}

// formIdentity names a form by the page it was found on, its method and action, and
// its field names.
func formIdentity(req crawler.ParameterizedRequest) string {
	names := append([]string(nil), req.ParamNames...)
	sort.Strings(names)
	return fmt.Sprintf("%s %s [%s] on %s", req.Method, req.URL, strings.Join(names, ","), req.SourceURL)
}

// checkTokens covers presence, strength and replay of the anti-CSRF token.
func (f *form) checkTokens(ctx context.Context) []finding.Finding {
	if f.token == "" {
		if f.req.Method != http.MethodPost {
			return nil
		}
		f.log.Debug("CSRF: Form at %s has no anti-CSRF token field", f.req.URL)
		return []finding.Finding{f.newFinding(finding.CategoryCSRFMissingToken, "Missing anti-CSRF token", "", "",
			fmt.Sprintf("POST form with fields [%s] carries no anti-CSRF token", strings.Join(f.req.ParamNames, ", ")))}
	}

	var out []finding.Finding
	value := f.req.Defaults.Get(f.token)
	if strength := Classify(value, f.cfg.EntropyThreshold); strength == Weak {
		out = append(out, f.newFinding(finding.CategoryCSRFWeakToken, "Weak anti-CSRF token", f.token, "",
			fmt.Sprintf("token %q has %.2f bits/char of entropy, threshold %.2f", value, Entropy(value), f.cfg.EntropyThreshold)))
	}

	if first, second, ok := f.refetchTokens(ctx); ok && first != "" && first == second {
		out = append(out, f.newFinding(finding.CategoryCSRFTokenReplay, "Anti-CSRF token replay", f.token, "",
			fmt.Sprintf("two fetches of %s returned the same token %q", f.req.SourceURL, first)))
	}
	return out
}

// refetchTokens loads the source page twice and returns the token value of the
// matching form on each load.
func (f *form) refetchTokens(ctx context.Context) (string, string, bool) {
	if f.req.SourceURL == "" {
		return "", "", false
	}
	var values [2]string
	for i := range values {
		resp, err := f.client.Get(ctx, f.req.SourceURL)
		if err != nil {
			f.log.Debug("CSRF: Could not refetch %s: %v", f.req.SourceURL, err)
			return "", "", false
		}
		v, ok := f.tokenOnPage(resp)
		if !ok {
			return "", "", false
		}
		values[i] = v
	}
	return values[0], values[1], true
}

func (f *form) tokenOnPage(resp *httpclient.Response) (string, bool) {
	forms, err := crawler.ParseForms(resp.URL, resp.Body)
	if err != nil {
		return "", false
	}
	for _, form := range forms {
		if crawler.FromForm(form, f.req.SourceURL).Key() != f.req.Key() {
			continue
		}
		if in, ok := form.Field(f.token); ok {
			return in.Value, true
		}
	}
	return "", false
}

// checkForms covers token enforcement and state-changing forms submitted over GET.
func (f *form) checkForms(ctx context.Context) []finding.Finding {
	if f.req.Method == http.MethodGet {
		if kw, ok := stateChanging(f.req); ok {
			return []finding.Finding{f.newFinding(finding.CategoryCSRFStateChanging, "State-changing form over GET", "", "",
				fmt.Sprintf("GET form looks state-changing (%q); its submission is a plain link any site can trigger", kw))}
		}
		return nil
	}
	if f.token == "" {
		return nil
	}

	baseline := f.submitBaseline(ctx)
	if baseline == nil {
		return nil
	}

	removed := f.req.Values()
	removed.Del(f.token)
	replaced := f.req.With(f.token, invalidToken+scanner.Marker(""))

	for _, probe := range []struct {
		desc   string
		values url.Values
	}{
		{"token removed", removed},
		{"token replaced", replaced},
	} {
		resp, err := f.submit(ctx, probe.values, nil)
		if err != nil {
			f.annotate(err)
			return nil
		}
		if accepted(baseline, resp) {
			f.log.Debug("CSRF: %s at %s was accepted like the baseline", probe.desc, f.req.URL)
			return []finding.Finding{f.newFinding(finding.CategoryCSRFUnenforced, "Anti-CSRF token not enforced", f.token, probe.values.Get(f.token),
				fmt.Sprintf("submission with %s returned status %d like the baseline", probe.desc, resp.StatusCode))}
		}
	}
	return nil
}

// checkHeaders submits the form with a forged cross-site Origin and Referer.
func (f *form) checkHeaders(ctx context.Context) []finding.Finding {
	if f.req.Method != http.MethodPost {
		return nil
	}
	baseline := f.submitBaseline(ctx)
	if baseline == nil {
		return nil
	}
	forged := http.Header{}
	forged.Set("Origin", forgedOrigin)
	forged.Set("Referer", forgedReferer)
	resp, err := f.submit(ctx, f.req.Values(), forged)
	if err != nil {
		f.annotate(err)
		return nil
	}
	if !accepted(baseline, resp) {
		return nil
	}
	return []finding.Finding{f.newFinding(finding.CategoryCSRFHeaderGap, "Header-based CSRF gap", "", "Origin: "+forgedOrigin,
		fmt.Sprintf("submission with Origin %s and Referer %s returned status %d like the baseline", forgedOrigin, forgedReferer, resp.StatusCode))}
}

// checkCookies inspects the session cookies the host issued during the scan. The source
// page is loaded once more first so that a page reached only through the browser has
// had its cookies set on the session.
func (f *form) checkCookies(ctx context.Context) []finding.Finding {
	if _, err := f.client.Get(ctx, f.req.SourceURL); err != nil {
		f.log.Debug("CSRF: Could not fetch %s for cookie checks: %v", f.req.SourceURL, err)
	}
	var out []finding.Finding
	for _, c := range f.client.IssuedCookies(f.req.SourceURL) {
		if !isSessionCookie(c.Name) {
			continue
		}
		var problem string
		switch {
		case c.SameSite == 0:
			problem = "has no SameSite attribute"
		case c.SameSite == http.SameSiteNoneMode && !c.Secure:
			problem = "is SameSite=None without Secure"
		default:
			continue
		}
		out = append(out, finding.New(finding.CategoryCSRFCookie, "Session cookie without SameSite protection",
			f.req.SourceURL, c.Name, "", fmt.Sprintf("cookie %s %s", c.Name, problem)))
	}
	return out
}

// checkRateLimiting sends rate_limit_requests submissions back to back and flags a
// form that accepted all of them the same way without any sign of throttling.
func (f *form) checkRateLimiting(ctx context.Context) []finding.Finding {
	n := f.cfg.RateLimitRequests
	var first *httpclient.Response
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return nil
		}
		resp, err := f.submit(ctx, f.req.Values(), nil)
		if err != nil {
			f.annotate(err)
			return nil
		}
		if throttled(resp) {
			f.log.Debug("CSRF: %s throttled after %d submissions", f.req.URL, i+1)
			return nil
		}
		if !resp.Success() {
			return nil
		}
		if first == nil {
			first = resp
			continue
		}
		if !scanner.SameOutcome(first, resp) {
			return nil
		}
	}
	return []finding.Finding{f.newFinding(finding.CategoryCSRFRateLimit, "Rate-limiting gap", "", "",
		fmt.Sprintf("%d rapid submissions all returned status %d with no 429 or rate-limit headers", n, first.StatusCode))}
}

func (f *form) submitBaseline(ctx context.Context) *httpclient.Response {
	if f.baselineDone {
		return f.baseline
	}
	f.baselineDone = true
	resp, err := f.submit(ctx, f.req.Values(), nil)
	if err != nil {
		f.log.Debug("CSRF: Baseline submission to %s failed: %v", f.req.URL, err)
		f.annotate(err)
		return nil
	}
	if !resp.Success() {
		f.log.Debug("CSRF: Baseline submission to %s returned %d, skipping comparisons", f.req.URL, resp.StatusCode)
		return nil
	}
	f.baseline = resp
	return resp
}

// submit sends values through the form without following redirects, so a redirect to a
// success or error page is compared as such.
func (f *form) submit(ctx context.Context, values url.Values, header http.Header) (*httpclient.Response, error) {
	httpReq, err := scanner.Build(f.req, values)
	if err != nil {
		return nil, err
	}
	for key, vals := range header {
		for _, v := range vals {
			httpReq.Header.Add(key, v)
		}
	}
	return f.client.DoNoRedirect(ctx, httpReq)
}

func (f *form) annotate(err error) {
	if f.annotation == "" {
		f.annotation = scanner.Annotate(err)
	}
}

// accepted reports whether a manipulated submission got the baseline's treatment.
func accepted(baseline, resp *httpclient.Response) bool {
	if !resp.Success() || responseIndicatesTokenFailure(resp.Body) {
		return false
	}
	return scanner.SameOutcome(baseline, resp) && baseline.Header.Get("Location") == resp.Header.Get("Location")
}

func throttled(resp *httpclient.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	for _, h := range payloads.RateLimitHeaders {
		if resp.Header.Get(h) != "" {
			return true
		}
	}
	return false
}

// tokenField returns the name of the form's anti-CSRF token field, if any.
func tokenField(req crawler.ParameterizedRequest) string {
	for _, in := range req.Inputs {
		if in.Type == "hidden" && payloads.IsCSRFTokenName(in.Name) {
			return in.Name
		}
	}
	for _, name := range req.ParamNames {
		if payloads.IsCSRFTokenName(name) {
			return name
		}
	}
	return ""
}

// stateChanging looks for a state-changing keyword in the action path or in the name of
// a data field.
func stateChanging(req crawler.ParameterizedRequest) (string, bool) {
	path := strings.ToLower(req.Path)
	for _, kw := range payloads.StateChangingKeywords {
		if strings.Contains(path, kw) {
			return kw, true
		}
	}
	for _, in := range req.Inputs {
		if in.Type == "submit" || in.Type == "button" || in.Type == "reset" {
			continue
		}
		name := strings.ToLower(in.Name)
		for _, kw := range payloads.StateChangingKeywords {
			if name == kw || strings.HasPrefix(name, kw+"_") || strings.HasSuffix(name, "_"+kw) {
				return kw, true
			}
		}
	}
	return "", false
}

func isSessionCookie(name string) bool {
	l := strings.ToLower(name)
	for _, hint := range payloads.SessionCookieHints {
		if strings.Contains(l, hint) {
			return true
		}
	}
	return false
}

// responseIndicatesTokenFailure checks if the response body contains keywords indicating CSRF token validation failure.
func responseIndicatesTokenFailure(b string) bool {
	l := strings.ToLower(b)
	for _, k := range payloads.CSRFTokenValidationFailedKeywords {
		if strings.Contains(l, k) {
			return true
		}
	}
	return false
}
