package xss

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomkangali/kalki/internal/crawler"
	"github.com/roomkangali/kalki/internal/finding"
	"github.com/roomkangali/kalki/internal/httpclient"
	"github.com/roomkangali/kalki/internal/logger"
	"github.com/roomkangali/kalki/internal/payloads"
	"github.com/roomkangali/kalki/internal/scanner"
)

func TestClassify(t *testing.T) {
	const m = "kalkiabc123"
	tests := []struct {
		name string
		body string
		want []payloads.XSSContext
	}{
		{"absent", "<p>nothing</p>", nil},
		{"body text", "<p>You searched for " + m + "</p>", []payloads.XSSContext{payloads.ContextHTMLBody}},
		{"attribute", `<input name="q" value="` + m + `">`, []payloads.XSSContext{payloads.ContextAttribute}},
		{"script", `<script>var q = "` + m + `";</script>`, []payloads.XSSContext{payloads.ContextScript}},
		{"comment", "<!-- " + m + " -->", []payloads.XSSContext{payloads.ContextInertText}},
		{"textarea", "<textarea>" + m + "</textarea>", []payloads.XSSContext{payloads.ContextInertText}},
		{"title", "<title>Search " + m + "</title><p>" + m + "</p>", []payloads.XSSContext{payloads.ContextHTMLBody, payloads.ContextInertText}},
		{"several", `<input value="` + m + `"><script>x='` + m + `'</script><b>` + m + `</b>`,
			[]payloads.XSSContext{payloads.ContextHTMLBody, payloads.ContextAttribute, payloads.ContextScript}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Contexts(Classify(tt.body, m)))
		})
	}
}

func TestTests_InertTextBreaksOut(t *testing.T) {
	refs := Classify("<title>kalkiX</title><textarea>kalkiX</textarea><!-- kalkiX -->", "kalkiX")
	tests := Tests(refs)
	require.Len(t, tests, 3*len(payloads.XSSTestsFor(payloads.ContextHTMLBody)))

	counts := map[string]int{}
	for _, tt := range tests {
		assert.Equal(t, payloads.ContextInertText, tt.Context)
		for _, closer := range []string{"</title>", "</textarea>", "-->"} {
			if strings.HasPrefix(tt.PayloadTemplate, closer) {
				counts[closer]++
			}
		}
	}
	n := len(payloads.XSSTestsFor(payloads.ContextHTMLBody))
	assert.Equal(t, map[string]int{"</title>": n, "</textarea>": n, "-->": n}, counts)
}

func TestVerify_IgnoresMatchesInInertText(t *testing.T) {
	test := payloads.XSSTestsFor(payloads.ContextHTMLBody)[0]
	payload, detector := test.Render("kalkiY")

	_, ok := verify("<textarea>"+payload+"</textarea>", detector, payloads.ContextHTMLBody)
	assert.False(t, ok)
	_, ok = verify("<title>"+payload+"</title>", detector, payloads.ContextHTMLBody)
	assert.False(t, ok)
	_, ok = verify("<!-- "+payload+" -->", detector, payloads.ContextHTMLBody)
	assert.False(t, ok)

	match, ok := verify("<textarea>"+payload+"</textarea><p>"+payload+"</p>", detector, payloads.ContextHTMLBody)
	require.True(t, ok)
	assert.Contains(t, match, "<p>")
}

func TestDOMSink(t *testing.T) {
	refs := Classify(`<script>var n = "kalkiX"; el.innerHTML = n;</script>`, "kalkiX")
	_, sink, ok := domSink(refs)
	require.True(t, ok)
	assert.Contains(t, sink, "innerHTML")

	_, _, ok = domSink(Classify(`<script>var n = "kalkiX"; el.textContent = n;</script>`, "kalkiX"))
	assert.False(t, ok)
}

func newClient(t *testing.T) *httpclient.Client {
	t.Helper()
	c, err := httpclient.NewClient(logger.Discard(), httpclient.ClientOptions{Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func query(base, path, param string) crawler.ParameterizedRequest {
	return crawler.ParameterizedRequest{
		Method:     "GET",
		URL:        base + path,
		Path:       path,
		ParamNames: []string{param},
		Location:   crawler.LocationQuery,
		Defaults:   url.Values{param: {"x"}},
	}
}

func categories(findings []finding.Finding) []finding.Category {
	var out []finding.Category
	for _, f := range findings {
		out = append(out, f.Category)
	}
	return out
}

func TestScan_Reflected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<html><body><p>Results for %s</p></body></html>", r.URL.Query().Get("q"))
	}))
	defer srv.Close()

	res, err := NewXSSScanner().Scan(context.Background(), query(srv.URL, "/search", "q"), newClient(t), logger.Discard(), scanner.ScannerOptions{})
	require.NoError(t, err)

	require.Len(t, res.Findings, 1)
	f := res.Findings[0]
	assert.Equal(t, finding.CategoryXSSReflected, f.Category)
	assert.Equal(t, "Reflected XSS", f.Technique)
	assert.Equal(t, 7, f.Weight())
	assert.True(t, strings.HasPrefix(f.Payload, "<script>kalki"))
	assert.Contains(t, f.Evidence, "html-body")
}

func TestScan_EncodedReflectionIsClean(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := html.EscapeString(r.URL.Query().Get("q"))
		fmt.Fprintf(w, `<html><body><input value="%s"><p>Results for %s</p></body></html>`, q, q)
	}))
	defer srv.Close()

	res, err := NewXSSScanner().Scan(context.Background(), query(srv.URL, "/search", "q"), newClient(t), logger.Discard(), scanner.ScannerOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Findings)
	require.Len(t, res.Points, 1)
	assert.Equal(t, scanner.VerdictClean, res.Points[0].Verdict)
}

// editor echoes its draft raw inside a textarea. With strip set it removes closing
// textarea tags first, so the draft can never leave the element.
func editor(strip bool) *httptest.Server {
	closing := regexp.MustCompile(`(?i)</textarea`)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		draft := r.URL.Query().Get("draft")
		if strip {
			draft = closing.ReplaceAllString(draft, "")
		}
		fmt.Fprintf(w, "<html><body><form><textarea name=\"draft\">%s</textarea></form></body></html>", draft)
	}))
}

func TestScan_TextareaEchoWithoutBreakoutIsClean(t *testing.T) {
	srv := editor(true)
	defer srv.Close()

	res, err := NewXSSScanner().Scan(context.Background(), query(srv.URL, "/edit", "draft"), newClient(t), logger.Discard(), scanner.ScannerOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Findings)
	require.Len(t, res.Points, 1)
	assert.Equal(t, scanner.VerdictClean, res.Points[0].Verdict)
}

func TestScan_TextareaBreakout(t *testing.T) {
	srv := editor(false)
	defer srv.Close()

	res, err := NewXSSScanner().Scan(context.Background(), query(srv.URL, "/edit", "draft"), newClient(t), logger.Discard(), scanner.ScannerOptions{})
	require.NoError(t, err)
	require.Equal(t, []finding.Category{finding.CategoryXSSReflected}, categories(res.Findings))
	assert.True(t, strings.HasPrefix(res.Findings[0].Payload, "</textarea><script>kalki"))
	assert.Contains(t, res.Findings[0].Evidence, "inert-text")
}

// guestbook stores messages raw and author names escaped; the submit response never
// echoes either.
func guestbook() *httptest.Server {
	var mu sync.Mutex
	var entries []string
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/guestbook":
			mu.Lock()
			list := strings.Join(entries, "\n")
			mu.Unlock()
			fmt.Fprintf(w, `<html><body><ul>%s</ul>
<form method="post" action="/guestbook/sign">
<input name="author" value="anon"><textarea name="message">hi</textarea>
<input type="submit" name="go" value="Sign">
</form></body></html>`, list)
		case "/guestbook/sign":
			_ = r.ParseForm()
			mu.Lock()
			entries = append(entries, fmt.Sprintf("<li><b>%s</b>: %s</li>", html.EscapeString(r.PostForm.Get("author")), r.PostForm.Get("message")))
			mu.Unlock()
			fmt.Fprint(w, "<html><body>Thanks for signing!</body></html>")
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestScan_StoredNotReflected(t *testing.T) {
	srv := guestbook()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/guestbook")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	forms, err := crawler.ParseForms(srv.URL+"/guestbook", string(body))
	require.NoError(t, err)
	require.Len(t, forms, 1)
	req := crawler.FromForm(forms[0], srv.URL+"/guestbook")

	res, err := NewXSSScanner().Scan(context.Background(), req, newClient(t), logger.Discard(), scanner.ScannerOptions{Concurrency: 1})
	require.NoError(t, err)

	require.Equal(t, []finding.Category{finding.CategoryXSSStored}, categories(res.Findings))
	f := res.Findings[0]
	assert.Equal(t, "message", f.Parameter)
	assert.Equal(t, 10, f.Weight())
	assert.Contains(t, f.Evidence, srv.URL+"/guestbook")

	require.Len(t, res.Points, 2, "the submit button is not probed")
	assert.Equal(t, "author", res.Points[0].Parameter)
	assert.Equal(t, scanner.VerdictClean, res.Points[0].Verdict)
	assert.Equal(t, scanner.VerdictVulnerable, res.Points[1].Verdict)
}

func jsEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, `'`, `\'`, "<", `\x3c`, ">", `\x3e`, "`", `\x60`).Replace(s)
}

func domApp() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body><div id="out"></div>
<script>var n = "%s"; document.getElementById('out').innerHTML = "Hello " + n;</script>
</body></html>`, jsEscape(r.URL.Query().Get("name")))
	}))
}

type fakeConfirmer struct {
	ok   bool
	urls []string
}

func (f *fakeConfirmer) ConfirmDOM(_ context.Context, pageURL, marker string) (bool, error) {
	f.urls = append(f.urls, pageURL)
	return f.ok && strings.Contains(pageURL, marker), nil
}

func TestScan_DOMSink(t *testing.T) {
	srv := domApp()
	defer srv.Close()

	res, err := NewXSSScanner().Scan(context.Background(), query(srv.URL, "/app", "name"), newClient(t), logger.Discard(), scanner.ScannerOptions{})
	require.NoError(t, err)
	require.Equal(t, []finding.Category{finding.CategoryXSSDOM}, categories(res.Findings))
	assert.Equal(t, 5, res.Findings[0].Weight())
	assert.Contains(t, res.Findings[0].Evidence, "innerHTML")
}

func TestScan_DOMSinkConfirmedInBrowser(t *testing.T) {
	srv := domApp()
	defer srv.Close()

	confirmer := &fakeConfirmer{ok: true}
	res, err := NewXSSScanner().Scan(context.Background(), query(srv.URL, "/app", "name"), newClient(t), logger.Discard(), scanner.ScannerOptions{DOM: confirmer})
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Contains(t, res.Findings[0].Evidence, "confirmed in headless browser")
	assert.Contains(t, res.Findings[0].Payload, "kalkidom")
	require.Len(t, confirmer.urls, 1)
	assert.True(t, strings.HasPrefix(confirmer.urls[0], srv.URL+"/app?name="))
}

func TestScan_DOMSinkRejectedByBrowser(t *testing.T) {
	srv := domApp()
	defer srv.Close()

	confirmer := &fakeConfirmer{ok: false}
	res, err := NewXSSScanner().Scan(context.Background(), query(srv.URL, "/app", "name"), newClient(t), logger.Discard(), scanner.ScannerOptions{DOM: confirmer})
	require.NoError(t, err)
	assert.Empty(t, res.Findings)
	assert.Len(t, confirmer.urls, len(payloads.DOMXSSPayloads))
}
