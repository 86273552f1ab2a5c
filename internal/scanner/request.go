package scanner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/agext/levenshtein"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/roomkangali/kalki/internal/crawler"
	"github.com/roomkangali/kalki/internal/httpclient"
)

// Build turns values into an *http.Request for req. A request that cannot be built is
// reported as an invalid-url FetchError, like any other probe failure.
func Build(req crawler.ParameterizedRequest, values url.Values) (*http.Request, error) {
	httpReq, err := req.NewRequest(values)
	if err != nil {
		return nil, &httpclient.FetchError{URL: req.URL, Reason: httpclient.ReasonInvalidURL, Err: err}
	}
	return httpReq, nil
}

// Send submits values through req with a single attempt, following redirects.
func Send(ctx context.Context, client *httpclient.Client, req crawler.ParameterizedRequest, values url.Values) (*httpclient.Response, error) {
	httpReq, err := Build(req, values)
	if err != nil {
		return nil, err
	}
	return client.Do(ctx, httpReq)
}

// SendNoRedirect is Send without following redirects.
func SendNoRedirect(ctx context.Context, client *httpclient.Client, req crawler.ParameterizedRequest, values url.Values) (*httpclient.Response, error) {
	httpReq, err := Build(req, values)
	if err != nil {
		return nil, err
	}
	return client.DoNoRedirect(ctx, httpReq)
}

// Annotate turns a request error into a point annotation.
func Annotate(err error) string {
	switch {
	case err == nil:
		return ""
	case httpclient.IsTimeout(err):
		return "timeout"
	case httpclient.IsCanceled(err):
		return "canceled"
	}
	var fe *httpclient.FetchError
	if errors.As(err, &fe) {
		return fmt.Sprintf("fetch-error: %s", fe.Reason)
	}
	return "fetch-error: " + err.Error()
}

// Point builds a PointResult for req.
func Point(scanner string, req crawler.ParameterizedRequest, param, verdict, annotation string) PointResult {
	return PointResult{Scanner: scanner, URL: req.URL, Parameter: param, Verdict: verdict, Annotation: annotation}
}

// ForEachPoint runs fn for every name with at most opts.Concurrency running at once and
// merges the results in name order. Names not yet started when ctx is done are skipped.
func ForEachPoint(ctx context.Context, names []string, opts ScannerOptions, fn func(ctx context.Context, name string) Result) Result {
	results := make([]Result, len(names))
	var g errgroup.Group
	g.SetLimit(opts.limit())
	for i, name := range names {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			results[i] = fn(ctx, name)
			return nil
		})
	}
	_ = g.Wait()

	var out Result
	for _, r := range results {
		out.Merge(r)
	}
	return out
}

// Marker returns a unique alphanumeric token for correlating payloads.
func Marker(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + id[:12]
}

// similarityLimit bounds the bodies compared with edit distance.
const similarityLimit = 32 << 10

// Similarity returns 1 for identical bodies and tends to 0 as they diverge. Bodies
// larger than 32 KiB are compared by length only.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if len(a) > similarityLimit || len(b) > similarityLimit {
		return lengthRatio(len(a), len(b))
	}
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein.Distance(a, b, nil))/float64(maxLen)
}

func lengthRatio(a, b int) float64 {
	if a == b {
		return 1
	}
	if a > b {
		a, b = b, a
	}
	return float64(a) / float64(b)
}

// SameOutcome reports whether two responses look like the same server decision:
// equal status and near-identical bodies.
func SameOutcome(a, b *httpclient.Response) bool {
	if a == nil || b == nil {
		return false
	}
	return a.StatusCode == b.StatusCode && Similarity(a.Body, b.Body) >= 0.9
}
