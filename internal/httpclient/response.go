package httpclient

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// MaxBodySize caps how much of a response body is kept.
const MaxBodySize = 5 << 20

// Response is a fully read HTTP response.
type Response struct {
	URL        string // Final URL after redirects.
	StatusCode int
	Header     http.Header
	Body       string
	Duration   time.Duration
	Truncated  bool
}

// Cookies parses the Set-Cookie headers of the response.
func (r *Response) Cookies() []*http.Cookie {
	return (&http.Response{Header: r.Header}).Cookies()
}

// Success reports a 2xx or 3xx status.
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 400
}

func readResponse(resp *http.Response, start time.Time) (*Response, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	out := &Response{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Duration:   time.Since(start),
	}
	if len(body) > MaxBodySize {
		body = body[:MaxBodySize]
		out.Truncated = true
	}
	out.Body = string(body)
	return out, nil
}
