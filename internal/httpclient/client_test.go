package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomkangali/kalki/internal/logger"
)

// fakeSleeper records delays without actually sleeping.
type fakeSleeper struct {
	delays []time.Duration
}

func (f *fakeSleeper) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.delays = append(f.delays, d)
	return nil
}

func newTestClient(t *testing.T, opts ClientOptions) (*Client, *fakeSleeper) {
	t.Helper()
	c, err := NewClient(logger.Discard(), opts)
	require.NoError(t, err)
	s := &fakeSleeper{}
	c.sleeper = s
	return c, s
}

func defaultOpts() ClientOptions {
	return ClientOptions{Timeout: 2 * time.Second, Retry: DefaultRetryPolicy()}
}

func states(trace []Transition) []State {
	out := make([]State, len(trace))
	for i, tr := range trace {
		out[i] = tr.To
	}
	return out
}

func TestFetch_RetriesTransientStatusThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	c, s := newTestClient(t, defaultOpts())
	resp, trace, err := c.fetch(context.Background(), srv.URL)

	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", resp.Body)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{300 * time.Millisecond, 600 * time.Millisecond}, s.delays)
	assert.Equal(t, []State{
		StateFetching, StateRetrying,
		StateFetching, StateRetrying,
		StateFetching, StateSucceeded,
	}, states(trace))
}

func TestFetch_ClientErrorFailsImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c, s := newTestClient(t, defaultOpts())
	_, trace, err := c.fetch(context.Background(), srv.URL)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, ReasonStatus, fe.Reason)
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.Equal(t, 1, fe.Attempts)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, s.delays)
	assert.Equal(t, []State{StateFetching, StateFailed}, states(trace))
}

func TestFetch_ExhaustsRetryBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	opts := defaultOpts()
	opts.Retry.MaxRetries = 3
	c, s := newTestClient(t, opts)
	_, err := c.Fetch(context.Background(), srv.URL)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, ReasonExhausted, fe.Reason)
	assert.Equal(t, http.StatusBadGateway, fe.StatusCode)
	assert.Equal(t, 4, fe.Attempts)
	assert.Equal(t, int32(4), calls.Load())
	assert.Len(t, s.delays, 3)
}

func TestFetch_InvalidURLNeverHitsNetwork(t *testing.T) {
	c, _ := newTestClient(t, defaultOpts())
	for _, raw := range []string{"ftp://example.com/", "not a url", "http://"} {
		_, trace, err := c.fetch(context.Background(), raw)
		var fe *FetchError
		require.True(t, errors.As(err, &fe), raw)
		assert.Equal(t, ReasonInvalidURL, fe.Reason, raw)
		assert.Equal(t, []State{StateFailed}, states(trace), raw)
	}
}

func TestFetch_TooManyRequestsHonoursRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c, s := newTestClient(t, defaultOpts())
	_, err := c.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second}, s.delays)
}

func TestFetch_CanceledContextStopsBeforeNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, _ := newTestClient(t, defaultOpts())
	_, err := c.Fetch(ctx, srv.URL)
	assert.True(t, IsCanceled(err))
	assert.Zero(t, calls.Load())
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{BackoffFactor: 300 * time.Millisecond, MaxBackoff: 2 * time.Second}
	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, 0},
		{1, 300 * time.Millisecond},
		{2, 600 * time.Millisecond},
		{3, 1200 * time.Millisecond},
		{4, 2 * time.Second},
		{30, 2 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Backoff(tt.n), "retry %d", tt.n)
	}
}

func TestDo_SingleAttemptAndHeaders(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "kalki-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "Bearer x", r.Header.Get("Authorization"))
		c, err := r.Cookie("session")
		if assert.NoError(t, err) {
			assert.Equal(t, "abc", c.Value)
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	opts := defaultOpts()
	opts.UserAgent = "kalki-test"
	opts.Headers = map[string]string{"Authorization": "Bearer x"}
	opts.Cookies = map[string]string{"session": "abc"}
	opts.TargetBaseURL = srv.URL
	c, _ := newTestClient(t, opts)

	resp, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoNoRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/submit" {
			http.Redirect(w, r, "/done", http.StatusFound)
			return
		}
		w.Write([]byte("done"))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, defaultOpts())

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/submit", nil)
	resp, err := c.DoNoRedirect(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/submit", nil)
	resp, err = c.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Body)
}

func TestDo_TimeoutIsClassified(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	opts := defaultOpts()
	opts.Timeout = 50 * time.Millisecond
	c, _ := newTestClient(t, opts)

	_, err := c.Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("soon"))
}

func TestIssuedCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "1", Path: "/", SameSite: http.SameSiteStrictMode, Secure: true})
			http.Redirect(w, r, "/home", http.StatusFound)
		case "/home":
			if _, err := r.Cookie("theme"); err != nil {
				http.SetCookie(w, &http.Cookie{Name: "theme", Value: "dark", Path: "/"})
			}
			w.Write([]byte("home"))
		case "/logout":
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "", Path: "/", MaxAge: -1})
		}
	}))
	defer srv.Close()

	opts := defaultOpts()
	opts.Cookies = map[string]string{"static": "x"}
	opts.TargetBaseURL = srv.URL
	c, _ := newTestClient(t, opts)

	_, err := c.Get(context.Background(), srv.URL+"/login")
	require.NoError(t, err)
	_, err = c.Get(context.Background(), srv.URL+"/home")
	require.NoError(t, err)

	issued := c.IssuedCookies(srv.URL + "/anything")
	require.Len(t, issued, 2, "the configured cookie is not reported as issued")
	assert.Equal(t, "sid", issued[0].Name)
	assert.Equal(t, http.SameSiteStrictMode, issued[0].SameSite)
	assert.True(t, issued[0].Secure)
	assert.Equal(t, "theme", issued[1].Name)
	assert.Zero(t, issued[1].SameSite, "no SameSite attribute")

	_, err = c.Get(context.Background(), srv.URL+"/logout")
	require.NoError(t, err)
	issued = c.IssuedCookies(srv.URL)
	require.Len(t, issued, 1)
	assert.Equal(t, "theme", issued[0].Name)

	assert.Empty(t, c.IssuedCookies("http://other.invalid/"))
	assert.Nil(t, c.IssuedCookies("::"))
}
