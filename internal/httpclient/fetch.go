package httpclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roomkangali/kalki/internal/config"
	"github.com/roomkangali/kalki/internal/metrics"
)

// State is a step of the fetch state machine.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateRetrying
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateFetching:
		return "Fetching"
	case StateRetrying:
		return "Retrying"
	case StateSucceeded:
		return "Succeeded"
	case StateFailed:
		return "Failed"
	}
	return "Unknown"
}

// Transition records one move of the state machine.
type Transition struct {
	From       State
	To         State
	Attempt    int
	StatusCode int
	Delay      time.Duration // Backoff chosen when entering Retrying.
	Reason     Reason
}

// RetryPolicy controls Fetch. Retries happen on network errors, timeouts, the statuses
// in RetryStatuses and 429; everything else ends the machine at once.
type RetryPolicy struct {
	MaxRetries    int
	BackoffFactor time.Duration
	MaxBackoff    time.Duration
	RetryStatuses []int
}

// DefaultRetryPolicy retries five times with a 300ms exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    config.DefaultMaxRetries,
		BackoffFactor: config.DefaultBackoffFactor,
		MaxBackoff:    config.DefaultMaxBackoff,
		RetryStatuses: []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout},
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.RetryStatuses == nil {
		p.RetryStatuses = DefaultRetryPolicy().RetryStatuses
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = config.DefaultMaxBackoff
	}
	return p
}

// Backoff returns the delay before retry n (1-based): factor * 2^(n-1), capped.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 || p.BackoffFactor <= 0 {
		return 0
	}
	delay := p.BackoffFactor
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if delay > p.MaxBackoff {
		delay = p.MaxBackoff
	}
	return delay
}

func (p RetryPolicy) retryableStatus(code int) bool {
	if code == http.StatusTooManyRequests {
		return true
	}
	for _, s := range p.RetryStatuses {
		if s == code {
			return true
		}
	}
	return false
}

// sleeper is an interface for waiting, allowing tests to skip real delays.
type sleeper interface {
	sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fetchMachine drives one Fetch call.
type fetchMachine struct {
	state   State
	attempt int
	trace   []Transition
}

func (m *fetchMachine) move(to State, status int, delay time.Duration, reason Reason) {
	m.trace = append(m.trace, Transition{From: m.state, To: to, Attempt: m.attempt, StatusCode: status, Delay: delay, Reason: reason})
	m.state = to
}

// Fetch retrieves rawURL with the retry policy. The returned content is the body of
// the first successful attempt; any failure is a *FetchError.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	resp, trace, err := c.fetch(ctx, rawURL)
	if len(trace) > 2 {
		c.logger.Debug("Fetch %s settled after %d attempts (%s)", rawURL, trace[len(trace)-1].Attempt, trace[len(trace)-1].To)
	}
	return resp, err
}

func (c *Client) fetch(ctx context.Context, rawURL string) (*Response, []Transition, error) {
	m := &fetchMachine{state: StateIdle}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		m.move(StateFailed, 0, 0, ReasonInvalidURL)
		return nil, m.trace, &FetchError{URL: rawURL, Reason: ReasonInvalidURL, Err: err}
	}

	var lastStatus int
	var lastErr error
	for {
		m.attempt++
		m.move(StateFetching, 0, 0, "")

		req, _ := http.NewRequest(http.MethodGet, rawURL, nil)
		resp, err := c.send(ctx, c.httpClient, req)

		var retryAfter time.Duration
		var reason Reason
		switch {
		case err != nil:
			fe, _ := err.(*FetchError)
			reason = fe.Reason
			lastErr, lastStatus = err, 0
			if reason == ReasonCanceled || reason == ReasonDNS || reason == ReasonInvalidURL {
				c.metrics.ObserveRequest(outcomeFor(reason), 0)
				m.move(StateFailed, 0, 0, reason)
				return nil, m.trace, &FetchError{URL: rawURL, Reason: reason, Attempts: m.attempt, Err: fe.Err}
			}
		case c.policy.retryableStatus(resp.StatusCode):
			reason = ReasonStatus
			lastErr, lastStatus = nil, resp.StatusCode
			if resp.StatusCode == http.StatusTooManyRequests {
				retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			}
		case resp.StatusCode >= 400:
			c.metrics.ObserveRequest(metrics.OutcomeFailure, resp.Duration)
			m.move(StateFailed, resp.StatusCode, 0, ReasonStatus)
			return nil, m.trace, &FetchError{URL: rawURL, Reason: ReasonStatus, StatusCode: resp.StatusCode, Attempts: m.attempt}
		default:
			c.metrics.ObserveRequest(metrics.OutcomeSuccess, resp.Duration)
			m.move(StateSucceeded, resp.StatusCode, 0, "")
			return resp, m.trace, nil
		}

		if m.attempt > c.policy.MaxRetries {
			c.metrics.ObserveRequest(metrics.OutcomeFailure, 0)
			m.move(StateFailed, lastStatus, 0, ReasonExhausted)
			return nil, m.trace, &FetchError{URL: rawURL, Reason: ReasonExhausted, StatusCode: lastStatus, Attempts: m.attempt, Err: lastErr}
		}

		delay := c.policy.Backoff(m.attempt)
		if retryAfter > delay {
			delay = retryAfter
		}
		if delay > c.policy.MaxBackoff {
			delay = c.policy.MaxBackoff
		}
		c.metrics.ObserveRequest(metrics.OutcomeRetry, 0)
		m.move(StateRetrying, lastStatus, delay, reason)
		c.logger.Debug("Retrying %s in %s (attempt %d, %s)", rawURL, delay, m.attempt, reason)

		if err := c.sleeper.sleep(ctx, delay); err != nil {
			m.move(StateFailed, lastStatus, 0, ReasonCanceled)
			return nil, m.trace, &FetchError{URL: rawURL, Reason: ReasonCanceled, StatusCode: lastStatus, Attempts: m.attempt, Err: err}
		}
	}
}

func outcomeFor(reason Reason) string {
	if reason == ReasonCanceled {
		return metrics.OutcomeCanceled
	}
	return metrics.OutcomeFailure
}

// parseRetryAfter understands both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
