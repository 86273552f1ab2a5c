package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Reason classifies why a request failed.
type Reason string

const (
	ReasonInvalidURL Reason = "invalid-url"
	ReasonDNS        Reason = "dns"
	ReasonTimeout    Reason = "timeout"
	ReasonNetwork    Reason = "network"
	ReasonStatus     Reason = "status"
	ReasonExhausted  Reason = "retries-exhausted"
	ReasonCanceled   Reason = "canceled"
)

// FetchError is returned when a request could not produce usable content.
// Callers record it as an annotation; it is never a finding.
type FetchError struct {
	URL        string
	Reason     Reason
	StatusCode int // Last HTTP status seen, 0 when none.
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Reason)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a per-request timeout.
func (e *FetchError) Timeout() bool {
	if e.Reason == ReasonTimeout {
		return true
	}
	return isTimeout(e.Err)
}

// IsTimeout reports whether err is a FetchError caused by a timeout.
func IsTimeout(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Timeout()
	}
	return isTimeout(err)
}

// IsCanceled reports whether err stems from the scan context being done.
func IsCanceled(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) && fe.Reason == ReasonCanceled {
		return true
	}
	return errors.Is(err, context.Canceled)
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// classify maps a transport error to a Reason.
func classify(err error) Reason {
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr):
		if dnsErr.IsTimeout {
			return ReasonTimeout
		}
		return ReasonDNS
	case isTimeout(err):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	default:
		return ReasonNetwork
	}
}
