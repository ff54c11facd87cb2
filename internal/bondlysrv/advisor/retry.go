package advisor

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/tidwall/gjson"
)

// RetryPolicy governs retries of rate limited generation calls.
type RetryPolicy struct {
	MaxRetries int           // additional attempts after the first
	BaseDelay  time.Duration // first backoff step when the server gives no hint
	MinDelay   time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy allows two retries, backing off between one second and a
// minute.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		MinDelay:   time.Second,
		MaxDelay:   60 * time.Second,
	}
}

// Delay returns the wait before retry n (zero based) after err. A server
// suggestion wins over exponential backoff; either is clamped to the bounds.
func (p RetryPolicy) Delay(n uint, err error) time.Duration {
	d, ok := suggestedDelay(err, time.Now())
	if !ok {
		if n > 20 {
			n = 20
		}
		d = p.BaseDelay << n
	}
	return p.clamp(d)
}

func (p RetryPolicy) clamp(d time.Duration) time.Duration {
	if d < p.MinDelay {
		d = p.MinDelay
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// IsRateLimited reports whether err is an HTTP 429 from the generation API.
func IsRateLimited(err error) bool {
	var apiErr *openai.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

func suggestedDelay(err error, now time.Time) (time.Duration, bool) {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return 0, false
	}
	if apiErr.Response != nil {
		if d, ok := retryAfterMillis(apiErr.Response.Header.Get("Retry-After-Ms")); ok {
			return d, true
		}
		if d, ok := retryAfter(apiErr.Response.Header.Get("Retry-After"), now); ok {
			return d, true
		}
	}
	return retryDelayFromBody(apiErr.RawJSON())
}

// retryAfter parses a Retry-After value given in seconds or as an HTTP date.
func retryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

func retryAfterMillis(v string) (time.Duration, bool) {
	ms, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || ms < 0 {
		return 0, false
	}
	return time.Duration(ms * float64(time.Millisecond)), true
}

var (
	retryDelayPaths = []string{
		"error.details.#.retryDelay",
		"details.#.retryDelay",
		"0.error.details.#.retryDelay",
	}
	messagePaths = []string{"error.message", "message", "0.error.message"}
	retryInRe    = regexp.MustCompile(`(?i)retry in ([0-9]+(?:\.[0-9]+)?)\s*s`)
)

// retryDelayFromBody looks for a google.rpc.RetryInfo delay ("20s") or a
// "retry in Ns" hint in an error body.
func retryDelayFromBody(raw string) (time.Duration, bool) {
	if raw == "" || !gjson.Valid(raw) {
		return 0, false
	}
	for _, path := range retryDelayPaths {
		for _, v := range gjson.Get(raw, path).Array() {
			if d, err := time.ParseDuration(v.String()); err == nil && d >= 0 {
				return d, true
			}
		}
	}
	for _, path := range messagePaths {
		if m := retryInRe.FindStringSubmatch(gjson.Get(raw, path).String()); len(m) > 1 {
			if secs, err := strconv.ParseFloat(m[1], 64); err == nil {
				return time.Duration(secs * float64(time.Second)), true
			}
		}
	}
	return 0, false
}
