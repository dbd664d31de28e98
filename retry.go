package trino

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Defaults for RetryPolicy, matching the coordinator client conventions:
// 100ms base, doubling per attempt, full jitter, capped at two hours.
const (
	DefaultRetryBase     = 100 * time.Millisecond
	DefaultRetryExponent = 2.0
	DefaultRetryMaxDelay = 2 * time.Hour
	DefaultMaxAttempts   = 3
)

// attemptOutcome classifies the result of a single HTTP attempt. The retry
// loop pattern-matches on this tag instead of inspecting error types at
// every call site.
type attemptOutcome int

const (
	outcomeSuccess attemptOutcome = iota
	outcomeTransient
	outcomeFatal
)

// RetryPolicy retries transient HTTP failures with exponential backoff.
// An attempt is one HTTP request: MaxAttempts of 3 means two retries.
// The zero value is not usable; construct with NewRetryPolicy.
type RetryPolicy struct {
	Base        time.Duration
	Exponent    float64
	Jitter      bool
	MaxDelay    time.Duration
	MaxAttempts int

	// rand generates the jitter factor. Overridable in tests.
	rand func() float64
}

// NewRetryPolicy returns a policy with the default backoff parameters and
// the given attempt ceiling. maxAttempts < 1 falls back to the default.
func NewRetryPolicy(maxAttempts int) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return RetryPolicy{
		Base:        DefaultRetryBase,
		Exponent:    DefaultRetryExponent,
		Jitter:      true,
		MaxDelay:    DefaultRetryMaxDelay,
		MaxAttempts: maxAttempts,
		rand:        rand.Float64,
	}
}

// delay computes the sleep before the retry following the given attempt
// (1-based). With jitter enabled the exponential delay is multiplied by a
// uniform random factor in [0, 1).
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.Base)
	for i := 0; i < attempt; i++ {
		d *= p.Exponent
	}
	if p.Jitter {
		d *= p.rand()
	}
	if max := float64(p.MaxDelay); d > max {
		d = max
	}
	return time.Duration(d)
}

// Do invokes call until it succeeds, fails fatally, or the attempt budget
// is exhausted. When the budget runs out the last error is returned, or
// the last transient response if no error occurred. With MaxAttempts of 1
// the call is unwrapped.
func (p RetryPolicy) Do(ctx context.Context, call func() (*http.Response, error)) (*http.Response, error) {
	if p.MaxAttempts == 1 {
		return call()
	}

	var (
		resp *http.Response
		err  error
	)
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		resp, err = call()
		switch classifyAttempt(resp, err) {
		case outcomeSuccess, outcomeFatal:
			return resp, err
		}
		if attempt == p.MaxAttempts {
			break
		}
		// Transient failure: the response body will not be read.
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		d := p.delay(attempt)
		log.Debug().Int("attempt", attempt).Dur("delay", d).Err(err).Msg("retrying transient failure")
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	log.Debug().Int("attempts", p.MaxAttempts).Msg("retry budget exhausted")
	return resp, err
}

// classifyAttempt tags a completed attempt. Connection errors, timeouts
// and provider-marked transient auth errors retry; context cancellation
// never does. A response with status 502, 503 or 504 is transient; every
// other response is handed back for regular processing.
func classifyAttempt(resp *http.Response, err error) attemptOutcome {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return outcomeFatal
		}
		var transient interface{ Transient() bool }
		if errors.As(err, &transient) {
			if transient.Transient() {
				return outcomeTransient
			}
			return outcomeFatal
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return outcomeTransient
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return outcomeTransient
		}
		return outcomeFatal
	}
	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return outcomeTransient
	}
	return outcomeSuccess
}
