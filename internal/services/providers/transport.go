package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/j-veylop/cpamc/internal/logger"
	"github.com/j-veylop/cpamc/internal/management"
	"github.com/j-veylop/cpamc/internal/quota"
)

// Caller proxies one request through the gateway. *management.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, req management.Request) (*management.Response, error)
}

// BreakerConfig tunes the per-family circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker
	FailureThreshold uint32
	// Interval is the cyclic period of the closed state for clearing counts
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing again
	Timeout time.Duration
	// MaxRequests is the number of probes allowed while half-open
	MaxRequests uint32
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		MaxRequests:      1,
	}
}

type transport struct {
	caller   Caller
	breakers map[quota.Family]*gobreaker.CircuitBreaker
}

func newTransport(caller Caller, cfg BreakerConfig, onChange func(family string, state int)) *transport {
	t := &transport{
		caller:   caller,
		breakers: make(map[quota.Family]*gobreaker.CircuitBreaker),
	}
	for _, f := range append([]quota.Family{quota.FamilyClaude}, quota.Families...) {
		family := f
		t.breakers[family] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        string(family),
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("provider circuit breaker changed", "family", name, "from", from.String(), "to", to.String())
				if onChange != nil {
					onChange(name, int(to))
				}
			},
			IsSuccessful: isSuccessful,
		})
	}
	return t
}

// isSuccessful decides which outcomes count against the breaker: only
// transport failures, throttling and upstream 5xx do.
func isSuccessful(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return !ne.Temporary()
	}
	return true
}

// do performs req for family and returns the upstream body of a 2xx answer.
func (t *transport) do(ctx context.Context, family quota.Family, req management.Request) ([]byte, error) {
	cb, ok := t.breakers[family]
	if !ok {
		return nil, fmt.Errorf("unknown provider family %q", family)
	}

	out, err := cb.Execute(func() (interface{}, error) {
		resp, err := t.caller.Call(ctx, req)
		if err != nil {
			return nil, toNetworkError(err)
		}
		if !resp.OK() {
			return nil, &NetworkError{StatusCode: resp.StatusCode, Message: upstreamMessage(resp.Body)}
		}
		return resp.Body, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &NetworkError{
			StatusCode: http.StatusServiceUnavailable,
			Message:    string(family) + " is temporarily unavailable (circuit open)",
			Err:        err,
		}
	}
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

// state returns the breaker state of family.
func (t *transport) state(family quota.Family) gobreaker.State {
	if cb, ok := t.breakers[family]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

func toNetworkError(err error) error {
	var apiErr *management.APIError
	if errors.As(err, &apiErr) {
		return &NetworkError{StatusCode: apiErr.StatusCode, Message: apiErr.Message, Err: err}
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return err
	}
	return &NetworkError{Message: err.Error(), Err: err}
}
