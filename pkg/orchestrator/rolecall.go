package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// RoleCallPolicy governs every inter-role invocation: per-call timeout,
// retry with deterministic backoff, and a per-role circuit breaker.
type RoleCallPolicy struct {
	Timeout                 time.Duration
	MaxRetries              int
	Backoff                 time.Duration
	MaxJitter               time.Duration
	CircuitBreakerThreshold uint32
	CircuitBreakerReset     time.Duration
}

func DefaultRoleCallPolicy() RoleCallPolicy {
	return RoleCallPolicy{
		Timeout:                 10 * time.Second,
		MaxRetries:              2,
		Backoff:                 100 * time.Millisecond,
		MaxJitter:               50 * time.Millisecond,
		CircuitBreakerThreshold: 5,
		CircuitBreakerReset:     30 * time.Second,
	}
}

// ErrCircuitOpen marks a fail-fast denial, as opposed to a transient
// failure that was retried.
var ErrCircuitOpen = errors.New("role circuit open")

// roleCaller applies the policy to calls into one named role.
type roleCaller struct {
	role    string
	policy  RoleCallPolicy
	breaker *gobreaker.CircuitBreaker
	sleep   func(ctx context.Context, d time.Duration) error
}

func newRoleCaller(role string, policy RoleCallPolicy) *roleCaller {
	threshold := policy.CircuitBreakerThreshold
	if threshold == 0 {
		threshold = DefaultRoleCallPolicy().CircuitBreakerThreshold
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    role,
		Timeout: policy.CircuitBreakerReset,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})
	return &roleCaller{
		role:    role,
		policy:  policy,
		breaker: cb,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call runs one role operation under the policy. Transient failures are
// retried with deterministic backoff; an open circuit fails fast with
// ErrCircuitOpen and no retries.
func (rc *roleCaller) call(ctx context.Context, op string, fn func(ctx context.Context) (any, error)) (any, error) {
	var lastErr error
	for attempt := 0; attempt <= rc.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := rc.sleep(ctx, rc.backoffFor(op, attempt)); err != nil {
				return nil, err
			}
		}

		out, err := rc.breaker.Execute(func() (any, error) {
			cctx := ctx
			if rc.policy.Timeout > 0 {
				var cancel context.CancelFunc
				cctx, cancel = context.WithTimeout(ctx, rc.policy.Timeout)
				defer cancel()
			}
			return fn(cctx)
		})
		if err == nil {
			return out, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s.%s", ErrCircuitOpen, rc.role, op)
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%s.%s failed after %d attempts: %w", rc.role, op, rc.policy.MaxRetries+1, lastErr)
}

// backoffFor computes the delay before a retry: exponential in the
// attempt index with jitter derived from a hash of (role, op, attempt),
// so a replayed history backs off identically.
func (rc *roleCaller) backoffFor(op string, attempt int) time.Duration {
	base := rc.policy.Backoff
	if base <= 0 {
		return 0
	}
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	delay := base << shift

	if rc.policy.MaxJitter > 0 {
		seed := fmt.Sprintf("%s:%s:%d", rc.role, op, attempt)
		sum := sha256.Sum256([]byte(seed))
		basis := binary.BigEndian.Uint64(sum[:8])
		delay += time.Duration(basis % uint64(rc.policy.MaxJitter))
	}
	return delay
}
