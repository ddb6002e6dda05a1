// Package verify runs per-tool post-conditions and cross-system
// invariants after execution. Checks run sequentially, each under its
// own timeout; a check that returns an error, panics, or times out
// counts as failed, never as a crash of the kernel.
package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
)

// Severity levels for checks.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// DefaultCheckTimeout bounds a single check.
const DefaultCheckTimeout = 5 * time.Second

// runCheck executes one check function under a timeout, converting
// panics and timeouts into failed results.
func runCheck(ctx context.Context, id, severity string, timeout time.Duration, fn func(context.Context) (bool, error)) contracts.CheckResult {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	type outcome struct {
		passed bool
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("check panic: %v", r)}
			}
		}()
		ok, err := fn(cctx)
		ch <- outcome{passed: ok, err: err}
	}()

	res := contracts.CheckResult{ID: id, Severity: severity}
	select {
	case out := <-ch:
		res.DurationMs = time.Since(start).Milliseconds()
		if out.err != nil {
			res.Passed = false
			res.Detail = out.err.Error()
		} else {
			res.Passed = out.passed
		}
	case <-cctx.Done():
		res.DurationMs = time.Since(start).Milliseconds()
		res.Passed = false
		res.Detail = cctx.Err().Error()
	}
	return res
}

// summarize derives the aggregate status from individual results.
func summarize(checks []contracts.CheckResult) (status string, critical bool) {
	if len(checks) == 0 {
		return contracts.VerificationPassed, false
	}
	passed, failed := 0, 0
	for _, c := range checks {
		if c.Passed {
			passed++
			continue
		}
		failed++
		if c.Severity == SeverityCritical {
			critical = true
		}
	}
	switch {
	case failed == 0:
		return contracts.VerificationPassed, false
	case passed == 0:
		return contracts.VerificationFailed, critical
	default:
		return contracts.VerificationPartial, critical
	}
}
