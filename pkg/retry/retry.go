// Package retry provides the shared timeout-and-retry harness used by every
// estimation strategy. A batch of probes is run concurrently and the join is
// raced against a per-attempt timer, so a stuck RPC or bundler endpoint can
// never hang an estimate.
package retry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AvaProtocol/wallet-core/pkg/logger"
)

const (
	// DefaultTimeout is the per-attempt deadline before the batch is
	// abandoned and retried with fresh requests.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxAttempts bounds how many times a batch is retried before
	// giving up with an error value.
	DefaultMaxAttempts = 5
)

// Probe is a single pending request within a batch.
type Probe[T any] func(ctx context.Context) (T, error)

// Options overrides the harness defaults. Zero values fall back to the
// package defaults.
type Options struct {
	Timeout     time.Duration
	MaxAttempts int
	// OnRetry fires whenever an attempt times out, before the batch is
	// retried or abandoned. Used for counters.
	OnRetry func()
}

func (o *Options) normalize() Options {
	out := Options{Timeout: DefaultTimeout, MaxAttempts: DefaultMaxAttempts}
	if o == nil {
		return out
	}
	if o.Timeout > 0 {
		out.Timeout = o.Timeout
	}
	if o.MaxAttempts > 0 {
		out.MaxAttempts = o.MaxAttempts
	}
	out.OnRetry = o.OnRetry
	return out
}

// StillTryingNotice is the user-facing message emitted through the report
// callback whenever an attempt times out. The tag names what is being
// fetched ("estimation", "gas prices", ...).
func StillTryingNotice(tag string) string {
	return fmt.Sprintf("Fetching the %s is taking longer than expected. Still trying...", tag)
}

// Batch runs the probes produced by factory concurrently and waits for all of
// them, racing the join against the per-attempt timeout. On timeout it emits
// a tag-specific notice through report, abandons the in-flight requests and
// retries with a fresh batch from factory. After MaxAttempts it returns a
// generic, display-ready error instead of hanging. On settlement the first
// probe error is returned; otherwise the ordered results.
func Batch[T any](ctx context.Context, tag string, factory func() []Probe[T], report func(msg string), lgr logger.Logger, opts *Options) ([]T, error) {
	o := opts.normalize()
	lgr = logger.EnsureLogger(lgr)

	for attempt := 0; attempt < o.MaxAttempts; attempt++ {
		probes := factory()
		results := make([]T, len(probes))
		errs := make([]error, len(probes))

		attemptCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			var wg sync.WaitGroup
			for i, probe := range probes {
				wg.Add(1)
				go func(i int, probe Probe[T]) {
					defer wg.Done()
					results[i], errs[i] = probe(attemptCtx)
				}(i, probe)
			}
			wg.Wait()
			close(done)
		}()

		timer := time.NewTimer(o.Timeout)
		select {
		case <-done:
			timer.Stop()
			cancel()
			for _, err := range errs {
				if err != nil {
					return nil, err
				}
			}
			return results, nil

		case <-timer.C:
			cancel()
			lgr.Warnf("batch %q timed out, attempt %d of %d", tag, attempt+1, o.MaxAttempts)
			if o.OnRetry != nil {
				o.OnRetry()
			}
			if report != nil {
				report(StillTryingNotice(tag))
			}

		case <-ctx.Done():
			timer.Stop()
			cancel()
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("failed to fetch the %s. Please check your connection and try again", tag)
}
