package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/richardliu001/wallet-ledger/internal/config"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"go.uber.org/zap"
)

// ErrRetriesExhausted wraps the last failure once every allowed attempt failed
// with a retryable error.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Rule is one row of the failure classification table.
type Rule struct {
	Kind   error
	Retry  bool
	Reason string
}

// Classification decides per failure kind whether an attempt is re-run.
// Kinds not listed are never retried.
type Classification []Rule

// DefaultClassification retries infrastructure failures only.
var DefaultClassification = Classification{
	{Kind: repo.ErrTransient, Retry: true, Reason: "transient"},
	{Kind: repo.ErrLockUnavailable, Retry: true, Reason: "lock_unavailable"},
	{Kind: ErrInsufficientFunds, Retry: false, Reason: "insufficient_funds"},
	{Kind: ErrWalletNotFound, Retry: false, Reason: "not_found"},
	{Kind: ErrAmountOutOfRange, Retry: false, Reason: "out_of_range"},
	{Kind: ErrInvalidAmount, Retry: false, Reason: "invalid_amount"},
	{Kind: ErrInvalidOperation, Retry: false, Reason: "invalid_operation"},
	{Kind: ErrIdempotencyConflict, Retry: false, Reason: "idempotency_conflict"},
	{Kind: repo.ErrCanceled, Retry: false, Reason: "canceled"},
	{Kind: context.Canceled, Retry: false, Reason: "canceled"},
}

// Classify returns the matching rule, or a non-retryable "unclassified" rule.
func (c Classification) Classify(err error) Rule {
	for _, r := range c {
		if errors.Is(err, r.Kind) {
			return r
		}
	}
	return Rule{Kind: err, Retry: false, Reason: "unclassified"}
}

// Policy bounds the number of attempts and the wait between them.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	Jitter      bool
}

// PolicyFromConfig converts the retry config section.
func PolicyFromConfig(c config.RetryConfig) Policy {
	return Policy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay,
		Multiplier:  c.Multiplier,
		MaxDelay:    c.MaxDelay,
		Jitter:      c.Jitter,
	}
}

// Backoff is the wait after the given failed attempt (1-based), before jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Recorder receives operation and retry outcomes.
type Recorder interface {
	ObserveOperation(operation, status string)
	ObserveRetry(reason string)
}

type noopRecorder struct{}

func (noopRecorder) ObserveOperation(string, string) {}
func (noopRecorder) ObserveRetry(string)             {}

// Retrier re-runs an attempt while its failure classifies as retryable.
type Retrier struct {
	policy Policy
	rules  Classification
	log    *zap.SugaredLogger
	rec    Recorder

	// sleep waits d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error

	randMu sync.Mutex
	rnd    *rand.Rand
}

// NewRetrier builds a Retrier. A nil rules table means DefaultClassification.
func NewRetrier(p Policy, rules Classification, logger *zap.SugaredLogger, rec Recorder) *Retrier {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if rules == nil {
		rules = DefaultClassification
	}
	if rec == nil {
		rec = noopRecorder{}
	}
	return &Retrier{
		policy: p,
		rules:  rules,
		log:    logger,
		rec:    rec,
		sleep:  sleepCtx,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// delay applies jitter in [d/2, d].
func (r *Retrier) delay(attempt int) time.Duration {
	d := r.policy.Backoff(attempt)
	if !r.policy.Jitter || d <= 1 {
		return d
	}
	r.randMu.Lock()
	defer r.randMu.Unlock()
	half := d / 2
	return half + time.Duration(r.rnd.Int63n(int64(d-half)+1))
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. Every call to fn is a complete, fresh attempt.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	var err error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		rule := r.rules.Classify(err)
		if !rule.Retry {
			return err
		}
		if attempt == r.policy.MaxAttempts {
			break
		}
		wait := r.delay(attempt)
		r.rec.ObserveRetry(rule.Reason)
		r.log.Warnw("retrying wallet operation",
			"attempt", attempt, "reason", rule.Reason, "backoff", wait, "error", err)
		if serr := r.sleep(ctx, wait); serr != nil {
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, errors.Join(err, serr))
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, r.policy.MaxAttempts, err)
}
