// Package builder turns trade directives into concrete orders: quoting,
// slippage bounds, deadlines, and fee clamping.
package builder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"onchain-executor/internal/domain"
	"onchain-executor/internal/ledger"
)

// Precondition errors. Never retried; surfaced to the caller as-is.
var (
	// ErrQuoteUnavailable means no execution path yields a quote.
	ErrQuoteUnavailable = errors.New("quote unavailable")

	// ErrUnsafeAsset means the safety collaborator rejected the asset.
	ErrUnsafeAsset = errors.New("unsafe asset")

	// ErrInvalidRequest means the directive itself is malformed.
	ErrInvalidRequest = errors.New("invalid order request")
)

// Builder constructs orders from directives. It has no side effects:
// nothing moves until a built order is handed to the coordinator.
type Builder struct {
	quotes QuoteSource
	fees   FeeEstimator
	safety SafetyChecker
	now    func() time.Time
}

// New creates a Builder. fees and safety may be nil: without an
// estimator the request's own bounds are used verbatim; without a
// checker, safety-checked requests fail closed.
func New(quotes QuoteSource, fees FeeEstimator, safety SafetyChecker) *Builder {
	return &Builder{
		quotes: quotes,
		fees:   fees,
		safety: safety,
		now:    time.Now,
	}
}

// MinOut derives the minimum accepted output for a quoted amount and a
// slippage tolerance in percent, floored at zero.
func MinOut(expectedOut, slippagePct float64) float64 {
	min := expectedOut * (1 - slippagePct/100)
	if min < 0 {
		return 0
	}
	return min
}

func validate(req *domain.OrderRequest) error {
	switch {
	case req.AccountID == "":
		return fmt.Errorf("%w: missing account id", ErrInvalidRequest)
	case req.AmountIn <= 0:
		return fmt.Errorf("%w: amount in must be positive", ErrInvalidRequest)
	case req.SlippagePct < 0 || req.SlippagePct > 100:
		return fmt.Errorf("%w: slippage must be in [0,100]", ErrInvalidRequest)
	case req.SourceAsset == "" || req.TargetAsset == "":
		return fmt.Errorf("%w: missing asset", ErrInvalidRequest)
	case req.MaxFee <= 0:
		return fmt.Errorf("%w: max fee must be positive", ErrInvalidRequest)
	case req.RetryBudget < 1:
		return fmt.Errorf("%w: retry budget must be at least 1", ErrInvalidRequest)
	}
	return nil
}

// CheckSafety runs the safety precondition for an asset. Exposed so the
// coordinator can re-run it on retry when configured to.
func (b *Builder) CheckSafety(ctx context.Context, asset string) error {
	if b.safety == nil {
		return fmt.Errorf("%w: %s: no safety checker configured", ErrUnsafeAsset, asset)
	}
	verdict, err := b.safety.Check(ctx, asset)
	if err != nil {
		return fmt.Errorf("safety check for %s: %w", asset, err)
	}
	if !verdict.Safe {
		return fmt.Errorf("%w: %s: %s", ErrUnsafeAsset, asset, verdict.Reason)
	}
	return nil
}

// Build constructs an Order from a directive. The safety check, when
// requested, is a hard precondition and runs before anything else.
func (b *Builder) Build(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	if err := validate(&req); err != nil {
		return nil, err
	}

	if req.SafetyCheck {
		target := req.TargetAsset
		if req.Side == domain.SideSell {
			target = req.SourceAsset
		}
		if err := b.CheckSafety(ctx, target); err != nil {
			return nil, err
		}
	}

	order := &domain.Order{
		ID:        uuid.NewString(),
		Request:   req,
		State:     domain.OrderStatePending,
		CreatedAt: b.now(),
	}

	if err := b.Refresh(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// Refresh re-quotes an order's expected output and re-clamps fees.
// Called at build time and again before each retry attempt, since
// amounts move between attempts.
func (b *Builder) Refresh(ctx context.Context, order *domain.Order) error {
	req := order.Request

	path := ledger.Path{AssetIn: req.SourceAsset, AssetOut: req.TargetAsset}
	expected, err := b.quotes.Quote(ctx, path, req.AmountIn)
	if err != nil {
		return fmt.Errorf("%w: %s->%s: %v", ErrQuoteUnavailable, req.SourceAsset, req.TargetAsset, err)
	}
	if expected <= 0 {
		return fmt.Errorf("%w: %s->%s: no route", ErrQuoteUnavailable, req.SourceAsset, req.TargetAsset)
	}

	order.ExpectedOut = expected
	order.MinOut = MinOut(expected, req.SlippagePct)

	// Fee estimator output is advisory; the directive's ceiling always
	// wins.
	maxFee := req.MaxFee
	priorityFee := req.PriorityFee
	if b.fees != nil {
		if quote, err := b.fees.Estimate(ctx, "normal"); err == nil && quote != nil {
			if quote.MaxFee > 0 && quote.MaxFee < maxFee {
				maxFee = quote.MaxFee
			}
			if quote.PriorityFee > 0 && quote.PriorityFee < priorityFee {
				priorityFee = quote.PriorityFee
			}
		}
	}
	order.MaxFee = maxFee
	order.PriorityFee = priorityFee
	return nil
}
