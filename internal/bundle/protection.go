package bundle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"onchain-executor/internal/domain"
	"onchain-executor/internal/observability"
)

// Submission errors.
var (
	// ErrNotSimulated means Submit was called before a successful
	// Simulate. The ordering invariant is enforced, not assumed.
	ErrNotSimulated = errors.New("bundle not simulated")

	// ErrAllEndpointsRejected means every configured relay rejected
	// the submission.
	ErrAllEndpointsRejected = errors.New("all relay endpoints rejected")

	// ErrNoRelays means no relay endpoints are configured.
	ErrNoRelays = errors.New("no relay endpoints configured")

	// ErrEmptyBundle means Wrap was called without transactions.
	ErrEmptyBundle = errors.New("bundle has no transactions")
)

// Broadcaster is the public-channel fallback.
type Broadcaster interface {
	BroadcastTransaction(ctx context.Context, raw []byte) (string, error)
}

// SubmissionOutcome describes how a submission ended.
type SubmissionOutcome struct {
	Accepted bool
	Channel  domain.SubmissionChannel
	Endpoint string // relay that acknowledged, empty for public
	AckID    string // relay acknowledgment id
	TxHash   string // hash carried by the submission
	Reason   string // rejection reason when not accepted
}

// ProtectionLayer wraps signed transactions into bundles and enforces
// the simulate-then-submit ordering. It mutates nothing but the
// bundle's own lifecycle fields.
type ProtectionLayer struct {
	relays      []Relay
	broadcaster Broadcaster
	logger      *log.Logger
	metrics     *observability.Metrics
}

// Options configures a ProtectionLayer.
type Options struct {
	Relays      []Relay
	Broadcaster Broadcaster
	Logger      *log.Logger
	Metrics     *observability.Metrics
}

// New creates a ProtectionLayer.
func New(opts Options) *ProtectionLayer {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &ProtectionLayer{
		relays:      opts.Relays,
		broadcaster: opts.Broadcaster,
		logger:      logger,
		metrics:     opts.Metrics,
	}
}

// Wrap builds a bundle targeting a block from signed transactions.
func (p *ProtectionLayer) Wrap(txs []*domain.SignedTransaction, targetBlock uint64) (*domain.Bundle, error) {
	if len(txs) == 0 {
		return nil, ErrEmptyBundle
	}
	return &domain.Bundle{
		ID:           uuid.NewString(),
		Transactions: txs,
		TargetBlock:  targetBlock,
		State:        domain.BundleStatePending,
	}, nil
}

// Simulate runs the bundle against the first relay that answers. The
// result is produced once; repeated calls return the stored result. A
// relay timeout counts as a failed simulation, and a failed simulation
// is terminal for the bundle.
func (p *ProtectionLayer) Simulate(ctx context.Context, b *domain.Bundle) (*domain.SimulationResult, error) {
	if b.Simulation != nil {
		return b.Simulation, nil
	}
	if len(p.relays) == 0 {
		return nil, ErrNoRelays
	}

	var result *domain.SimulationResult
	var lastErr error
	for _, relay := range p.relays {
		start := time.Now()
		res, err := relay.SimulateBundle(ctx, b)
		if p.metrics != nil {
			p.metrics.RelayCallLatency.WithLabelValues(relay.Name(), "simulateBundle").
				Observe(time.Since(start).Seconds())
		}
		if err != nil {
			lastErr = err
			p.logger.Printf("simulate bundle %s on %s: %v", b.ID, relay.Name(), err)
			continue
		}
		result = res
		break
	}

	if result == nil {
		// Every relay errored or timed out. Treated identically to a
		// reverted simulation.
		result = &domain.SimulationResult{
			Success: false,
			Reason:  fmt.Sprintf("simulation unavailable: %v", lastErr),
		}
	}

	b.Simulation = result
	if result.Success {
		b.State = domain.BundleStateSimulated
	} else {
		b.State = domain.BundleStateFailed
	}

	if p.metrics != nil {
		outcome := "success"
		if !result.Success {
			outcome = "reverted"
		}
		p.metrics.BundlesSimulated.WithLabelValues(outcome).Inc()
	}
	return result, nil
}

// Submit broadcasts the bundle to every relay in parallel and returns
// on the first positive acknowledgment. A bundle whose simulation
// failed is rejected here without any network call.
func (p *ProtectionLayer) Submit(ctx context.Context, b *domain.Bundle) (*SubmissionOutcome, error) {
	switch b.State {
	case domain.BundleStateSimulated, domain.BundleStateSubmitted:
	case domain.BundleStateFailed:
		reason := "simulation failed"
		if b.Simulation != nil && b.Simulation.Reason != "" {
			reason = b.Simulation.Reason
		}
		return &SubmissionOutcome{
			Accepted: false,
			Channel:  domain.ChannelBundle,
			Reason:   reason,
		}, nil
	default:
		return nil, ErrNotSimulated
	}
	if len(p.relays) == 0 {
		return nil, ErrNoRelays
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu      sync.Mutex
		winner  *SubmissionOutcome
		reasons []string
	)

	g, subCtx := errgroup.WithContext(subCtx)
	for _, relay := range p.relays {
		g.Go(func() error {
			start := time.Now()
			ack, err := relay.SubmitBundle(subCtx, b)
			if p.metrics != nil {
				p.metrics.RelayCallLatency.WithLabelValues(relay.Name(), "sendBundle").
					Observe(time.Since(start).Seconds())
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					reasons = append(reasons, fmt.Sprintf("%s: %v", relay.Name(), err))
				}
				return nil
			}
			if winner == nil {
				winner = &SubmissionOutcome{
					Accepted: true,
					Channel:  domain.ChannelBundle,
					Endpoint: relay.Name(),
					AckID:    ack,
					TxHash:   b.Transactions[0].Hash,
				}
				cancel() // first ack wins, stop the rest
			}
			return nil
		})
	}
	_ = g.Wait()

	if winner == nil {
		if p.metrics != nil {
			p.metrics.BundlesSubmitted.WithLabelValues("rejected").Inc()
		}
		return nil, fmt.Errorf("%w: %s", ErrAllEndpointsRejected, strings.Join(reasons, "; "))
	}

	b.State = domain.BundleStateSubmitted
	if p.metrics != nil {
		p.metrics.BundlesSubmitted.WithLabelValues("accepted").Inc()
	}
	return winner, nil
}

// SubmitAcrossBlocks replicates the bundle across the next n candidate
// blocks to raise inclusion odds. Replicas share the original's
// simulation; each submission is independent. Returns all outcomes and
// nil error if any replica was accepted.
func (p *ProtectionLayer) SubmitAcrossBlocks(ctx context.Context, b *domain.Bundle, n int) ([]*SubmissionOutcome, error) {
	if n < 1 {
		n = 1
	}

	outcomes := make([]*SubmissionOutcome, 0, n)
	accepted := false
	var lastErr error

	for i := 0; i < n; i++ {
		replica := b
		if i > 0 {
			replica = &domain.Bundle{
				ID:           uuid.NewString(),
				Transactions: b.Transactions,
				TargetBlock:  b.TargetBlock + uint64(i),
				MinTimestamp: b.MinTimestamp,
				MaxTimestamp: b.MaxTimestamp,
				State:        b.State,
				Simulation:   b.Simulation,
			}
		}

		outcome, err := p.Submit(ctx, replica)
		if err != nil {
			lastErr = err
			continue
		}
		outcomes = append(outcomes, outcome)
		if outcome.Accepted {
			accepted = true
		}
	}

	if !accepted {
		if lastErr != nil {
			return outcomes, lastErr
		}
		return outcomes, ErrAllEndpointsRejected
	}
	return outcomes, nil
}

// SubmitPrivate submits a single transaction through the first relay
// private channel that accepts it.
func (p *ProtectionLayer) SubmitPrivate(ctx context.Context, tx *domain.SignedTransaction) (*SubmissionOutcome, error) {
	if len(p.relays) == 0 {
		return nil, ErrNoRelays
	}

	var reasons []string
	for _, relay := range p.relays {
		start := time.Now()
		hash, err := relay.SubmitPrivateTransaction(ctx, tx)
		if p.metrics != nil {
			p.metrics.RelayCallLatency.WithLabelValues(relay.Name(), "sendPrivateTransaction").
				Observe(time.Since(start).Seconds())
		}
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %v", relay.Name(), err))
			continue
		}
		return &SubmissionOutcome{
			Accepted: true,
			Channel:  domain.ChannelPrivateTx,
			Endpoint: relay.Name(),
			TxHash:   hash,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrAllEndpointsRejected, strings.Join(reasons, "; "))
}

// Broadcast submits a transaction on the public channel.
func (p *ProtectionLayer) Broadcast(ctx context.Context, tx *domain.SignedTransaction) (*SubmissionOutcome, error) {
	if p.broadcaster == nil {
		return nil, fmt.Errorf("no broadcaster configured")
	}
	hash, err := p.broadcaster.BroadcastTransaction(ctx, tx.Raw)
	if err != nil {
		return nil, fmt.Errorf("broadcast: %w", err)
	}
	return &SubmissionOutcome{
		Accepted: true,
		Channel:  domain.ChannelPublic,
		TxHash:   hash,
	}, nil
}

// Dispatch submits a simulated bundle on the preferred channel,
// falling back bundle, then private transaction, then public. spread
// is the number of candidate blocks for bundle replication. The
// private fallback only applies to single-transaction bundles.
func (p *ProtectionLayer) Dispatch(ctx context.Context, b *domain.Bundle, preferred domain.SubmissionChannel, spread int) (*SubmissionOutcome, error) {
	var reasons []string

	if preferred == domain.ChannelBundle {
		outcomes, err := p.SubmitAcrossBlocks(ctx, b, spread)
		if err == nil {
			for _, o := range outcomes {
				if o.Accepted {
					return o, nil
				}
			}
		}
		if err != nil && !errors.Is(err, ErrAllEndpointsRejected) {
			return nil, err
		}
		reasons = append(reasons, fmt.Sprintf("bundle: %v", err))
		p.logger.Printf("bundle %s rejected on bundle channel, falling back: %v", b.ID, err)
	}

	if preferred != domain.ChannelPublic && len(b.Transactions) == 1 {
		outcome, err := p.SubmitPrivate(ctx, b.Transactions[0])
		if err == nil {
			b.State = domain.BundleStateSubmitted
			return outcome, nil
		}
		if !errors.Is(err, ErrAllEndpointsRejected) && !errors.Is(err, ErrNoRelays) {
			return nil, err
		}
		reasons = append(reasons, fmt.Sprintf("private: %v", err))
		p.logger.Printf("bundle %s rejected on private channel, falling back: %v", b.ID, err)
	}

	if len(b.Transactions) == 1 {
		outcome, err := p.Broadcast(ctx, b.Transactions[0])
		if err == nil {
			b.State = domain.BundleStateSubmitted
			return outcome, nil
		}
		reasons = append(reasons, fmt.Sprintf("public: %v", err))
	}

	return nil, fmt.Errorf("%w: %s", ErrAllEndpointsRejected, strings.Join(reasons, "; "))
}
