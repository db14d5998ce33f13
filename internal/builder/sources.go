package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"onchain-executor/internal/ledger"
)

// QuoteSource produces read-only quotes along an execution path. Used
// for entry pricing and for live position valuation.
type QuoteSource interface {
	Quote(ctx context.Context, path ledger.Path, amountIn float64) (float64, error)
}

// FeeEstimator supplies advisory fee-market data. Its output is never
// trusted past the request's own hard ceiling.
type FeeEstimator interface {
	Estimate(ctx context.Context, urgency string) (*ledger.FeeQuote, error)
}

// SafetyVerdict is the asset safety collaborator's answer.
type SafetyVerdict struct {
	Safe   bool   `json:"safe"`
	Reason string `json:"reason,omitempty"`
}

// SafetyChecker scores a candidate asset before any funds move.
type SafetyChecker interface {
	Check(ctx context.Context, asset string) (*SafetyVerdict, error)
}

// LedgerQuoteSource adapts a ledger.QuoteClient to QuoteSource.
type LedgerQuoteSource struct {
	Client ledger.QuoteClient
}

// Quote delegates to the ledger gateway's quote method.
func (s *LedgerQuoteSource) Quote(ctx context.Context, path ledger.Path, amountIn float64) (float64, error) {
	return s.Client.GetQuote(ctx, path, amountIn)
}

// feeRPC is the slice of the gateway client the estimator needs.
type feeRPC interface {
	EstimateFees(ctx context.Context, urgency string) (*ledger.FeeQuote, error)
}

// LedgerFeeEstimator adapts the gateway's fee estimation to FeeEstimator.
type LedgerFeeEstimator struct {
	Client feeRPC
}

// Estimate delegates to the gateway's estimateFees method.
func (e *LedgerFeeEstimator) Estimate(ctx context.Context, urgency string) (*ledger.FeeQuote, error) {
	return e.Client.EstimateFees(ctx, urgency)
}

// StaticFeeEstimator returns a fixed quote, used in dry-run mode.
type StaticFeeEstimator struct {
	Quote ledger.FeeQuote
}

// Estimate returns the configured quote regardless of urgency.
func (e *StaticFeeEstimator) Estimate(_ context.Context, _ string) (*ledger.FeeQuote, error) {
	q := e.Quote
	return &q, nil
}

// HTTPSafetyChecker calls an external safety-scoring service:
// GET {base}/check?asset=<asset> returning a SafetyVerdict JSON body.
type HTTPSafetyChecker struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPSafetyChecker creates a checker with a 10s default timeout.
func NewHTTPSafetyChecker(baseURL string) *HTTPSafetyChecker {
	return &HTTPSafetyChecker{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Check queries the safety service for a verdict.
func (c *HTTPSafetyChecker) Check(ctx context.Context, asset string) (*SafetyVerdict, error) {
	u := fmt.Sprintf("%s/check?asset=%s", c.BaseURL, url.QueryEscape(asset))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("safety check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("safety check status %d", resp.StatusCode)
	}

	var verdict SafetyVerdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", err)
	}
	return &verdict, nil
}

// AllowAllChecker approves every asset, used when safety scoring is
// handled upstream or in dry-run mode.
type AllowAllChecker struct{}

// Check always returns a safe verdict.
func (AllowAllChecker) Check(_ context.Context, _ string) (*SafetyVerdict, error) {
	return &SafetyVerdict{Safe: true}, nil
}

// Compile-time interface checks.
var (
	_ QuoteSource   = (*LedgerQuoteSource)(nil)
	_ FeeEstimator  = (*LedgerFeeEstimator)(nil)
	_ FeeEstimator  = (*StaticFeeEstimator)(nil)
	_ SafetyChecker = (*HTTPSafetyChecker)(nil)
	_ SafetyChecker = AllowAllChecker{}
)
