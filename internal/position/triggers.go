// Package position tracks open holdings, refreshes their valuation,
// and fires exit triggers.
package position

import (
	"sort"

	"onchain-executor/internal/domain"
)

// TriggerFire is one armed trigger selected for execution.
type TriggerFire struct {
	Reason   string  // domain.ExitReason* code
	Fraction float64 // fraction of the current balance to sell, (0,1]

	// Target is the ladder rung that fired, nil for stop triggers.
	Target *domain.TakeProfitTarget
}

// UpdateHighWaterMark raises the trailing stop's mark to the current
// price. Runs every tick, before trigger evaluation, so the trigger
// level always reflects the latest peak.
func UpdateHighWaterMark(p *domain.Position) {
	if p.TrailingStop == nil {
		return
	}
	if p.CurrentPrice > p.TrailingStop.HighWaterMark {
		p.TrailingStop.HighWaterMark = p.CurrentPrice
	}
}

// SortTakeProfits orders the ladder ascending by trigger percent.
// Evaluation order depends on it.
func SortTakeProfits(p *domain.Position) {
	sort.Slice(p.TakeProfits, func(i, j int) bool {
		return p.TakeProfits[i].TriggerPct < p.TakeProfits[j].TriggerPct
	})
}

// EvaluateTriggers selects at most one trigger to fire for the tick.
// Priority: stop loss, then trailing stop, then take-profit rungs in
// ascending order. Already-fired triggers never fire again.
func EvaluateTriggers(p *domain.Position) *TriggerFire {
	if p.State != domain.PositionStateOpen || p.Balance <= 0 {
		return nil
	}

	if sl := p.StopLoss; sl != nil && !sl.Triggered && p.GainPct <= -sl.TriggerPct {
		return &TriggerFire{Reason: domain.ExitReasonStopLoss, Fraction: 1}
	}

	if ts := p.TrailingStop; ts != nil && !ts.Triggered && ts.HighWaterMark > 0 {
		if p.CurrentPrice <= ts.TriggerLevel() {
			return &TriggerFire{Reason: domain.ExitReasonTrailingStop, Fraction: 1}
		}
	}

	for _, tp := range p.TakeProfits {
		if tp.Triggered {
			continue
		}
		if p.GainPct >= tp.TriggerPct {
			return &TriggerFire{
				Reason:   domain.ExitReasonTakeProfit,
				Fraction: tp.SellFraction,
				Target:   tp,
			}
		}
		// Rungs are ascending; the first unarmed rung not reached means
		// none above it are reached either.
		break
	}
	return nil
}
