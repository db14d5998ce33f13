package position

import (
	"math"
	"testing"

	"onchain-executor/internal/domain"
)

func openPosition() *domain.Position {
	return &domain.Position{
		ID:             "p-1",
		Asset:          "TOKEN",
		BaseAsset:      "BASE",
		EntryAmountIn:  1,
		EntryAmountOut: 1000,
		EntryPrice:     0.001,
		Balance:        1000,
		State:          domain.PositionStateOpen,
	}
}

func TestEvaluateTriggers_StopLossBeatsTrailing(t *testing.T) {
	p := openPosition()
	p.GainPct = -30
	p.CurrentPrice = 0.0007
	p.StopLoss = &domain.StopLoss{TriggerPct: 10}
	p.TrailingStop = &domain.TrailingStop{TrailPct: 20, HighWaterMark: 0.001}

	fire := EvaluateTriggers(p)
	if fire == nil {
		t.Fatal("no trigger fired")
	}
	if fire.Reason != domain.ExitReasonStopLoss {
		t.Errorf("Reason = %s, want STOP_LOSS", fire.Reason)
	}
	if fire.Fraction != 1 {
		t.Errorf("Fraction = %f, want full exit", fire.Fraction)
	}
}

func TestEvaluateTriggers_TrailingBeatsTakeProfit(t *testing.T) {
	// Price peaked at +100% then fell to +50%: the take-profit rung at
	// +40% is armed, but the 20% drawdown arms the trailing stop too.
	p := openPosition()
	p.GainPct = 50
	p.CurrentPrice = 0.0015
	p.TrailingStop = &domain.TrailingStop{TrailPct: 20, HighWaterMark: 0.002}
	p.TakeProfits = []*domain.TakeProfitTarget{{TriggerPct: 40, SellFraction: 0.5}}

	fire := EvaluateTriggers(p)
	if fire == nil {
		t.Fatal("no trigger fired")
	}
	if fire.Reason != domain.ExitReasonTrailingStop {
		t.Errorf("Reason = %s, want TRAILING_STOP", fire.Reason)
	}
}

func TestEvaluateTriggers_LadderFirstRungOnly(t *testing.T) {
	// At +60%, only the +50% rung of a [+50% x0.5, +100% x1.0] ladder fires.
	p := openPosition()
	p.GainPct = 60
	p.TakeProfits = []*domain.TakeProfitTarget{
		{TriggerPct: 50, SellFraction: 0.5},
		{TriggerPct: 100, SellFraction: 1.0},
	}

	fire := EvaluateTriggers(p)
	if fire == nil {
		t.Fatal("no trigger fired")
	}
	if fire.Reason != domain.ExitReasonTakeProfit {
		t.Fatalf("Reason = %s, want TAKE_PROFIT", fire.Reason)
	}
	if fire.Fraction != 0.5 {
		t.Errorf("Fraction = %f, want 0.5", fire.Fraction)
	}
	if fire.Target != p.TakeProfits[0] {
		t.Error("fired rung is not the +50%% target")
	}
}

func TestEvaluateTriggers_OneFirePerTick(t *testing.T) {
	// Both rungs exceeded in a single move still fire one at a time,
	// lowest first.
	p := openPosition()
	p.GainPct = 150
	p.TakeProfits = []*domain.TakeProfitTarget{
		{TriggerPct: 50, SellFraction: 0.5},
		{TriggerPct: 100, SellFraction: 1.0},
	}

	fire := EvaluateTriggers(p)
	if fire == nil || fire.Target != p.TakeProfits[0] {
		t.Fatalf("first fire = %+v, want the +50%% rung", fire)
	}

	fire.Target.Triggered = true
	second := EvaluateTriggers(p)
	if second == nil || second.Target != p.TakeProfits[1] {
		t.Fatalf("second fire = %+v, want the +100%% rung", second)
	}
}

func TestEvaluateTriggers_TriggeredRungNeverRefires(t *testing.T) {
	p := openPosition()
	p.GainPct = 60
	p.TakeProfits = []*domain.TakeProfitTarget{
		{TriggerPct: 50, SellFraction: 0.5, Triggered: true},
		{TriggerPct: 100, SellFraction: 1.0},
	}

	if fire := EvaluateTriggers(p); fire != nil {
		t.Errorf("re-fired at +60%%: %+v", fire)
	}
}

func TestEvaluateTriggers_ClosedPositionInert(t *testing.T) {
	p := openPosition()
	p.State = domain.PositionStateClosed
	p.GainPct = -90
	p.StopLoss = &domain.StopLoss{TriggerPct: 10}

	if fire := EvaluateTriggers(p); fire != nil {
		t.Errorf("closed position fired %+v", fire)
	}
}

func TestUpdateHighWaterMark_Monotonic(t *testing.T) {
	p := openPosition()
	p.TrailingStop = &domain.TrailingStop{TrailPct: 20}

	for _, step := range []struct{ price, wantHWM float64 }{
		{0.001, 0.001},
		{0.002, 0.002},
		{0.0015, 0.002}, // drawdown never lowers the mark
		{0.003, 0.003},
	} {
		p.CurrentPrice = step.price
		UpdateHighWaterMark(p)
		if p.TrailingStop.HighWaterMark != step.wantHWM {
			t.Errorf("at price %f: HWM = %f, want %f", step.price, p.TrailingStop.HighWaterMark, step.wantHWM)
		}
	}

	if level := p.TrailingStop.TriggerLevel(); math.Abs(level-0.0024) > 1e-12 {
		t.Errorf("TriggerLevel = %v, want 0.0024", level)
	}
}
