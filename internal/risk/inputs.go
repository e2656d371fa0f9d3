package risk

import (
	"context"
	"fmt"
	"time"

	"botcore/pkg/db"
)

// GuardrailConfig holds the tunable limits behind the evaluator's inputs.
type GuardrailConfig struct {
	TradeWindow        time.Duration // trailing window for the frequency cap
	MaxTradesPerWindow int
	CooldownAfterLoss  time.Duration
	MaxLossStreak      int
	MinAIConfidence    float64
	StaleAfter         time.Duration
}

// DefaultGuardrails returns the standard limits.
func DefaultGuardrails() GuardrailConfig {
	return GuardrailConfig{
		TradeWindow:        time.Hour,
		MaxTradesPerWindow: 10,
		CooldownAfterLoss:  15 * time.Minute,
		MaxLossStreak:      3,
		MinAIConfidence:    0.6,
		StaleAfter:         2 * time.Minute,
	}
}

// InputsBuilder assembles evaluator inputs from the store. It owns no
// mutable state beyond its config, so one instance serves all bots.
type InputsBuilder struct {
	DB  *db.Database
	Cfg GuardrailConfig
}

func NewInputsBuilder(database *db.Database, cfg GuardrailConfig) *InputsBuilder {
	return &InputsBuilder{DB: database, Cfg: cfg}
}

// Build snapshots account and guardrail state for one decision. now is
// injected so tests can pin the clock; quoteAt is the market data timestamp
// (zero means no live quote was obtained this tick).
func (b *InputsBuilder) Build(ctx context.Context, bot *db.Bot, liveEnabled bool, quoteAt time.Time, quoteSynthetic bool, now time.Time) (Inputs, error) {
	in := Inputs{
		Mode:               bot.Mode,
		LiveEnabled:        liveEnabled,
		Capital:            bot.CurrentCapital,
		DailyPnL:           bot.DailyPnL,
		MaxDailyLoss:       bot.MaxDailyLoss,
		MaxPositionSize:    bot.MaxPositionSize,
		StopLossPct:        bot.StopLossPct,
		MaxTradesPerWindow: b.Cfg.MaxTradesPerWindow,
		MaxLossStreak:      b.Cfg.MaxLossStreak,
		MinAIConfidence:    b.Cfg.MinAIConfidence,
	}

	killed, err := b.DB.KillSwitchActive(ctx, bot.UserID)
	if err != nil {
		return in, fmt.Errorf("kill switch lookup: %w", err)
	}
	in.KillSwitchActive = killed

	trades, err := b.DB.CountOrdersSince(ctx, bot.ID, now.Add(-b.Cfg.TradeWindow))
	if err != nil {
		return in, fmt.Errorf("trade window count: %w", err)
	}
	in.TradesInWindow = trades

	closed, err := b.DB.RecentClosedPositions(ctx, bot.ID, b.Cfg.MaxLossStreak)
	if err != nil {
		return in, fmt.Errorf("closed positions: %w", err)
	}
	streak := 0
	for _, p := range closed {
		if p.RealizedPnL >= 0 {
			break
		}
		streak++
	}
	in.LossStreak = streak

	// Cooldown runs from the most recent losing close.
	if len(closed) > 0 && closed[0].RealizedPnL < 0 && closed[0].ClosedAt != nil {
		if now.Sub(*closed[0].ClosedAt) < b.Cfg.CooldownAfterLoss {
			in.InCooldown = true
		}
	}

	// A synthetic fallback quote never counts as fresh for live eligibility.
	in.MarketDataFresh = !quoteSynthetic &&
		!quoteAt.IsZero() &&
		now.Sub(quoteAt) <= b.Cfg.StaleAfter

	return in, nil
}
