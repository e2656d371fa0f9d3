// Package risk gates every candidate trade. Evaluate is a pure function:
// it never errors and never mutates state, so callers can assert on the
// exact flag set it produces.
package risk

import (
	"botcore/internal/decision"
	"botcore/pkg/db"
)

// Named rejection flags. All checks run; a decision can fail several at once.
const (
	FlagLiveTradingDisabled  = "LIVE_TRADING_DISABLED"
	FlagKillSwitchActive     = "KILL_SWITCH_ACTIVE"
	FlagDailyLossExceeded    = "DAILY_LOSS_LIMIT_EXCEEDED"
	FlagPositionSizeExceeded = "POSITION_SIZE_EXCEEDED"
	FlagStopLossRequired     = "STOP_LOSS_REQUIRED"
	FlagTradeFrequency       = "TRADE_FREQUENCY_LIMIT_EXCEEDED"
	FlagCooldownActive       = "COOLDOWN_ACTIVE"
	FlagLossStreakExceeded   = "LOSS_STREAK_LIMIT_EXCEEDED"
	FlagMarketDataStale      = "MARKET_DATA_STALE"
	FlagAIConfidenceTooLow   = "AI_CONFIDENCE_TOO_LOW"
)

// Inputs is the account snapshot plus guardrail state for a single decision.
type Inputs struct {
	Mode             string // db.ModePaper or db.ModeLive
	LiveEnabled      bool   // global live-trading switch
	KillSwitchActive bool   // system or per-user

	Capital         float64
	DailyPnL        float64
	MaxDailyLoss    float64
	MaxPositionSize float64 // fraction of capital
	StopLossPct     float64

	TradesInWindow     int
	MaxTradesPerWindow int
	InCooldown         bool
	LossStreak         int
	MaxLossStreak      int

	MarketDataFresh bool
	MinAIConfidence float64
}

// Verdict is the evaluation outcome. Allowed is true iff Flags is empty.
type Verdict struct {
	Allowed bool
	Flags   []string
}

// Evaluate applies every guardrail to the decision and returns the full flag
// set. Checks are not short-circuited so simultaneous violations all surface.
func Evaluate(d decision.TradeDecision, in Inputs) Verdict {
	var flags []string

	live := in.Mode == db.ModeLive

	if live && !in.LiveEnabled {
		flags = append(flags, FlagLiveTradingDisabled)
	}
	if live && in.KillSwitchActive {
		flags = append(flags, FlagKillSwitchActive)
	}
	if in.MaxDailyLoss > 0 && in.DailyPnL < -in.MaxDailyLoss {
		flags = append(flags, FlagDailyLossExceeded)
	}
	if in.MaxPositionSize > 0 && d.Qty*d.EntryPrice > in.Capital*in.MaxPositionSize {
		flags = append(flags, FlagPositionSizeExceeded)
	}
	if in.StopLossPct <= 0 {
		flags = append(flags, FlagStopLossRequired)
	}
	if in.MaxTradesPerWindow > 0 && in.TradesInWindow >= in.MaxTradesPerWindow {
		flags = append(flags, FlagTradeFrequency)
	}
	if in.InCooldown {
		flags = append(flags, FlagCooldownActive)
	}
	if in.MaxLossStreak > 0 && in.LossStreak >= in.MaxLossStreak {
		flags = append(flags, FlagLossStreakExceeded)
	}
	if live && !in.MarketDataFresh {
		flags = append(flags, FlagMarketDataStale)
	}
	if live && d.Provenance == decision.ProvenanceAI && d.Confidence < in.MinAIConfidence {
		flags = append(flags, FlagAIConfidenceTooLow)
	}

	return Verdict{Allowed: len(flags) == 0, Flags: flags}
}
