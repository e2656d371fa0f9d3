package decision

import (
	"fmt"
	"strings"

	"botcore/internal/market"
	"botcore/internal/signal"
	"botcore/pkg/db"
)

// DefaultConfidenceThreshold is the minimum normalized AI confidence required
// before an advisory decision is used over the baseline.
const DefaultConfidenceThreshold = 0.6

// Selector combines an optional AI-advisory decision with the deterministic
// signal baseline, producing at most one TradeDecision per tick.
type Selector struct {
	Profiles            map[string]signal.Profile
	ConfidenceThreshold float64
}

// NewSelector creates a Selector over the given strategy profiles.
func NewSelector(profiles map[string]signal.Profile) *Selector {
	if profiles == nil {
		profiles = signal.DefaultProfiles()
	}
	return &Selector{Profiles: profiles, ConfidenceThreshold: DefaultConfidenceThreshold}
}

// Select returns a decision for the bot at the given quote, or nil with
// provenance "none" semantics when neither source qualifies. The AI decision
// is optional; a nil or HOLD advisory falls through to the baseline.
func (s *Selector) Select(bot *db.Bot, quote market.Quote, ai *AIDecision, traceID string) *TradeDecision {
	if quote.Price <= 0 {
		return nil
	}
	if d := s.fromAI(bot, quote, ai, traceID); d != nil {
		return d
	}
	return s.fromBaseline(bot, quote, traceID)
}

func (s *Selector) fromAI(bot *db.Bot, quote market.Quote, ai *AIDecision, traceID string) *TradeDecision {
	if ai == nil {
		return nil
	}
	side := strings.ToUpper(ai.Action)
	if side != SideBuy && side != SideSell {
		return nil
	}

	conf := clamp(ai.Confidence/100, 0, 1)
	sizePct := clamp(ai.PositionSizePct, 0, 10)
	slPct := clamp(ai.StopLossPct, 1, 20)
	tpPct := clamp(ai.TakeProfitPct, 1, 50)

	qty := bot.CurrentCapital * sizePct / 100 / quote.Price
	threshold := s.ConfidenceThreshold
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	if qty <= 0 || conf < threshold {
		return nil
	}

	stop, take := exitPrices(side, quote.Price, slPct, tpPct)
	return &TradeDecision{
		Symbol:          bot.Symbol,
		Side:            side,
		Qty:             qty,
		EntryPrice:      quote.Price,
		StopPrice:       stop,
		TakeProfitPrice: take,
		Confidence:      conf,
		Rationale:       ai.Reasoning,
		TraceID:         traceID,
		Provenance:      ProvenanceAI,
	}
}

func (s *Selector) fromBaseline(bot *db.Bot, quote market.Quote, traceID string) *TradeDecision {
	profile := signal.ProfileFor(s.Profiles, bot.Strategy)
	sig, ok := signal.Generate(quote.Change24h, profile)
	if !ok {
		return nil
	}
	qty := bot.CurrentCapital * bot.MaxPositionSize * sig.Confidence / quote.Price
	if qty <= 0 {
		return nil
	}

	stop, take := exitPrices(sig.Side, quote.Price, bot.StopLossPct, bot.TakeProfitPct)
	return &TradeDecision{
		Symbol:          bot.Symbol,
		Side:            sig.Side,
		Qty:             qty,
		EntryPrice:      quote.Price,
		StopPrice:       stop,
		TakeProfitPrice: take,
		Confidence:      sig.Confidence,
		Rationale:       fmt.Sprintf("%s signal on 24h change %.2f%%", bot.Strategy, quote.Change24h),
		TraceID:         traceID,
		Provenance:      ProvenanceBaseline,
	}
}

// exitPrices derives side-aware stop and take-profit prices from percentage
// distances. Sell positions mirror the buy geometry. Non-positive percentages
// yield zero prices, which the risk evaluator flags.
func exitPrices(side string, entry, slPct, tpPct float64) (stop, take float64) {
	if slPct > 0 {
		if side == SideBuy {
			stop = entry * (1 - slPct/100)
		} else {
			stop = entry * (1 + slPct/100)
		}
	}
	if tpPct > 0 {
		if side == SideBuy {
			take = entry * (1 + tpPct/100)
		} else {
			take = entry * (1 - tpPct/100)
		}
	}
	return stop, take
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
