// Package signal derives a directional trading signal from a market snapshot
// and a strategy's threshold parameters. Everything here is pure.
package signal

import (
	"math"
)

// Side of a generated signal.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Profile holds the threshold pair for one strategy type. Thresholds are
// fractions: 0.02 means a 2% move over 24h.
type Profile struct {
	SignalThreshold   float64 `yaml:"signal_threshold"`
	MaxSignalStrength float64 `yaml:"max_signal_strength"`
}

// Signal is a directional signal with a confidence in [0, 1].
type Signal struct {
	Side       string
	Confidence float64
}

// Strategy identifiers with built-in profiles.
const (
	StrategyTrendFollowing = "trend_following"
	StrategyMeanReversion  = "mean_reversion"
	StrategyBreakout       = "breakout"
)

// DefaultProfiles returns the built-in threshold pairs per strategy.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		StrategyTrendFollowing: {SignalThreshold: 0.02, MaxSignalStrength: 0.08},
		StrategyMeanReversion:  {SignalThreshold: 0.035, MaxSignalStrength: 0.06},
		StrategyBreakout:       {SignalThreshold: 0.05, MaxSignalStrength: 0.10},
	}
}

// ProfileFor resolves the profile for a strategy, falling back to
// trend following for unknown strategy ids.
func ProfileFor(profiles map[string]Profile, strategy string) Profile {
	if p, ok := profiles[strategy]; ok {
		return p
	}
	return DefaultProfiles()[StrategyTrendFollowing]
}

// Generate produces a signal from the 24h price change (in percent, as
// reported by tickers: 5 means +5%). Returns ok=false when the move is
// inside the threshold band.
func Generate(change24hPct float64, p Profile) (Signal, bool) {
	change := change24hPct / 100
	if math.Abs(change) < p.SignalThreshold {
		return Signal{}, false
	}

	confidence := 1.0
	if p.MaxSignalStrength > 0 {
		confidence = math.Min(math.Abs(change)/p.MaxSignalStrength, 1.0)
	}

	side := SideBuy
	if change < 0 {
		side = SideSell
	}
	return Signal{Side: side, Confidence: confidence}, true
}
