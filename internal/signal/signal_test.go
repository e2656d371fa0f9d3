package signal

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateTrendFollowing(t *testing.T) {
	p := DefaultProfiles()[StrategyTrendFollowing]

	// +5% over 24h is above the 2% threshold: buy.
	sig, ok := Generate(5, p)
	if !ok {
		t.Fatal("expected a signal for +5%")
	}
	if sig.Side != SideBuy {
		t.Fatalf("side = %s, want BUY", sig.Side)
	}
	if want := 0.05 / 0.08; math.Abs(sig.Confidence-want) > 1e-9 {
		t.Fatalf("confidence = %v, want %v", sig.Confidence, want)
	}

	// -5% mirrors to sell with the same confidence.
	sig, ok = Generate(-5, p)
	if !ok || sig.Side != SideSell {
		t.Fatalf("Generate(-5) = (%+v, %v), want SELL", sig, ok)
	}

	// +0.5% is inside the threshold band: no signal.
	if _, ok := Generate(0.5, p); ok {
		t.Fatal("expected no signal for +0.5%")
	}
}

func TestGenerateConfidenceClamped(t *testing.T) {
	p := Profile{SignalThreshold: 0.02, MaxSignalStrength: 0.08}
	sig, ok := Generate(40, p)
	if !ok {
		t.Fatal("expected a signal")
	}
	if sig.Confidence != 1 {
		t.Fatalf("confidence = %v, want clamp at 1", sig.Confidence)
	}
}

func TestProfilesDiffer(t *testing.T) {
	profiles := DefaultProfiles()
	// A 4% move trips trend_following and mean_reversion but not breakout.
	if _, ok := Generate(4, profiles[StrategyTrendFollowing]); !ok {
		t.Error("trend_following should fire on +4%")
	}
	if _, ok := Generate(4, profiles[StrategyMeanReversion]); !ok {
		t.Error("mean_reversion should fire on +4%")
	}
	if _, ok := Generate(4, profiles[StrategyBreakout]); ok {
		t.Error("breakout should not fire on +4%")
	}
}

func TestProfileForFallback(t *testing.T) {
	profiles := DefaultProfiles()
	got := ProfileFor(profiles, "no_such_strategy")
	if got != profiles[StrategyTrendFollowing] {
		t.Fatalf("fallback profile = %+v", got)
	}
}

func TestLoadProfiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yaml")
	data := []byte("strategies:\n  breakout:\n    signal_threshold: 0.07\n    max_signal_strength: 0.2\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write profiles: %v", err)
	}

	profiles, err := LoadProfiles(path)
	if err != nil {
		t.Fatalf("LoadProfiles: %v", err)
	}
	if profiles[StrategyBreakout].SignalThreshold != 0.07 {
		t.Fatalf("breakout threshold = %v, want 0.07", profiles[StrategyBreakout].SignalThreshold)
	}
	// Untouched strategies keep their defaults.
	if profiles[StrategyTrendFollowing] != DefaultProfiles()[StrategyTrendFollowing] {
		t.Fatal("trend_following default should be preserved")
	}

	// Missing file falls back to defaults.
	if _, err := LoadProfiles(filepath.Join(dir, "missing.yaml")); err != nil {
		t.Fatalf("missing file: %v", err)
	}

	// Invalid thresholds are rejected.
	bad := []byte("strategies:\n  breakout:\n    signal_threshold: 0\n    max_signal_strength: 0.2\n")
	if err := os.WriteFile(path, bad, 0o644); err != nil {
		t.Fatalf("write profiles: %v", err)
	}
	if _, err := LoadProfiles(path); err == nil {
		t.Fatal("expected error for zero threshold")
	}
}
