package execution

import (
	"context"
	"strings"
	"testing"
	"time"

	"botcore/internal/market"
	"botcore/internal/run"
	"botcore/pkg/db"
	"botcore/pkg/exchanges/common"
)

type staticGateways struct {
	gw  common.Gateway
	err error
}

func (s staticGateways) GatewayFor(context.Context, *db.Bot) (common.Gateway, error) {
	return s.gw, s.err
}

func liveQuote() market.Quote {
	return market.Quote{Symbol: "BTCUSDT", Price: 50000, FetchedAt: time.Now().UTC()}
}

// armRun marks the run armed with an armed_at far enough in the past that the
// cooldown has elapsed.
func armRun(t *testing.T, database *db.Database, r *db.Run) {
	t.Helper()
	ctx := context.Background()
	armedAt := time.Now().UTC().Add(-2 * time.Minute)
	if err := database.SetArmRequest(ctx, r.ID, "hash", armedAt); err != nil {
		t.Fatalf("SetArmRequest: %v", err)
	}
	if err := database.ConfirmArm(ctx, r.ID, armedAt); err != nil {
		t.Fatalf("ConfirmArm: %v", err)
	}
	r.LiveArmed = true
	r.ArmedAt = &armedAt
}

func newLiveEngine(database *db.Database, gw common.Gateway) *LiveEngine {
	rec := newTestRecorder(database)
	return NewLiveEngine(database, rec, staticGateways{gw: gw}, NewTripBreaker(database, rec), LiveConfig{
		LiveEnabled: true,
		ArmCooldown: 60 * time.Second,
	})
}

func seedLiveBot(t *testing.T, database *db.Database) (*db.Bot, *db.Run) {
	t.Helper()
	bot, r := seedBotAndRun(t, database, db.ModeLive)
	bot.CredentialID = "cred-1"
	if err := database.UpdateBotConfig(context.Background(), *bot); err != nil {
		t.Fatalf("UpdateBotConfig: %v", err)
	}
	return bot, r
}

func TestLiveSubmit(t *testing.T) {
	database := newTestDB(t)
	gw := common.NewMockGateway(50000, 0)
	engine := newLiveEngine(database, gw)
	bot, r := seedLiveBot(t, database)
	armRun(t, database, r)
	ctx := context.Background()

	res, err := engine.ExecuteTrade(ctx, bot, r, buyDecision("trace-live"), liveQuote())
	if err != nil {
		t.Fatalf("ExecuteTrade: %v", err)
	}
	if res.Status != StatusSubmitted {
		t.Fatalf("status = %s, want submitted", res.Status)
	}
	if res.ExchangeOrderID == "" {
		t.Fatal("expected exchange order id")
	}
	if gw.Placed() != 1 {
		t.Fatalf("orders at venue = %d, want 1", gw.Placed())
	}

	order, err := database.GetOrderByClientID(ctx, ClientOrderID(db.ModeLive, bot.ID, "trace-live"))
	if err != nil {
		t.Fatalf("GetOrderByClientID: %v", err)
	}
	if order == nil || order.Status != db.OrderStatusSubmitted {
		t.Fatalf("persisted order = %+v", order)
	}
}

func TestLiveEligibilityRejectsWithoutVenueCall(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, database *db.Database, engine *LiveEngine, bot *db.Bot, r *db.Run) market.Quote
		want  string
	}{
		{
			name: "no credential",
			setup: func(t *testing.T, database *db.Database, engine *LiveEngine, bot *db.Bot, r *db.Run) market.Quote {
				bot.CredentialID = ""
				armRun(t, database, r)
				return liveQuote()
			},
			want: "credentials",
		},
		{
			name: "live disabled",
			setup: func(t *testing.T, database *db.Database, engine *LiveEngine, bot *db.Bot, r *db.Run) market.Quote {
				engine.Cfg.LiveEnabled = false
				armRun(t, database, r)
				return liveQuote()
			},
			want: "disabled",
		},
		{
			name: "kill switch",
			setup: func(t *testing.T, database *db.Database, engine *LiveEngine, bot *db.Bot, r *db.Run) market.Quote {
				armRun(t, database, r)
				if err := database.SetKillSwitch(context.Background(), db.ScopeUser, bot.UserID, true, "test", "tester"); err != nil {
					t.Fatalf("SetKillSwitch: %v", err)
				}
				return liveQuote()
			},
			want: "kill switch",
		},
		{
			name: "not armed",
			setup: func(t *testing.T, database *db.Database, engine *LiveEngine, bot *db.Bot, r *db.Run) market.Quote {
				return liveQuote()
			},
			want: "not armed",
		},
		{
			name: "cooldown",
			setup: func(t *testing.T, database *db.Database, engine *LiveEngine, bot *db.Bot, r *db.Run) market.Quote {
				ctx := context.Background()
				armedAt := time.Now().UTC()
				if err := database.SetArmRequest(ctx, r.ID, "hash", armedAt); err != nil {
					t.Fatalf("SetArmRequest: %v", err)
				}
				if err := database.ConfirmArm(ctx, r.ID, armedAt); err != nil {
					t.Fatalf("ConfirmArm: %v", err)
				}
				r.LiveArmed = true
				r.ArmedAt = &armedAt
				return liveQuote()
			},
			want: "cooldown",
		},
		{
			name: "synthetic quote",
			setup: func(t *testing.T, database *db.Database, engine *LiveEngine, bot *db.Bot, r *db.Run) market.Quote {
				armRun(t, database, r)
				q := liveQuote()
				q.Synthetic = true
				return q
			},
			want: "synthetic",
		},
		{
			name: "stale quote",
			setup: func(t *testing.T, database *db.Database, engine *LiveEngine, bot *db.Bot, r *db.Run) market.Quote {
				armRun(t, database, r)
				q := liveQuote()
				q.FetchedAt = time.Now().UTC().Add(-10 * time.Minute)
				return q
			},
			want: "stale",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			database := newTestDB(t)
			gw := common.NewMockGateway(50000, 0)
			engine := newLiveEngine(database, gw)
			bot, r := seedLiveBot(t, database)

			quote := tc.setup(t, database, engine, bot, r)
			res, err := engine.ExecuteTrade(context.Background(), bot, r, buyDecision("trace-"+tc.name), quote)
			if err != nil {
				t.Fatalf("ExecuteTrade: %v", err)
			}
			if res.Status != StatusRejected {
				t.Fatalf("status = %s, want rejected", res.Status)
			}
			if !strings.Contains(res.Message, tc.want) {
				t.Fatalf("message = %q, want substring %q", res.Message, tc.want)
			}
			if gw.Placed() != 0 {
				t.Fatalf("venue contacted %d times, want 0", gw.Placed())
			}
		})
	}
}

func TestTripBreakerEscalatesAfterThreshold(t *testing.T) {
	database := newTestDB(t)
	gw := common.NewMockGateway(50000, 0)
	gw.Err = &common.ExchangeError{Code: common.CodeServiceUnavailable, Message: "venue down"}
	engine := newLiveEngine(database, gw)
	bot, r := seedLiveBot(t, database)
	armRun(t, database, r)
	ctx := context.Background()

	for i := 0; i < DefaultTripThreshold; i++ {
		res, err := engine.ExecuteTrade(ctx, bot, r, buyDecision("trace-fail-"+string(rune('a'+i))), liveQuote())
		if err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
		if res.Status != StatusRejected {
			t.Fatalf("failure %d status = %s", i, res.Status)
		}
	}

	// Third consecutive failure trips: kill switch, stopped bot, killed run.
	active, err := database.KillSwitchActive(ctx, bot.UserID)
	if err != nil {
		t.Fatalf("KillSwitchActive: %v", err)
	}
	if !active {
		t.Fatal("kill switch should be active")
	}

	gotBot, err := database.GetBot(ctx, bot.ID)
	if err != nil {
		t.Fatalf("GetBot: %v", err)
	}
	if gotBot.Status != db.BotStopped {
		t.Fatalf("bot status = %s, want stopped", gotBot.Status)
	}
	if gotBot.LastError == "" {
		t.Fatal("expected last error recorded")
	}

	gotRun, err := database.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if gotRun.Status != string(run.StateKillSwitched) {
		t.Fatalf("run status = %s, want KILL_SWITCHED", gotRun.Status)
	}
	if gotRun.LiveArmed {
		t.Fatal("trip must disarm the run")
	}

	// Re-triggering on the killed run is a no-op.
	breaker := NewTripBreaker(database, newTestRecorder(database))
	if err := breaker.RecordFailure(ctx, bot, r, "again", "trace-x"); err != nil {
		t.Fatalf("idempotent re-trigger: %v", err)
	}
}

func TestTripBreakerResetsOnSuccess(t *testing.T) {
	database := newTestDB(t)
	gw := common.NewMockGateway(50000, 0)
	gw.Err = &common.ExchangeError{Code: common.CodeServiceUnavailable, Message: "venue down"}
	engine := newLiveEngine(database, gw)
	bot, r := seedLiveBot(t, database)
	armRun(t, database, r)
	ctx := context.Background()

	for i := 0; i < DefaultTripThreshold-1; i++ {
		if _, err := engine.ExecuteTrade(ctx, bot, r, buyDecision("trace-f-"+string(rune('a'+i))), liveQuote()); err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
	}
	if r.FailureCount != DefaultTripThreshold-1 {
		t.Fatalf("failure count = %d", r.FailureCount)
	}

	// A success resets the count and nothing trips afterwards.
	gw.Err = nil
	res, err := engine.ExecuteTrade(ctx, bot, r, buyDecision("trace-ok"), liveQuote())
	if err != nil {
		t.Fatalf("success: %v", err)
	}
	if res.Status != StatusSubmitted {
		t.Fatalf("status = %s, want submitted", res.Status)
	}
	if r.FailureCount != 0 {
		t.Fatalf("failure count = %d, want 0", r.FailureCount)
	}

	active, err := database.KillSwitchActive(ctx, bot.UserID)
	if err != nil {
		t.Fatalf("KillSwitchActive: %v", err)
	}
	if active {
		t.Fatal("kill switch should not be active")
	}
}
