package run

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"botcore/internal/events"
	"botcore/pkg/db"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *db.Database) {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	rec := events.NewRecorder(database, events.NewBus(), "test")
	return NewManager(database, rec, cfg), database
}

func seedBot(t *testing.T, database *db.Database, mode string) *db.Bot {
	t.Helper()
	now := time.Now().UTC()
	bot := db.Bot{
		ID:              uuid.NewString(),
		UserID:          uuid.NewString(),
		Name:            "test-bot",
		Symbol:          "BTCUSDT",
		Strategy:        "trend_following",
		Mode:            mode,
		Status:          db.BotStopped,
		MaxPositionSize: 0.1,
		MaxDailyLoss:    100,
		StopLossPct:     5,
		TakeProfitPct:   10,
		CurrentCapital:  10000,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := database.CreateBot(context.Background(), bot); err != nil {
		t.Fatalf("CreateBot: %v", err)
	}
	return &bot
}

func TestPaperLifecycle(t *testing.T) {
	mgr, database := newTestManager(t, DefaultConfig())
	bot := seedBot(t, database, db.ModePaper)
	ctx := context.Background()

	r, err := mgr.RequestTransition(ctx, bot.ID, ActionStart, "tester")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if r.Status != string(StateRunning) {
		t.Fatalf("after start status = %s, want RUNNING", r.Status)
	}

	got, err := database.GetBot(ctx, bot.ID)
	if err != nil {
		t.Fatalf("GetBot: %v", err)
	}
	if got.Status != db.BotRunning {
		t.Fatalf("bot status = %s, want running", got.Status)
	}

	if r, err = mgr.RequestTransition(ctx, bot.ID, ActionPause, "tester"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if r.Status != string(StatePaused) {
		t.Fatalf("after pause status = %s, want PAUSED", r.Status)
	}

	if r, err = mgr.RequestTransition(ctx, bot.ID, ActionStop, "tester"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if r.Status != string(StateStopped) {
		t.Fatalf("after stop status = %s, want STOPPED", r.Status)
	}

	// Pause from STOPPED is not in the table.
	if _, err := mgr.RequestTransition(ctx, bot.ID, ActionPause, "tester"); err == nil {
		t.Fatal("pause from STOPPED should fail")
	}
}

func TestKillConsumesArming(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LiveEnabled = true
	mgr, database := newTestManager(t, cfg)
	bot := seedBot(t, database, db.ModeLive)
	ctx := context.Background()

	r, err := mgr.RequestTransition(ctx, bot.ID, ActionStart, "tester")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	token, err := mgr.RequestArm(ctx, bot.ID, "tester")
	if err != nil {
		t.Fatalf("RequestArm: %v", err)
	}
	if _, err := mgr.ConfirmArm(ctx, bot.ID, token, "tester"); err != nil {
		t.Fatalf("ConfirmArm: %v", err)
	}

	if r, err = mgr.RequestTransition(ctx, bot.ID, ActionKill, "tester"); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if r.Status != string(StateKillSwitched) {
		t.Fatalf("after kill status = %s, want KILL_SWITCHED", r.Status)
	}
	if r.LiveArmed {
		t.Fatal("kill must clear live_armed")
	}

	stored, err := database.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored.LiveArmed {
		t.Fatal("kill must persist the disarm")
	}
}

func TestLiveStartGates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LiveEnabled = false
	mgr, database := newTestManager(t, cfg)
	bot := seedBot(t, database, db.ModeLive)
	ctx := context.Background()

	if _, err := mgr.RequestTransition(ctx, bot.ID, ActionStart, "tester"); !errors.Is(err, ErrLiveDisabled) {
		t.Fatalf("start with live disabled: got %v, want ErrLiveDisabled", err)
	}

	mgr.Cfg.LiveEnabled = true
	if err := database.SetKillSwitch(ctx, db.ScopeUser, bot.UserID, true, "test", "tester"); err != nil {
		t.Fatalf("SetKillSwitch: %v", err)
	}
	if _, err := mgr.RequestTransition(ctx, bot.ID, ActionStart, "tester"); !errors.Is(err, ErrKillSwitchActive) {
		t.Fatalf("start with kill switch: got %v, want ErrKillSwitchActive", err)
	}

	if err := database.SetKillSwitch(ctx, db.ScopeUser, bot.UserID, false, "", "tester"); err != nil {
		t.Fatalf("clear kill switch: %v", err)
	}
	if _, err := mgr.RequestTransition(ctx, bot.ID, ActionStart, "tester"); err != nil {
		t.Fatalf("fresh live start should be allowed unarmed: %v", err)
	}
}

func TestLiveRestartRequiresArmingAndCooldown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LiveEnabled = true
	cfg.ArmCooldown = 60 * time.Second
	mgr, database := newTestManager(t, cfg)
	bot := seedBot(t, database, db.ModeLive)
	ctx := context.Background()

	base := time.Now().UTC()
	now := base
	mgr.Now = func() time.Time { return now }

	if _, err := mgr.RequestTransition(ctx, bot.ID, ActionStart, "tester"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := mgr.RequestTransition(ctx, bot.ID, ActionPause, "tester"); err != nil {
		t.Fatalf("pause: %v", err)
	}

	// PAUSED -> start: the run exists, so arming is required.
	if _, err := mgr.RequestTransition(ctx, bot.ID, ActionStart, "tester"); !errors.Is(err, ErrLiveNotArmed) {
		t.Fatalf("restart unarmed: got %v, want ErrLiveNotArmed", err)
	}

	// Arm the run directly; arming normally requires RUNNING, and here we are
	// exercising only the cooldown clock.
	r, err := database.LatestRunForBot(ctx, bot.ID)
	if err != nil {
		t.Fatalf("LatestRunForBot: %v", err)
	}
	if err := database.SetArmRequest(ctx, r.ID, "hash", now); err != nil {
		t.Fatalf("SetArmRequest: %v", err)
	}
	if err := database.ConfirmArm(ctx, r.ID, now); err != nil {
		t.Fatalf("ConfirmArm: %v", err)
	}

	// One second before the cooldown deadline: rejected.
	now = base.Add(59 * time.Second)
	if _, err := mgr.RequestTransition(ctx, bot.ID, ActionStart, "tester"); !errors.Is(err, ErrLiveCooldownActive) {
		t.Fatalf("restart inside cooldown: got %v, want ErrLiveCooldownActive", err)
	}

	// One second after: allowed.
	now = base.Add(61 * time.Second)
	if _, err := mgr.RequestTransition(ctx, bot.ID, ActionStart, "tester"); err != nil {
		t.Fatalf("restart after cooldown: %v", err)
	}
}
