package run

import (
	"context"
	"errors"
	"testing"
	"time"

	"botcore/pkg/db"
)

func startedLiveBot(t *testing.T, mgr *Manager, database *db.Database) *db.Bot {
	t.Helper()
	bot := seedBot(t, database, db.ModeLive)
	if _, err := mgr.RequestTransition(context.Background(), bot.ID, ActionStart, "tester"); err != nil {
		t.Fatalf("start: %v", err)
	}
	return bot
}

func TestArmFlow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LiveEnabled = true
	mgr, database := newTestManager(t, cfg)
	bot := startedLiveBot(t, mgr, database)
	ctx := context.Background()

	token, err := mgr.RequestArm(ctx, bot.ID, "tester")
	if err != nil {
		t.Fatalf("RequestArm: %v", err)
	}
	if token == "" {
		t.Fatal("expected a token")
	}

	// Plaintext token is never stored.
	r, err := database.ActiveRunForBot(ctx, bot.ID, string(StateRunning))
	if err != nil {
		t.Fatalf("ActiveRunForBot: %v", err)
	}
	if r.ArmTokenHash == token {
		t.Fatal("token stored in plaintext")
	}
	if r.ArmTokenHash == "" {
		t.Fatal("token hash not stored")
	}

	deadline, err := mgr.ConfirmArm(ctx, bot.ID, token, "tester")
	if err != nil {
		t.Fatalf("ConfirmArm: %v", err)
	}
	if want := mgr.Now().Add(cfg.ArmCooldown); deadline.Sub(want) > time.Second || want.Sub(deadline) > time.Second {
		t.Fatalf("cooldown deadline = %v, want about %v", deadline, want)
	}

	r, err = database.ActiveRunForBot(ctx, bot.ID, string(StateRunning))
	if err != nil {
		t.Fatalf("ActiveRunForBot: %v", err)
	}
	if !r.LiveArmed {
		t.Fatal("run not armed after confirm")
	}
	if r.ArmTokenHash != "" {
		t.Fatal("token hash must be cleared on confirm (single use)")
	}

	// The token cannot be confirmed twice.
	if _, err := mgr.ConfirmArm(ctx, bot.ID, token, "tester"); !errors.Is(err, ErrArmNoPending) {
		t.Fatalf("second confirm: got %v, want ErrArmNoPending", err)
	}
}

func TestConfirmArmWrongToken(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LiveEnabled = true
	mgr, database := newTestManager(t, cfg)
	bot := startedLiveBot(t, mgr, database)
	ctx := context.Background()

	if _, err := mgr.RequestArm(ctx, bot.ID, "tester"); err != nil {
		t.Fatalf("RequestArm: %v", err)
	}
	if _, err := mgr.ConfirmArm(ctx, bot.ID, "deadbeef", "tester"); !errors.Is(err, ErrArmTokenInvalid) {
		t.Fatalf("wrong token: got %v, want ErrArmTokenInvalid", err)
	}
}

func TestConfirmArmExpired(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LiveEnabled = true
	cfg.ArmRequestTTL = 5 * time.Minute
	mgr, database := newTestManager(t, cfg)
	bot := startedLiveBot(t, mgr, database)
	ctx := context.Background()

	base := time.Now().UTC()
	now := base
	mgr.Now = func() time.Time { return now }

	token, err := mgr.RequestArm(ctx, bot.ID, "tester")
	if err != nil {
		t.Fatalf("RequestArm: %v", err)
	}

	now = base.Add(cfg.ArmRequestTTL + time.Second)
	if _, err := mgr.ConfirmArm(ctx, bot.ID, token, "tester"); !errors.Is(err, ErrArmRequestExpired) {
		t.Fatalf("expired confirm: got %v, want ErrArmRequestExpired", err)
	}
}

func TestArmPreconditions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LiveEnabled = true
	mgr, database := newTestManager(t, cfg)
	ctx := context.Background()

	paper := seedBot(t, database, db.ModePaper)
	if _, err := mgr.RequestArm(ctx, paper.ID, "tester"); !errors.Is(err, ErrArmNotLiveMode) {
		t.Fatalf("arm paper bot: got %v, want ErrArmNotLiveMode", err)
	}

	stopped := seedBot(t, database, db.ModeLive)
	if _, err := mgr.RequestArm(ctx, stopped.ID, "tester"); !errors.Is(err, ErrArmNotRunning) {
		t.Fatalf("arm stopped bot: got %v, want ErrArmNotRunning", err)
	}

	running := startedLiveBot(t, mgr, database)
	if _, err := mgr.ConfirmArm(ctx, running.ID, "anything", "tester"); !errors.Is(err, ErrArmNoPending) {
		t.Fatalf("confirm without request: got %v, want ErrArmNoPending", err)
	}
}
