package run

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"botcore/internal/events"
	"botcore/pkg/db"
)

const armTokenBytes = 24

// RequestArm begins the two-step live confirmation. It stores only the
// SHA-256 of the token; the plaintext is returned to the caller exactly once.
func (m *Manager) RequestArm(ctx context.Context, botID, actor string) (string, error) {
	bot, r, err := m.armTarget(ctx, botID)
	if err != nil {
		return "", err
	}

	raw := make([]byte, armTokenBytes)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generate arm token: %w", err)
	}
	token := hex.EncodeToString(raw)

	now := m.Now()
	if err := m.DB.SetArmRequest(ctx, r.ID, hashToken(token), now); err != nil {
		return "", fmt.Errorf("store arm request: %w", err)
	}

	m.Rec.Record(ctx, events.EventArming, bot.ID, events.SeverityWarning,
		"arm requested", "", map[string]any{
			"run_id": r.ID,
			"actor":  actor,
		})

	return token, nil
}

// ConfirmArm completes the confirmation: the supplied plaintext is hashed and
// compared against the stored hash. On match the run is armed, the hash is
// cleared (single use), and the live-start cooldown deadline is returned.
func (m *Manager) ConfirmArm(ctx context.Context, botID, token, actor string) (time.Time, error) {
	bot, r, err := m.armTarget(ctx, botID)
	if err != nil {
		return time.Time{}, err
	}

	if r.ArmTokenHash == "" || r.ArmRequestedAt == nil {
		return time.Time{}, ErrArmNoPending
	}
	now := m.Now()
	if now.Sub(*r.ArmRequestedAt) > m.Cfg.ArmRequestTTL {
		return time.Time{}, ErrArmRequestExpired
	}
	if subtle.ConstantTimeCompare([]byte(hashToken(token)), []byte(r.ArmTokenHash)) != 1 {
		return time.Time{}, ErrArmTokenInvalid
	}

	if err := m.DB.ConfirmArm(ctx, r.ID, now); err != nil {
		return time.Time{}, fmt.Errorf("confirm arm: %w", err)
	}

	deadline := now.Add(m.Cfg.ArmCooldown)
	m.Rec.Record(ctx, events.EventArming, bot.ID, events.SeverityWarning,
		"arm confirmed", "", map[string]any{
			"run_id":            r.ID,
			"actor":             actor,
			"cooldown_deadline": deadline.UTC().Format(time.RFC3339),
		})

	return deadline, nil
}

// armTarget loads the bot and its active live run, validating the arming
// preconditions: live mode, running status, active run.
func (m *Manager) armTarget(ctx context.Context, botID string) (*db.Bot, *db.Run, error) {
	bot, err := m.DB.GetBot(ctx, botID)
	if err != nil {
		return nil, nil, fmt.Errorf("load bot: %w", err)
	}
	if bot.Mode != db.ModeLive {
		return nil, nil, ErrArmNotLiveMode
	}
	if bot.Status != db.BotRunning {
		return nil, nil, ErrArmNotRunning
	}
	r, err := m.DB.ActiveRunForBot(ctx, botID, string(StateRunning))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, nil, ErrArmNotRunning
		}
		return nil, nil, fmt.Errorf("load run: %w", err)
	}
	return bot, r, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
