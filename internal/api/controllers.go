package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"botcore/internal/events"
	"botcore/internal/run"
	"botcore/pkg/db"
)

// ownedBot loads a bot and enforces ownership; replies and returns nil on
// failure.
func (s *Server) ownedBot(c *gin.Context) *db.Bot {
	bot, err := s.DB.GetBot(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "BOT_NOT_FOUND", "error": "bot not found"})
			return nil
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return nil
	}
	if bot == nil || bot.UserID != CurrentUserID(c) {
		c.JSON(http.StatusNotFound, gin.H{"code": "BOT_NOT_FOUND", "error": "bot not found"})
		return nil
	}
	return bot
}

func (s *Server) listBots(c *gin.Context) {
	bots, err := s.DB.ListBotsByUser(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bots": bots})
}

type botPayload struct {
	Name            string  `json:"name"`
	Symbol          string  `json:"symbol"`
	Strategy        string  `json:"strategy"`
	Mode            string  `json:"mode"`
	Capital         float64 `json:"capital"`
	MaxPositionSize float64 `json:"max_position_size"`
	MaxDailyLoss    float64 `json:"max_daily_loss"`
	StopLossPct     float64 `json:"stop_loss_pct"`
	TakeProfitPct   float64 `json:"take_profit_pct"`
	CredentialID    string  `json:"credential_id"`
}

func (p *botPayload) validate() string {
	p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
	if p.Symbol == "" {
		return "symbol is required"
	}
	if p.Mode != db.ModePaper && p.Mode != db.ModeLive {
		return "mode must be paper or live"
	}
	if p.Capital <= 0 {
		return "capital must be positive"
	}
	if p.MaxPositionSize <= 0 || p.MaxPositionSize > 1 {
		return "max_position_size must be in (0, 1]"
	}
	return ""
}

func (s *Server) createBot(c *gin.Context) {
	var req botPayload
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}
	if msg := req.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_BOT_CONFIG", "error": msg})
		return
	}

	now := time.Now()
	bot := db.Bot{
		ID:              uuid.NewString(),
		UserID:          CurrentUserID(c),
		Name:            req.Name,
		Symbol:          req.Symbol,
		Strategy:        req.Strategy,
		Mode:            req.Mode,
		Status:          db.BotStopped,
		MaxPositionSize: req.MaxPositionSize,
		MaxDailyLoss:    req.MaxDailyLoss,
		StopLossPct:     req.StopLossPct,
		TakeProfitPct:   req.TakeProfitPct,
		CurrentCapital:  req.Capital,
		CredentialID:    req.CredentialID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.DB.CreateBot(c.Request.Context(), bot); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"bot": bot})
}

func (s *Server) getBot(c *gin.Context) {
	bot := s.ownedBot(c)
	if bot == nil {
		return
	}
	latest, err := s.DB.LatestRunForBot(c.Request.Context(), bot.ID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bot": bot, "run": latest})
}

func (s *Server) updateBot(c *gin.Context) {
	bot := s.ownedBot(c)
	if bot == nil {
		return
	}
	if bot.Status == db.BotRunning {
		c.JSON(http.StatusConflict, gin.H{"code": "BOT_RUNNING", "error": "stop the bot before editing"})
		return
	}

	var req botPayload
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}
	if msg := req.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_BOT_CONFIG", "error": msg})
		return
	}

	bot.Name = req.Name
	bot.Symbol = req.Symbol
	bot.Strategy = req.Strategy
	bot.Mode = req.Mode
	bot.MaxPositionSize = req.MaxPositionSize
	bot.MaxDailyLoss = req.MaxDailyLoss
	bot.StopLossPct = req.StopLossPct
	bot.TakeProfitPct = req.TakeProfitPct
	bot.CredentialID = req.CredentialID
	if err := s.DB.UpdateBotConfig(c.Request.Context(), *bot); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bot": bot})
}

func (s *Server) deleteBot(c *gin.Context) {
	bot := s.ownedBot(c)
	if bot == nil {
		return
	}
	if err := s.DB.DeleteBot(c.Request.Context(), bot.ID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"code": "BOT_DELETE_FAILED", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": bot.ID})
}

// controlAction maps a lifecycle action onto the run manager.
func (s *Server) controlAction(action run.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		bot := s.ownedBot(c)
		if bot == nil {
			return
		}
		r, err := s.Runs.RequestTransition(c.Request.Context(), bot.ID, action, CurrentUserID(c))
		if err != nil {
			writeControlError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"run": r})
	}
}

func (s *Server) requestArm(c *gin.Context) {
	bot := s.ownedBot(c)
	if bot == nil {
		return
	}
	token, err := s.Runs.RequestArm(c.Request.Context(), bot.ID, CurrentUserID(c))
	if err != nil {
		writeControlError(c, err)
		return
	}
	// The token is shown exactly once; only its hash is stored.
	c.JSON(http.StatusOK, gin.H{"arm_token": token})
}

func (s *Server) confirmArm(c *gin.Context) {
	bot := s.ownedBot(c)
	if bot == nil {
		return
	}
	var req struct {
		Token string `json:"token"`
	}
	if err := c.BindJSON(&req); err != nil || req.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "token is required"})
		return
	}
	readyAt, err := s.Runs.ConfirmArm(c.Request.Context(), bot.ID, req.Token, CurrentUserID(c))
	if err != nil {
		writeControlError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"armed": true, "live_ready_at": readyAt.UTC().Format(time.RFC3339)})
}

func (s *Server) tickBot(c *gin.Context) {
	bot := s.ownedBot(c)
	if bot == nil {
		return
	}
	if err := s.Orch.TickBot(c.Request.Context(), bot.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "TICK_FAILED", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticked": bot.ID})
}

func (s *Server) getOrders(c *gin.Context) {
	bot := s.ownedBot(c)
	if bot == nil {
		return
	}
	orders, err := s.DB.RecentOrders(c.Request.Context(), bot.ID, queryLimit(c, 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) getPositions(c *gin.Context) {
	bot := s.ownedBot(c)
	if bot == nil {
		return
	}
	ctx := c.Request.Context()
	open, err := s.DB.ListOpenPositions(ctx, bot.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	closed, err := s.DB.RecentClosedPositions(ctx, bot.ID, queryLimit(c, 20))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"open": open, "closed": closed})
}

func (s *Server) getEvents(c *gin.Context) {
	bot := s.ownedBot(c)
	if bot == nil {
		return
	}
	evts, err := s.DB.RecentEvents(c.Request.Context(), bot.ID, queryLimit(c, 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evts})
}

func (s *Server) getKillSwitch(c *gin.Context) {
	ks, err := s.DB.GetKillSwitch(c.Request.Context(), db.ScopeUser, CurrentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	active, err := s.DB.KillSwitchActive(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": active, "kill_switch": ks})
}

func (s *Server) setKillSwitch(c *gin.Context) {
	var req struct {
		Active bool   `json:"active"`
		Reason string `json:"reason"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}
	userID := CurrentUserID(c)
	if err := s.DB.SetKillSwitch(c.Request.Context(), db.ScopeUser, userID, req.Active, req.Reason, userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	s.Rec.Record(c.Request.Context(), events.EventKillSwitch, "", events.SeverityWarning,
		fmt.Sprintf("kill switch set to %t", req.Active), c.GetString("RequestID"),
		map[string]any{"active": req.Active, "reason": req.Reason, "set_by": userID})
	c.JSON(http.StatusOK, gin.H{"active": req.Active})
}

func (s *Server) createCredential(c *gin.Context) {
	var req struct {
		ExchangeType string `json:"exchange_type"`
		APIKey       string `json:"api_key"`
		APISecret    string `json:"api_secret"`
	}
	if err := c.BindJSON(&req); err != nil || req.APIKey == "" || req.APISecret == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "exchange_type, api_key and api_secret are required"})
		return
	}
	if req.ExchangeType == "" {
		req.ExchangeType = "binance"
	}

	keyEnc, err := s.Keys.Encrypt(req.APIKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": "failed to encrypt credentials"})
		return
	}
	secretEnc, err := s.Keys.Encrypt(req.APISecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": "failed to encrypt credentials"})
		return
	}

	cred := db.Credential{
		ID:                 uuid.NewString(),
		UserID:             CurrentUserID(c),
		ExchangeType:       req.ExchangeType,
		APIKeyEncrypted:    keyEnc,
		APISecretEncrypted: secretEnc,
		KeyVersion:         s.Keys.CurrentVersion(),
		IsActive:           true,
		CreatedAt:          time.Now(),
	}
	if err := s.DB.CreateCredential(c.Request.Context(), cred); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"credential_id": cred.ID})
}

// writeControlError maps domain control errors onto HTTP responses.
func writeControlError(c *gin.Context, err error) {
	var ctrl *run.ControlError
	if errors.As(err, &ctrl) {
		c.JSON(http.StatusConflict, gin.H{"code": ctrl.Code, "error": ctrl.Message})
		return
	}
	var invalid *run.InvalidTransitionError
	if errors.As(err, &invalid) {
		c.JSON(http.StatusConflict, gin.H{"code": "INVALID_TRANSITION", "error": invalid.Error()})
		return
	}
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
}

func queryLimit(c *gin.Context, def int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 500 {
		return def
	}
	return n
}
