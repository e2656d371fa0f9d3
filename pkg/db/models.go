package db

import (
	"time"
)

// Bot modes.
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Order lifecycle statuses. pending and submitted are the only non-terminal
// states; filled, rejected and canceled are terminal.
const (
	OrderStatusPending   = "pending"
	OrderStatusSubmitted = "submitted"
	OrderStatusFilled    = "filled"
	OrderStatusRejected  = "rejected"
	OrderStatusCanceled  = "canceled"
)

// Position statuses.
const (
	PositionOpen   = "open"
	PositionClosed = "closed"
)

// Bot statuses as surfaced to users. Run lifecycle states live in
// internal/run; a bot's status summarizes its latest run.
const (
	BotStopped = "stopped"
	BotRunning = "running"
	BotPaused  = "paused"
	BotError   = "error"
)

// Kill switch scopes.
const (
	ScopeSystem = "system"
	ScopeUser   = "user"
)

// Bot is a configured trading bot owned by a user.
type Bot struct {
	ID             string
	UserID         string
	Name           string
	Symbol         string
	Strategy       string
	StrategyParams string
	Mode           string
	Status         string

	// Risk parameters.
	MaxPositionSize float64 // fraction of capital per trade
	MaxDailyLoss    float64
	StopLossPct     float64
	TakeProfitPct   float64
	MaxLeverage     float64

	// Running totals.
	CurrentCapital float64
	DailyPnL       float64
	TotalPnL       float64
	TotalTrades    int
	WinningTrades  int

	// Health.
	ErrorCount      int
	LastError       string
	LastHeartbeatAt *time.Time

	CredentialID string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Run is one lifecycle attempt of a bot. Only the most recent RUNNING run is
// active; historical runs are kept for audit.
type Run struct {
	ID             string
	BotID          string
	Status         string
	Mode           string
	LiveArmed      bool
	ArmRequestedAt *time.Time
	ArmedAt        *time.Time
	ArmTokenHash   string
	FailureCount   int
	LastFailureAt  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Order is an attempted trade, immutable once terminal. ClientOrderID is
// unique per (mode, bot, decision trace) and enforces idempotency.
type Order struct {
	ID              string
	BotID           string
	RunID           string
	ClientOrderID   string
	ExchangeOrderID string
	Symbol          string
	Side            string
	Type            string
	Qty             float64
	Price           float64
	Fee             float64
	Slippage        float64
	Status          string
	RejectReason    string
	TraceID         string
	Provenance      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Position is a bot's exposure in a symbol; at most one open per (bot, symbol).
type Position struct {
	ID              string
	BotID           string
	Symbol          string
	Side            string
	Qty             float64
	EntryPrice      float64
	MarkPrice       float64
	StopPrice       float64
	TakeProfitPrice float64
	UnrealizedPnL   float64
	RealizedPnL     float64
	Fees            float64
	Status          string
	EntryOrderID    string
	ExitOrderID     string
	OpenedAt        time.Time
	ClosedAt        *time.Time
	UpdatedAt       time.Time
}

// Event is an audit log row; every error path and accepted transition writes one.
type Event struct {
	ID         string
	BotID      string
	Type       string
	Severity   string
	Message    string
	Data       string
	InstanceID string
	TraceID    string
	CreatedAt  time.Time
}

// KillSwitch is a boolean guard blocking live submission for a scope.
type KillSwitch struct {
	Scope     string
	UserID    string
	Active    bool
	Reason    string
	SetBy     string
	UpdatedAt time.Time
}

// User represents an application user.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Credential stores encrypted exchange API keys for a user.
type Credential struct {
	ID                 string
	UserID             string
	ExchangeType       string
	APIKeyEncrypted    string
	APISecretEncrypted string
	KeyVersion         int
	IsActive           bool
	CreatedAt          time.Time
}
