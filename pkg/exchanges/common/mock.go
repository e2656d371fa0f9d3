package common

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockGateway is an in-memory gateway for tests and offline development.
// Err, when set, is returned by every call; Ticker fields seed GetTicker.
type MockGateway struct {
	mu sync.Mutex

	Err        error
	Price      float64
	Change24h  float64
	PlacedReqs []OrderRequest
	nextID     int
}

func NewMockGateway(price, change24h float64) *MockGateway {
	return &MockGateway{Price: price, Change24h: change24h}
}

func (m *MockGateway) PlaceOrder(_ context.Context, req OrderRequest) (OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return OrderResult{}, m.Err
	}
	m.nextID++
	m.PlacedReqs = append(m.PlacedReqs, req)
	return OrderResult{
		ExchangeOrderID: fmt.Sprintf("mock-%d", m.nextID),
		Status:          StatusSubmitted,
		ClientID:        req.ClientID,
	}, nil
}

func (m *MockGateway) GetTicker(_ context.Context, symbol string) (Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return Ticker{}, m.Err
	}
	return Ticker{
		Symbol:    symbol,
		Price:     m.Price,
		Bid:       m.Price * 0.9995,
		Ask:       m.Price * 1.0005,
		Volume:    1000,
		Change24h: m.Change24h,
		FetchedAt: time.Now(),
	}, nil
}

func (m *MockGateway) GetBalances(_ context.Context) ([]Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return []Balance{{Asset: "USDT", Free: 10000}}, nil
}

// Placed returns how many orders reached the mock venue.
func (m *MockGateway) Placed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.PlacedReqs)
}
