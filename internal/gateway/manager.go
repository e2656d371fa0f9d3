// Package gateway resolves exchange gateways per bot credential, decrypting
// stored API keys and caching live client instances with LRU eviction.
package gateway

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"

	"botcore/pkg/crypto"
	"botcore/pkg/db"
	"botcore/pkg/exchanges/binance"
	"botcore/pkg/exchanges/common"
)

var ErrNoCredential = errors.New("bot has no credential configured")

// Factory builds a gateway from a decrypted credential.
type Factory func(c db.Credential, apiKey, apiSecret string) (common.Gateway, error)

// DefaultFactory creates real exchange clients by exchange type.
func DefaultFactory(testnet bool) Factory {
	return func(c db.Credential, apiKey, apiSecret string) (common.Gateway, error) {
		switch c.ExchangeType {
		case "binance", "binance-spot":
			return binance.New(binance.Config{
				APIKey:    apiKey,
				APISecret: apiSecret,
				Testnet:   testnet,
			}), nil
		default:
			return nil, fmt.Errorf("unsupported exchange type: %s", c.ExchangeType)
		}
	}
}

// Manager caches one gateway per credential id so repeated ticks reuse the
// same client (and its rate limiter / breaker state).
type Manager struct {
	DB      *db.Database
	Keys    *crypto.KeyManager
	Factory Factory
	MaxSize int

	mu    sync.Mutex
	cache map[string]*list.Element
	lru   *list.List // front = most recently used
}

type cacheEntry struct {
	credentialID string
	gateway      common.Gateway
}

// NewManager creates a gateway manager.
func NewManager(database *db.Database, keys *crypto.KeyManager, factory Factory) *Manager {
	return &Manager{
		DB:      database,
		Keys:    keys,
		Factory: factory,
		MaxSize: 100,
		cache:   make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// GatewayFor returns the gateway for a bot's credential, building and caching
// it on first use.
func (m *Manager) GatewayFor(ctx context.Context, bot *db.Bot) (common.Gateway, error) {
	if bot.CredentialID == "" {
		return nil, ErrNoCredential
	}

	m.mu.Lock()
	if el, ok := m.cache[bot.CredentialID]; ok {
		m.lru.MoveToFront(el)
		gw := el.Value.(*cacheEntry).gateway
		m.mu.Unlock()
		return gw, nil
	}
	m.mu.Unlock()

	cred, err := m.DB.GetCredential(ctx, bot.CredentialID, bot.UserID)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if cred == nil || !cred.IsActive {
		return nil, ErrNoCredential
	}

	apiKey, err := m.Keys.Decrypt(cred.APIKeyEncrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt api key: %w", err)
	}
	apiSecret, err := m.Keys.Decrypt(cred.APISecretEncrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt api secret: %w", err)
	}

	gw, err := m.Factory(*cred, apiKey, apiSecret)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.cache[cred.ID]; ok {
		// lost the race, keep the first instance
		m.lru.MoveToFront(el)
		return el.Value.(*cacheEntry).gateway, nil
	}
	if m.MaxSize > 0 && m.lru.Len() >= m.MaxSize {
		oldest := m.lru.Back()
		if oldest != nil {
			m.lru.Remove(oldest)
			delete(m.cache, oldest.Value.(*cacheEntry).credentialID)
		}
	}
	m.cache[cred.ID] = m.lru.PushFront(&cacheEntry{credentialID: cred.ID, gateway: gw})
	return gw, nil
}

// Invalidate drops a cached gateway, forcing a rebuild on next use. Called
// after credential rotation.
func (m *Manager) Invalidate(credentialID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.cache[credentialID]; ok {
		m.lru.Remove(el)
		delete(m.cache, credentialID)
	}
}

// Len reports the number of cached gateways.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}
