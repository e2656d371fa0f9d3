// Package market supplies quotes to the decision and risk layers. Quotes come
// from an exchange gateway when possible and degrade to a clearly tagged
// synthetic random walk when the provider is unreachable, so paper runs keep
// ticking offline.
package market

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"botcore/pkg/cache"
	"botcore/pkg/exchanges/common"
	"botcore/pkg/resilience"
)

// Quote is a point-in-time market snapshot for one symbol.
type Quote struct {
	Symbol    string
	Price     float64
	Bid       float64
	Ask       float64
	Change24h float64 // percent, e.g. 5 means +5%
	FetchedAt time.Time
	Synthetic bool
}

// Provider fetches and caches quotes.
type Provider struct {
	Gateway common.Gateway
	Breaker *resilience.Breaker
	Retry   resilience.RetryConfig

	// MaxCacheAge bounds how old a cached quote may be before a refetch is
	// attempted. Defaults to 5s.
	MaxCacheAge time.Duration

	cache *cache.Sharded[Quote]

	mu   sync.Mutex
	walk map[string]float64 // last synthetic price per symbol
	rng  *rand.Rand

	now func() time.Time
}

// NewProvider creates a Provider backed by the given gateway.
func NewProvider(gw common.Gateway) *Provider {
	return &Provider{
		Gateway:     gw,
		Breaker:     resilience.NewBreaker(resilience.BreakerConfig{}),
		Retry:       resilience.RetryConfig{},
		MaxCacheAge: 5 * time.Second,
		cache:       cache.NewSharded[Quote](),
		walk:        make(map[string]float64),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		now:         time.Now,
	}
}

// GetQuote returns a quote for symbol. Order of preference: fresh cache entry,
// live fetch through the gateway, stale cache entry, synthetic fallback. The
// Synthetic flag is only set on the last case.
func (p *Provider) GetQuote(ctx context.Context, symbol string) Quote {
	if q, age, ok := p.cache.GetWithAge(symbol); ok && age <= p.MaxCacheAge && !q.Synthetic {
		return q
	}

	q, err := p.fetch(ctx, symbol)
	if err == nil {
		p.cache.Set(symbol, q)
		p.mu.Lock()
		p.walk[symbol] = q.Price
		p.mu.Unlock()
		return q
	}
	log.Printf("market: quote fetch failed for %s: %v", symbol, err)

	if q, _, ok := p.cache.GetWithAge(symbol); ok && !q.Synthetic {
		return q
	}
	return p.synthetic(symbol)
}

func (p *Provider) fetch(ctx context.Context, symbol string) (Quote, error) {
	var t common.Ticker
	retryable := func(err error) bool { return common.Retryable(common.CodeOf(err)) }
	err := resilience.Do(ctx, p.Breaker, p.Retry, retryable, func(ctx context.Context) error {
		var err error
		t, err = p.Gateway.GetTicker(ctx, symbol)
		return err
	})
	if err != nil {
		return Quote{}, err
	}
	at := t.FetchedAt
	if at.IsZero() {
		at = p.now()
	}
	return Quote{
		Symbol:    t.Symbol,
		Price:     t.Price,
		Bid:       t.Bid,
		Ask:       t.Ask,
		Change24h: t.Change24h,
		FetchedAt: at,
	}, nil
}

// synthetic produces a random-walk quote seeded from the last real or
// synthetic price for the symbol.
func (p *Provider) synthetic(symbol string) Quote {
	p.mu.Lock()
	price, ok := p.walk[symbol]
	if !ok || price <= 0 {
		price = 100.0
	}
	// simple random walk, +/-0.5% per step
	price += price * (p.rng.Float64()*2 - 1) * 0.005
	p.walk[symbol] = price
	change := (p.rng.Float64()*2 - 1) * 2 // fake 24h change in percent
	p.mu.Unlock()

	q := Quote{
		Symbol:    symbol,
		Price:     price,
		Bid:       price * 0.9995,
		Ask:       price * 1.0005,
		Change24h: change,
		FetchedAt: p.now(),
		Synthetic: true,
	}
	p.cache.Set(symbol, q)
	return q
}

// Store caches an externally sourced quote (e.g. from the websocket feed) so
// the next GetQuote serves it without a REST round trip.
func (p *Provider) Store(q Quote) {
	if q.Symbol == "" || q.Price <= 0 {
		return
	}
	if q.FetchedAt.IsZero() {
		q.FetchedAt = p.now()
	}
	p.cache.Set(q.Symbol, q)
	if !q.Synthetic {
		p.mu.Lock()
		p.walk[q.Symbol] = q.Price
		p.mu.Unlock()
	}
}

// Invalidate drops any cached quote for symbol.
func (p *Provider) Invalidate(symbol string) {
	p.cache.Delete(symbol)
}
