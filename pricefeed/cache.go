package pricefeed

import (
	"context"
	"sync"

	"github.com/hakimelghazi/confidential-book/internal/engine"
)

// Tick is the last trade seen on a pair.
type Tick struct {
	PairID    uint64 `json:"pair_id"`
	Price     uint64 `json:"price"`
	Quantity  uint64 `json:"quantity"`
	Timestamp uint64 `json:"timestamp"`
	Trades    uint64 `json:"trades"` // trades seen since start
}

// PriceCache stores the latest trade per pair in memory. It is fed as an
// engine trade sink.
type PriceCache struct {
	mu    sync.RWMutex
	ticks map[uint64]Tick
}

func NewPriceCache() *PriceCache {
	return &PriceCache{ticks: make(map[uint64]Tick)}
}

func (c *PriceCache) PersistTrades(_ context.Context, pairID uint64, trades []engine.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	tick := c.ticks[pairID]
	last := trades[len(trades)-1]
	tick.PairID = pairID
	tick.Price = last.Price
	tick.Quantity = last.Quantity
	tick.Timestamp = last.Timestamp
	tick.Trades += uint64(len(trades))
	c.ticks[pairID] = tick
	return nil
}

func (c *PriceCache) Get(pairID uint64) (Tick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.ticks[pairID]
	return t, ok
}
