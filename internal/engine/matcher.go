package engine

type MatchResult struct {
	Trades     []Trade // at most the matcher's trade cap
	TradeCount int
	Book       *OrderBook // post-match book, already compacted
}

type Matcher struct {
	maxTrades int
}

// NewMatcher returns a matcher emitting at most maxTrades trades per call.
// Non-positive values fall back to DefaultMaxTrades.
func NewMatcher(maxTrades int) *Matcher {
	if maxTrades <= 0 {
		maxTrades = DefaultMaxTrades
	}
	return &Matcher{maxTrades: maxTrades}
}

func (m *Matcher) MaxTrades() int { return m.maxTrades }

// Match crosses bids against asks under price-time priority and returns the
// trades together with the resulting book. The given book is not modified.
//
// Both loops run for the full capacity and ineligible slots fall through a
// guard, so iteration counts are the same for every book of a given size.
// Trades execute at the resting seller's price. Crossings left over once the
// trade cap is hit stay in the book for the next call.
func (m *Matcher) Match(book *OrderBook, ts uint64) *MatchResult {
	nb := book.Clone()
	bids, asks := &nb.bids, &nb.asks

	buf := make([]Trade, m.maxTrades)
	count := 0

	for i := 0; i < len(bids.slots); i++ {
		buy := &bids.slots[i]
		if !(i < bids.count && buy.Quantity > 0 && count < m.maxTrades) {
			continue
		}

		for j := 0; j < len(asks.slots); j++ {
			sell := &asks.slots[j]
			canMatch := j < asks.count &&
				sell.Quantity > 0 &&
				buy.Quantity > 0 &&
				count < m.maxTrades &&
				buy.Price >= sell.Price
			if !canMatch {
				continue
			}

			qty := min(buy.Quantity, sell.Quantity)
			buf[count] = Trade{
				BuyerID:   buy.TraderID,
				SellerID:  sell.TraderID,
				Price:     sell.Price,
				Quantity:  qty,
				Timestamp: ts,
			}
			count++

			buy.Quantity -= qty
			sell.Quantity -= qty
		}
	}

	bids.compact()
	asks.compact()

	return &MatchResult{
		Trades:     buf[:count],
		TradeCount: count,
		Book:       nb,
	}
}
