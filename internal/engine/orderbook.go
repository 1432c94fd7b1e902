package engine

const (
	DefaultCapacity  = 10
	DefaultMaxTrades = 5
)

// bookSide is a fixed-capacity buffer of resting orders. len(slots) is the
// capacity and never changes; slots[count:] hold no live orders. Lower index
// means earlier submission and higher priority.
type bookSide struct {
	slots []Order
	count int
}

func newBookSide(capacity int) bookSide {
	return bookSide{slots: make([]Order, capacity)}
}

func (s *bookSide) clone() bookSide {
	out := bookSide{slots: make([]Order, len(s.slots)), count: s.count}
	copy(out.slots, s.slots)
	return out
}

// OrderBook holds both sides of a single trading pair. Every scan over a side
// visits all capacity slots and skips through guards, so the number of
// iterations never depends on how many orders are resting.
type OrderBook struct {
	bids bookSide
	asks bookSide

	// shared by both sides, never reused
	nextOrderID OrderID
}

func NewOrderBook() *OrderBook {
	return NewOrderBookSize(DefaultCapacity)
}

// NewOrderBookSize returns an empty book with the given per-side capacity.
// Non-positive capacities fall back to DefaultCapacity.
func NewOrderBookSize(capacity int) *OrderBook {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &OrderBook{
		bids:        newBookSide(capacity),
		asks:        newBookSide(capacity),
		nextOrderID: firstOrderID,
	}
}

func (b *OrderBook) side(s Side) *bookSide {
	switch s {
	case SideBuy:
		return &b.bids
	case SideSell:
		return &b.asks
	default:
		return nil
	}
}

func (b *OrderBook) Capacity() int { return len(b.bids.slots) }
func (b *OrderBook) BuyCount() int { return b.bids.count }
func (b *OrderBook) SellCount() int { return b.asks.count }
func (b *OrderBook) NextOrderID() OrderID { return b.nextOrderID }

// Insert assigns a fresh id and appends the order at the first free slot of
// its side. A full side rejects the order and leaves the book untouched.
func (b *OrderBook) Insert(side Side, in OrderInput) (OrderID, bool) {
	s := b.side(side)
	if s == nil || s.count >= len(s.slots) {
		return OrderID{}, false
	}

	id := b.nextOrderID
	b.nextOrderID = id.next()

	s.slots[s.count] = Order{
		ID:        id,
		Price:     in.Price,
		Quantity:  in.Quantity,
		Side:      side,
		TraderID:  in.TraderID,
		Timestamp: in.Timestamp,
	}
	s.count++
	return id, true
}

// Cancel removes the order only when both id and trader match. It reports a
// single not-found for a missing order and for someone else's order. Both
// sides are scanned in full whether or not a match was already found.
func (b *OrderBook) Cancel(id OrderID, trader TraderID) bool {
	foundBid := b.bids.cancel(id, trader, false)
	foundAsk := b.asks.cancel(id, trader, foundBid)
	return foundBid || foundAsk
}

func (s *bookSide) cancel(id OrderID, trader TraderID, alreadyFound bool) bool {
	found := false
	at := 0
	for i := 0; i < len(s.slots); i++ {
		hit := s.slots[i].ID == id && s.slots[i].TraderID == trader
		if i < s.count && hit && !alreadyFound && !found {
			found = true
			at = i
		}
	}

	last := s.count - 1
	for i := 0; i < len(s.slots)-1; i++ {
		if found && i >= at && i < last {
			s.slots[i] = s.slots[i+1]
		}
	}
	if found {
		s.slots[last] = Order{}
		s.count--
	}
	return found
}

// Orders returns the trader's resting orders, bids first, each side in
// priority order.
func (b *OrderBook) Orders(trader TraderID) []Order {
	out := make([]Order, 0)
	for _, s := range []*bookSide{&b.bids, &b.asks} {
		for i := 0; i < len(s.slots); i++ {
			if i < s.count && s.slots[i].TraderID == trader {
				out = append(out, s.slots[i])
			}
		}
	}
	return out
}

// Bids and Asks return copies of the active entries.
func (b *OrderBook) Bids() []Order { return append([]Order(nil), b.bids.slots[:b.bids.count]...) }
func (b *OrderBook) Asks() []Order { return append([]Order(nil), b.asks.slots[:b.asks.count]...) }

func (b *OrderBook) Clone() *OrderBook {
	return &OrderBook{
		bids:        b.bids.clone(),
		asks:        b.asks.clone(),
		nextOrderID: b.nextOrderID,
	}
}
