package engine

import (
	"errors"
	"fmt"
)

// BookState is a plain copy of a book, used for snapshots and restore.
type BookState struct {
	Capacity    int
	Bids        []Order
	Asks        []Order
	NextOrderID OrderID
}

var ErrInvalidState = errors.New("invalid book state")

func (b *OrderBook) State() BookState {
	return BookState{
		Capacity:    b.Capacity(),
		Bids:        b.Bids(),
		Asks:        b.Asks(),
		NextOrderID: b.nextOrderID,
	}
}

// RestoreBook rebuilds a book from a snapshot. Entries keep their stored ids
// and order; the id counter resumes where the snapshot left it.
func RestoreBook(st BookState) (*OrderBook, error) {
	if st.Capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity %d", ErrInvalidState, st.Capacity)
	}
	if len(st.Bids) > st.Capacity || len(st.Asks) > st.Capacity {
		return nil, fmt.Errorf("%w: %d bids, %d asks exceed capacity %d",
			ErrInvalidState, len(st.Bids), len(st.Asks), st.Capacity)
	}
	if st.NextOrderID.IsZero() {
		return nil, fmt.Errorf("%w: zero next order id", ErrInvalidState)
	}

	b := NewOrderBookSize(st.Capacity)
	b.nextOrderID = st.NextOrderID

	// position is time priority, so ids must rise strictly within a side and
	// never repeat across sides
	seen := make(map[OrderID]bool, len(st.Bids)+len(st.Asks))
	load := func(s *bookSide, side Side, orders []Order) error {
		var prev OrderID
		for i, o := range orders {
			if o.Quantity == 0 {
				return fmt.Errorf("%w: %s entry %d has zero quantity", ErrInvalidState, side, i)
			}
			if o.ID.IsZero() || !o.ID.Less(st.NextOrderID) {
				return fmt.Errorf("%w: %s entry %d id %s not below next id %s",
					ErrInvalidState, side, i, o.ID, st.NextOrderID)
			}
			if i > 0 && !prev.Less(o.ID) {
				return fmt.Errorf("%w: %s entry %d id %s does not follow %s",
					ErrInvalidState, side, i, o.ID, prev)
			}
			if seen[o.ID] {
				return fmt.Errorf("%w: id %s appears twice", ErrInvalidState, o.ID)
			}
			seen[o.ID] = true
			prev = o.ID
			o.Side = side
			s.slots[i] = o
		}
		s.count = len(orders)
		return nil
	}
	if err := load(&b.bids, SideBuy, st.Bids); err != nil {
		return nil, err
	}
	if err := load(&b.asks, SideSell, st.Asks); err != nil {
		return nil, err
	}
	return b, nil
}
