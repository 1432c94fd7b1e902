// Package settlement turns revealed trades into transfer instructions for the
// ledger. It moves no tokens itself.
package settlement

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/hakimelghazi/confidential-book/internal/engine"
)

var ErrMathOverflow = errors.New("math overflow")

// Instruction describes both legs of a trade: the buyer pays QuoteAmount to
// the seller and the seller delivers BaseAmount to the buyer.
type Instruction struct {
	PairID      uint64
	BuyerID     engine.TraderID
	SellerID    engine.TraderID
	Price       uint64
	BaseAmount  uint64
	QuoteAmount uint64
	Timestamp   uint64
}

// QuoteAmount returns price*quantity, failing instead of wrapping.
func QuoteAmount(price, quantity uint64) (uint64, error) {
	hi, lo := bits.Mul64(price, quantity)
	if hi != 0 {
		return 0, fmt.Errorf("%d * %d: %w", price, quantity, ErrMathOverflow)
	}
	return lo, nil
}

func FromTrade(pairID uint64, t engine.Trade) (Instruction, error) {
	quote, err := QuoteAmount(t.Price, t.Quantity)
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{
		PairID:      pairID,
		BuyerID:     t.BuyerID,
		SellerID:    t.SellerID,
		Price:       t.Price,
		BaseAmount:  t.Quantity,
		QuoteAmount: quote,
		Timestamp:   t.Timestamp,
	}, nil
}

// Batch converts trades in order and stops at the first overflow.
func Batch(pairID uint64, trades []engine.Trade) ([]Instruction, error) {
	out := make([]Instruction, 0, len(trades))
	for i, t := range trades {
		ins, err := FromTrade(pairID, t)
		if err != nil {
			return nil, fmt.Errorf("trade %d: %w", i, err)
		}
		out = append(out, ins)
	}
	return out, nil
}
