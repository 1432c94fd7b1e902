package engine

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(SideBuy):
		return SideBuy, nil
	case string(SideSell):
		return SideSell, nil
	default:
		return "", fmt.Errorf("unknown side %q", s)
	}
}

// TraderID is the 128-bit owner identity of an order.
type TraderID = uuid.UUID

// OrderInput is what a caller submits. Identity and position are assigned by the book.
type OrderInput struct {
	Price     uint64
	Quantity  uint64
	TraderID  TraderID
	Timestamp uint64
}

type Order struct {
	ID        OrderID
	Price     uint64 // integer price (ticks)
	Quantity  uint64 // remaining unfilled
	Side      Side
	TraderID  TraderID
	Timestamp uint64
}

// Trade carries trader identities, not order ids.
type Trade struct {
	BuyerID   TraderID
	SellerID  TraderID
	Price     uint64
	Quantity  uint64
	Timestamp uint64
}
