// Package event defines the events emitted for matched trades and their
// protobuf wire form. Field numbers are part of the wire contract.
package event

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/hakimelghazi/confidential-book/internal/engine"
)

type Kind uint8

const (
	KindTradeExecuted   Kind = 1
	KindOrdersMatched   Kind = 2
	KindPairInitialized Kind = 3
	KindOrderSubmitted  Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindTradeExecuted:
		return "TRADE_EXECUTED"
	case KindOrdersMatched:
		return "ORDERS_MATCHED"
	case KindPairInitialized:
		return "PAIR_INITIALIZED"
	case KindOrderSubmitted:
		return "ORDER_SUBMITTED"
	default:
		return "UNKNOWN"
	}
}

const (
	fieldSeq         protowire.Number = 1
	fieldKind        protowire.Number = 2
	fieldPairID      protowire.Number = 3
	fieldBuyerID     protowire.Number = 4
	fieldSellerID    protowire.Number = 5
	fieldPrice       protowire.Number = 6
	fieldQuantity    protowire.Number = 7
	fieldTimestamp   protowire.Number = 8
	fieldTradeCount  protowire.Number = 9
	fieldBase        protowire.Number = 10
	fieldQuote       protowire.Number = 11
	fieldActive      protowire.Number = 12
	fieldTotalOrders protowire.Number = 13
)

var ErrMalformed = errors.New("malformed event")

// Event is a pair lifecycle or book activity record. Which fields are set
// depends on Kind.
type Event struct {
	Seq         uint64
	Kind        Kind
	PairID      uint64
	BuyerID     engine.TraderID // TRADE_EXECUTED only
	SellerID    engine.TraderID // TRADE_EXECUTED only
	Price       uint64          // TRADE_EXECUTED only
	Quantity    uint64          // TRADE_EXECUTED only
	TradeCount  uint32          // ORDERS_MATCHED only
	Base        string          // PAIR_INITIALIZED only
	Quote       string          // PAIR_INITIALIZED only
	Active      bool            // PAIR_INITIALIZED only
	TotalOrders uint64          // ORDER_SUBMITTED only
	Timestamp   uint64
}

func TradeExecuted(pairID uint64, t engine.Trade) Event {
	return Event{
		Kind:      KindTradeExecuted,
		PairID:    pairID,
		BuyerID:   t.BuyerID,
		SellerID:  t.SellerID,
		Price:     t.Price,
		Quantity:  t.Quantity,
		Timestamp: t.Timestamp,
	}
}

func OrdersMatched(pairID uint64, tradeCount int, ts uint64) Event {
	return Event{
		Kind:       KindOrdersMatched,
		PairID:     pairID,
		TradeCount: uint32(tradeCount),
		Timestamp:  ts,
	}
}

func PairInitialized(pairID uint64, base, quote string, active bool, ts uint64) Event {
	return Event{
		Kind:      KindPairInitialized,
		PairID:    pairID,
		Base:      base,
		Quote:     quote,
		Active:    active,
		Timestamp: ts,
	}
}

// OrderSubmitted carries only the pair's running order count; the order
// itself stays private.
func OrderSubmitted(pairID, totalOrders, ts uint64) Event {
	return Event{
		Kind:        KindOrderSubmitted,
		PairID:      pairID,
		TotalOrders: totalOrders,
		Timestamp:   ts,
	}
}

func Marshal(ev Event) []byte {
	b := make([]byte, 0, 64)
	b = appendVarint(b, fieldSeq, ev.Seq)
	b = appendVarint(b, fieldKind, uint64(ev.Kind))
	b = appendVarint(b, fieldPairID, ev.PairID)
	if ev.Kind == KindTradeExecuted {
		b = protowire.AppendTag(b, fieldBuyerID, protowire.BytesType)
		b = protowire.AppendBytes(b, ev.BuyerID[:])
		b = protowire.AppendTag(b, fieldSellerID, protowire.BytesType)
		b = protowire.AppendBytes(b, ev.SellerID[:])
		b = appendVarint(b, fieldPrice, ev.Price)
		b = appendVarint(b, fieldQuantity, ev.Quantity)
	}
	switch ev.Kind {
	case KindOrdersMatched:
		b = appendVarint(b, fieldTradeCount, uint64(ev.TradeCount))
	case KindPairInitialized:
		b = protowire.AppendTag(b, fieldBase, protowire.BytesType)
		b = protowire.AppendString(b, ev.Base)
		b = protowire.AppendTag(b, fieldQuote, protowire.BytesType)
		b = protowire.AppendString(b, ev.Quote)
		b = appendVarint(b, fieldActive, protowire.EncodeBool(ev.Active))
	case KindOrderSubmitted:
		b = appendVarint(b, fieldTotalOrders, ev.TotalOrders)
	}
	b = appendVarint(b, fieldTimestamp, ev.Timestamp)
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// Unmarshal skips unknown fields so older readers accept newer events.
func Unmarshal(b []byte) (Event, error) {
	var ev Event
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && !isBytesField(num):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Event{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
			ev.setVarint(num, v)

		case typ == protowire.BytesType && (num == fieldBuyerID || num == fieldSellerID):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Event{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			if len(v) != len(engine.TraderID{}) {
				return Event{}, fmt.Errorf("%w: field %d has %d bytes", ErrMalformed, num, len(v))
			}
			b = b[n:]
			if num == fieldBuyerID {
				copy(ev.BuyerID[:], v)
			} else {
				copy(ev.SellerID[:], v)
			}

		case typ == protowire.BytesType && (num == fieldBase || num == fieldQuote):
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Event{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
			if num == fieldBase {
				ev.Base = v
			} else {
				ev.Quote = v
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Event{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if ev.Kind < KindTradeExecuted || ev.Kind > KindOrderSubmitted {
		return Event{}, fmt.Errorf("%w: kind %d", ErrMalformed, ev.Kind)
	}
	return ev, nil
}

func isBytesField(num protowire.Number) bool {
	switch num {
	case fieldBuyerID, fieldSellerID, fieldBase, fieldQuote:
		return true
	}
	return false
}

func (ev *Event) setVarint(num protowire.Number, v uint64) {
	switch num {
	case fieldSeq:
		ev.Seq = v
	case fieldKind:
		ev.Kind = Kind(v)
	case fieldPairID:
		ev.PairID = v
	case fieldPrice:
		ev.Price = v
	case fieldQuantity:
		ev.Quantity = v
	case fieldTimestamp:
		ev.Timestamp = v
	case fieldTradeCount:
		ev.TradeCount = uint32(v)
	case fieldActive:
		ev.Active = protowire.DecodeBool(v)
	case fieldTotalOrders:
		ev.TotalOrders = v
	}
}
