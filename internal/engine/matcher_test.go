package engine

import (
	"testing"
)

const testTS = uint64(1_700_000_100)

func TestPartialFill(t *testing.T) {
	ob := NewOrderBook()
	ob.Insert(SideBuy, newTestInput(1, 100, 5))
	ob.Insert(SideSell, newTestInput(2, 90, 3))

	res := NewMatcher(DefaultMaxTrades).Match(ob, testTS)

	if res.TradeCount != 1 || len(res.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", res.TradeCount)
	}
	tr := res.Trades[0]
	if tr.Price != 90 || tr.Quantity != 3 {
		t.Fatalf("expected 3 @ 90, got %d @ %d", tr.Quantity, tr.Price)
	}
	if tr.BuyerID != testTrader(1) || tr.SellerID != testTrader(2) || tr.Timestamp != testTS {
		t.Fatalf("unexpected trade: %+v", tr)
	}
	if res.Book.SellCount() != 0 {
		t.Fatalf("expected filled sell to be compacted, count=%d", res.Book.SellCount())
	}
	bids := res.Book.Bids()
	if len(bids) != 1 || bids[0].Quantity != 2 {
		t.Fatalf("expected buy with 2 remaining, got %+v", bids)
	}
}

func TestMatchLeavesInputUntouched(t *testing.T) {
	ob := NewOrderBook()
	ob.Insert(SideBuy, newTestInput(1, 100, 5))
	ob.Insert(SideSell, newTestInput(2, 90, 3))

	NewMatcher(DefaultMaxTrades).Match(ob, testTS)

	if ob.BuyCount() != 1 || ob.SellCount() != 1 || ob.Bids()[0].Quantity != 5 {
		t.Fatalf("input book was mutated")
	}
}

func TestNoMatch(t *testing.T) {
	ob := NewOrderBook()
	ob.Insert(SideSell, newTestInput(1, 130, 3))
	ob.Insert(SideBuy, newTestInput(2, 110, 1))

	res := NewMatcher(DefaultMaxTrades).Match(ob, testTS)

	if res.TradeCount != 0 || len(res.Trades) != 0 {
		t.Fatalf("expected no trades, got %d", res.TradeCount)
	}
	if res.Book.BuyCount() != 1 || res.Book.SellCount() != 1 {
		t.Fatalf("expected 1 bid and 1 ask")
	}
	if res.Book.State().NextOrderID != ob.NextOrderID() {
		t.Fatalf("counter changed during match")
	}
}

func TestEqualPricesCross(t *testing.T) {
	ob := NewOrderBook()
	ob.Insert(SideSell, newTestInput(1, 100, 1))
	ob.Insert(SideBuy, newTestInput(2, 100, 1))

	res := NewMatcher(DefaultMaxTrades).Match(ob, testTS)
	if res.TradeCount != 1 {
		t.Fatalf("expected equal prices to cross")
	}
	if res.Book.BuyCount() != 0 || res.Book.SellCount() != 0 {
		t.Fatalf("expected empty book after full fill")
	}
}

func TestBuyWalksSellsInTimeOrder(t *testing.T) {
	ob := NewOrderBook()
	// earliest sell is the most expensive; time priority still wins among eligible
	ob.Insert(SideSell, newTestInput(1, 99, 2))
	ob.Insert(SideSell, newTestInput(2, 95, 2))
	ob.Insert(SideSell, newTestInput(3, 101, 2))
	ob.Insert(SideBuy, newTestInput(9, 100, 3))

	res := NewMatcher(DefaultMaxTrades).Match(ob, testTS)

	if res.TradeCount != 2 {
		t.Fatalf("expected 2 trades, got %d", res.TradeCount)
	}
	if res.Trades[0].SellerID != testTrader(1) || res.Trades[0].Quantity != 2 || res.Trades[0].Price != 99 {
		t.Fatalf("unexpected first trade %+v", res.Trades[0])
	}
	if res.Trades[1].SellerID != testTrader(2) || res.Trades[1].Quantity != 1 || res.Trades[1].Price != 95 {
		t.Fatalf("unexpected second trade %+v", res.Trades[1])
	}

	asks := res.Book.Asks()
	if len(asks) != 2 {
		t.Fatalf("expected 2 asks left, got %d", len(asks))
	}
	if asks[0].TraderID != testTrader(2) || asks[0].Quantity != 1 || asks[1].TraderID != testTrader(3) {
		t.Fatalf("survivors out of order: %+v", asks)
	}
	if res.Book.BuyCount() != 0 {
		t.Fatalf("expected buy to be filled")
	}
}

func TestSellRevisitedByLaterBuy(t *testing.T) {
	ob := NewOrderBook()
	ob.Insert(SideSell, newTestInput(1, 90, 5))
	ob.Insert(SideBuy, newTestInput(2, 100, 2))
	ob.Insert(SideBuy, newTestInput(3, 95, 2))

	res := NewMatcher(DefaultMaxTrades).Match(ob, testTS)

	if res.TradeCount != 2 {
		t.Fatalf("expected 2 trades, got %d", res.TradeCount)
	}
	if res.Trades[0].BuyerID != testTrader(2) || res.Trades[1].BuyerID != testTrader(3) {
		t.Fatalf("expected buys in time order, got %+v", res.Trades)
	}
	asks := res.Book.Asks()
	if len(asks) != 1 || asks[0].Quantity != 1 {
		t.Fatalf("expected 1 remaining on sell, got %+v", asks)
	}
}

func TestTradeCapAndSecondRound(t *testing.T) {
	ob := NewOrderBook()
	for i := 0; i < 7; i++ {
		ob.Insert(SideBuy, newTestInput(1, 100, 1))
		ob.Insert(SideSell, newTestInput(2, 90, 1))
	}

	m := NewMatcher(DefaultMaxTrades)
	res := m.Match(ob, testTS)
	if res.TradeCount != DefaultMaxTrades || len(res.Trades) != DefaultMaxTrades {
		t.Fatalf("expected %d trades, got %d", DefaultMaxTrades, res.TradeCount)
	}
	if res.Book.BuyCount() != 2 || res.Book.SellCount() != 2 {
		t.Fatalf("expected 2/2 left, got %d/%d", res.Book.BuyCount(), res.Book.SellCount())
	}

	res = m.Match(res.Book, testTS+1)
	if res.TradeCount != 2 {
		t.Fatalf("expected 2 trades in second round, got %d", res.TradeCount)
	}

	res = m.Match(res.Book, testTS+2)
	if res.TradeCount != 0 {
		t.Fatalf("expected quiet book, got %d trades", res.TradeCount)
	}
	res = m.Match(res.Book, testTS+3)
	if res.TradeCount != 0 || res.Book.BuyCount() != 0 || res.Book.SellCount() != 0 {
		t.Fatalf("repeat match on quiet book changed something")
	}
}

func TestConfigurableTradeCap(t *testing.T) {
	ob := NewOrderBook()
	for i := 0; i < 3; i++ {
		ob.Insert(SideBuy, newTestInput(1, 100, 1))
		ob.Insert(SideSell, newTestInput(2, 100, 1))
	}
	res := NewMatcher(1).Match(ob, testTS)
	if res.TradeCount != 1 {
		t.Fatalf("expected cap of 1, got %d", res.TradeCount)
	}
	if NewMatcher(0).MaxTrades() != DefaultMaxTrades {
		t.Fatalf("expected default trade cap")
	}
}

func TestIDsSurviveMatch(t *testing.T) {
	ob := NewOrderBook()
	ob.Insert(SideSell, newTestInput(1, 90, 1))
	keep, _ := ob.Insert(SideSell, newTestInput(1, 200, 1))
	ob.Insert(SideBuy, newTestInput(2, 100, 1))

	res := NewMatcher(DefaultMaxTrades).Match(ob, testTS)
	asks := res.Book.Asks()
	if len(asks) != 1 || asks[0].ID != keep {
		t.Fatalf("expected order %s to survive, got %+v", keep, asks)
	}
	if !res.Book.Cancel(keep, testTrader(1)) {
		t.Fatalf("expected surviving order to stay cancellable by id")
	}
}
