package engine

import (
	"testing"
)

func testTrader(n byte) TraderID {
	var t TraderID
	t[15] = n
	return t
}

func newTestInput(trader byte, price, qty uint64) OrderInput {
	return OrderInput{
		Price:     price,
		Quantity:  qty,
		TraderID:  testTrader(trader),
		Timestamp: 1_700_000_000,
	}
}

func TestNewOrderBookIsEmpty(t *testing.T) {
	ob := NewOrderBook()
	if ob.BuyCount() != 0 || ob.SellCount() != 0 {
		t.Fatalf("expected empty book, got %d bids %d asks", ob.BuyCount(), ob.SellCount())
	}
	if ob.NextOrderID() != (OrderID{Lo: 1}) {
		t.Fatalf("expected next order id 1, got %s", ob.NextOrderID())
	}
	if ob.Capacity() != DefaultCapacity {
		t.Fatalf("expected capacity %d, got %d", DefaultCapacity, ob.Capacity())
	}
}

func TestInsertAssignsIncreasingIDs(t *testing.T) {
	ob := NewOrderBook()
	var last OrderID
	for i := 0; i < 4; i++ {
		side := SideBuy
		if i%2 == 1 {
			side = SideSell
		}
		id, ok := ob.Insert(side, newTestInput(1, 100, 1))
		if !ok {
			t.Fatalf("insert %d rejected", i)
		}
		if !last.Less(id) {
			t.Fatalf("id %s not greater than previous %s", id, last)
		}
		last = id
	}
	if ob.BuyCount() != 2 || ob.SellCount() != 2 {
		t.Fatalf("expected 2/2, got %d/%d", ob.BuyCount(), ob.SellCount())
	}
	if ob.NextOrderID() != (OrderID{Lo: 5}) {
		t.Fatalf("expected next id 5, got %s", ob.NextOrderID())
	}
}

func TestInsertRejectsWhenSideFull(t *testing.T) {
	ob := NewOrderBookSize(3)
	for i := 0; i < 3; i++ {
		if _, ok := ob.Insert(SideSell, newTestInput(1, uint64(100+i), 1)); !ok {
			t.Fatalf("insert %d rejected", i)
		}
	}
	before := ob.Asks()
	next := ob.NextOrderID()

	id, ok := ob.Insert(SideSell, newTestInput(2, 50, 9))
	if ok || !id.IsZero() {
		t.Fatalf("expected rejection, got id=%s ok=%v", id, ok)
	}
	if ob.SellCount() != 3 {
		t.Fatalf("expected count 3, got %d", ob.SellCount())
	}
	if ob.NextOrderID() != next {
		t.Fatalf("counter advanced on rejection: %s -> %s", next, ob.NextOrderID())
	}
	after := ob.Asks()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("slot %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}

	// the other side is independent
	if _, ok := ob.Insert(SideBuy, newTestInput(2, 50, 9)); !ok {
		t.Fatalf("expected buy side to accept")
	}
}

func TestInsertRejectsUnknownSide(t *testing.T) {
	ob := NewOrderBook()
	if _, ok := ob.Insert(Side("HOLD"), newTestInput(1, 100, 1)); ok {
		t.Fatalf("expected unknown side to be rejected")
	}
	if ob.NextOrderID() != (OrderID{Lo: 1}) {
		t.Fatalf("counter advanced on rejection")
	}
}

func TestCancelRemovesAndKeepsOrder(t *testing.T) {
	ob := NewOrderBook()
	ids := make([]OrderID, 0, 4)
	for i := 0; i < 4; i++ {
		id, _ := ob.Insert(SideBuy, newTestInput(1, uint64(100+i), 1))
		ids = append(ids, id)
	}

	if !ob.Cancel(ids[1], testTrader(1)) {
		t.Fatalf("expected cancel to succeed")
	}

	bids := ob.Bids()
	if len(bids) != 3 {
		t.Fatalf("expected 3 bids left, got %d", len(bids))
	}
	want := []OrderID{ids[0], ids[2], ids[3]}
	for i, o := range bids {
		if o.ID != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], o.ID)
		}
	}
}

func TestCancelRequiresOwner(t *testing.T) {
	ob := NewOrderBook()
	id, _ := ob.Insert(SideSell, newTestInput(1, 105, 5))

	if ob.Cancel(id, testTrader(2)) {
		t.Fatalf("expected cancel by another trader to fail")
	}
	if ob.Cancel(id.next(), testTrader(1)) {
		t.Fatalf("expected cancel of unknown id to fail")
	}
	if ob.SellCount() != 1 {
		t.Fatalf("expected order to remain, count=%d", ob.SellCount())
	}
	if !ob.Cancel(id, testTrader(1)) {
		t.Fatalf("expected owner cancel to succeed")
	}
	if ob.Cancel(id, testTrader(1)) {
		t.Fatalf("expected second cancel to report not found")
	}
}

func TestCancelIgnoresStaleSlots(t *testing.T) {
	ob := NewOrderBook()
	id, _ := ob.Insert(SideBuy, newTestInput(1, 100, 1))
	// plant a matching entry past the active region
	ob.bids.slots[5] = Order{ID: id, TraderID: testTrader(1), Quantity: 1}
	ob.Cancel(id, testTrader(1))

	if ob.Cancel(id, testTrader(1)) {
		t.Fatalf("slot beyond count must not be a candidate")
	}
}

func TestIDsNotReusedAfterCancel(t *testing.T) {
	ob := NewOrderBook()
	first, _ := ob.Insert(SideBuy, newTestInput(1, 100, 1))
	ob.Cancel(first, testTrader(1))
	second, _ := ob.Insert(SideBuy, newTestInput(1, 100, 1))
	if !first.Less(second) {
		t.Fatalf("expected fresh id after cancel, got %s then %s", first, second)
	}
}

func TestOrdersFiltersByTrader(t *testing.T) {
	ob := NewOrderBook()
	ob.Insert(SideBuy, newTestInput(1, 100, 1))
	ob.Insert(SideBuy, newTestInput(2, 101, 1))
	ob.Insert(SideSell, newTestInput(1, 110, 2))

	mine := ob.Orders(testTrader(1))
	if len(mine) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(mine))
	}
	if mine[0].Side != SideBuy || mine[1].Side != SideSell {
		t.Fatalf("expected bids before asks, got %+v", mine)
	}
	if len(ob.Orders(testTrader(9))) != 0 {
		t.Fatalf("expected no orders for unknown trader")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	ob := NewOrderBook()
	ob.Insert(SideBuy, newTestInput(1, 100, 1))
	cp := ob.Clone()
	cp.Insert(SideBuy, newTestInput(1, 100, 1))
	if ob.BuyCount() != 1 || cp.BuyCount() != 2 {
		t.Fatalf("clone shares state: %d vs %d", ob.BuyCount(), cp.BuyCount())
	}
}

func TestParseSide(t *testing.T) {
	if s, err := ParseSide(" buy "); err != nil || s != SideBuy {
		t.Fatalf("expected BUY, got %q %v", s, err)
	}
	if s, err := ParseSide("SELL"); err != nil || s != SideSell {
		t.Fatalf("expected SELL, got %q %v", s, err)
	}
	if _, err := ParseSide("short"); err == nil {
		t.Fatalf("expected error for unknown side")
	}
}
