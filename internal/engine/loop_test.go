package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu     sync.Mutex
	pairs  []uint64
	trades []Trade
	err    error
}

func (s *recordingSink) PersistTrades(_ context.Context, pairID uint64, trades []Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs = append(s.pairs, pairID)
	s.trades = append(s.trades, trades...)
	return s.err
}

type recordingSaver struct {
	mu     sync.Mutex
	states []BookState
}

func (s *recordingSaver) SaveBook(_ uint64, st BookState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, st)
	return nil
}

func (s *recordingSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

func startEngine(t *testing.T, cfg Config, opts ...Option) *Engine {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	e := NewEngine(7, cfg, opts...)
	go e.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})
	return e
}

func fixedClock() time.Time { return time.Unix(1_700_000_500, 0) }

func TestEnginePlaceCancelMatch(t *testing.T) {
	sink := &recordingSink{}
	saver := &recordingSaver{}
	e := startEngine(t, Config{}, WithTradeSinks(sink), WithBookSaver(saver), WithClock(fixedClock))
	ctx := context.Background()

	buyIn := newTestInput(1, 100, 5)
	buyIn.Timestamp = 0
	buyID, ok, err := e.Place(ctx, SideBuy, buyIn)
	if err != nil || !ok {
		t.Fatalf("place buy: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := e.Place(ctx, SideSell, newTestInput(2, 90, 3)); !ok {
		t.Fatalf("place sell rejected")
	}

	res, err := e.Match(ctx)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if res.TradeCount != 1 || res.Trades[0].Quantity != 3 || res.Trades[0].Price != 90 {
		t.Fatalf("unexpected match result %+v", res.Trades)
	}
	if res.Trades[0].Timestamp != uint64(fixedClock().Unix()) {
		t.Fatalf("expected engine clock on trade, got %d", res.Trades[0].Timestamp)
	}

	orders, err := e.Orders(ctx, testTrader(1))
	if err != nil || len(orders) != 1 || orders[0].Quantity != 2 {
		t.Fatalf("expected remaining buy of 2, got %+v err=%v", orders, err)
	}
	if orders[0].Timestamp != uint64(fixedClock().Unix()) {
		t.Fatalf("expected submission stamped by engine clock")
	}

	if ok, _ := e.Cancel(ctx, buyID, testTrader(2)); ok {
		t.Fatalf("cancel by non-owner succeeded")
	}
	if ok, _ := e.Cancel(ctx, buyID, testTrader(1)); !ok {
		t.Fatalf("owner cancel failed")
	}

	st, err := e.State(ctx)
	if err != nil || len(st.Bids) != 0 || len(st.Asks) != 0 {
		t.Fatalf("expected empty book, got %+v err=%v", st, err)
	}

	if len(sink.trades) != 1 || sink.pairs[0] != 7 {
		t.Fatalf("sink not called once for pair 7: %+v", sink.pairs)
	}
	// two places, one match, one cancel
	if saver.count() != 4 {
		t.Fatalf("expected 4 saves, got %d", saver.count())
	}
}

func TestEngineSinkFailureKeepsBook(t *testing.T) {
	sink := &recordingSink{err: errors.New("db down")}
	e := startEngine(t, Config{}, WithTradeSinks(sink))
	ctx := context.Background()

	e.Place(ctx, SideBuy, newTestInput(1, 100, 1))
	e.Place(ctx, SideSell, newTestInput(2, 100, 1))
	res, err := e.Match(ctx)
	if err != nil || res.TradeCount != 1 {
		t.Fatalf("expected trade despite sink failure, got %v %v", res, err)
	}
	st, _ := e.State(ctx)
	if len(st.Bids) != 0 || len(st.Asks) != 0 {
		t.Fatalf("book not advanced after sink failure")
	}
}

func TestEngineMatchUntilQuiet(t *testing.T) {
	e := startEngine(t, Config{MaxTrades: 2})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		e.Place(ctx, SideBuy, newTestInput(1, 100, 1))
		e.Place(ctx, SideSell, newTestInput(2, 100, 1))
	}
	trades, err := e.MatchUntilQuiet(ctx, 10)
	if err != nil {
		t.Fatalf("match until quiet: %v", err)
	}
	if len(trades) != 5 {
		t.Fatalf("expected 5 trades across rounds, got %d", len(trades))
	}

	trades, _ = e.MatchUntilQuiet(ctx, 10)
	if len(trades) != 0 {
		t.Fatalf("expected quiet book")
	}
}

func TestEngineMatchResultIsPrivateCopy(t *testing.T) {
	e := startEngine(t, Config{})
	ctx := context.Background()
	e.Place(ctx, SideBuy, newTestInput(1, 100, 1))

	res, _ := e.Match(ctx)
	res.Book.Insert(SideBuy, newTestInput(1, 100, 1))

	st, _ := e.State(ctx)
	if len(st.Bids) != 1 {
		t.Fatalf("caller mutation leaked into engine book")
	}
}

func TestEngineWithRestoredBook(t *testing.T) {
	ob := NewOrderBookSize(2)
	ob.Insert(SideSell, newTestInput(1, 100, 1))
	ob.Insert(SideSell, newTestInput(1, 101, 1))

	e := startEngine(t, Config{Capacity: 10}, WithBook(ob))
	_, ok, err := e.Place(context.Background(), SideSell, newTestInput(1, 102, 1))
	if err != nil || ok {
		t.Fatalf("expected full side from restored book, ok=%v err=%v", ok, err)
	}
}

func TestEngineAutoMatch(t *testing.T) {
	sink := &recordingSink{}
	e := startEngine(t, Config{MatchInterval: 5 * time.Millisecond}, WithTradeSinks(sink))
	ctx := context.Background()
	e.Place(ctx, SideBuy, newTestInput(1, 100, 1))
	e.Place(ctx, SideSell, newTestInput(2, 99, 1))

	deadline := time.After(2 * time.Second)
	for {
		st, _ := e.State(ctx)
		if len(st.Bids) == 0 && len(st.Asks) == 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("auto match never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestEngineStopped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := NewEngine(1, Config{})
	go e.Run(ctx)
	cancel()
	<-e.Done()

	if _, _, err := e.Place(context.Background(), SideBuy, newTestInput(1, 1, 1)); !errors.Is(err, ErrEngineStopped) {
		t.Fatalf("expected ErrEngineStopped, got %v", err)
	}
}

func TestEngineContextCancelled(t *testing.T) {
	e := NewEngine(1, Config{}) // never started
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := e.Match(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

// stepLog records saver and sink calls in the order they happen.
type stepLog struct {
	mu    sync.Mutex
	steps []string
}

func (l *stepLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = append(l.steps, s)
}

func (l *stepLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.steps...)
}

type loggingSink struct{ log *stepLog }

func (s loggingSink) PersistTrades(context.Context, uint64, []Trade) error {
	s.log.add("sink")
	return nil
}

type loggingSaver struct{ log *stepLog }

func (s loggingSaver) SaveBook(uint64, BookState) error {
	s.log.add("save")
	return nil
}

type committingSaver struct {
	log    *stepLog
	err    error
	rounds []int // trade count per commit
	books  []BookState
}

func (s *committingSaver) SaveBook(uint64, BookState) error {
	s.log.add("save")
	return nil
}

func (s *committingSaver) CommitMatch(_, _ uint64, st BookState, trades []Trade) error {
	s.log.add("commit")
	if s.err != nil {
		return s.err
	}
	s.rounds = append(s.rounds, len(trades))
	s.books = append(s.books, st)
	return nil
}

func TestEngineSinksRunBeforeBookIsSaved(t *testing.T) {
	steps := &stepLog{}
	e := startEngine(t, Config{}, WithTradeSinks(loggingSink{steps}), WithBookSaver(loggingSaver{steps}))
	ctx := context.Background()
	e.Place(ctx, SideBuy, newTestInput(1, 100, 1))
	e.Place(ctx, SideSell, newTestInput(2, 100, 1))
	e.Match(ctx)

	got := steps.list()
	want := []string{"save", "save", "sink", "save"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestEngineCommitsMatchAtomically(t *testing.T) {
	steps := &stepLog{}
	saver := &committingSaver{log: steps}
	e := startEngine(t, Config{}, WithTradeSinks(loggingSink{steps}), WithBookSaver(saver))
	ctx := context.Background()
	e.Place(ctx, SideBuy, newTestInput(1, 100, 2))
	e.Place(ctx, SideSell, newTestInput(2, 100, 1))

	res, err := e.Match(ctx)
	if err != nil || res.TradeCount != 1 {
		t.Fatalf("match: %+v err=%v", res, err)
	}
	got := steps.list()
	if len(got) != 4 || got[2] != "commit" || got[3] != "sink" {
		t.Fatalf("expected commit then sink without a separate save, got %v", got)
	}
	if len(saver.books) != 1 || len(saver.books[0].Asks) != 0 || saver.books[0].Bids[0].Quantity != 1 {
		t.Fatalf("commit did not carry the post-match book: %+v", saver.books)
	}

	// an explicit round without trades still commits its summary
	if _, err := e.Match(ctx); err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(saver.rounds) != 2 || saver.rounds[1] != 0 {
		t.Fatalf("expected empty round to commit, got %v", saver.rounds)
	}
}

func TestEngineDiscardsRoundWhenCommitFails(t *testing.T) {
	steps := &stepLog{}
	saver := &committingSaver{log: steps, err: errors.New("disk full")}
	e := startEngine(t, Config{}, WithTradeSinks(loggingSink{steps}), WithBookSaver(saver))
	ctx := context.Background()
	e.Place(ctx, SideBuy, newTestInput(1, 100, 1))
	e.Place(ctx, SideSell, newTestInput(2, 100, 1))

	res, err := e.Match(ctx)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if res.TradeCount != 0 || len(res.Trades) != 0 {
		t.Fatalf("expected discarded round, got %+v", res.Trades)
	}
	st, _ := e.State(ctx)
	if len(st.Bids) != 1 || len(st.Asks) != 1 {
		t.Fatalf("book advanced although commit failed: %+v", st)
	}
	for _, s := range steps.list() {
		if s == "sink" {
			t.Fatalf("sinks saw trades of an uncommitted round: %v", steps.list())
		}
	}
}

func TestEngineAutoMatchSkipsEmptyCommits(t *testing.T) {
	saver := &committingSaver{log: &stepLog{}}
	e := startEngine(t, Config{MatchInterval: time.Millisecond}, WithBookSaver(saver))
	e.Place(context.Background(), SideBuy, newTestInput(1, 100, 1))

	time.Sleep(20 * time.Millisecond)
	if _, err := e.State(context.Background()); err != nil {
		t.Fatalf("state: %v", err)
	}
	for _, s := range saver.log.list() {
		if s == "commit" {
			t.Fatalf("idle auto match committed a round")
		}
	}
}
