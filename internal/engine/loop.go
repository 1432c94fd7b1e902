// internal/engine/loop.go
package engine

import (
	"context"
	"errors"
	"log"
	"time"
)

var ErrEngineStopped = errors.New("engine stopped")

// TradeSink receives every non-empty batch of trades before the book that
// consumed them is saved. Failures are logged and never roll the book back.
type TradeSink interface {
	PersistTrades(ctx context.Context, pairID uint64, trades []Trade) error
}

// BookSaver receives the book state after each change.
type BookSaver interface {
	SaveBook(pairID uint64, st BookState) error
}

// MatchCommitter is a BookSaver that can store a matching round's trades and
// the book they produced in one atomic write. When the saver implements it,
// a round that fails to commit is discarded and the book stays as it was.
type MatchCommitter interface {
	CommitMatch(pairID, ts uint64, st BookState, trades []Trade) error
}

type Config struct {
	Capacity      int
	MaxTrades     int
	Buffer        int           // command queue length
	MatchInterval time.Duration // 0 disables automatic matching
}

type Option func(*Engine)

func WithTradeSinks(sinks ...TradeSink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, sinks...) }
}

func WithBookSaver(s BookSaver) Option {
	return func(e *Engine) { e.saver = s }
}

// WithBook starts the engine from an existing book, e.g. a restored snapshot.
func WithBook(b *OrderBook) Option {
	return func(e *Engine) { e.book = b }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine owns one pair's book and applies every operation on it from a
// single goroutine, in arrival order.
type Engine struct {
	pairID     uint64
	book       *OrderBook
	matcher    *Matcher
	cmds       chan Command
	done       chan struct{}
	matchEvery time.Duration

	sinks []TradeSink
	saver BookSaver
	now   func() time.Time
}

func NewEngine(pairID uint64, cfg Config, opts ...Option) *Engine {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	e := &Engine{
		pairID:     pairID,
		matcher:    NewMatcher(cfg.MaxTrades),
		cmds:       make(chan Command, cfg.Buffer),
		done:       make(chan struct{}),
		matchEvery: cfg.MatchInterval,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.book == nil {
		e.book = NewOrderBookSize(cfg.Capacity)
	}
	return e
}

func (e *Engine) PairID() uint64 { return e.pairID }

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)

	var tick <-chan time.Time
	if e.matchEvery > 0 {
		t := time.NewTicker(e.matchEvery)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case cmd := <-e.cmds:
			switch cmd.Type {

			case CmdPlace:
				in := cmd.Input
				if in.Timestamp == 0 {
					in.Timestamp = e.timestamp()
				}
				id, ok := e.book.Insert(cmd.Side, in)
				if ok {
					e.save()
				}
				cmd.Resp <- placeReply{ID: id, OK: ok}

			case CmdCancel:
				ok := e.book.Cancel(cmd.ID, cmd.TraderID)
				if ok {
					e.save()
				}
				cmd.Resp <- cancelReply{OK: ok}

			case CmdMatch:
				res := e.match(ctx, true)
				cmd.Resp <- matchReply{Result: res}

			case CmdOrders:
				cmd.Resp <- ordersReply{Orders: e.book.Orders(cmd.TraderID)}

			case CmdState:
				cmd.Resp <- stateReply{State: e.book.State()}
			}

		case <-tick:
			if res := e.match(ctx, false); res.TradeCount > 0 {
				log.Printf("[engine] pair %d: auto match produced %d trades", e.pairID, res.TradeCount)
			}

		case <-ctx.Done():
			return
		}
	}
}

// match runs one matching round, swaps in the post-match book and hands the
// trades to the sinks. Explicit rounds are committed even without trades so
// every requested match leaves a summary. The returned result carries a
// private copy of the book.
func (e *Engine) match(ctx context.Context, explicit bool) *MatchResult {
	ts := e.timestamp()
	res := e.matcher.Match(e.book, ts)

	if c, ok := e.saver.(MatchCommitter); ok && (res.TradeCount > 0 || explicit) {
		if err := c.CommitMatch(e.pairID, ts, res.Book.State(), res.Trades); err != nil {
			log.Printf("[engine] pair %d: commit match failed, round discarded: %v", e.pairID, err)
			return &MatchResult{Trades: []Trade{}, Book: e.book.Clone()}
		}
		e.book = res.Book
		e.publish(ctx, res.Trades)
	} else {
		e.book = res.Book
		if res.TradeCount > 0 {
			// sinks see the trades before the book that consumed them is saved
			e.publish(ctx, res.Trades)
			e.save()
		}
	}

	return &MatchResult{
		Trades:     res.Trades,
		TradeCount: res.TradeCount,
		Book:       res.Book.Clone(),
	}
}

func (e *Engine) publish(ctx context.Context, trades []Trade) {
	if len(trades) == 0 {
		return
	}
	for _, s := range e.sinks {
		if err := s.PersistTrades(ctx, e.pairID, trades); err != nil {
			log.Printf("[engine] pair %d: trade sink %T failed: %v", e.pairID, s, err)
		}
	}
}

func (e *Engine) save() {
	if e.saver == nil {
		return
	}
	if err := e.saver.SaveBook(e.pairID, e.book.State()); err != nil {
		log.Printf("[engine] pair %d: save book failed: %v", e.pairID, err)
	}
}

func (e *Engine) timestamp() uint64 {
	return uint64(e.now().Unix())
}

// do hands cmd to the loop and waits for its reply. A command already queued
// still runs if ctx ends while waiting.
func (e *Engine) do(ctx context.Context, cmd Command) (any, error) {
	cmd.Resp = make(chan any, 1)
	select {
	case e.cmds <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done:
		return nil, ErrEngineStopped
	}
	select {
	case r := <-cmd.Resp:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done:
		return nil, ErrEngineStopped
	}
}

// Place submits an order. A zero Input.Timestamp is stamped with the engine
// clock. ok is false when that side of the book is full.
func (e *Engine) Place(ctx context.Context, side Side, in OrderInput) (OrderID, bool, error) {
	r, err := e.do(ctx, Command{Type: CmdPlace, Side: side, Input: in})
	if err != nil {
		return OrderID{}, false, err
	}
	rep := r.(placeReply)
	return rep.ID, rep.OK, nil
}

func (e *Engine) Cancel(ctx context.Context, id OrderID, trader TraderID) (bool, error) {
	r, err := e.do(ctx, Command{Type: CmdCancel, ID: id, TraderID: trader})
	if err != nil {
		return false, err
	}
	return r.(cancelReply).OK, nil
}

func (e *Engine) Match(ctx context.Context) (*MatchResult, error) {
	r, err := e.do(ctx, Command{Type: CmdMatch})
	if err != nil {
		return nil, err
	}
	return r.(matchReply).Result, nil
}

// MatchUntilQuiet repeats matching until a round yields no trades or
// maxRounds rounds have run, and returns every trade produced.
func (e *Engine) MatchUntilQuiet(ctx context.Context, maxRounds int) ([]Trade, error) {
	all := make([]Trade, 0)
	for round := 0; round < maxRounds; round++ {
		res, err := e.Match(ctx)
		if err != nil {
			return all, err
		}
		if res.TradeCount == 0 {
			break
		}
		all = append(all, res.Trades...)
	}
	return all, nil
}

func (e *Engine) Orders(ctx context.Context, trader TraderID) ([]Order, error) {
	r, err := e.do(ctx, Command{Type: CmdOrders, TraderID: trader})
	if err != nil {
		return nil, err
	}
	return r.(ordersReply).Orders, nil
}

func (e *Engine) State(ctx context.Context) (BookState, error) {
	r, err := e.do(ctx, Command{Type: CmdState})
	if err != nil {
		return BookState{}, err
	}
	return r.(stateReply).State, nil
}
