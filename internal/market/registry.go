// Package market keeps the set of trading pairs and the engine serving each
// one. It is also where submissions are validated before they reach a book.
package market

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/hakimelghazi/confidential-book/internal/engine"
	"github.com/hakimelghazi/confidential-book/internal/event"
	"github.com/hakimelghazi/confidential-book/internal/metrics"
)

var (
	ErrPairNotFound    = errors.New("trading pair not found")
	ErrPairExists      = errors.New("trading pair already exists")
	ErrPairInactive    = errors.New("trading pair is inactive")
	ErrInvalidPrice    = errors.New("invalid price")
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrBookFull        = errors.New("order book side is full")
)

type Pair struct {
	ID          uint64 `json:"id"`
	Base        string `json:"base"`
	Quote       string `json:"quote"`
	Active      bool   `json:"active"`
	TotalOrders uint64 `json:"total_orders"`
}

// BookLoader returns the last saved book of a pair, if any.
type BookLoader interface {
	LoadBook(pairID uint64) (engine.BookState, bool, error)
}

type Option func(*Registry)

func WithLoader(l BookLoader) Option {
	return func(r *Registry) { r.loader = l }
}

// WithEngineOptions applies opts to every engine the registry creates.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(r *Registry) { r.engineOpts = append(r.engineOpts, opts...) }
}

// WithStatusHook is called whenever a pair is added or changes active state.
func WithStatusHook(fn func(Pair)) Option {
	return func(r *Registry) { r.onStatus = fn }
}

// EventLog durably queues registry events for publication.
type EventLog interface {
	Enqueue(events ...event.Event) error
}

// WithEvents records pair and submission events in log. Failures are logged.
func WithEvents(l EventLog) Option {
	return func(r *Registry) { r.events = l }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

type entry struct {
	pair Pair
	eng  *engine.Engine
}

type Registry struct {
	mu    sync.RWMutex
	pairs map[uint64]*entry
	wg    sync.WaitGroup

	cfg        engine.Config
	engineOpts []engine.Option
	loader     BookLoader
	onStatus   func(Pair)
	events     EventLog
	now        func() time.Time
}

func NewRegistry(cfg engine.Config, opts ...Option) *Registry {
	r := &Registry{
		pairs: make(map[uint64]*entry),
		cfg:   cfg,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add registers a pair and starts its engine; the engine stops with ctx.
// A saved book for the pair, if present, is restored first. Loading runs
// outside the registry lock so other pairs keep trading meanwhile.
func (r *Registry) Add(ctx context.Context, p Pair) (Pair, error) {
	if _, err := r.get(p.ID); err == nil {
		return Pair{}, fmt.Errorf("pair %d: %w", p.ID, ErrPairExists)
	}

	opts := append([]engine.Option(nil), r.engineOpts...)
	if r.loader != nil {
		st, ok, err := r.loader.LoadBook(p.ID)
		if err != nil {
			return Pair{}, fmt.Errorf("load book for pair %d: %w", p.ID, err)
		}
		if ok {
			book, err := engine.RestoreBook(st)
			if err != nil {
				return Pair{}, fmt.Errorf("restore book for pair %d: %w", p.ID, err)
			}
			log.Printf("[market] pair %d: restored %d bids, %d asks", p.ID, book.BuyCount(), book.SellCount())
			opts = append(opts, engine.WithBook(book))
		}
	}

	r.mu.Lock()
	if _, ok := r.pairs[p.ID]; ok {
		r.mu.Unlock()
		return Pair{}, fmt.Errorf("pair %d: %w", p.ID, ErrPairExists)
	}
	eng := engine.NewEngine(p.ID, r.cfg, opts...)
	r.pairs[p.ID] = &entry{pair: p, eng: eng}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		eng.Run(ctx)
	}()
	r.mu.Unlock()

	r.emit(event.PairInitialized(p.ID, p.Base, p.Quote, p.Active, r.timestamp()))
	r.notify(p)
	return p, nil
}

func (r *Registry) emit(ev event.Event) {
	if r.events == nil {
		return
	}
	if err := r.events.Enqueue(ev); err != nil {
		log.Printf("[market] pair %d: enqueue %s failed: %v", ev.PairID, ev.Kind, err)
	}
}

func (r *Registry) timestamp() uint64 {
	return uint64(r.now().Unix())
}

// Wait blocks until every engine has stopped.
func (r *Registry) Wait() {
	r.wg.Wait()
}

func (r *Registry) notify(p Pair) {
	if r.onStatus != nil {
		r.onStatus(p)
	}
}

func (r *Registry) get(id uint64) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.pairs[id]
	if !ok {
		return nil, fmt.Errorf("pair %d: %w", id, ErrPairNotFound)
	}
	return e, nil
}

func (r *Registry) activeEngine(id uint64) (*engine.Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.pairs[id]
	if !ok {
		return nil, fmt.Errorf("pair %d: %w", id, ErrPairNotFound)
	}
	if !e.pair.Active {
		return nil, fmt.Errorf("pair %d: %w", id, ErrPairInactive)
	}
	return e.eng, nil
}

func (r *Registry) Pair(id uint64) (Pair, error) {
	e, err := r.get(id)
	if err != nil {
		return Pair{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return e.pair, nil
}

func (r *Registry) Pairs() []Pair {
	r.mu.RLock()
	out := make([]Pair, 0, len(r.pairs))
	for _, e := range r.pairs {
		out = append(out, e.pair)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) SetActive(id uint64, active bool) error {
	r.mu.Lock()
	e, ok := r.pairs[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("pair %d: %w", id, ErrPairNotFound)
	}
	e.pair.Active = active
	p := e.pair
	r.mu.Unlock()

	log.Printf("[market] pair %d: active=%v", id, active)
	r.notify(p)
	return nil
}

// Submit validates an order and rests it on the pair's book.
func (r *Registry) Submit(
	ctx context.Context,
	pairID uint64,
	side engine.Side,
	price, quantity uint64,
	trader engine.TraderID,
) (engine.OrderID, error) {
	if price == 0 {
		return engine.OrderID{}, ErrInvalidPrice
	}
	if quantity == 0 {
		return engine.OrderID{}, ErrInvalidQuantity
	}
	side, err := engine.ParseSide(string(side))
	if err != nil {
		return engine.OrderID{}, err
	}

	eng, err := r.activeEngine(pairID)
	if err != nil {
		return engine.OrderID{}, err
	}

	id, ok, err := eng.Place(ctx, side, engine.OrderInput{
		Price:    price,
		Quantity: quantity,
		TraderID: trader,
	})
	if err != nil {
		return engine.OrderID{}, fmt.Errorf("place on pair %d: %w", pairID, err)
	}

	label := strconv.FormatUint(pairID, 10)
	if !ok {
		metrics.OrdersTotal.WithLabelValues(label, string(side), "rejected").Inc()
		return engine.OrderID{}, fmt.Errorf("pair %d %s: %w", pairID, side, ErrBookFull)
	}
	metrics.OrdersTotal.WithLabelValues(label, string(side), "accepted").Inc()

	var total uint64
	r.mu.Lock()
	if e, ok := r.pairs[pairID]; ok {
		e.pair.TotalOrders++
		total = e.pair.TotalOrders
	}
	r.mu.Unlock()

	r.emit(event.OrderSubmitted(pairID, total, r.timestamp()))
	return id, nil
}

// Cancel is allowed on inactive pairs so traders can always withdraw.
func (r *Registry) Cancel(ctx context.Context, pairID uint64, id engine.OrderID, trader engine.TraderID) (bool, error) {
	e, err := r.get(pairID)
	if err != nil {
		return false, err
	}
	ok, err := e.eng.Cancel(ctx, id, trader)
	if err != nil {
		return false, fmt.Errorf("cancel on pair %d: %w", pairID, err)
	}
	result := "not_found"
	if ok {
		result = "cancelled"
	}
	metrics.CancelsTotal.WithLabelValues(strconv.FormatUint(pairID, 10), result).Inc()
	return ok, nil
}

func (r *Registry) Match(ctx context.Context, pairID uint64) (*engine.MatchResult, error) {
	eng, err := r.activeEngine(pairID)
	if err != nil {
		return nil, err
	}
	res, err := eng.Match(ctx)
	if err != nil {
		return nil, fmt.Errorf("match on pair %d: %w", pairID, err)
	}
	metrics.MatchRunsTotal.WithLabelValues(strconv.FormatUint(pairID, 10)).Inc()
	return res, nil
}

func (r *Registry) Orders(ctx context.Context, pairID uint64, trader engine.TraderID) ([]engine.Order, error) {
	e, err := r.get(pairID)
	if err != nil {
		return nil, err
	}
	return e.eng.Orders(ctx, trader)
}
