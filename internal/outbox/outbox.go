package outbox

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/hakimelghazi/confidential-book/internal/engine"
	"github.com/hakimelghazi/confidential-book/internal/event"
)

// -------------------- State --------------------

type State uint8

const (
	StateNew State = iota
	StateSent
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// -------------------- Record --------------------

// Record is one pending event. Acknowledged events are deleted.
type Record struct {
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte // event.Marshal output
}

const recordHeader = 1 + 4 + 8

// binary encoding: [state:1][retries:4][lastAttempt:8][payload...]
func encodeRecord(r Record) []byte {
	buf := make([]byte, recordHeader+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	copy(buf[recordHeader:], r.Payload)
	return buf
}

func decodeRecord(seq uint64, b []byte) (Record, error) {
	if len(b) < recordHeader {
		return Record{}, errors.New("invalid outbox record length")
	}
	return Record{
		Seq:         seq,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     append([]byte(nil), b[recordHeader:]...),
	}, nil
}

// -------------------- Outbox --------------------

// Outbox keeps the last book of every pair and the events still owed to the
// broker in one pebble store, so a restart resumes both.
type Outbox struct {
	db *pebble.DB

	mu  sync.Mutex // serializes seq allocation
	seq uint64
}

var seqKey = []byte("meta/seq")

var _ engine.MatchCommitter = (*Outbox)(nil)

func Open(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	o := &Outbox{db: db}

	val, closer, err := db.Get(seqKey)
	switch {
	case err == nil:
		if len(val) == 8 {
			o.seq = binary.BigEndian.Uint64(val)
		}
		closer.Close()
	case errors.Is(err, pebble.ErrNotFound):
	default:
		db.Close()
		return nil, fmt.Errorf("read outbox seq: %w", err)
	}
	return o, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// LastSeq is the last sequence number handed out.
func (o *Outbox) LastSeq() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.seq
}

// -------------------- Books --------------------

func (o *Outbox) SaveBook(pairID uint64, st engine.BookState) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&st); err != nil {
		return fmt.Errorf("encode book: %w", err)
	}
	return o.db.Set(bookKey(pairID), buf.Bytes(), pebble.Sync)
}

func (o *Outbox) LoadBook(pairID uint64) (engine.BookState, bool, error) {
	val, closer, err := o.db.Get(bookKey(pairID))
	if errors.Is(err, pebble.ErrNotFound) {
		return engine.BookState{}, false, nil
	}
	if err != nil {
		return engine.BookState{}, false, err
	}
	defer closer.Close()

	var st engine.BookState
	if err := gob.NewDecoder(bytes.NewReader(val)).Decode(&st); err != nil {
		return engine.BookState{}, false, fmt.Errorf("decode book %d: %w", pairID, err)
	}
	return st, true, nil
}

// -------------------- Events --------------------

// PersistTrades enqueues one TRADE_EXECUTED event per trade followed by an
// ORDERS_MATCHED summary, atomically.
func (o *Outbox) PersistTrades(_ context.Context, pairID uint64, trades []engine.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	return o.Enqueue(matchEvents(pairID, trades[0].Timestamp, trades)...)
}

// CommitMatch stores a round's events and the post-match book in one batch,
// so a restored book never holds fills whose trades were not recorded. A
// round without trades still records its ORDERS_MATCHED summary.
func (o *Outbox) CommitMatch(pairID, ts uint64, st engine.BookState, trades []engine.Trade) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&st); err != nil {
		return fmt.Errorf("encode book: %w", err)
	}

	return o.commit(matchEvents(pairID, ts, trades), func(b *pebble.Batch) error {
		return b.Set(bookKey(pairID), buf.Bytes(), nil)
	})
}

func matchEvents(pairID, ts uint64, trades []engine.Trade) []event.Event {
	events := make([]event.Event, 0, len(trades)+1)
	for _, t := range trades {
		events = append(events, event.TradeExecuted(pairID, t))
	}
	return append(events, event.OrdersMatched(pairID, len(trades), ts))
}

// Enqueue assigns sequence numbers and stores the events as NEW.
func (o *Outbox) Enqueue(events ...event.Event) error {
	return o.commit(events, nil)
}

func (o *Outbox) commit(events []event.Event, extra func(*pebble.Batch) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	b := o.db.NewBatch()
	defer b.Close()

	if extra != nil {
		if err := extra(b); err != nil {
			return err
		}
	}

	seq := o.seq
	for _, ev := range events {
		seq++
		ev.Seq = seq
		rec := Record{State: StateNew, Payload: event.Marshal(ev)}
		if err := b.Set(eventKey(seq), encodeRecord(rec), nil); err != nil {
			return err
		}
	}
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	if err := b.Set(seqKey, seqBuf[:], nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit events: %w", err)
	}
	o.seq = seq
	return nil
}

// UpdateState records a delivery attempt.
func (o *Outbox) UpdateState(seq uint64, state State, retries uint32) error {
	rec, err := o.Get(seq)
	if err != nil {
		return err
	}
	rec.State = state
	rec.Retries = retries
	rec.LastAttempt = time.Now().UnixNano()
	return o.db.Set(eventKey(seq), encodeRecord(rec), pebble.Sync)
}

// Ack removes a delivered event.
func (o *Outbox) Ack(seq uint64) error {
	return o.db.Delete(eventKey(seq), pebble.Sync)
}

func (o *Outbox) Get(seq uint64) (Record, error) {
	val, closer, err := o.db.Get(eventKey(seq))
	if err != nil {
		return Record{}, err
	}
	defer closer.Close()
	return decodeRecord(seq, val)
}

// ScanPending visits undelivered events in sequence order. SENT events are
// included: a crash between send and ack must lead to a resend.
func (o *Outbox) ScanPending(fn func(rec Record) error) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("event/"),
		UpperBound: []byte("event/~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseEventKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeRecord(seq, iter.Value())
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (o *Outbox) Pending() (int, error) {
	n := 0
	err := o.ScanPending(func(Record) error {
		n++
		return nil
	})
	return n, err
}

// -------------------- Helpers --------------------

func bookKey(pairID uint64) []byte {
	return []byte(fmt.Sprintf("book/%020d", pairID))
}

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("event/%020d", seq))
}

func parseEventKey(b []byte) (uint64, error) {
	var seq uint64
	_, err := fmt.Sscanf(string(bytes.TrimPrefix(b, []byte("event/"))), "%d", &seq)
	return seq, err
}
