package broadcaster

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/hakimelghazi/confidential-book/internal/event"
	"github.com/hakimelghazi/confidential-book/internal/metrics"
	"github.com/hakimelghazi/confidential-book/internal/outbox"
)

// Source is the part of the outbox the broadcaster drains.
type Source interface {
	ScanPending(fn func(rec outbox.Record) error) error
	UpdateState(seq uint64, state outbox.State, retries uint32) error
	Ack(seq uint64) error
}

// Publisher hands one event to the broker. The key orders events of a pair.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
}

const DefaultInterval = 250 * time.Millisecond

var errStopPass = errors.New("stop pass")

type Broadcaster struct {
	src      Source
	pub      Publisher
	interval time.Duration
}

func New(src Source, pub Publisher, interval time.Duration) *Broadcaster {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Broadcaster{src: src, pub: pub, interval: interval}
}

// Run drains the outbox on every tick until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) error {
	log.Printf("[broadcaster] started, interval %s", b.interval)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[broadcaster] stopped")
			return nil
		case <-ticker.C:
			if _, err := b.PublishOnce(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[broadcaster] pass failed: %v", err)
			}
		}
	}
}

// PublishOnce sends pending events in sequence order and returns how many
// were acknowledged. The pass stops at the first broker failure so later
// events never overtake an earlier one.
func (b *Broadcaster) PublishOnce(ctx context.Context) (int, error) {
	sent, left := 0, 0
	var failed bool

	err := b.src.ScanPending(func(rec outbox.Record) error {
		if failed {
			left++
			return nil
		}

		ev, err := event.Unmarshal(rec.Payload)
		if err != nil {
			// unreadable records would block the queue forever
			log.Printf("[broadcaster] dropping seq %d: %v", rec.Seq, err)
			metrics.EventsPublishedTotal.WithLabelValues("dropped").Inc()
			return b.src.Ack(rec.Seq)
		}

		if err := b.src.UpdateState(rec.Seq, outbox.StateSent, rec.Retries); err != nil {
			return err
		}

		key := []byte(strconv.FormatUint(ev.PairID, 10))
		if err := b.pub.Publish(ctx, key, rec.Payload); err != nil {
			metrics.EventsPublishedTotal.WithLabelValues("error").Inc()
			log.Printf("[broadcaster] publish seq %d (%s) failed: %v", rec.Seq, ev.Kind, err)
			if uerr := b.src.UpdateState(rec.Seq, outbox.StateFailed, rec.Retries+1); uerr != nil {
				return uerr
			}
			if ctx.Err() != nil {
				return errStopPass
			}
			failed = true
			left++
			return nil
		}

		metrics.EventsPublishedTotal.WithLabelValues("ok").Inc()
		sent++
		return b.src.Ack(rec.Seq)
	})
	if errors.Is(err, errStopPass) {
		err = ctx.Err()
	}
	if err == nil {
		metrics.OutboxPending.Set(float64(left))
	}
	return sent, err
}
