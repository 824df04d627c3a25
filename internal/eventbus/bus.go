package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var (
	eventsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "events_processed_total",
		Help: "Events successfully enqueued onto the learning event bus.",
	}, []string{"event_type", "env", "cluster"})

	eventsDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "events_dropped_total",
		Help: "Events dropped because the bus queue was at capacity.",
	}, []string{"event_type", "env", "cluster"})

	queueSizeGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_size",
		Help: "Current number of events resident in the bus queue.",
	}, []string{"event_type", "env", "cluster"})

	queueUtilizationGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_utilization",
		Help: "Fraction of queue capacity currently in use.",
	}, []string{"event_type", "env", "cluster"})

	queueAgeGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_age_seconds",
		Help: "Age in seconds of the oldest event resident in the bus queue.",
	}, []string{"event_type", "env", "cluster"})
)

func init() {
	prometheus.MustRegister(eventsProcessedTotal, eventsDroppedTotal, queueSizeGauge, queueUtilizationGauge, queueAgeGauge)
}

// Bus is a bounded, in-memory FIFO queue of Events backed by a
// daily-rotated WAL. emit is non-blocking beyond the WAL append;
// consume suspends the caller until a batch is available or the
// timeout elapses.
type Bus struct {
	mu       sync.Mutex
	queue    []Event
	capacity int
	notify   chan struct{}

	wal       *wal
	log       zerolog.Logger
	clusterID string
}

func NewBus(cfg Config, clusterID string, log zerolog.Logger) *Bus {
	return &Bus{
		queue:     make([]Event, 0, cfg.QueueCapacity),
		capacity:  cfg.QueueCapacity,
		notify:    make(chan struct{}, 1),
		wal:       newWAL(cfg),
		log:       log,
		clusterID: clusterID,
	}
}

// Emit enqueues an event, non-blocking. On overflow it drops the
// incoming event (drop-newest), incrementing events_dropped_total and
// logging a warning; this is not an error. A successfully-enqueued
// event is appended to the WAL before Emit returns; a WAL write
// failure is logged and counted but does not fail Emit, while a WAL
// rotation failure does.
func (b *Bus) Emit(ctx context.Context, e Event) error {
	labels := prometheus.Labels{"event_type": string(topicFor(e.EventID)), "env": e.Env, "cluster": b.clusterID}

	b.mu.Lock()
	if len(b.queue) >= b.capacity {
		b.mu.Unlock()
		eventsDroppedTotal.With(labels).Inc()
		b.log.Warn().Str("event_id", e.EventID).Str("env", e.Env).Msg("event bus queue full, dropping newest event")
		return nil
	}

	if err := b.wal.rotate(); err != nil {
		b.mu.Unlock()
		return err
	}
	if err := b.wal.writeLine(e); err != nil {
		b.log.Warn().Err(err).Str("event_id", e.EventID).Msg("wal write failed, event still enqueued")
	}

	b.queue = append(b.queue, e)
	qlen := len(b.queue)
	oldestAge := timeNow().Unix() - b.queue[0].FirstSeenUTC
	b.mu.Unlock()

	if oldestAge < 0 {
		oldestAge = 0
	}

	eventsProcessedTotal.With(labels).Inc()
	queueSizeGauge.With(labels).Set(float64(qlen))
	queueUtilizationGauge.With(labels).Set(float64(qlen) / float64(b.capacity))
	queueAgeGauge.With(labels).Set(float64(oldestAge))

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

// Consume drains up to batchSize events across topics, waiting up to
// timeout for at least one event to arrive if the queue is currently
// empty. A timeout with zero events drained is not an error.
func (b *Bus) Consume(ctx context.Context, batchSize int, timeout time.Duration) (Batch, error) {
	deadline := timeNow().Add(timeout)

	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			n := batchSize
			if n > len(b.queue) {
				n = len(b.queue)
			}
			drained := b.queue[:n]
			b.queue = b.queue[n:]
			b.mu.Unlock()

			batch := splitByTopic(drained)
			return batch, nil
		}
		b.mu.Unlock()

		remaining := deadline.Sub(timeNow())
		if remaining <= 0 {
			return Batch{}, nil
		}

		select {
		case <-ctx.Done():
			return Batch{}, ctx.Err()
		case <-b.notify:
			continue
		case <-time.After(remaining):
			return Batch{}, nil
		}
	}
}

func splitByTopic(events []Event) Batch {
	var b Batch
	for _, e := range events {
		switch topicFor(e.EventID) {
		case TopicPromotion:
			b.Promotion = append(b.Promotion, e)
		case TopicFederation:
			b.Federation = append(b.Federation, e)
		default:
			b.Learning = append(b.Learning, e)
		}
	}
	return b
}

// QueueAgeSeconds returns the age of the oldest resident event
// (by FirstSeenUTC), or 0 if the queue is empty.
func (b *Bus) QueueAgeSeconds() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return 0
	}
	oldest := b.queue[0].FirstSeenUTC
	age := timeNow().Unix() - oldest
	if age < 0 {
		age = 0
	}
	return float64(age)
}

// Size reports the current in-memory queue length.
func (b *Bus) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *Bus) Close() error {
	return b.wal.close()
}
