// Per-channel outbound batching. Flushing is tick-driven (debounce measured
// in ticks), keeping the core deterministic and reproducible in tests.
package wire

// Batching defaults.
const (
	DefaultMaxBatch      = 10
	DefaultDebounceTicks = 3
)

// Sink receives flushed messages. A queue holding a single message at flush
// time goes out unbatched via Send; larger queues go out via SendBatch.
type Sink interface {
	Send(channel string, frame []byte) error
	SendBatch(channel string, frames [][]byte) error
}

type channelQueue struct {
	frames    [][]byte
	firstTick uint64
}

// Batcher queues outbound frames per channel and flushes when a queue
// reaches the maximum batch size (immediately) or its debounce interval
// elapses (on the tick).
type Batcher struct {
	maxBatch      int
	debounceTicks uint64
	sink          Sink
	queues        map[string]*channelQueue
}

// NewBatcher creates a batcher with the given limits. Zero values fall back
// to the defaults.
func NewBatcher(sink Sink, maxBatch int, debounceTicks uint64) *Batcher {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	if debounceTicks == 0 {
		debounceTicks = DefaultDebounceTicks
	}
	return &Batcher{
		maxBatch:      maxBatch,
		debounceTicks: debounceTicks,
		sink:          sink,
		queues:        make(map[string]*channelQueue),
	}
}

// Enqueue queues a frame for a channel, flushing immediately when the queue
// reaches the maximum batch size.
func (b *Batcher) Enqueue(channel string, data []byte, tick uint64) error {
	q, ok := b.queues[channel]
	if !ok {
		q = &channelQueue{firstTick: tick}
		b.queues[channel] = q
	}
	if len(q.frames) == 0 {
		q.firstTick = tick
	}
	q.frames = append(q.frames, data)

	if len(q.frames) >= b.maxBatch {
		return b.flush(channel, q)
	}
	return nil
}

// Tick flushes every queue whose debounce interval has elapsed.
func (b *Batcher) Tick(tick uint64) error {
	for channel, q := range b.queues {
		if len(q.frames) == 0 {
			continue
		}
		if tick-q.firstTick >= b.debounceTicks {
			if err := b.flush(channel, q); err != nil {
				return err
			}
		}
	}
	return nil
}

// FlushAll drains every non-empty queue regardless of debounce.
func (b *Batcher) FlushAll() error {
	for channel, q := range b.queues {
		if len(q.frames) == 0 {
			continue
		}
		if err := b.flush(channel, q); err != nil {
			return err
		}
	}
	return nil
}

// Pending reports the queued frame count for a channel.
func (b *Batcher) Pending(channel string) int {
	if q, ok := b.queues[channel]; ok {
		return len(q.frames)
	}
	return 0
}

func (b *Batcher) flush(channel string, q *channelQueue) error {
	frames := q.frames
	q.frames = nil

	if len(frames) == 1 {
		return b.sink.Send(channel, frames[0])
	}
	return b.sink.SendBatch(channel, frames)
}
