package audio

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrLateFrame is returned for a frame whose sequence is behind the playout point
	ErrLateFrame = errors.New("frame arrived after its playout point")
	// ErrDuplicateFrame is returned for a sequence number already buffered
	ErrDuplicateFrame = errors.New("duplicate frame")
	// ErrBufferFull is returned when the buffer holds capacity frames
	ErrBufferFull = errors.New("jitter buffer full")
)

// JitterBuffer reorders sequence-numbered frames and releases them in order.
// Frames waiting behind a missing sequence are held until more than depth of
// them queue up, at which point the gap is declared lost.
type JitterBuffer[T any] struct {
	depth    uint64 // frames held behind a gap before it is declared lost
	maxSkew  uint64 // a frame this far ahead resynchronises the buffer
	capacity int

	started bool
	nextSeq uint64       // next sequence to release
	pending map[uint64]T // out-of-order frames keyed by sequence
	ready   []T          // in-order frames waiting to be popped

	received  uint64
	delivered uint64
	late      uint64
	duplicate uint64
	overflow  uint64
	lost      uint64
	resyncs   uint64
	flushed   uint64

	lastUpdate time.Time

	mu sync.Mutex
}

// JitterStats represents buffer statistics for monitoring
type JitterStats struct {
	Received  uint64  `json:"received"`
	Delivered uint64  `json:"delivered"`
	Late      uint64  `json:"late"`
	Duplicate uint64  `json:"duplicate"`
	Overflow  uint64  `json:"overflow"`
	Lost      uint64  `json:"lost"`
	Resyncs   uint64  `json:"resyncs"`
	Flushed   uint64  `json:"flushed"`
	Pending   int     `json:"pending"`
	Ready     int     `json:"ready"`
	NextSeq   uint64  `json:"next_sequence"`
	LossRate  float64 `json:"loss_rate"`
}

// NewJitterBuffer creates a buffer. depth must be at least 1 and maxSkew
// greater than depth; invalid values are raised to the nearest valid ones.
func NewJitterBuffer[T any](depth, maxSkew, capacity int) *JitterBuffer[T] {
	if depth < 1 {
		depth = 1
	}
	if maxSkew <= depth {
		maxSkew = depth + 1
	}
	if capacity < maxSkew {
		capacity = maxSkew
	}

	return &JitterBuffer[T]{
		depth:      uint64(depth),
		maxSkew:    uint64(maxSkew),
		capacity:   capacity,
		pending:    make(map[uint64]T),
		lastUpdate: time.Now(),
	}
}

// Push adds a frame. It returns how many sequence numbers were declared lost
// as a consequence, and an error when the frame itself was refused.
func (b *JitterBuffer[T]) Push(seq uint64, item T) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastUpdate = time.Now()

	if !b.started {
		b.started = true
		b.nextSeq = seq
	}

	if seq < b.nextSeq {
		b.late++
		return 0, ErrLateFrame
	}

	if _, exists := b.pending[seq]; exists {
		b.duplicate++
		return 0, ErrDuplicateFrame
	}

	if len(b.pending)+len(b.ready) >= b.capacity {
		b.overflow++
		return 0, ErrBufferFull
	}

	b.received++
	lostBefore := b.lost

	if seq-b.nextSeq >= b.maxSkew {
		b.resync(seq)
	}

	b.pending[seq] = item
	b.advance()

	return int(b.lost - lostBefore), nil
}

// resync releases everything held, counts the skipped range as lost and
// moves the playout point to seq. Caller must hold the lock.
func (b *JitterBuffer[T]) resync(seq uint64) {
	b.resyncs++

	// every pending frame lies in [nextSeq, seq) because it was accepted
	// within maxSkew of nextSeq
	keys := b.sortedPending()
	for _, k := range keys {
		b.ready = append(b.ready, b.pending[k])
		delete(b.pending, k)
	}

	b.lost += (seq - b.nextSeq) - uint64(len(keys))
	b.nextSeq = seq
}

// advance moves in-order frames to the ready queue. Caller must hold the lock.
func (b *JitterBuffer[T]) advance() {
	for {
		if item, ok := b.pending[b.nextSeq]; ok {
			b.ready = append(b.ready, item)
			delete(b.pending, b.nextSeq)
			b.nextSeq++
			continue
		}

		if uint64(len(b.pending)) <= b.depth {
			return
		}

		// too many frames waiting: give up on the gap
		lowest := b.sortedPending()[0]
		b.lost += lowest - b.nextSeq
		b.nextSeq = lowest
	}
}

func (b *JitterBuffer[T]) sortedPending() []uint64 {
	keys := make([]uint64, 0, len(b.pending))
	for k := range b.pending {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Pop returns the next in-order frame, if any
func (b *JitterBuffer[T]) Pop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	if len(b.ready) == 0 {
		return zero, false
	}

	item := b.ready[0]
	b.ready[0] = zero
	b.ready = b.ready[1:]
	b.delivered++

	return item, true
}

// Ready returns the number of frames that can be popped without waiting
func (b *JitterBuffer[T]) Ready() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ready)
}

// Flush discards every queued frame and returns how many were removed.
// The playout point moves past the highest discarded sequence.
func (b *JitterBuffer[T]) Flush() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.ready) + len(b.pending)
	for k := range b.pending {
		if k >= b.nextSeq {
			b.nextSeq = k + 1
		}
		delete(b.pending, k)
	}
	b.ready = nil
	b.flushed += uint64(n)

	return n
}

// GetStats returns current buffer statistics
func (b *JitterBuffer[T]) GetStats() JitterStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	lossRate := float64(0)
	if total := b.received + b.lost; total > 0 {
		lossRate = float64(b.lost) / float64(total) * 100
	}

	return JitterStats{
		Received:  b.received,
		Delivered: b.delivered,
		Late:      b.late,
		Duplicate: b.duplicate,
		Overflow:  b.overflow,
		Lost:      b.lost,
		Resyncs:   b.resyncs,
		Flushed:   b.flushed,
		Pending:   len(b.pending),
		Ready:     len(b.ready),
		NextSeq:   b.nextSeq,
		LossRate:  lossRate,
	}
}

// GetLastUpdate returns the time of the last push
func (b *JitterBuffer[T]) GetLastUpdate() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUpdate
}
