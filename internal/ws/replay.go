package ws

import "sync"

// replayBuffer keeps the most recent content-bearing frames broadcast to a
// room so a client joining (or rejoining after a reconnect) catches up
// without a REST refetch. Oldest frames are discarded once the capacity is
// reached.
type replayBuffer struct {
	mu       sync.Mutex
	frames   [][]byte
	capacity int
}

func newReplayBuffer(capacity int) *replayBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &replayBuffer{capacity: capacity}
}

// Add appends a frame, evicting the oldest when full.
func (b *replayBuffer) Add(frame []byte) {
	cp := make([]byte, len(frame))
	copy(cp, frame)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.frames = append(b.frames, cp)
	if len(b.frames) > b.capacity {
		b.frames = b.frames[len(b.frames)-b.capacity:]
	}
}

// Frames returns the buffered frames in arrival order.
func (b *replayBuffer) Frames() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([][]byte, len(b.frames))
	copy(out, b.frames)
	return out
}

// Len returns the number of buffered frames.
func (b *replayBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}
