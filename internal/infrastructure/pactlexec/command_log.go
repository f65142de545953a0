package pactlexec

import "sync"

const commandLogSize = 200

// commandLog is a thread-safe circular buffer of recent invocations with O(1)
// append and O(N) read.
type commandLog struct {
	entries [commandLogSize]Invocation
	head    int // next write position
	size    int
	mu      sync.RWMutex
}

// Append adds an entry, overwriting the oldest once full.
func (b *commandLog) Append(entry Invocation) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = entry
	b.head = (b.head + 1) % commandLogSize
	if b.size < commandLogSize {
		b.size++
	}
}

// Read returns the last n entries, newest first, in a new slice.
// n <= 0 or n > capacity returns everything available.
func (b *commandLog) Read(n int) []Invocation {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return nil
	}
	if n <= 0 || n > b.size {
		n = b.size
	}

	out := make([]Invocation, n)
	newest := (b.head - 1 + commandLogSize) % commandLogSize
	for i := 0; i < n; i++ {
		out[i] = b.entries[(newest-i+commandLogSize)%commandLogSize]
	}
	return out
}
