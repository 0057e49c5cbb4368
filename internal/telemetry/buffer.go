package telemetry

import "sync"

// Buffer is a bounded ring of the most recent records of one stream. When full,
// appending evicts the oldest record. It is owned by a single consumer; the
// mutex only makes Snapshot safe for readers such as the debug monitor.
type Buffer struct {
	mu      sync.RWMutex
	name    string
	schema  Schema
	records []Record
	start   int
	size    int
	dropped uint64
}

// NewBuffer returns an empty buffer holding at most capacity records.
func NewBuffer(name string, schema Schema, capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		name:    name,
		schema:  schema,
		records: make([]Record, capacity),
	}
}

// Name returns the stream name the buffer was created for.
func (b *Buffer) Name() string { return b.name }

// Schema returns the column layout of the buffered records.
func (b *Buffer) Schema() Schema { return b.schema }

// Capacity returns the maximum number of retained records.
func (b *Buffer) Capacity() int { return len(b.records) }

// Append adds r, evicting the oldest record when the buffer is full.
func (b *Buffer) Append(r Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == len(b.records) {
		b.records[b.start] = r
		b.start = (b.start + 1) % len(b.records)
		b.dropped++
		return
	}
	b.records[(b.start+b.size)%len(b.records)] = r
	b.size++
}

// Len returns the number of retained records.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Evicted returns how many records have been dropped to make room.
func (b *Buffer) Evicted() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Snapshot copies the retained records, oldest first.
func (b *Buffer) Snapshot() []Record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Record, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.records[(b.start+i)%len(b.records)]
	}
	return out
}

// Latest returns the most recently appended record.
func (b *Buffer) Latest() (Record, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.size == 0 {
		return Record{}, false
	}
	return b.records[(b.start+b.size-1)%len(b.records)], true
}
