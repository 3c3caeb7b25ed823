// Package history keeps the bounded rolling price buffer each instrument
// is scored from.
package history

import "github.com/shopspring/decimal"

// DefaultCapacity is the number of samples kept per instrument.
const DefaultCapacity = 20

// Buffer is a bounded, oldest-first sequence of prices. The newest sample
// is always last. Buffer is not safe for concurrent use; the owner
// serializes access (the engine holds it under the instrument lock).
type Buffer struct {
	capacity int
	samples  []decimal.Decimal
}

// NewBuffer creates a buffer holding at most capacity samples.
// Non-positive capacity falls back to DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity: capacity,
		samples:  make([]decimal.Decimal, 0, capacity),
	}
}

// Record appends price, evicting the oldest sample when full.
func (b *Buffer) Record(price decimal.Decimal) {
	if len(b.samples) == b.capacity {
		copy(b.samples, b.samples[1:])
		b.samples = b.samples[:len(b.samples)-1]
	}
	b.samples = append(b.samples, price)
}

// Snapshot returns a copy of the samples, oldest first.
func (b *Buffer) Snapshot() []decimal.Decimal {
	out := make([]decimal.Decimal, len(b.samples))
	copy(out, b.samples)
	return out
}

// Latest returns the newest sample and false when empty.
func (b *Buffer) Latest() (decimal.Decimal, bool) {
	if len(b.samples) == 0 {
		return decimal.Zero, false
	}
	return b.samples[len(b.samples)-1], true
}

func (b *Buffer) Len() int      { return len(b.samples) }
func (b *Buffer) Capacity() int { return b.capacity }
