package netfetch

// ABuffer is an exclusively-owned byte buffer passed between a producer
// and a consumer over a bufxchange queue. At any instant it belongs to
// exactly one side: the producer (a NetFetch implementation) allocates or
// recycles one, fills it, sets Bytes, and hands it off; the consumer reads
// through ConsumeOffset, which is private to the consumer and reset to
// zero whenever a fresh buffer is taken off the queue.
//
// A zero-byte buffer (Bytes == 0) is the end-of-stream marker.
type ABuffer struct {
	Data          []byte
	Bytes         int // useful bytes, set by the producer
	ConsumeOffset int // current read offset, owned by the consumer
}

// NewABuffer allocates a buffer with the given capacity.
func NewABuffer(capacity int) *ABuffer {
	return &ABuffer{Data: make([]byte, capacity)}
}

// Reserve grows the buffer's capacity if needed, preserving its contents.
func (b *ABuffer) Reserve(minBytes int) {
	if cap(b.Data) >= minBytes {
		return
	}
	grown := make([]byte, minBytes)
	copy(grown, b.Data)
	b.Data = grown
}

// Append copies data onto the end of the buffer's used region, growing as
// needed. Intended for small amounts of header-sniffing data, not bulk
// transfer.
func (b *ABuffer) Append(data []byte) {
	needed := b.Bytes + len(data)
	if cap(b.Data) < needed {
		b.Reserve(2 * needed)
	}
	if len(b.Data) < needed {
		b.Data = b.Data[:needed]
	}
	copy(b.Data[b.Bytes:needed], data)
	b.Bytes = needed
}

// Remaining reports how many unconsumed bytes are left for the consumer.
func (b *ABuffer) Remaining() int {
	return b.Bytes - b.ConsumeOffset
}

// EOS reports whether this buffer is the zero-byte end-of-stream marker.
func (b *ABuffer) EOS() bool {
	return b.Bytes == 0
}
