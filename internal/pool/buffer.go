package pool

// Buffer is one pool slot. Its contents are valid only while reserved; the
// pool clears it on release.
type Buffer struct {
	owner    *Pool
	data     []byte
	reserved bool
}

// Load copies p into the buffer, replacing earlier contents. Payloads larger
// than the slot grow it once; the larger backing array is kept for reuse.
func (b *Buffer) Load(p []byte) {
	b.data = append(b.data[:0], p...)
}

// Bytes returns the buffer contents. The slice aliases pool memory and must
// not be retained after the buffer is released.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the number of bytes loaded.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Cap returns the slot capacity in bytes.
func (b *Buffer) Cap() int {
	return cap(b.data)
}

// Reset empties the buffer and keeps its capacity.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
}

// Reserved reports whether the buffer is currently owned by a caller.
func (b *Buffer) Reserved() bool {
	return b.reserved
}
