package process

// ContextSize is the size of the saved execution context buffer: 31 general
// purpose registers, the stack pointer, link register, program counter and
// processor state word, each 8 bytes wide.
const ContextSize = 35 * 8

// SavedContext is an opaque, fixed-size snapshot of a process's execution
// context.  The scheduler never interprets its contents; the embedding
// runtime captures and restores it on the owning core only.
type SavedContext struct {
	buf [ContextSize]byte
}

// Bytes exposes the backing buffer so the embedder can capture or restore a
// context in place.
func (c *SavedContext) Bytes() []byte {
	return c.buf[:]
}

// Store copies data into the context buffer, truncating at ContextSize.
func (c *SavedContext) Store(data []byte) {
	copy(c.buf[:], data)
}

// Reset zeroes the saved context.
func (c *SavedContext) Reset() {
	c.buf = [ContextSize]byte{}
}
