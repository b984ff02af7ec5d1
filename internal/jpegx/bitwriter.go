package jpegx

import "bufio"

// BitWriter accumulates entropy-coded bits and writes them with byte
// stuffing. The first write error is kept and later writes become no-ops.
type BitWriter struct {
	w   *bufio.Writer
	acc uint64 // the low n bits are pending output
	n   uint32
	err error
}

// NewBitWriter wraps w.
func NewBitWriter(w *bufio.Writer) *BitWriter {
	return &BitWriter{w: w}
}

// put writes one byte of entropy-coded data, a 0xFF is followed by a zero
// byte so that it is not mistaken for a marker.
func (b *BitWriter) put(c byte) {
	if b.err != nil {
		return
	}
	if b.err = b.w.WriteByte(c); b.err == nil && c == 0xff {
		b.err = b.w.WriteByte(0)
	}
}

// Emit appends the low size bits of code, most significant first. Size must
// not exceed 32.
func (b *BitWriter) Emit(code, size uint32) {
	b.acc = b.acc<<size | uint64(code)&(1<<size-1)
	b.n += size
	for b.n >= 8 {
		b.n -= 8
		b.put(byte(b.acc >> b.n))
	}
}

// Pad fills the last partial byte with 1 bits.
func (b *BitWriter) Pad() {
	if b.n > 0 {
		b.Emit(0xff, 8-b.n)
	}
	b.acc, b.n = 0, 0
}

// Restart pads the current byte and writes restart marker RSTn.
func (b *BitWriter) Restart(n int) {
	b.Pad()
	if b.err != nil {
		return
	}
	if b.err = b.w.WriteByte(0xff); b.err == nil {
		b.err = b.w.WriteByte(RST0 + byte(n&7))
	}
}

// Err returns the first write error.
func (b *BitWriter) Err() error {
	return b.err
}
