package jpegx

import (
	"bufio"
	"errors"
	"io"
)

// BitReader reads entropy-coded data, removing byte stuffing.
//
// When a marker terminates the entropy-coded segment, the marker code is
// remembered and zero bits are supplied from then on, like libjpeg does for
// corrupt or truncated scans.
type BitReader struct {
	r      *bufio.Reader
	acc    uint32 // pending bits, most significant first
	nBits  uint32
	marker byte
}

// NewBitReader returns a reader positioned at the start of scan data.
func NewBitReader(r *bufio.Reader) *BitReader {
	return &BitReader{r: r}
}

func (b *BitReader) nextByte() (byte, error) {
	if b.marker != 0 {
		return 0, nil
	}
	c, err := b.r.ReadByte()
	if err != nil {
		return 0, unexpectedEOF(err)
	}
	if c != 0xff {
		return c, nil
	}
	for {
		n, err := b.r.ReadByte()
		if err != nil {
			return 0, unexpectedEOF(err)
		}
		switch n {
		case 0x00:
			return 0xff, nil
		case 0xff:
			// Fill byte.
			continue
		default:
			b.marker = n
			return 0, nil
		}
	}
}

func (b *BitReader) fill() error {
	for b.nBits <= 24 {
		c, err := b.nextByte()
		if err != nil {
			return err
		}
		b.acc |= uint32(c) << (24 - b.nBits)
		b.nBits += 8
	}
	return nil
}

// ReadBits consumes n bits, n must not exceed 16.
func (b *BitReader) ReadBits(n uint32) (uint32, error) {
	if n == 0 {
		return 0, nil
	}
	if b.nBits < n {
		if err := b.fill(); err != nil {
			return 0, err
		}
	}
	v := b.acc >> (32 - n)
	b.acc <<= n
	b.nBits -= n
	return v, nil
}

// ReceiveExtend reads size bits and extends them to a signed value.
func (b *BitReader) ReceiveExtend(size uint32) (int32, error) {
	if size > 16 {
		return 0, errors.New("coefficient magnitude category too large")
	}
	v, err := b.ReadBits(size)
	if err != nil {
		return 0, err
	}
	return Extend(v, size), nil
}

// Marker returns the marker that terminated the entropy-coded segment,
// or 0 if none was seen yet.
func (b *BitReader) Marker() byte {
	return b.marker
}

// Align discards buffered bits and returns the marker following the
// entropy-coded segment, reading it from the stream if it was not reached yet.
func (b *BitReader) Align() (byte, error) {
	b.acc, b.nBits = 0, 0
	if b.marker != 0 {
		m := b.marker
		b.marker = 0
		return m, nil
	}
	return ReadMarker(b.r)
}

// ReadMarker skips to the next marker and returns its code.
func ReadMarker(br *bufio.Reader) (byte, error) {
	for {
		c, err := br.ReadByte()
		if err != nil {
			return 0, unexpectedEOF(err)
		}
		if c != 0xff {
			continue
		}
		for {
			m, err := br.ReadByte()
			if err != nil {
				return 0, unexpectedEOF(err)
			}
			if m == 0x00 {
				break
			}
			if m != 0xff {
				return m, nil
			}
		}
	}
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
