package jpegx

import (
	"errors"
	"fmt"
)

const maxCodeLength = 16

var (
	errBadHuffmanCode  = errors.New("bad Huffman code")
	errMissingHuffCode = errors.New("symbol missing from Huffman table")
)

// Validate checks that the spec describes a canonical prefix code.
func (s HuffmanSpec) Validate() error {
	total := 0
	code := 0
	for l := 1; l <= maxCodeLength; l++ {
		n := int(s.Count[l-1])
		total += n
		code += n
		if code > 1<<l {
			return fmt.Errorf("too many codes of length %d", l)
		}
		code <<= 1
	}
	if total > 256 {
		return errors.New("too many Huffman values")
	}
	if total != len(s.Value) {
		return fmt.Errorf("huffman value count mismatch: %d codes, %d values", total, len(s.Value))
	}
	return nil
}

// lookupBits is the code length covered by the decoder's lookup table.
const lookupBits = 8

// HuffmanDecoder decodes symbols of a canonical Huffman code as described
// in section F.2.2.3.
type HuffmanDecoder struct {
	// lookup is indexed by the next lookupBits bits of the stream. A non-zero
	// entry holds the code length in the high byte and the symbol in the low byte.
	lookup [1 << lookupBits]uint16

	maxCode [maxCodeLength + 1]int32
	minCode [maxCodeLength + 1]int32
	valPtr  [maxCodeLength + 1]int32
	values  []byte
}

// NewHuffmanDecoder builds a decoder for the given table.
func NewHuffmanDecoder(s HuffmanSpec) (*HuffmanDecoder, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	h := &HuffmanDecoder{values: append([]byte(nil), s.Value...)}
	code, k := int32(0), int32(0)
	for l := 1; l <= maxCodeLength; l++ {
		n := int32(s.Count[l-1])
		if n == 0 {
			h.maxCode[l] = -1
		} else {
			h.valPtr[l] = k
			h.minCode[l] = code
			if l <= lookupBits {
				// A short code owns every table slot it is a prefix of.
				pad := uint(lookupBits - l)
				for c := code; c < code+n; c++ {
					entry := uint16(l)<<8 | uint16(h.values[k+c-code])
					first := int(c) << pad
					for i := first; i < first+1<<pad; i++ {
						h.lookup[i] = entry
					}
				}
			}
			code += n
			k += n
			h.maxCode[l] = code - 1
		}
		code <<= 1
	}
	return h, nil
}

// Decode reads one symbol from br.
func (h *HuffmanDecoder) Decode(br *BitReader) (byte, error) {
	if br.nBits < lookupBits {
		// Near the end of the data fill can fail while the buffered bits
		// still hold a short code, the bitwise path below sorts that out.
		_ = br.fill()
	}
	if br.nBits >= lookupBits {
		if e := h.lookup[br.acc>>(32-lookupBits)]; e != 0 {
			n := uint32(e >> 8)
			br.acc <<= n
			br.nBits -= n
			return byte(e), nil
		}
	}

	code := int32(0)
	for l := 1; l <= maxCodeLength; l++ {
		bit, err := br.ReadBits(1)
		if err != nil {
			return 0, err
		}
		code = code<<1 | int32(bit)
		if code <= h.maxCode[l] {
			return h.values[h.valPtr[l]+code-h.minCode[l]], nil
		}
	}
	return 0, errBadHuffmanCode
}

// HuffmanLUT maps symbols to their codewords for encoding.
type HuffmanLUT struct {
	code [256]uint16
	size [256]uint8 // Zero for symbols without a codeword.
}

// NewHuffmanLUT compiles s for encoding.
func NewHuffmanLUT(s HuffmanSpec) *HuffmanLUT {
	h := new(HuffmanLUT)
	code, k := uint16(0), 0
	for l := 1; l <= maxCodeLength; l++ {
		for n := int(s.Count[l-1]); n > 0; n-- {
			v := s.Value[k]
			h.code[v], h.size[v] = code, uint8(l)
			code++
			k++
		}
		code <<= 1
	}
	return h
}

// Has reports whether the table can encode value.
func (h *HuffmanLUT) Has(value byte) bool {
	return h.size[value] != 0
}

// Emit writes the codeword for value.
func (h *HuffmanLUT) Emit(bw *BitWriter, value byte) error {
	if !h.Has(value) {
		return fmt.Errorf("%w: 0x%02x", errMissingHuffCode, value)
	}
	bw.Emit(uint32(h.code[value]), uint32(h.size[value]))
	return nil
}

// OptimalSpec generates a length-limited Huffman table for the symbol
// frequencies, following the procedure of section K.2. freq is not modified.
func OptimalSpec(freq *[256]int64) HuffmanSpec {
	var f [257]int64
	copy(f[:], freq[:])
	// One reserved code point ensures no real symbol gets an all-ones code.
	f[256] = 1

	used := false
	for i := 0; i < 256; i++ {
		if f[i] != 0 {
			used = true
			break
		}
	}
	if !used {
		f[0] = 1
	}

	codeSize, ok := codeSizes(f)
	for !ok {
		// Pathological distributions produce codes longer than 32 bits,
		// flatten them and try again.
		for i := range f {
			if f[i] > 1 {
				f[i] = (f[i] + 1) / 2
			}
		}
		codeSize, ok = codeSizes(f)
	}

	var bits [33]int
	for i := 0; i <= 256; i++ {
		if codeSize[i] > 0 {
			bits[codeSize[i]]++
		}
	}

	// Limit code lengths to 16 bits, section K.3 figure K.3.
	for i := 32; i > maxCodeLength; i-- {
		for bits[i] > 0 {
			j := i - 2
			for bits[j] == 0 {
				j--
			}
			bits[i] -= 2
			bits[i-1]++
			bits[j+1] += 2
			bits[j]--
		}
	}

	// Drop the reserved code point.
	i := maxCodeLength
	for bits[i] == 0 {
		i--
	}
	bits[i]--

	var spec HuffmanSpec
	for l := 1; l <= maxCodeLength; l++ {
		spec.Count[l-1] = byte(bits[l])
	}
	for l := 1; l <= 32; l++ {
		for j := 0; j < 256; j++ {
			if codeSize[j] == l {
				spec.Value = append(spec.Value, byte(j))
			}
		}
	}
	return spec
}

// codeSizes computes unconstrained Huffman code lengths, it reports false if
// any code is longer than 32 bits.
func codeSizes(f [257]int64) ([257]int, bool) {
	var (
		codeSize [257]int
		others   [257]int
	)
	for i := range others {
		others[i] = -1
	}

	for {
		// Find the smallest nonzero frequency, preferring the largest index on ties.
		c1 := -1
		var v int64 = 1 << 62
		for i := 0; i <= 256; i++ {
			if f[i] != 0 && f[i] <= v {
				v = f[i]
				c1 = i
			}
		}
		// Find the next smallest nonzero frequency.
		c2 := -1
		v = 1 << 62
		for i := 0; i <= 256; i++ {
			if f[i] != 0 && f[i] <= v && i != c1 {
				v = f[i]
				c2 = i
			}
		}
		if c2 < 0 {
			break
		}

		f[c1] += f[c2]
		f[c2] = 0

		codeSize[c1]++
		for others[c1] >= 0 {
			c1 = others[c1]
			codeSize[c1]++
		}
		others[c1] = c2

		codeSize[c2]++
		for others[c2] >= 0 {
			c2 = others[c2]
			codeSize[c2]++
		}
	}

	for _, n := range codeSize {
		if n > 32 {
			return codeSize, false
		}
	}
	return codeSize, true
}
