package jpegrotate

import (
	"fmt"

	"github.com/vearutop/jpegrotate/internal/jpegx"
)

type scanComponent struct {
	index  int // Index in Metadata.Components.
	td, ta int // DC and AC table selectors.
}

type scanHeader struct {
	comps  []scanComponent
	ss, se int // Spectral selection.
	ah, al int // Successive approximation.
}

func (d *Decoder) parseSOS(p []byte) (scanHeader, error) {
	var h scanHeader
	meta := d.meta
	if len(p) < 1 {
		return h, FormatError("SOS too short")
	}
	n := int(p[0])
	if n < 1 || n > 4 || len(p) != 4+2*n {
		return h, FormatError("SOS has wrong length")
	}
	if n > len(meta.Components) {
		return h, FormatError("too many components in scan")
	}

	blocks := 0
	h.comps = make([]scanComponent, n)
	for i := range h.comps {
		id := p[1+2*i]
		index := -1
		for j, c := range meta.Components {
			if c.ID == id {
				index = j
			}
		}
		if index < 0 {
			return h, FormatError("unknown component selector")
		}
		for j := 0; j < i; j++ {
			if h.comps[j].index == index {
				return h, FormatError("repeated component selector")
			}
		}
		sc := scanComponent{index: index, td: int(p[2+2*i] >> 4), ta: int(p[2+2*i] & 0x0f)}
		if sc.td > 3 || sc.ta > 3 {
			return h, FormatError("bad Td or Ta value")
		}
		h.comps[i] = sc
		blocks += meta.Components[index].H * meta.Components[index].V
	}
	if n > 1 && blocks > maxBlocksInMCU {
		return h, FormatError("too many blocks in MCU")
	}

	h.ss, h.se = int(p[1+2*n]), int(p[2+2*n])
	h.ah, h.al = int(p[3+2*n]>>4), int(p[3+2*n]&0x0f)
	if !meta.Progressive {
		// Sequential scans always cover all coefficients.
		h.ss, h.se, h.ah, h.al = 0, 63, 0, 0
	} else {
		if h.ss > h.se || h.se > 63 || (h.ss == 0 && h.se != 0) {
			return h, FormatError("bad spectral selection bounds")
		}
		if h.ss > 0 && n != 1 {
			return h, FormatError("progressive AC coefficients for more than one component")
		}
		if h.ah != 0 && h.ah != h.al+1 {
			return h, FormatError("bad successive approximation values")
		}
		if h.al > 13 {
			return h, FormatError("bad successive approximation values")
		}
	}

	for _, sc := range h.comps {
		if h.ss == 0 && h.ah == 0 && d.huff[jpegx.ClassDC][sc.td] == nil {
			return h, FormatError("missing DC Huffman table")
		}
		if h.se > 0 && d.huff[jpegx.ClassAC][sc.ta] == nil {
			return h, FormatError("missing AC Huffman table")
		}
	}
	return h, nil
}

// processSOS decodes the entropy-coded data of one scan into d.coeffs.
func (d *Decoder) processSOS(p []byte) error {
	h, err := d.parseSOS(p)
	if err != nil {
		return err
	}
	meta := d.meta
	hMax, vMax := meta.maxSampling()

	d.bits = jpegx.NewBitReader(d.r)
	d.eobRun = 0
	dcPred := make([]int32, len(meta.Components))
	expectedRST := 0
	mcu := 0
	ri := meta.RestartInterval

	next := func(total int) error {
		mcu++
		if ri == 0 || mcu%ri != 0 || mcu >= total {
			return nil
		}
		m, err := d.bits.Align()
		if err != nil {
			return err
		}
		if m != jpegx.RST0+byte(expectedRST) {
			return FormatError(fmt.Sprintf("bad RST marker 0x%02x", m))
		}
		expectedRST = (expectedRST + 1) & 7
		for i := range dcPred {
			dcPred[i] = 0
		}
		d.eobRun = 0
		return nil
	}

	if len(h.comps) == 1 {
		sc := h.comps[0]
		c := meta.Components[sc.index]
		cols, rows := componentBlocks(meta.Width, meta.Height, hMax, vMax, c)
		g := d.coeffs.Grids[sc.index]
		total := cols * rows
		for by := 0; by < rows; by++ {
			for bx := 0; bx < cols; bx++ {
				if err := d.decodeBlock(g.At(by, bx), h, sc, dcPred); err != nil {
					return err
				}
				if err := next(total); err != nil {
					return err
				}
			}
		}
		return nil
	}

	mcusX, mcusY := ceilDiv(meta.Width, hMax*8), ceilDiv(meta.Height, vMax*8)
	total := mcusX * mcusY
	for my := 0; my < mcusY; my++ {
		for mx := 0; mx < mcusX; mx++ {
			for _, sc := range h.comps {
				c := meta.Components[sc.index]
				g := d.coeffs.Grids[sc.index]
				for v := 0; v < c.V; v++ {
					for u := 0; u < c.H; u++ {
						if err := d.decodeBlock(g.At(my*c.V+v, mx*c.H+u), h, sc, dcPred); err != nil {
							return err
						}
					}
				}
			}
			if err := next(total); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Decoder) decodeBlock(b *Block, h scanHeader, sc scanComponent, dcPred []int32) error {
	zig := h.ss
	if zig == 0 {
		zig++
		if h.ah == 0 {
			t, err := d.huff[jpegx.ClassDC][sc.td].Decode(d.bits)
			if err != nil {
				return d.scanError(err)
			}
			if t > 16 {
				return FormatError("excessive DC component")
			}
			diff, err := d.bits.ReceiveExtend(uint32(t))
			if err != nil {
				return d.scanError(err)
			}
			dcPred[sc.index] += diff
			b[0] = dcPred[sc.index] << h.al
		} else {
			bit, err := d.bits.ReadBits(1)
			if err != nil {
				return d.scanError(err)
			}
			if bit != 0 {
				b[0] |= 1 << h.al
			}
		}
	}
	if zig > h.se {
		return nil
	}

	ac := d.huff[jpegx.ClassAC][sc.ta]
	if h.ah != 0 {
		return d.refine(b, ac, zig, h.se, int32(1)<<h.al)
	}

	if d.eobRun > 0 {
		d.eobRun--
		return nil
	}
	for ; zig <= h.se; zig++ {
		value, err := ac.Decode(d.bits)
		if err != nil {
			return d.scanError(err)
		}
		val0, val1 := int(value>>4), uint32(value&0x0f)
		if val1 != 0 {
			zig += val0
			if zig > h.se {
				return FormatError("too many coefficients")
			}
			v, err := d.bits.ReceiveExtend(val1)
			if err != nil {
				return d.scanError(err)
			}
			b[jpegx.Unzig[zig]] = v << h.al
			continue
		}
		if val0 != 0x0f {
			if err := d.readEOBRun(val0); err != nil {
				return err
			}
			d.eobRun--
			break
		}
		zig += 0x0f
	}
	return nil
}

func (d *Decoder) readEOBRun(val0 int) error {
	d.eobRun = 1 << val0
	if val0 != 0 {
		bits, err := d.bits.ReadBits(uint32(val0))
		if err != nil {
			return d.scanError(err)
		}
		d.eobRun |= int(bits)
	}
	return nil
}

// refine decodes one block of an AC refinement scan over the zig-zag band
// [k, se], sections G.1.2.2 and G.1.2.3. Every coefficient that is already
// non-zero gets one correction bit, and a run length counts zero
// coefficients only.
func (d *Decoder) refine(b *Block, ac *jpegx.HuffmanDecoder, k, se int, bit int32) error {
	for d.eobRun == 0 && k <= se {
		sym, err := ac.Decode(d.bits)
		if err != nil {
			return d.scanError(err)
		}
		run, size := int(sym>>4), sym&0x0f

		var v int32
		switch {
		case size == 1:
			sign, err := d.bits.ReadBits(1)
			if err != nil {
				return d.scanError(err)
			}
			v = -bit
			if sign != 0 {
				v = bit
			}
		case size != 0:
			return FormatError("unexpected Huffman code")
		case run != 0x0f:
			// End of band, the remaining coefficients are corrected below.
			if err := d.readEOBRun(run); err != nil {
				return err
			}
			continue
		}

		// ZRL lands on the 16th zero and leaves it unset.
		if k, err = d.correct(b, k, se, run, bit); err != nil {
			return err
		}
		if k > se {
			return FormatError("too many coefficients")
		}
		if v != 0 {
			b[jpegx.Unzig[k]] = v
		}
		k++
	}

	if d.eobRun > 0 {
		d.eobRun--
		_, err := d.correct(b, k, se, -1, bit)
		return err
	}
	return nil
}

// correct reads a correction bit for every non-zero coefficient from k on.
// It stops at the zero coefficient preceded by skip other zeros and returns
// its position, or se+1 when the band ends first. A negative skip corrects
// the whole band.
func (d *Decoder) correct(b *Block, k, se, skip int, bit int32) (int, error) {
	for ; k <= se; k++ {
		c := &b[jpegx.Unzig[k]]
		if *c == 0 {
			if skip == 0 {
				return k, nil
			}
			skip--
			continue
		}
		r, err := d.bits.ReadBits(1)
		if err != nil {
			return 0, d.scanError(err)
		}
		if r == 0 || *c&bit != 0 {
			continue
		}
		if *c > 0 {
			*c += bit
		} else {
			*c -= bit
		}
	}
	return k, nil
}

func (d *Decoder) scanError(err error) error {
	return fmt.Errorf("decode scan: %w", err)
}
