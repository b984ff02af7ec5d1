package jpegrotate

import (
	"errors"
	"fmt"

	"github.com/vearutop/jpegrotate/internal/jpegx"
)

type scanSpec struct {
	comps  []int // Component indexes.
	ss, se int
}

// scans lists the scans of the destination. Sequential output interleaves
// all components in one scan when they fit in an MCU. Progressive output
// uses spectral selection only: DC first, then two AC bands per component.
func (e *Encoder) scans() []scanSpec {
	var groups [][]int
	blocks := 0
	for _, c := range e.components {
		blocks += c.H * c.V
	}
	if len(e.components) == 1 || blocks <= maxBlocksInMCU {
		all := make([]int, len(e.components))
		for i := range all {
			all[i] = i
		}
		groups = append(groups, all)
	} else {
		for i := range e.components {
			groups = append(groups, []int{i})
		}
	}

	var scans []scanSpec
	if !e.opts.Progressive {
		for _, g := range groups {
			scans = append(scans, scanSpec{comps: g, ss: 0, se: 63})
		}
		return scans
	}

	for _, g := range groups {
		scans = append(scans, scanSpec{comps: g, ss: 0, se: 0})
	}
	for i := range e.components {
		scans = append(scans, scanSpec{comps: []int{i}, ss: 1, se: 5})
		scans = append(scans, scanSpec{comps: []int{i}, ss: 6, se: 63})
	}
	return scans
}

// tableIndex selects luminance tables for the first component and
// chrominance tables for the rest.
func tableIndex(component int) int {
	if component == 0 {
		return 0
	}
	return 1
}

// entropyCoder either counts symbol frequencies, when bw is nil, or writes
// Huffman coded data.
type entropyCoder struct {
	bw     *jpegx.BitWriter
	dc, ac [2]*jpegx.HuffmanLUT

	freq     [2][2][256]int64 // Class, table, symbol.
	extended bool             // A coefficient exceeds the baseline range.
	err      error
}

func (c *entropyCoder) symbol(class, table int, sym byte) {
	if c.bw == nil {
		c.freq[class][table][sym]++
		return
	}
	lut := c.dc[table]
	if class == jpegx.ClassAC {
		lut = c.ac[table]
	}
	if err := lut.Emit(c.bw, sym); err != nil && c.err == nil {
		c.err = err
	}
}

func (c *entropyCoder) bits(v, n uint32) {
	if c.bw != nil {
		c.bw.Emit(v, n)
	}
}

func (c *entropyCoder) block(b *Block, table int, pred *int32, ss, se int) {
	if ss == 0 {
		diff := b[0] - *pred
		*pred = b[0]
		size, bits := jpegx.Category(diff)
		if size > 11 {
			c.extended = true
		}
		if size > 15 {
			c.fail(fmt.Errorf("DC difference %d out of range", diff))
			return
		}
		c.symbol(jpegx.ClassDC, table, byte(size))
		c.bits(bits, size)
		if se == 0 {
			return
		}
		ss = 1
	}

	run := 0
	for k := ss; k <= se; k++ {
		v := b[jpegx.Unzig[k]]
		if v == 0 {
			run++
			continue
		}
		for run > 15 {
			c.symbol(jpegx.ClassAC, table, 0xf0)
			run -= 16
		}
		size, bits := jpegx.Category(v)
		if size > 10 {
			c.extended = true
		}
		if size > 15 {
			c.fail(fmt.Errorf("AC coefficient %d out of range", v))
			return
		}
		c.symbol(jpegx.ClassAC, table, byte(run<<4)|byte(size))
		c.bits(bits, size)
		run = 0
	}
	if run > 0 {
		c.symbol(jpegx.ClassAC, table, 0x00)
	}
}

func (c *entropyCoder) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (e *Encoder) encodeScan(c *entropyCoder, s scanSpec) {
	preds := make([]int32, len(e.components))
	ri := e.opts.RestartInterval
	mcu, rst := 0, 0
	next := func(total int) {
		mcu++
		if ri == 0 || mcu%ri != 0 || mcu >= total {
			return
		}
		if c.bw != nil {
			c.bw.Restart(rst)
		}
		rst = (rst + 1) & 7
		for i := range preds {
			preds[i] = 0
		}
	}

	hMax, vMax := e.maxSampling()
	if len(s.comps) == 1 {
		i := s.comps[0]
		cols, rows := componentBlocks(e.width, e.height, hMax, vMax, e.components[i])
		g := e.coeffs.Grids[i]
		for r := 0; r < rows; r++ {
			for col := 0; col < cols; col++ {
				c.block(g.At(r, col), tableIndex(i), &preds[i], s.ss, s.se)
				next(rows * cols)
			}
		}
	} else {
		mcusX, mcusY := ceilDiv(e.width, hMax*8), ceilDiv(e.height, vMax*8)
		for my := 0; my < mcusY; my++ {
			for mx := 0; mx < mcusX; mx++ {
				for _, i := range s.comps {
					comp := e.components[i]
					g := e.coeffs.Grids[i]
					for v := 0; v < comp.V; v++ {
						for h := 0; h < comp.H; h++ {
							c.block(g.At(my*comp.V+v, mx*comp.H+h), tableIndex(i), &preds[i], s.ss, s.se)
						}
					}
				}
				next(mcusX * mcusY)
			}
		}
	}
	if c.bw != nil {
		c.bw.Pad()
	}
}

// writeImage writes everything after the markers: quantization tables,
// frame header, Huffman tables and scans.
func (e *Encoder) writeImage() error {
	scans := e.scans()

	// The first pass gathers statistics, it also detects coefficients that
	// need an extended sequential frame.
	stats := &entropyCoder{}
	for _, s := range scans {
		e.encodeScan(stats, s)
	}
	if stats.err != nil {
		return stats.err
	}

	tables := 1
	if len(e.components) > 1 {
		tables = 2
	}
	var dcSpecs, acSpecs [2]jpegx.HuffmanSpec
	coder := &entropyCoder{}
	for t := 0; t < tables; t++ {
		dcSpecs[t] = e.huffmanSpec(&stats.freq[jpegx.ClassDC][t], jpegx.StandardHuffman[2*t])
		acSpecs[t] = e.huffmanSpec(&stats.freq[jpegx.ClassAC][t], jpegx.StandardHuffman[2*t+1])
		coder.dc[t] = jpegx.NewHuffmanLUT(dcSpecs[t])
		coder.ac[t] = jpegx.NewHuffmanLUT(acSpecs[t])
	}

	extended := stats.extended
	if err := e.writeDQT(&extended); err != nil {
		return err
	}
	if err := e.writeSOF(extended); err != nil {
		return err
	}
	if err := e.writeDHT(dcSpecs[:tables], acSpecs[:tables]); err != nil {
		return err
	}
	if ri := e.opts.RestartInterval; ri > 0 {
		if err := writeSegment(e.w, jpegx.DRI, putU16(nil, ri)); err != nil {
			return err
		}
	}

	coder.bw = jpegx.NewBitWriter(e.w)
	for _, s := range scans {
		if err := e.writeSOS(s); err != nil {
			return err
		}
		e.encodeScan(coder, s)
		if coder.err != nil {
			return coder.err
		}
		if err := coder.bw.Err(); err != nil {
			return err
		}
	}

	_, err := e.w.Write([]byte{0xff, jpegx.EOI})
	return err
}

// huffmanSpec returns the standard table when it covers all used symbols
// and optimization is off, otherwise it builds an optimal table.
func (e *Encoder) huffmanSpec(freq *[256]int64, std jpegx.HuffmanSpec) jpegx.HuffmanSpec {
	if !e.opts.Optimize {
		lut := jpegx.NewHuffmanLUT(std)
		covered := true
		for sym, f := range freq {
			if f != 0 && !lut.Has(byte(sym)) {
				covered = false
				break
			}
		}
		if covered {
			return std
		}
	}
	return jpegx.OptimalSpec(freq)
}

func (e *Encoder) writeDQT(extended *bool) error {
	var p []byte
	for t, q := range e.quant {
		if q == nil || !e.usesQuant(t) {
			continue
		}
		precision := byte(0)
		for _, v := range q {
			if v > 0xff {
				precision = 1
			}
		}
		p = append(p, precision<<4|byte(t))
		for k := 0; k < jpegx.BlockSize; k++ {
			v := q[jpegx.Unzig[k]]
			if precision == 1 {
				p = putU16(p, int(v))
			} else {
				p = append(p, byte(v))
			}
		}
		if precision == 1 {
			*extended = true
		}
	}
	if len(p) == 0 {
		return errors.New("no quantization tables")
	}
	return writeSegment(e.w, jpegx.DQT, p)
}

func (e *Encoder) usesQuant(t int) bool {
	for _, c := range e.components {
		if c.Quant == t {
			return true
		}
	}
	return false
}

func (e *Encoder) writeSOF(extended bool) error {
	marker := byte(jpegx.SOF0)
	switch {
	case e.opts.Progressive:
		marker = jpegx.SOF2
	case extended:
		marker = jpegx.SOF1
	}
	p := []byte{8}
	p = putU16(p, e.height)
	p = putU16(p, e.width)
	p = append(p, byte(len(e.components)))
	for _, c := range e.components {
		p = append(p, c.ID, byte(c.H<<4|c.V), byte(c.Quant))
	}
	return writeSegment(e.w, marker, p)
}

func (e *Encoder) writeDHT(dc, ac []jpegx.HuffmanSpec) error {
	var p []byte
	add := func(class, t int, s jpegx.HuffmanSpec) {
		p = append(p, byte(class<<4|t))
		p = append(p, s.Count[:]...)
		p = append(p, s.Value...)
	}
	for t := range dc {
		add(jpegx.ClassDC, t, dc[t])
		add(jpegx.ClassAC, t, ac[t])
	}
	return writeSegment(e.w, jpegx.DHT, p)
}

func (e *Encoder) writeSOS(s scanSpec) error {
	p := []byte{byte(len(s.comps))}
	for _, i := range s.comps {
		t := byte(tableIndex(i))
		p = append(p, e.components[i].ID, t<<4|t)
	}
	p = append(p, byte(s.ss), byte(s.se), 0)
	return writeSegment(e.w, jpegx.SOS, p)
}
