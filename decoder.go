package jpegrotate

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vearutop/jpegrotate/internal/jpegx"
)

// Decoder reads the header, markers and quantized DCT coefficients of a
// baseline, extended or progressive Huffman-coded JPEG.
type Decoder struct {
	file *os.File
	r    *bufio.Reader
	opts DecoderOptions

	meta    *Metadata
	markers []Marker
	quant   [4]*[jpegx.BlockSize]uint16
	huff    [2][4]*jpegx.HuffmanDecoder

	// pending is the marker that stopped header parsing.
	pending byte

	plan   *Plan
	coeffs *CoefficientSet

	bits     *jpegx.BitReader
	eobRun   int
	trailing bool
}

// DecoderOptions limits resources used by a Decoder.
type DecoderOptions struct {
	// MaxMemory caps the bytes of coefficient storage for the source and
	// destination arrays together. Zero means DefaultMaxMemory, a negative
	// value disables the check.
	MaxMemory int64
}

// DefaultMaxMemory is the coefficient storage limit used when
// DecoderOptions.MaxMemory is zero.
const DefaultMaxMemory = 1 << 30

// OpenDecoder opens a JPEG file for reading.
func OpenDecoder(path string, options ...func(o *DecoderOptions)) (*Decoder, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCannotOpenInput, err)
	}
	d := NewDecoder(f, options...)
	d.file = f
	return d, nil
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader, options ...func(o *DecoderOptions)) *Decoder {
	d := &Decoder{r: bufio.NewReaderSize(r, readBufferSize)}
	for _, o := range options {
		o(&d.opts)
	}
	return d
}

// Close releases the source file, if the decoder owns one.
func (d *Decoder) Close() error {
	if d.file == nil {
		return nil
	}
	f := d.file
	d.file = nil
	return f.Close()
}

// Metadata returns the parsed frame header, or nil before ReadHeader.
func (d *Decoder) Metadata() *Metadata {
	return d.meta
}

// Markers returns the saved APPn and COM segments in stream order.
func (d *Decoder) Markers() []Marker {
	return d.markers
}

// Plan returns the plan accepted by RequestWorkspace.
func (d *Decoder) Plan() *Plan {
	return d.plan
}

// TrailingData reports whether bytes follow the EOI marker.
func (d *Decoder) TrailingData() bool {
	return d.trailing
}

// ReadHeader parses markers up to the first scan and saves all APPn and
// COM segments.
func (d *Decoder) ReadHeader() (*Metadata, error) {
	if d.meta != nil {
		return d.meta, nil
	}

	var soi [2]byte
	if _, err := io.ReadFull(d.r, soi[:]); err != nil {
		return nil, FormatError("missing SOI marker")
	}
	if soi[0] != 0xff || soi[1] != jpegx.SOI {
		return nil, FormatError("missing SOI marker")
	}

	meta := &Metadata{}
	frameSeen := false
	for {
		marker, err := jpegx.ReadMarker(d.r)
		if err != nil {
			return nil, err
		}
		switch {
		case marker == jpegx.SOS:
			if !frameSeen {
				return nil, FormatError("missing SOF marker")
			}
			for _, c := range meta.Components {
				if d.quant[c.Quant] == nil {
					return nil, FormatError("missing quantization table")
				}
			}
			d.pending = marker
			meta.ColorSpace = detectColorSpace(meta)
			d.meta = meta
			return meta, nil
		case marker == jpegx.EOI:
			return nil, FormatError("missing SOS marker")
		case marker == jpegx.TEM || (marker >= jpegx.RST0 && marker <= jpegx.RST7):
			continue
		}

		payload, err := readSegment(d.r)
		if err != nil {
			return nil, err
		}
		switch {
		case marker == jpegx.SOF0 || marker == jpegx.SOF1 || marker == jpegx.SOF2:
			if frameSeen {
				return nil, FormatError("multiple SOF markers")
			}
			if err := processSOF(meta, marker, payload); err != nil {
				return nil, err
			}
			frameSeen = true
		case marker == jpegx.DAC:
			return nil, UnsupportedError("arithmetic coding")
		case isSOF(marker):
			return nil, UnsupportedError(fmt.Sprintf("SOF%d frame", marker-jpegx.SOF0))
		default:
			if err := d.processTables(meta, marker, payload); err != nil {
				return nil, err
			}
		}
	}
}

// processTables handles the segments that may appear both before the frame
// header and between scans.
func (d *Decoder) processTables(meta *Metadata, marker byte, payload []byte) error {
	switch {
	case marker == jpegx.DQT:
		return d.processDQT(payload)
	case marker == jpegx.DHT:
		return d.processDHT(payload)
	case marker == jpegx.DRI:
		if len(payload) != 2 {
			return FormatError("DRI has wrong length")
		}
		meta.RestartInterval = int(binary.BigEndian.Uint16(payload))
	case marker == jpegx.COM || (marker >= jpegx.APP0 && marker <= jpegx.APP15):
		m := Marker{Code: marker, Data: payload}
		d.markers = append(d.markers, m)
		switch {
		case m.isJFIF() && meta.JFIF == nil:
			meta.JFIF = &JFIF{
				Major:    payload[5],
				Minor:    payload[6],
				Units:    payload[7],
				XDensity: binary.BigEndian.Uint16(payload[8:]),
				YDensity: binary.BigEndian.Uint16(payload[10:]),
			}
		case m.isAdobe() && meta.Adobe == nil:
			meta.Adobe = &Adobe{
				Version:   binary.BigEndian.Uint16(payload[5:]),
				Flags0:    binary.BigEndian.Uint16(payload[7:]),
				Flags1:    binary.BigEndian.Uint16(payload[9:]),
				Transform: payload[11],
			}
		}
	}
	// Other segments such as DNL or JPG extensions are skipped.
	return nil
}

// isSOF reports whether marker starts a frame of any coding process.
func isSOF(marker byte) bool {
	return marker >= jpegx.SOF0 && marker <= jpegx.SOF15 &&
		marker != jpegx.DHT && marker != jpegx.JPG && marker != jpegx.DAC
}

func processSOF(meta *Metadata, marker byte, p []byte) error {
	if len(p) < 6 {
		return FormatError("SOF too short")
	}
	if p[0] != 8 {
		return UnsupportedError(fmt.Sprintf("%d-bit sample precision", p[0]))
	}
	meta.Height = int(binary.BigEndian.Uint16(p[1:]))
	meta.Width = int(binary.BigEndian.Uint16(p[3:]))
	if meta.Height == 0 {
		return UnsupportedError("image height defined by DNL marker")
	}
	if meta.Width == 0 {
		return FormatError("zero image width")
	}
	n := int(p[5])
	if n != 1 && n != 3 && n != 4 {
		return UnsupportedError(fmt.Sprintf("%d color components", n))
	}
	if len(p) != 6+3*n {
		return FormatError("SOF has wrong length")
	}

	meta.Components = make([]Component, n)
	for i := range meta.Components {
		c := Component{
			ID:    p[6+3*i],
			H:     int(p[7+3*i] >> 4),
			V:     int(p[7+3*i] & 0x0f),
			Quant: int(p[8+3*i]),
		}
		for j := 0; j < i; j++ {
			if meta.Components[j].ID == c.ID {
				return FormatError("repeated component identifier")
			}
		}
		if c.H < 1 || c.H > 4 || c.V < 1 || c.V > 4 {
			return FormatError("bad sampling factors")
		}
		if c.Quant > 3 {
			return FormatError("bad quantization table selector")
		}
		if n == 1 {
			// Sampling factors of a single component are meaningless.
			c.H, c.V = 1, 1
		}
		meta.Components[i] = c
	}

	meta.Progressive = marker == jpegx.SOF2
	meta.Extended = marker == jpegx.SOF1
	return nil
}

func (d *Decoder) processDQT(p []byte) error {
	for len(p) > 0 {
		pq, tq := p[0]>>4, p[0]&0x0f
		if tq > 3 {
			return FormatError("bad Tq value")
		}
		q := new([jpegx.BlockSize]uint16)
		switch pq {
		case 0:
			if len(p) < 1+jpegx.BlockSize {
				return FormatError("DQT has wrong length")
			}
			for k := 0; k < jpegx.BlockSize; k++ {
				q[jpegx.Unzig[k]] = uint16(p[1+k])
			}
			p = p[1+jpegx.BlockSize:]
		case 1:
			if len(p) < 1+2*jpegx.BlockSize {
				return FormatError("DQT has wrong length")
			}
			for k := 0; k < jpegx.BlockSize; k++ {
				q[jpegx.Unzig[k]] = binary.BigEndian.Uint16(p[1+2*k:])
			}
			p = p[1+2*jpegx.BlockSize:]
		default:
			return FormatError("bad Pq value")
		}
		d.quant[tq] = q
	}
	return nil
}

func (d *Decoder) processDHT(p []byte) error {
	for len(p) > 0 {
		if len(p) < 17 {
			return FormatError("DHT has wrong length")
		}
		tc, th := p[0]>>4, p[0]&0x0f
		if tc > jpegx.ClassAC || th > 3 {
			return FormatError("bad Tc or Th value")
		}
		var spec jpegx.HuffmanSpec
		copy(spec.Count[:], p[1:17])
		total := 0
		for _, c := range spec.Count {
			total += int(c)
		}
		if len(p) < 17+total {
			return FormatError("DHT has wrong length")
		}
		spec.Value = p[17 : 17+total]
		h, err := jpegx.NewHuffmanDecoder(spec)
		if err != nil {
			return FormatError(err.Error())
		}
		d.huff[tc][th] = h
		p = p[17+total:]
	}
	return nil
}

func detectColorSpace(meta *Metadata) ColorSpace {
	switch len(meta.Components) {
	case 1:
		return ColorSpaceGray
	case 3:
		if meta.Adobe != nil {
			if meta.Adobe.Transform == 0 {
				return ColorSpaceRGB
			}
			return ColorSpaceYCbCr
		}
		if meta.JFIF == nil &&
			meta.Components[0].ID == 'R' && meta.Components[1].ID == 'G' && meta.Components[2].ID == 'B' {
			return ColorSpaceRGB
		}
		return ColorSpaceYCbCr
	case 4:
		if meta.Adobe != nil && meta.Adobe.Transform == 2 {
			return ColorSpaceYCCK
		}
		return ColorSpaceCMYK
	}
	return ColorSpaceUnknown
}

// RequestWorkspace validates the transformation against the header and
// prepares the plan used by the following steps. It returns
// ErrTransformUnsatisfiable when the request cannot be honored.
func (d *Decoder) RequestWorkspace(req Request) error {
	if d.meta == nil {
		return ErrHeaderNotRead
	}
	p, err := NewPlan(d.meta, req)
	if err != nil {
		return err
	}
	if err := d.checkMemory(p); err != nil {
		return err
	}
	d.plan = p
	return nil
}

// checkMemory rejects frames whose coefficient arrays would exceed the
// configured limit, before anything is allocated.
func (d *Decoder) checkMemory(p *Plan) error {
	limit := d.opts.MaxMemory
	switch {
	case limit < 0:
		return nil
	case limit == 0:
		limit = DefaultMaxMemory
	}

	meta := d.meta
	hMax, vMax := meta.maxSampling()
	var blocks int64
	for _, c := range meta.Components {
		cols, rows := paddedBlocks(meta.Width, meta.Height, hMax, vMax, c)
		blocks += int64(cols) * int64(rows)
	}
	for i := range p.Components {
		cols, rows := p.destBlocks(i)
		blocks += int64(cols) * int64(rows)
	}
	if need := blocks * blockBytes; need > limit {
		return UnsupportedError(fmt.Sprintf("%dx%d image needs %d bytes of coefficient storage, limit is %d",
			meta.Width, meta.Height, need, limit))
	}
	return nil
}

// ReadCoefficients decodes all scans into the coefficient arrays.
// RequestWorkspace must be called first.
func (d *Decoder) ReadCoefficients() (*CoefficientSet, error) {
	if d.plan == nil {
		return nil, ErrWorkspaceNotRequested
	}
	if d.coeffs != nil {
		return d.coeffs, nil
	}

	meta := d.meta
	d.coeffs = newCoefficientSet(meta.Width, meta.Height, meta.Components)
	scans := 0

	marker := d.pending
	for {
		switch {
		case marker == jpegx.EOI:
			if scans == 0 {
				return nil, FormatError("missing SOS marker")
			}
			_, err := d.r.Peek(1)
			d.trailing = err == nil
			return d.coeffs, nil
		case marker == jpegx.SOS:
			payload, err := readSegment(d.r)
			if err != nil {
				return nil, err
			}
			if err := d.processSOS(payload); err != nil {
				return nil, err
			}
			scans++
			if marker, err = d.bits.Align(); err != nil {
				return nil, err
			}
			continue
		case isSOF(marker):
			return nil, FormatError("multiple SOF markers")
		case marker == jpegx.TEM || (marker >= jpegx.RST0 && marker <= jpegx.RST7):
			// Stray marker without a segment.
		default:
			payload, err := readSegment(d.r)
			if err != nil {
				return nil, err
			}
			if err := d.processTables(meta, marker, payload); err != nil {
				return nil, err
			}
		}

		var err error
		if marker, err = jpegx.ReadMarker(d.r); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) && scans > 0 {
				// Missing EOI is tolerated once image data was read.
				return d.coeffs, nil
			}
			return nil, err
		}
	}
}
