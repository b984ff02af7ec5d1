package jpegrotate

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/vearutop/jpegrotate/internal/jpegx"
)

// EncoderOptions controls entropy coding of the destination.
type EncoderOptions struct {
	// Optimize computes optimal Huffman tables in an extra pass.
	Optimize bool

	// Progressive writes a progressive JPEG with spectral selection scans.
	Progressive bool

	// RestartInterval is the number of MCUs between restart markers, 0 disables them.
	RestartInterval int
}

// Encoder writes a JPEG from quantized DCT coefficients.
type Encoder struct {
	file    *os.File
	path    string
	tmpPath string
	done    bool

	w    *bufio.Writer
	opts EncoderOptions

	width, height int
	components    []Component
	colorSpace    ColorSpace
	quant         [4]*[jpegx.BlockSize]uint16
	jfif          *JFIF
	adobe         *Adobe

	wroteJFIF, wroteAdobe bool

	coeffs    *CoefficientSet
	paramsSet bool
	started   bool
	finished  bool
}

// CreateEncoder prepares writing to path. Data goes to a temporary file in
// the same directory, which replaces path on Finish and is removed by Close
// otherwise.
func CreateEncoder(path string, options ...func(o *EncoderOptions)) (*Encoder, error) {
	path = filepath.Clean(path)
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrCannotOpenOutput, path)
	}
	// The permission bits are filtered by the umask, like for a file created in place.
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCannotOpenOutput, err)
	}
	e := NewEncoder(f, options...)
	e.file = f
	e.path = path
	e.tmpPath = f.Name()
	return e, nil
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer, options ...func(o *EncoderOptions)) *Encoder {
	e := &Encoder{w: bufio.NewWriterSize(w, writeBufferSize)}
	for _, o := range options {
		o(&e.opts)
	}
	return e
}

// CopyCriticalParameters copies the frame parameters and quantization
// tables of src into the encoder.
func (e *Encoder) CopyCriticalParameters(src *Decoder) error {
	meta := src.meta
	if meta == nil {
		return ErrHeaderNotRead
	}
	if e.started {
		return ErrAlreadyStarted
	}
	if e.opts.RestartInterval < 0 || e.opts.RestartInterval > 0xffff {
		return fmt.Errorf("restart interval %d out of range", e.opts.RestartInterval)
	}

	e.width, e.height = meta.Width, meta.Height
	e.components = append([]Component(nil), meta.Components...)
	e.colorSpace = meta.ColorSpace
	e.quant = [4]*[jpegx.BlockSize]uint16{}
	for _, c := range meta.Components {
		q := *src.quant[c.Quant]
		e.quant[c.Quant] = &q
	}
	e.jfif, e.adobe = nil, nil
	if meta.JFIF != nil {
		j := *meta.JFIF
		e.jfif = &j
	}
	if meta.Adobe != nil {
		a := *meta.Adobe
		e.adobe = &a
	}
	e.paramsSet = true
	return nil
}

// WriteCoefficients registers the destination coefficient arrays and
// writes the start of the stream along with the JFIF or Adobe marker.
// The arrays are entropy coded by Finish, so they may be filled in between.
func (e *Encoder) WriteCoefficients(coeffs *CoefficientSet) error {
	if !e.paramsSet {
		return ErrParametersNotSet
	}
	if e.started {
		return ErrAlreadyStarted
	}
	if coeffs == nil || len(coeffs.Grids) != len(e.components) {
		return errors.New("coefficient arrays do not match the frame components")
	}
	hMax, vMax := e.maxSampling()
	for i, c := range e.components {
		cols, rows := paddedBlocks(e.width, e.height, hMax, vMax, c)
		if g := coeffs.Grids[i]; g.Cols < cols || g.Rows < rows {
			return fmt.Errorf("coefficient array %d is %dx%d blocks, need %dx%d", i, g.Cols, g.Rows, cols, rows)
		}
	}
	e.coeffs = coeffs
	e.started = true

	if _, err := e.w.Write([]byte{0xff, jpegx.SOI}); err != nil {
		return err
	}

	switch e.colorSpace {
	case ColorSpaceGray, ColorSpaceYCbCr:
		j := JFIF{Major: 1, Minor: 1, XDensity: 1, YDensity: 1}
		if e.jfif != nil {
			j = *e.jfif
		}
		p := append([]byte(nil), jfifSig...)
		p = append(p, j.Major, j.Minor, j.Units)
		p = putU16(p, int(j.XDensity))
		p = putU16(p, int(j.YDensity))
		p = append(p, 0, 0)
		if err := writeSegment(e.w, jpegx.APP0, p); err != nil {
			return err
		}
		e.wroteJFIF = true
	case ColorSpaceRGB, ColorSpaceCMYK, ColorSpaceYCCK:
		var transform byte
		if e.colorSpace == ColorSpaceYCCK {
			transform = 2
		}
		p := append([]byte(nil), adobeSig...)
		p = putU16(p, 100)
		p = putU16(p, 0)
		p = putU16(p, 0)
		p = append(p, transform)
		if err := writeSegment(e.w, jpegx.APP14, p); err != nil {
			return err
		}
		e.wroteAdobe = true
	}
	return nil
}

// WriteMarker writes an APPn or COM segment. Markers must be written after
// WriteCoefficients and before Finish.
func (e *Encoder) WriteMarker(m Marker) error {
	if !e.started {
		return ErrNotStarted
	}
	if e.finished {
		return ErrAlreadyFinished
	}
	if m.Code != jpegx.COM && (m.Code < jpegx.APP0 || m.Code > jpegx.APP15) {
		return fmt.Errorf("cannot write %s marker", m.Name())
	}
	return writeSegment(e.w, m.Code, m.Data)
}

// Finish writes the tables, frame header and scans, and commits the
// output file.
func (e *Encoder) Finish() error {
	if e.finished {
		return ErrAlreadyFinished
	}
	if !e.started {
		return ErrNotStarted
	}
	e.finished = true

	if err := e.writeImage(); err != nil {
		return err
	}
	if err := e.w.Flush(); err != nil {
		return err
	}
	if e.file == nil {
		return nil
	}

	if err := e.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(e.tmpPath, e.path); err != nil {
		return fmt.Errorf("%w: %w", ErrCannotOpenOutput, err)
	}
	e.done = true
	return nil
}

// Close discards the temporary output file unless Finish succeeded.
func (e *Encoder) Close() error {
	if e.file == nil || e.done {
		return nil
	}
	f := e.file
	e.file = nil
	_ = f.Close()
	if err := os.Remove(e.tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (e *Encoder) maxSampling() (h, v int) {
	h, v = 1, 1
	for _, c := range e.components {
		h = max(h, c.H)
		v = max(v, c.V)
	}
	return h, v
}
