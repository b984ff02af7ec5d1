package jpegrotate

import (
	"fmt"
	"io"
)

// Options configures RotateFile and Rotate.
type Options struct {
	// Copy selects the source markers copied to the destination.
	Copy CopyPolicy

	// Decoder limits resources used while reading the source.
	Decoder DecoderOptions

	// Encoder controls entropy coding of the destination.
	Encoder EncoderOptions

	// Warn receives non-fatal diagnostics, it may be nil.
	Warn func(msg string)

	// Inspect is called once the source header is parsed and the
	// transformation is planned.
	Inspect func(meta *Metadata, markers []Marker, plan *Plan)
}

func (o *Options) warnf(format string, args ...any) {
	if o.Warn != nil {
		o.Warn(fmt.Sprintf(format, args...))
	}
}

// RotateFile transforms the JPEG at inPath and writes the result to
// outPath. The output file is only created once the source has been read
// and the transformation is known to be possible, a failed transformation
// leaves no output behind.
func RotateFile(inPath, outPath string, req Request, options ...func(o *Options)) error {
	o := newOptions(options)
	src, err := OpenDecoder(inPath, o.decoderOptions)
	if err != nil {
		return err
	}
	defer src.Close()

	return transcode(src, func() (*Encoder, error) {
		return CreateEncoder(outPath, o.encoderOptions)
	}, req, o)
}

// Rotate transforms the JPEG read from r and writes the result to w.
func Rotate(r io.Reader, w io.Writer, req Request, options ...func(o *Options)) error {
	o := newOptions(options)
	return transcode(NewDecoder(r, o.decoderOptions), func() (*Encoder, error) {
		return NewEncoder(w, o.encoderOptions), nil
	}, req, o)
}

func newOptions(options []func(o *Options)) *Options {
	o := &Options{}
	for _, opt := range options {
		opt(o)
	}
	return o
}

func (o *Options) decoderOptions(do *DecoderOptions) {
	*do = o.Decoder
}

func (o *Options) encoderOptions(eo *EncoderOptions) {
	*eo = o.Encoder
}

func transcode(src *Decoder, create func() (*Encoder, error), req Request, o *Options) error {
	meta, err := src.ReadHeader()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if err := src.RequestWorkspace(req); err != nil {
		return err
	}
	if o.Inspect != nil {
		o.Inspect(meta, src.Markers(), src.Plan())
	}

	coeffs, err := src.ReadCoefficients()
	if err != nil {
		return fmt.Errorf("read coefficients: %w", err)
	}
	o.diagnose(src)

	dst, err := create()
	if err != nil {
		return err
	}
	defer dst.Close()

	if err := dst.CopyCriticalParameters(src); err != nil {
		return err
	}
	dstCoeffs, err := AdjustDestination(src, dst, coeffs)
	if err != nil {
		return err
	}
	if err := dst.WriteCoefficients(dstCoeffs); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := CopyMarkers(src, dst, o.Copy); err != nil {
		return fmt.Errorf("copy markers: %w", err)
	}
	if err := Execute(src, dst, coeffs); err != nil {
		return err
	}
	if err := dst.Finish(); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	return nil
}

func (o *Options) diagnose(src *Decoder) {
	if v, ok := ExifOrientation(src.Markers()); ok && v != 1 && (o.Copy == CopyAll || o.Copy == CopyVerbatim) {
		o.warnf("EXIF orientation is %d, the tag is copied unchanged", v)
	}
	for _, m := range src.Markers() {
		if !m.isMPF() {
			continue
		}
		n, err := mpfImageCount(m.Data)
		if err != nil || n < 2 {
			continue
		}
		switch o.Copy {
		case CopyAll:
			o.warnf("dropping MPF index of %d images, only the primary image is transformed", n)
		case CopyVerbatim:
			o.warnf("MPF index of %d images is copied unchanged, its offsets no longer match the file", n)
		}
	}
	if src.TrailingData() {
		o.warnf("data after EOI marker is not copied")
	}
	if p := src.Plan(); p != nil && p.PartialEdges() {
		o.warnf("partial edge blocks are left untransformed")
	}
}
