package jpegrotate

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// DefaultTolerance is the maximum per-channel difference Verify accepts by
// default. Coefficients are preserved exactly, differences only come from
// IDCT rounding, which is not symmetric under transposition.
const DefaultTolerance = 8

// VerifyReport describes how a transformed image differs from the
// pixel-domain transformation of its source.
type VerifyReport struct {
	Compared image.Rectangle // Region of the destination that was compared.
	MaxDiff  int
	MeanDiff float64
}

// Within reports whether all differences are at most tolerance.
func (r *VerifyReport) Within(tolerance int) bool {
	return r.MaxDiff <= tolerance
}

// VerifyFiles decodes both images and compares the destination with the
// source transformed in the pixel domain.
func VerifyFiles(inPath, outPath string, req Request) (*VerifyReport, error) {
	d, err := OpenDecoder(inPath)
	if err != nil {
		return nil, err
	}
	meta, err := d.ReadHeader()
	if cerr := d.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	plan, err := NewPlan(meta, req)
	if err != nil {
		return nil, err
	}

	src, err := imaging.Open(inPath)
	if err != nil {
		return nil, fmt.Errorf("decode source: %w", err)
	}
	dst, err := imaging.Open(outPath)
	if err != nil {
		return nil, fmt.Errorf("decode destination: %w", err)
	}
	region := plan.mirroredSource()
	if region.Empty() {
		return nil, fmt.Errorf("%dx%d image has no whole iMCU along a mirrored axis", meta.Width, meta.Height)
	}
	src = imaging.Crop(src, region)
	if req.Grayscale && len(plan.Components) < len(meta.Components) {
		src = imaging.Grayscale(src)
	}
	return VerifyImages(src, dst, req.Transform, plan.CropOffset())
}

// mirroredSource returns the source region that is transformed as a whole.
// Partial edge blocks along mirrored axes are either trimmed or left in
// place, so they have no pixel-domain counterpart.
func (p *Plan) mirroredSource() image.Rectangle {
	w, h := p.fullWidth, p.fullHeight
	if p.mirrorX {
		w = w / p.IMCUWidth * p.IMCUWidth
	}
	if p.mirrorY {
		h = h / p.IMCUHeight * p.IMCUHeight
	}
	if p.transposed {
		w, h = h, w
	}
	return image.Rect(0, 0, w, h)
}

// VerifyImages compares dst with src transformed by t, dst being located
// at offset in the transformed image.
func VerifyImages(src, dst image.Image, t Transform, offset image.Point) (*VerifyReport, error) {
	want := PixelTransform(src, t)
	got := imaging.Clone(dst)

	region := got.Bounds().Add(offset).Intersect(want.Bounds())
	if region.Empty() {
		return nil, fmt.Errorf("destination %v does not overlap the transformed source %v", got.Bounds(), want.Bounds())
	}

	r := &VerifyReport{Compared: region.Sub(offset)}
	var sum int64
	n := 0
	for y := region.Min.Y; y < region.Max.Y; y++ {
		wi := want.PixOffset(region.Min.X, y)
		gi := got.PixOffset(region.Min.X-offset.X, y-offset.Y)
		for x := region.Min.X; x < region.Max.X; x++ {
			for c := 0; c < 3; c++ {
				d := int(want.Pix[wi+c]) - int(got.Pix[gi+c])
				if d < 0 {
					d = -d
				}
				r.MaxDiff = max(r.MaxDiff, d)
				sum += int64(d)
				n++
			}
			wi += 4
			gi += 4
		}
	}
	r.MeanDiff = float64(sum) / float64(n)
	return r, nil
}

// PixelTransform applies t to img in the pixel domain.
func PixelTransform(img image.Image, t Transform) *image.NRGBA {
	switch t {
	case TransformFlipH:
		return imaging.FlipH(img)
	case TransformFlipV:
		return imaging.FlipV(img)
	case TransformTranspose:
		return imaging.Transpose(img)
	case TransformTransverse:
		return imaging.Transverse(img)
	case TransformRot90:
		// Angles are counter-clockwise in imaging.
		return imaging.Rotate270(img)
	case TransformRot180:
		return imaging.Rotate180(img)
	case TransformRot270:
		return imaging.Rotate90(img)
	}
	return imaging.Clone(img)
}
