package jpegrotate

import (
	"fmt"
	"image"
)

// Plan describes the destination geometry of a transformation.
type Plan struct {
	Request Request

	// Width and Height are the destination image dimensions.
	Width, Height int

	// Components are the destination frame components, with sampling
	// factors swapped for transposing transforms.
	Components []Component

	// IMCUWidth and IMCUHeight are the destination iMCU dimensions in pixels.
	IMCUWidth, IMCUHeight int

	srcIndex []int
	xCrop    int // Crop offset in iMCUs.
	yCrop    int

	// Extents of the mirrored area in blocks, per destination component.
	mirrorCols []int
	mirrorRows []int

	fullWidth, fullHeight int
	transposed            bool
	mirrorX, mirrorY      bool
}

// NewPlan derives the destination geometry for req applied to an image
// described by meta.
func NewPlan(meta *Metadata, req Request) (*Plan, error) {
	t := req.Transform
	if !t.valid() {
		return nil, fmt.Errorf("unknown transform %d", int(t))
	}
	if len(meta.Components) == 0 {
		return nil, ErrHeaderNotRead
	}

	p := &Plan{
		Request:    req,
		transposed: t.transposed(),
		mirrorX:    t.mirrorX(),
		mirrorY:    t.mirrorY(),
	}

	for i := range meta.Components {
		p.srcIndex = append(p.srcIndex, i)
	}
	if req.Grayscale && len(meta.Components) > 1 {
		switch meta.ColorSpace {
		case ColorSpaceYCbCr, ColorSpaceYCCK:
		default:
			return nil, UnsupportedError("grayscale conversion of " + meta.ColorSpace.String() + " image")
		}
		p.srcIndex = p.srcIndex[:1]
	}

	mcuW, mcuH := 8, 8
	if len(p.srcIndex) > 1 {
		mcuW, mcuH = meta.MCUSize()
	}
	for _, i := range p.srcIndex {
		c := meta.Components[i]
		switch {
		case len(p.srcIndex) == 1:
			c.H, c.V = 1, 1
		case p.transposed:
			c.H, c.V = c.V, c.H
		}
		p.Components = append(p.Components, c)
	}

	w, h := meta.Width, meta.Height
	if p.transposed {
		w, h = h, w
		mcuW, mcuH = mcuH, mcuW
	}
	p.IMCUWidth, p.IMCUHeight = mcuW, mcuH
	p.fullWidth, p.fullHeight = w, h

	if req.Perfect {
		if p.mirrorX && w%mcuW != 0 {
			return nil, fmt.Errorf("%w: %s needs the image %s to be a multiple of %d, got %d",
				ErrTransformUnsatisfiable, t, p.srcAxis("width"), mcuW, w)
		}
		if p.mirrorY && h%mcuH != 0 {
			return nil, fmt.Errorf("%w: %s needs the image %s to be a multiple of %d, got %d",
				ErrTransformUnsatisfiable, t, p.srcAxis("height"), mcuH, h)
		}
	}

	if req.Trim {
		if p.mirrorX && w/mcuW > 0 {
			w = w / mcuW * mcuW
		}
		if p.mirrorY && h/mcuH > 0 {
			h = h / mcuH * mcuH
		}
	}

	if req.Crop != nil {
		r := req.Crop.Canon().Intersect(image.Rect(0, 0, w, h))
		if r.Empty() {
			return nil, fmt.Errorf("%w: crop region %v is outside of the %dx%d image",
				ErrTransformUnsatisfiable, *req.Crop, w, h)
		}
		p.xCrop, p.yCrop = r.Min.X/mcuW, r.Min.Y/mcuH
		w = r.Max.X - p.xCrop*mcuW
		h = r.Max.Y - p.yCrop*mcuH
	}
	p.Width, p.Height = w, h

	// Only whole iMCUs are mirrored, partial edge blocks are transposed in place.
	for _, c := range p.Components {
		p.mirrorCols = append(p.mirrorCols, p.fullWidth/mcuW*c.H)
		p.mirrorRows = append(p.mirrorRows, p.fullHeight/mcuH*c.V)
	}

	return p, nil
}

// srcAxis names the source axis that ends up along the destination axis.
func (p *Plan) srcAxis(dst string) string {
	if !p.transposed {
		return dst
	}
	if dst == "width" {
		return "height"
	}
	return "width"
}

// CropOffset returns the top-left corner of the destination image in the
// coordinates of the transformed, uncropped image.
func (p *Plan) CropOffset() image.Point {
	return image.Pt(p.xCrop*p.IMCUWidth, p.yCrop*p.IMCUHeight)
}

// PartialEdges reports whether some edge blocks along mirrored axes stay
// untransformed because the image is not a multiple of the iMCU size.
func (p *Plan) PartialEdges() bool {
	right := p.xCrop*p.IMCUWidth + p.Width
	bottom := p.yCrop*p.IMCUHeight + p.Height
	return (p.mirrorX && right > p.fullWidth/p.IMCUWidth*p.IMCUWidth) ||
		(p.mirrorY && bottom > p.fullHeight/p.IMCUHeight*p.IMCUHeight)
}

// destBlocks returns the padded block grid size of destination component i.
func (p *Plan) destBlocks(i int) (cols, rows int) {
	c := p.Components[i]
	return ceilDiv(p.Width, p.IMCUWidth) * c.H, ceilDiv(p.Height, p.IMCUHeight) * c.V
}

func (p *Plan) newDestinationSet() *CoefficientSet {
	s := &CoefficientSet{Grids: make([]*BlockGrid, len(p.Components))}
	for i := range p.Components {
		cols, rows := p.destBlocks(i)
		s.Grids[i] = NewBlockGrid(rows, cols)
	}
	return s
}
