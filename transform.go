package jpegrotate

import (
	"errors"

	"github.com/vearutop/jpegrotate/internal/jpegx"
)

// AdjustDestination applies the plan accepted by src.RequestWorkspace to
// the destination parameters copied by dst.CopyCriticalParameters, and
// returns the zeroed destination coefficient arrays.
func AdjustDestination(src *Decoder, dst *Encoder, coeffs *CoefficientSet) (*CoefficientSet, error) {
	p := src.plan
	if p == nil {
		return nil, ErrWorkspaceNotRequested
	}
	if !dst.paramsSet {
		return nil, ErrParametersNotSet
	}
	if dst.started {
		return nil, ErrAlreadyStarted
	}
	if coeffs == nil || len(coeffs.Grids) != len(src.meta.Components) {
		return nil, errors.New("source coefficients do not match the frame")
	}

	dst.width, dst.height = p.Width, p.Height
	dst.components = append([]Component(nil), p.Components...)
	if len(p.Components) < len(src.meta.Components) {
		dst.colorSpace = ColorSpaceGray
		dst.adobe = nil
	}
	if p.transposed {
		for i, q := range dst.quant {
			if q != nil {
				dst.quant[i] = transposeTable(q)
			}
		}
		if dst.jfif != nil {
			dst.jfif.XDensity, dst.jfif.YDensity = dst.jfif.YDensity, dst.jfif.XDensity
		}
	}

	return p.newDestinationSet(), nil
}

// Execute fills the destination coefficient arrays registered with
// dst.WriteCoefficients from the source arrays.
func Execute(src *Decoder, dst *Encoder, coeffs *CoefficientSet) error {
	p := src.plan
	if p == nil {
		return ErrWorkspaceNotRequested
	}
	if dst.coeffs == nil {
		return ErrNotStarted
	}
	if dst.finished {
		return ErrAlreadyFinished
	}
	p.Apply(coeffs, dst.coeffs)
	return nil
}

// Apply writes the transformed blocks of src into dst. The sets must not
// share storage.
func (p *Plan) Apply(src, dst *CoefficientSet) {
	for i := range p.Components {
		sg := src.Grids[p.srcIndex[i]]
		dg := dst.Grids[i]
		c := p.Components[i]
		xOff, yOff := p.xCrop*c.H, p.yCrop*c.V

		for dy := 0; dy < dg.Rows; dy++ {
			for dx := 0; dx < dg.Cols; dx++ {
				fx, fy := dx+xOff, dy+yOff
				px, py := fx, fy
				flipCols, flipRows := false, false
				if p.mirrorX && fx < p.mirrorCols[i] {
					px = p.mirrorCols[i] - 1 - fx
					flipCols = true
				}
				if p.mirrorY && fy < p.mirrorRows[i] {
					py = p.mirrorRows[i] - 1 - fy
					flipRows = true
				}

				sr, sc := py, px
				if p.transposed {
					sr, sc = px, py
				}

				out := dg.At(dy, dx)
				if sr >= sg.Rows || sc >= sg.Cols {
					*out = Block{}
					continue
				}
				transformBlock(out, sg.At(sr, sc), p.transposed, flipRows, flipCols)
			}
		}
	}
}

// transformBlock writes the transformed coefficients of src into dst.
// Mirroring the pixels of a block along an axis negates the coefficients
// of odd frequencies along that axis.
func transformBlock(dst, src *Block, transpose, flipRows, flipCols bool) {
	for u := 0; u < 8; u++ {
		for v := 0; v < 8; v++ {
			x := src[u*8+v]
			if transpose {
				x = src[v*8+u]
			}
			if (flipRows && u&1 == 1) != (flipCols && v&1 == 1) {
				x = -x
			}
			dst[u*8+v] = x
		}
	}
}

func transposeTable(q *[jpegx.BlockSize]uint16) *[jpegx.BlockSize]uint16 {
	t := new([jpegx.BlockSize]uint16)
	for u := 0; u < 8; u++ {
		for v := 0; v < 8; v++ {
			t[u*8+v] = q[v*8+u]
		}
	}
	return t
}
