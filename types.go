package jpegrotate

import (
	"fmt"
	"image"

	"github.com/vearutop/jpegrotate/internal/jpegx"
)

// Transform identifies a lossless coefficient-domain transformation.
type Transform int

const (
	TransformNone       Transform = iota
	TransformFlipH                // Mirror left-right.
	TransformFlipV                // Mirror top-bottom.
	TransformTranspose            // Mirror across the main diagonal.
	TransformTransverse           // Mirror across the anti-diagonal.
	TransformRot90                // Rotate 90 degrees clockwise.
	TransformRot180               // Rotate 180 degrees.
	TransformRot270               // Rotate 270 degrees clockwise.
)

var transformNames = [...]string{
	TransformNone:       "none",
	TransformFlipH:      "flip-h",
	TransformFlipV:      "flip-v",
	TransformTranspose:  "transpose",
	TransformTransverse: "transverse",
	TransformRot90:      "rot90",
	TransformRot180:     "rot180",
	TransformRot270:     "rot270",
}

func (t Transform) String() string {
	if t.valid() {
		return transformNames[t]
	}
	return fmt.Sprintf("Transform(%d)", int(t))
}

func (t Transform) valid() bool {
	return t >= TransformNone && t <= TransformRot270
}

// transposed reports whether the transform swaps axes, the destination
// is then formed by transposing source blocks before mirroring.
func (t Transform) transposed() bool {
	switch t {
	case TransformTranspose, TransformTransverse, TransformRot90, TransformRot270:
		return true
	}
	return false
}

// mirrorX reports whether destination columns are mirrored.
func (t Transform) mirrorX() bool {
	switch t {
	case TransformFlipH, TransformRot180, TransformRot90, TransformTransverse:
		return true
	}
	return false
}

// mirrorY reports whether destination rows are mirrored.
func (t Transform) mirrorY() bool {
	switch t {
	case TransformFlipV, TransformRot180, TransformRot270, TransformTransverse:
		return true
	}
	return false
}

// TransformFromAngle maps a clockwise rotation angle in degrees to a
// transform. Only 90, 180 and 270 are accepted.
func TransformFromAngle(angle int) (Transform, error) {
	switch angle {
	case 90:
		return TransformRot90, nil
	case 180:
		return TransformRot180, nil
	case 270:
		return TransformRot270, nil
	}
	return TransformNone, fmt.Errorf("%w: %d", ErrUnsupportedAngle, angle)
}

// Request describes the requested transformation.
type Request struct {
	Transform Transform

	// Perfect makes the transformation fail with ErrTransformUnsatisfiable
	// when partial edge blocks would have to be mirrored.
	Perfect bool

	// Trim drops partial iMCU rows and columns along mirrored axes.
	Trim bool

	// Grayscale keeps only the luma component of YCbCr and YCCK images.
	Grayscale bool

	// Crop selects a region in destination coordinates. The offset is aligned
	// down to the iMCU grid and the size grows to compensate.
	Crop *image.Rectangle
}

// DefaultRequest returns a request that fails instead of leaving partial
// edge blocks untransformed.
func DefaultRequest(t Transform) Request {
	return Request{Transform: t, Perfect: true}
}

// ColorSpace identifies the color space of the stored components.
type ColorSpace int

const (
	ColorSpaceUnknown ColorSpace = iota
	ColorSpaceGray
	ColorSpaceYCbCr
	ColorSpaceRGB
	ColorSpaceCMYK
	ColorSpaceYCCK
)

func (c ColorSpace) String() string {
	switch c {
	case ColorSpaceGray:
		return "grayscale"
	case ColorSpaceYCbCr:
		return "YCbCr"
	case ColorSpaceRGB:
		return "RGB"
	case ColorSpaceCMYK:
		return "CMYK"
	case ColorSpaceYCCK:
		return "YCCK"
	}
	return "unknown"
}

// Component describes a frame component.
type Component struct {
	ID    byte
	H, V  int // Sampling factors.
	Quant int // Quantization table selector.
}

// JFIF holds the fields of a JFIF APP0 segment.
type JFIF struct {
	Major, Minor byte
	Units        byte
	XDensity     uint16
	YDensity     uint16
}

// Adobe holds the fields of an Adobe APP14 segment.
type Adobe struct {
	Version   uint16
	Flags0    uint16
	Flags1    uint16
	Transform byte
}

// Metadata describes the frame of a JPEG image.
type Metadata struct {
	Width, Height   int
	Components      []Component
	Progressive     bool
	Extended        bool // SOF1 frame.
	RestartInterval int
	ColorSpace      ColorSpace
	JFIF            *JFIF
	Adobe           *Adobe
}

func (m *Metadata) maxSampling() (h, v int) {
	h, v = 1, 1
	for _, c := range m.Components {
		h = max(h, c.H)
		v = max(v, c.V)
	}
	return h, v
}

// MCUSize returns the size of an interleaved MCU in pixels.
func (m *Metadata) MCUSize() (w, h int) {
	hMax, vMax := m.maxSampling()
	return hMax * 8, vMax * 8
}

// Block holds quantized DCT coefficients of an 8x8 block in natural order.
type Block = jpegx.Block

// BlockGrid is a row-major array of coefficient blocks of one component.
type BlockGrid struct {
	Rows, Cols int
	Blocks     []Block
}

// NewBlockGrid allocates a zeroed grid.
func NewBlockGrid(rows, cols int) *BlockGrid {
	return &BlockGrid{Rows: rows, Cols: cols, Blocks: make([]Block, rows*cols)}
}

// At returns the block at row r and column c.
func (g *BlockGrid) At(r, c int) *Block {
	return &g.Blocks[r*g.Cols+c]
}

// CoefficientSet holds block grids for each component, padded to whole MCUs.
type CoefficientSet struct {
	Grids []*BlockGrid
}

// BlockCount returns the total number of blocks.
func (s *CoefficientSet) BlockCount() int {
	n := 0
	for _, g := range s.Grids {
		n += len(g.Blocks)
	}
	return n
}

// componentBlocks returns the number of blocks needed to cover the
// component samples, without padding to whole MCUs.
func componentBlocks(width, height, hMax, vMax int, c Component) (cols, rows int) {
	return ceilDiv(ceilDiv(width*c.H, hMax), 8), ceilDiv(ceilDiv(height*c.V, vMax), 8)
}

// paddedBlocks returns the number of blocks of a component in an image
// padded to whole MCUs.
func paddedBlocks(width, height, hMax, vMax int, c Component) (cols, rows int) {
	return ceilDiv(width, hMax*8) * c.H, ceilDiv(height, vMax*8) * c.V
}

func newCoefficientSet(width, height int, comps []Component) *CoefficientSet {
	hMax, vMax := 1, 1
	for _, c := range comps {
		hMax = max(hMax, c.H)
		vMax = max(vMax, c.V)
	}
	s := &CoefficientSet{Grids: make([]*BlockGrid, len(comps))}
	for i, c := range comps {
		cols, rows := paddedBlocks(width, height, hMax, vMax, c)
		s.Grids[i] = NewBlockGrid(rows, cols)
	}
	return s
}
