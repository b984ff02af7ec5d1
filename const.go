package jpegrotate

import "github.com/vearutop/jpegrotate/internal/jpegx"

const (
	readBufferSize  = 64 << 10
	writeBufferSize = 64 << 10

	maxSegmentPayload = 0xffff - 2

	// blockBytes is the in-memory size of a coefficient block.
	blockBytes = jpegx.BlockSize * 4

	// maxBlocksInMCU is the limit on the sum of H*V over the components of an
	// interleaved scan, see section B.2.3.
	maxBlocksInMCU = 10
)

var (
	jfifSig  = []byte{'J', 'F', 'I', 'F', 0}
	adobeSig = []byte{'A', 'd', 'o', 'b', 'e'}
	exifSig  = []byte{'E', 'x', 'i', 'f', 0, 0}
)
