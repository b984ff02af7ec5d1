// Package jpegrotate performs lossless JPEG transformations.
//
// Rotation, flipping and transposition are carried out on the quantized DCT
// coefficient blocks, the image is never decoded to pixels, so no
// additional compression loss occurs. The pipeline mirrors the classic
// jpegtran flow: a Decoder reads the header and coefficient arrays, a Plan
// derives the destination geometry, Execute reorders the blocks, and an
// Encoder writes the result with the source markers copied over.
package jpegrotate
