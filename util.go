package jpegrotate

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
)

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func readU16(br *bufio.Reader) (uint16, error) {
	hi, err := br.ReadByte()
	if err != nil {
		return 0, err
	}
	lo, err := br.ReadByte()
	if err != nil {
		return 0, err
	}
	return uint16(hi)<<8 | uint16(lo), nil
}

// readSegment reads the length-prefixed payload of a marker segment.
func readSegment(br *bufio.Reader) ([]byte, error) {
	length, err := readU16(br)
	if err != nil {
		return nil, eof(err)
	}
	if length < 2 {
		return nil, FormatError("invalid segment length")
	}
	payload := make([]byte, int(length)-2)
	if _, err := io.ReadFull(br, payload); err != nil {
		return nil, eof(err)
	}
	return payload, nil
}

func eof(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func putU16(b []byte, v int) []byte {
	return binary.BigEndian.AppendUint16(b, uint16(v))
}
