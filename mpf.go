package jpegrotate

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	mpfTypeLong      = 0x4
	mpfTypeUndefined = 0x7

	mpfNumberOfImagesTag = 0xB001
	mpfEntryTag          = 0xB002
	mpfEntrySize         = 16
)

var mpfSig = []byte{'M', 'P', 'F', 0}

// mpfImageCount returns the number of images referenced by an MPF index
// segment payload.
func mpfImageCount(payload []byte) (int, error) {
	if len(payload) < len(mpfSig)+8 || !bytes.HasPrefix(payload, mpfSig) {
		return 0, errors.New("mpf signature missing")
	}
	tiff := payload[len(mpfSig):]
	var order binary.ByteOrder
	switch {
	case tiff[0] == 0x4D && tiff[1] == 0x4D:
		order = binary.BigEndian
	case tiff[0] == 0x49 && tiff[1] == 0x49:
		order = binary.LittleEndian
	default:
		return 0, errors.New("mpf endian invalid")
	}
	if order.Uint16(tiff[2:4]) != 0x002A {
		return 0, errors.New("mpf tiff magic invalid")
	}
	ifdPos := int(order.Uint32(tiff[4:8]))
	if ifdPos < 0 || ifdPos+2 > len(tiff) {
		return 0, errors.New("mpf ifd offset invalid")
	}
	tagCount := int(order.Uint16(tiff[ifdPos : ifdPos+2]))
	ifdPos += 2
	entries := 0
	for i := 0; i < tagCount; i++ {
		if ifdPos+12 > len(tiff) {
			return 0, errors.New("mpf ifd truncated")
		}
		tag := order.Uint16(tiff[ifdPos : ifdPos+2])
		typ := order.Uint16(tiff[ifdPos+2 : ifdPos+4])
		count := order.Uint32(tiff[ifdPos+4 : ifdPos+8])
		value := order.Uint32(tiff[ifdPos+8 : ifdPos+12])
		switch {
		case tag == mpfNumberOfImagesTag && typ == mpfTypeLong && count == 1:
			return int(value), nil
		case tag == mpfEntryTag && typ == mpfTypeUndefined:
			entries = int(count) / mpfEntrySize
		}
		ifdPos += 12
	}
	if entries == 0 {
		return 0, errors.New("mpf image count missing")
	}
	return entries, nil
}
