package jpegrotate

import (
	"bytes"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/vearutop/jpegrotate/internal/jpegx"
)

// ExifOrientation returns the value of the orientation tag of the first
// EXIF segment among markers. The tag is informational only, transforms
// never rewrite it.
func ExifOrientation(markers []Marker) (int, bool) {
	for _, m := range markers {
		if m.Code != jpegx.APP1 || !bytes.HasPrefix(m.Data, exifSig) {
			continue
		}
		x, err := exif.Decode(bytes.NewReader(m.Data[len(exifSig):]))
		if x == nil || (err != nil && exif.IsCriticalError(err)) {
			return 0, false
		}
		tag, err := x.Get(exif.Orientation)
		if err != nil {
			return 0, false
		}
		v, err := tag.Int(0)
		if err != nil {
			return 0, false
		}
		return v, true
	}
	return 0, false
}
