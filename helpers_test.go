package jpegrotate

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/vearutop/jpegrotate/internal/jpegx"
)

// testImage draws a pattern with gradients, edges and noise, so that
// every transform produces a distinguishable result.
func testImage(w, h int, gray bool) image.Image {
	rnd := rand.New(rand.NewSource(int64(w*1000 + h)))
	noise := func() int { return rnd.Intn(16) }
	if gray {
		img := image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := (x*255)/w/2 + (y*255)/h/4 + noise()
				if x < w/3 && y < h/4 {
					v += 60
				}
				img.SetGray(x, y, color.Gray{Y: uint8(min(v, 255))})
			}
		}
		return img
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r := (x * 255) / w
			g := (y * 255) / h
			b := 128 + noise()
			if x < w/3 && y < h/4 {
				r, b = 250, 30
			}
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(r), G: uint8(g), B: uint8(min(b, 255)), A: 255})
		}
	}
	return img
}

// testJPEG encodes a test image. The standard library writes grayscale
// images with one component and color images with 4:2:0 subsampling.
func testJPEG(t testing.TB, w, h int, gray bool) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, testImage(w, h, gray), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// withMarkers inserts segments right after SOI.
func withMarkers(t testing.TB, data []byte, markers ...Marker) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(data[:2])
	for _, m := range markers {
		buf.Write([]byte{0xff, m.Code})
		buf.Write(putU16(nil, len(m.Data)+2))
		buf.Write(m.Data)
	}
	buf.Write(data[2:])
	return buf.Bytes()
}

func writeFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func readCoefficients(t testing.TB, data []byte) (*Metadata, *CoefficientSet, []Marker) {
	t.Helper()
	d := NewDecoder(bytes.NewReader(data))
	meta, err := d.ReadHeader()
	if err != nil {
		t.Fatal(err)
	}
	if err := d.RequestWorkspace(Request{}); err != nil {
		t.Fatal(err)
	}
	coeffs, err := d.ReadCoefficients()
	if err != nil {
		t.Fatal(err)
	}
	return meta, coeffs, d.Markers()
}

func rotate(t testing.TB, data []byte, req Request, options ...func(o *Options)) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := Rotate(bytes.NewReader(data), &buf, req, options...); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func exifSegment(orientation uint16) Marker {
	p := append([]byte(nil), exifSig...)
	p = append(p, 'M', 'M', 0, 0x2a, 0, 0, 0, 8)
	p = append(p, 0, 1)             // One IFD entry.
	p = append(p, 0x01, 0x12)       // Orientation.
	p = append(p, 0, 3, 0, 0, 0, 1) // SHORT, count 1.
	p = putU16(p, int(orientation))
	p = append(p, 0, 0)
	p = append(p, 0, 0, 0, 0) // No next IFD.
	return Marker{Code: jpegx.APP1, Data: p}
}

func mpfSegment(images int) Marker {
	p := append([]byte(nil), mpfSig...)
	p = append(p, 'M', 'M', 0, 0x2a, 0, 0, 0, 8)
	p = append(p, 0, 2)
	p = append(p, 0xb0, 0x00, 0, 7, 0, 0, 0, 4, '0', '1', '0', '0')
	p = append(p, 0xb0, 0x01, 0, 4, 0, 0, 0, 1)
	p = append(p, 0, 0, 0, byte(images))
	p = append(p, 0, 0, 0, 0)
	return Marker{Code: jpegx.APP2, Data: p}
}
