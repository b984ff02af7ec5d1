package jpegrotate

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRotate_MatchesPixelTransform(t *testing.T) {
	for _, src := range []struct {
		name          string
		width, height int
		gray          bool
	}{
		{name: "gray", width: 40, height: 32, gray: true},
		{name: "ycbcr", width: 64, height: 48},
	} {
		data := testJPEG(t, src.width, src.height, src.gray)
		srcImg, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatal(err)
		}

		for tr := TransformNone; tr <= TransformRot270; tr++ {
			t.Run(src.name+"/"+tr.String(), func(t *testing.T) {
				out := rotate(t, data, DefaultRequest(tr))
				dstImg, err := jpeg.Decode(bytes.NewReader(out))
				if err != nil {
					t.Fatal(err)
				}

				w, h := src.width, src.height
				if tr.transposed() {
					w, h = h, w
				}
				if b := dstImg.Bounds(); b.Dx() != w || b.Dy() != h {
					t.Fatalf("unexpected size %v, want %dx%d", b, w, h)
				}

				r, err := VerifyImages(srcImg, dstImg, tr, image.Point{})
				if err != nil {
					t.Fatal(err)
				}
				if !r.Within(DefaultTolerance) || r.MeanDiff > 1 {
					t.Fatalf("max difference %d, mean %.3f", r.MaxDiff, r.MeanDiff)
				}
			})
		}
	}
}

func TestRotate_RoundTripIsExact(t *testing.T) {
	data := testJPEG(t, 64, 48, false)
	_, want, _ := readCoefficients(t, data)

	for _, tc := range []struct {
		name string
		seq  []Transform
	}{
		{name: "four quarter turns", seq: []Transform{TransformRot90, TransformRot90, TransformRot90, TransformRot90}},
		{name: "rot90 and rot270", seq: []Transform{TransformRot90, TransformRot270}},
		{name: "two half turns", seq: []Transform{TransformRot180, TransformRot180}},
		{name: "transverse twice", seq: []Transform{TransformTransverse, TransformTransverse}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			out := data
			for _, tr := range tc.seq {
				out = rotate(t, out, DefaultRequest(tr))
			}
			_, got, _ := readCoefficients(t, out)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("coefficients changed (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRotate_EncoderOptions(t *testing.T) {
	data := testJPEG(t, 48, 32, false)
	_, want, _ := readCoefficients(t, data)
	wantImg, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		name string
		opts EncoderOptions
		// image/jpeg counts restart intervals of non-interleaved scans in
		// MCUs of the interleaved layout, which breaks on subsampled luma.
		skipPixels bool
	}{
		{name: "baseline"},
		{name: "optimize", opts: EncoderOptions{Optimize: true}},
		{name: "progressive", opts: EncoderOptions{Progressive: true}},
		{name: "restart", opts: EncoderOptions{RestartInterval: 2}},
		{name: "all", opts: EncoderOptions{Optimize: true, Progressive: true, RestartInterval: 1}, skipPixels: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			out := rotate(t, data, Request{}, func(o *Options) {
				o.Encoder = tc.opts
			})

			meta, got, _ := readCoefficients(t, out)
			if meta.Progressive != tc.opts.Progressive {
				t.Fatalf("unexpected progressive flag %v", meta.Progressive)
			}
			if meta.RestartInterval != tc.opts.RestartInterval {
				t.Fatalf("unexpected restart interval %d", meta.RestartInterval)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("coefficients changed (-want +got):\n%s", diff)
			}

			if tc.skipPixels {
				return
			}
			gotImg, err := jpeg.Decode(bytes.NewReader(out))
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(wantImg, gotImg); diff != "" {
				t.Fatalf("pixels changed:\n%s", diff)
			}
		})
	}
}

func TestRotate_ProgressiveSource(t *testing.T) {
	data := successiveApproximationJPEG(t)
	out := rotate(t, data, DefaultRequest(TransformFlipH))

	_, coeffs, _ := readCoefficients(t, out)
	g := coeffs.Grids[0]

	var a, b Block
	a[0], a[1], a[8], a[2] = 13, -3, -2, 1
	b[0] = 20
	if diff := cmp.Diff([]Block{b, a}, g.Blocks); diff != "" {
		t.Fatalf("unexpected blocks (-want +got):\n%s", diff)
	}
}

func TestRotate_Trim(t *testing.T) {
	data := testJPEG(t, 43, 36, true)
	out := rotate(t, data, Request{Transform: TransformRot90, Trim: true})
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	// The source height becomes the mirrored width and is trimmed to 32.
	if cfg.Width != 32 || cfg.Height != 43 {
		t.Fatalf("unexpected size %dx%d", cfg.Width, cfg.Height)
	}
}

func TestRotate_Grayscale(t *testing.T) {
	data := testJPEG(t, 32, 32, false)
	out := rotate(t, data, Request{Transform: TransformRot180, Perfect: true, Grayscale: true})
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ColorModel != color.GrayModel {
		t.Fatalf("unexpected color model %T", cfg.ColorModel)
	}
}

func TestRotate_Crop(t *testing.T) {
	data := testJPEG(t, 64, 64, false)
	crop := image.Rect(10, 10, 30, 30)
	out := rotate(t, data, Request{Transform: TransformRot90, Perfect: true, Crop: &crop})
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 30 || cfg.Height != 30 {
		t.Fatalf("unexpected size %dx%d", cfg.Width, cfg.Height)
	}
}

func TestRotate_Warnings(t *testing.T) {
	data := withMarkers(t, testJPEG(t, 32, 32, true), exifSegment(6), mpfSegment(2))
	data = append(data, "trailer"...)

	var warnings []string
	rotate(t, data, DefaultRequest(TransformRot90), func(o *Options) {
		o.Warn = func(msg string) {
			warnings = append(warnings, msg)
		}
	})

	if len(warnings) != 3 {
		t.Fatalf("unexpected warnings %q", warnings)
	}
	for i, want := range []string{"orientation is 6", "MPF index of 2 images", "after EOI"} {
		if !strings.Contains(warnings[i], want) {
			t.Fatalf("warning %q does not mention %q", warnings[i], want)
		}
	}

	warnings = nil
	rotate(t, data, DefaultRequest(TransformRot90), func(o *Options) {
		o.Copy = CopyVerbatim
		o.Warn = func(msg string) {
			warnings = append(warnings, msg)
		}
	})
	if len(warnings) != 3 || !strings.Contains(warnings[1], "copied unchanged") {
		t.Fatalf("unexpected warnings %q", warnings)
	}
}

func TestRotateFile(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.jpg", testJPEG(t, 64, 32, false))
	out := filepath.Join(dir, "out.jpg")

	var inspected *Plan
	if err := RotateFile(in, out, DefaultRequest(TransformRot90), func(o *Options) {
		o.Inspect = func(_ *Metadata, _ []Marker, p *Plan) {
			inspected = p
		}
	}); err != nil {
		t.Fatal(err)
	}
	if inspected == nil || inspected.Width != 32 || inspected.Height != 64 {
		t.Fatalf("unexpected plan %+v", inspected)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 32 || cfg.Height != 64 {
		t.Fatalf("unexpected size %dx%d", cfg.Width, cfg.Height)
	}
	assertFiles(t, dir, "in.jpg", "out.jpg")

	r, err := VerifyFiles(in, out, DefaultRequest(TransformRot90))
	if err != nil {
		t.Fatal(err)
	}
	if !r.Within(DefaultTolerance) {
		t.Fatalf("max difference %d", r.MaxDiff)
	}
}

func TestRotateFile_Failures(t *testing.T) {
	dir := t.TempDir()
	unaligned := writeFile(t, dir, "unaligned.jpg", testJPEG(t, 33, 40, true))
	aligned := writeFile(t, dir, "aligned.jpg", testJPEG(t, 32, 32, true))
	garbage := writeFile(t, dir, "garbage.jpg", []byte("not a jpeg"))

	for _, tc := range []struct {
		name    string
		in, out string
		err     error
	}{
		{name: "missing input", in: filepath.Join(dir, "missing.jpg"), out: filepath.Join(dir, "out.jpg"), err: ErrCannotOpenInput},
		{name: "unsatisfiable", in: unaligned, out: filepath.Join(dir, "out.jpg"), err: ErrTransformUnsatisfiable},
		{name: "missing output dir", in: aligned, out: filepath.Join(dir, "missing", "out.jpg"), err: ErrCannotOpenOutput},
		{name: "output is a dir", in: aligned, out: dir, err: ErrCannotOpenOutput},
		{name: "invalid input", in: garbage, out: filepath.Join(dir, "out.jpg")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := RotateFile(tc.in, tc.out, DefaultRequest(TransformRot180))
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.err != nil && !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
			assertFiles(t, dir, "aligned.jpg", "garbage.jpg", "unaligned.jpg")
		})
	}
}

func TestRotate_MemoryLimit(t *testing.T) {
	var ue UnsupportedError
	var out bytes.Buffer
	err := Rotate(bytes.NewReader(headerOnlyJPEG(65535, 65535)), &out, Request{Transform: TransformRot90, Trim: true})
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnsupportedError, got %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("unexpected output of %d bytes", out.Len())
	}

	dir := t.TempDir()
	in := writeFile(t, dir, "in.jpg", testJPEG(t, 64, 64, false))
	err = RotateFile(in, filepath.Join(dir, "out.jpg"), DefaultRequest(TransformRot90), func(o *Options) {
		o.Decoder.MaxMemory = 1000
	})
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnsupportedError, got %v", err)
	}
	assertFiles(t, dir, "in.jpg")
}

func assertFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Name())
	}
	if diff := cmp.Diff(names, got); diff != "" {
		t.Fatalf("unexpected files (-want +got):\n%s", diff)
	}
}
