package jpegrotate

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/vearutop/jpegrotate/internal/jpegx"
)

// encode runs the compression steps by hand, calling mutate on the
// destination arrays before they are entropy coded.
func encode(t *testing.T, data []byte, e *Encoder, mutate func(s *CoefficientSet)) {
	t.Helper()
	d := NewDecoder(bytes.NewReader(data))
	if _, err := d.ReadHeader(); err != nil {
		t.Fatal(err)
	}
	if err := d.RequestWorkspace(Request{}); err != nil {
		t.Fatal(err)
	}
	coeffs, err := d.ReadCoefficients()
	if err != nil {
		t.Fatal(err)
	}
	if err := e.CopyCriticalParameters(d); err != nil {
		t.Fatal(err)
	}
	dst, err := AdjustDestination(d, e, coeffs)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.WriteCoefficients(dst); err != nil {
		t.Fatal(err)
	}
	if err := Execute(d, e, coeffs); err != nil {
		t.Fatal(err)
	}
	if mutate != nil {
		mutate(dst)
	}
	if err := e.Finish(); err != nil {
		t.Fatal(err)
	}
}

func TestEncoder_CallOrder(t *testing.T) {
	data := testJPEG(t, 16, 16, true)
	d := NewDecoder(bytes.NewReader(data))

	var buf bytes.Buffer
	e := NewEncoder(&buf)
	if err := e.CopyCriticalParameters(d); !errors.Is(err, ErrHeaderNotRead) {
		t.Fatalf("expected ErrHeaderNotRead, got %v", err)
	}
	if err := e.WriteCoefficients(&CoefficientSet{}); !errors.Is(err, ErrParametersNotSet) {
		t.Fatalf("expected ErrParametersNotSet, got %v", err)
	}
	if err := e.WriteMarker(Marker{Code: jpegx.COM}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if err := e.Finish(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}

	encode(t, data, e, nil)

	if err := e.CopyCriticalParameters(d); err == nil {
		t.Fatal("expected error")
	}
	if err := e.WriteMarker(Marker{Code: jpegx.COM}); !errors.Is(err, ErrAlreadyFinished) {
		t.Fatalf("expected ErrAlreadyFinished, got %v", err)
	}
	if err := e.Finish(); !errors.Is(err, ErrAlreadyFinished) {
		t.Fatalf("expected ErrAlreadyFinished, got %v", err)
	}
}

func TestEncoder_RejectsBadInput(t *testing.T) {
	data := testJPEG(t, 32, 16, true)
	d := NewDecoder(bytes.NewReader(data))
	if _, err := d.ReadHeader(); err != nil {
		t.Fatal(err)
	}

	e := NewEncoder(&bytes.Buffer{}, func(o *EncoderOptions) {
		o.RestartInterval = 70000
	})
	if err := e.CopyCriticalParameters(d); err == nil {
		t.Fatal("expected restart interval error")
	}

	e = NewEncoder(&bytes.Buffer{})
	if err := e.CopyCriticalParameters(d); err != nil {
		t.Fatal(err)
	}
	small := &CoefficientSet{Grids: []*BlockGrid{NewBlockGrid(2, 2)}}
	if err := e.WriteCoefficients(small); err == nil {
		t.Fatal("expected size error")
	}
	if err := e.WriteCoefficients(newCoefficientSet(32, 16, d.Metadata().Components)); err != nil {
		t.Fatal(err)
	}
	if err := e.WriteMarker(Marker{Code: jpegx.DQT}); err == nil {
		t.Fatal("expected error for a table marker")
	}
}

func TestEncoder_ExtendedFrame(t *testing.T) {
	data := testJPEG(t, 16, 16, true)
	var buf bytes.Buffer
	encode(t, data, NewEncoder(&buf), func(s *CoefficientSet) {
		s.Grids[0].Blocks[0][1] = 2000
	})

	meta, coeffs, _ := readCoefficients(t, buf.Bytes())
	if !meta.Extended {
		t.Fatal("expected an extended sequential frame")
	}
	if v := coeffs.Grids[0].Blocks[0][1]; v != 2000 {
		t.Fatalf("unexpected coefficient %d", v)
	}
}

func TestEncoder_TemporaryFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.jpg")

	e, err := CreateEncoder(out)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() == "out.jpg" {
		t.Fatalf("unexpected files %v", entries)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	assertFiles(t, dir)

	e, err = CreateEncoder(out)
	if err != nil {
		t.Fatal(err)
	}
	encode(t, testJPEG(t, 16, 16, true), e, nil)
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	assertFiles(t, dir, "out.jpg")

	// The output gets the same permissions as a file created in place.
	ref, err := os.OpenFile(filepath.Join(dir, "ref"), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		t.Fatal(err)
	}
	if err := ref.Close(); err != nil {
		t.Fatal(err)
	}
	want, err := os.Stat(ref.Name())
	if err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(out)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != want.Mode().Perm() {
		t.Fatalf("unexpected mode %v, want %v", fi.Mode(), want.Mode())
	}
}

func TestEncoder_Scans(t *testing.T) {
	comps := func(hv ...int) []Component {
		var cs []Component
		for i := 0; i < len(hv); i += 2 {
			cs = append(cs, Component{ID: byte(i/2 + 1), H: hv[i], V: hv[i+1]})
		}
		return cs
	}
	ids := func(scans []scanSpec) [][]int {
		var res [][]int
		for _, s := range scans {
			res = append(res, append(append([]int(nil), s.comps...), s.ss, s.se))
		}
		return res
	}

	for _, tc := range []struct {
		name        string
		components  []Component
		progressive bool
		want        [][]int // Component indexes followed by Ss and Se.
	}{
		{
			name:       "interleaved",
			components: comps(2, 2, 1, 1, 1, 1),
			want:       [][]int{{0, 1, 2, 0, 63}},
		},
		{
			name:       "too many blocks per MCU",
			components: comps(2, 2, 2, 2, 2, 2),
			want:       [][]int{{0, 0, 63}, {1, 0, 63}, {2, 0, 63}},
		},
		{
			name:        "progressive",
			components:  comps(2, 1, 1, 1, 1, 1),
			progressive: true,
			want: [][]int{
				{0, 1, 2, 0, 0},
				{0, 1, 5}, {0, 6, 63},
				{1, 1, 5}, {1, 6, 63},
				{2, 1, 5}, {2, 6, 63},
			},
		},
		{
			name:        "progressive gray",
			components:  comps(1, 1),
			progressive: true,
			want:        [][]int{{0, 0, 0}, {0, 1, 5}, {0, 6, 63}},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := &Encoder{components: tc.components, opts: EncoderOptions{Progressive: tc.progressive}}
			if diff := cmp.Diff(tc.want, ids(e.scans())); diff != "" {
				t.Fatalf("unexpected scans (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncoder_SeparateScansRoundTrip(t *testing.T) {
	// Three components sampled 2x2 do not fit an interleaved MCU.
	meta := &Metadata{
		Width: 48, Height: 32,
		Components: []Component{
			{ID: 1, H: 2, V: 2},
			{ID: 2, H: 2, V: 2, Quant: 1},
			{ID: 3, H: 2, V: 2, Quant: 1},
		},
		ColorSpace: ColorSpaceYCbCr,
	}
	want := randomSet(meta, 7)

	for _, opts := range []EncoderOptions{{}, {Progressive: true, RestartInterval: 3}} {
		var buf bytes.Buffer
		e := NewEncoder(&buf, func(o *EncoderOptions) { *o = opts })
		e.width, e.height = meta.Width, meta.Height
		e.components = meta.Components
		e.colorSpace = meta.ColorSpace
		var q [jpegx.BlockSize]uint16
		for i := range q {
			q[i] = 2
		}
		e.quant[0], e.quant[1] = &q, &q
		e.paramsSet = true

		if err := e.WriteCoefficients(want); err != nil {
			t.Fatal(err)
		}
		if err := e.Finish(); err != nil {
			t.Fatal(err)
		}

		_, got, _ := readCoefficients(t, buf.Bytes())
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("%+v: coefficients changed (-want +got):\n%s", opts, diff)
		}
	}
}
