// Command jpegrotate losslessly rotates JPEG images.
package main

import (
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/vearutop/jpegrotate"
)

const exitFailure = -1

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: jpegrotate [flags] <input.jpg> <output.jpg> <90|180|270>")
	fmt.Fprintln(w, "Rotates a JPEG image clockwise without recompression.")
	fmt.Fprintln(w, "Flags:")
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("jpegrotate", flag.ContinueOnError)
	copyMode := fs.String("copy", "all", "markers to copy: "+strings.Join(jpegrotate.CopyPolicyNames(), ", "))
	optimize := fs.Bool("optimize", false, "compute optimal Huffman tables")
	progressive := fs.Bool("progressive", false, "write a progressive JPEG")
	restart := fs.Int("restart", 0, "restart interval in MCUs, 0 disables restart markers")
	trim := fs.Bool("trim", false, "drop partial edge blocks instead of failing on unaligned images")
	gray := fs.Bool("grayscale", false, "keep only the luma component")
	crop := fs.String("crop", "", "crop region WxH+X+Y in output coordinates")
	verify := fs.Bool("verify", false, "compare the result with a pixel-domain rotation")
	maxMem := fs.Int64("maxmem", 0, "coefficient memory limit in MiB, 0 uses the default, negative disables the limit")
	verbose := fs.Bool("v", false, "print image details")
	fs.SetOutput(stderr)
	fs.Usage = func() {
		usage(stderr)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}
	if fs.NArg() != 3 {
		fmt.Fprintln(stderr, "ERROR: expected input file, output file and rotation angle")
		fs.Usage()
		return exitFailure
	}
	inPath, outPath := fs.Arg(0), fs.Arg(1)

	// A malformed angle is reported the same way as an unsupported one.
	angle, err := strconv.Atoi(fs.Arg(2))
	if err != nil {
		angle = 0
	}
	t, err := jpegrotate.TransformFromAngle(angle)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v, got %q\n", jpegrotate.ErrUnsupportedAngle, fs.Arg(2))
		fs.Usage()
		return exitFailure
	}

	policy, err := jpegrotate.ParseCopyPolicy(*copyMode)
	if err != nil {
		fmt.Fprintln(stderr, "ERROR:", err)
		fs.Usage()
		return exitFailure
	}

	req := jpegrotate.DefaultRequest(t)
	if *trim {
		req.Perfect = false
		req.Trim = true
	}
	req.Grayscale = *gray
	if *crop != "" {
		r, err := parseCrop(*crop)
		if err != nil {
			fmt.Fprintln(stderr, "ERROR:", err)
			fs.Usage()
			return exitFailure
		}
		req.Crop = &r
	}

	fmt.Fprintln(stdout, "--------------------- START ROTATING ------------------------")
	err = jpegrotate.RotateFile(inPath, outPath, req, func(o *jpegrotate.Options) {
		o.Copy = policy
		o.Decoder.MaxMemory = *maxMem << 20
		o.Encoder = jpegrotate.EncoderOptions{
			Optimize:        *optimize,
			Progressive:     *progressive,
			RestartInterval: *restart,
		}
		o.Warn = func(msg string) {
			fmt.Fprintln(stderr, "WARNING:", msg)
		}
		if *verbose {
			o.Inspect = func(meta *jpegrotate.Metadata, markers []jpegrotate.Marker, plan *jpegrotate.Plan) {
				describe(stdout, meta, markers, plan)
			}
		}
	})
	if err != nil {
		report(stderr, err)
		return exitFailure
	}

	if *verify {
		r, err := jpegrotate.VerifyFiles(inPath, outPath, req)
		if err != nil {
			fmt.Fprintln(stderr, "ERROR: verify:", err)
			return exitFailure
		}
		fmt.Fprintf(stdout, "verify: %dx%d pixels compared, max difference %d, mean %.3f\n",
			r.Compared.Dx(), r.Compared.Dy(), r.MaxDiff, r.MeanDiff)
		if !r.Within(jpegrotate.DefaultTolerance) {
			fmt.Fprintf(stderr, "ERROR: verify: difference exceeds %d\n", jpegrotate.DefaultTolerance)
			return exitFailure
		}
	}

	fmt.Fprintln(stdout, "-------------------------- DONE -----------------------------")
	return 0
}

func report(w io.Writer, err error) {
	fmt.Fprintln(w, "ERROR:", err)

	var fe jpegrotate.FormatError
	var ue jpegrotate.UnsupportedError
	switch {
	case errors.Is(err, jpegrotate.ErrTransformUnsatisfiable):
		fmt.Fprintln(w, "Use -trim to drop partial edge blocks.")
	case errors.As(err, &fe):
		fmt.Fprintln(w, "The input is not a valid JPEG file.")
	case errors.As(err, &ue):
		fmt.Fprintln(w, "The input uses a JPEG feature that cannot be transformed.")
	}
}

// parseCrop parses WxH+X+Y, the offset may be omitted.
func parseCrop(s string) (image.Rectangle, error) {
	var w, h, x, y int
	var err error
	if strings.Contains(s, "+") {
		_, err = fmt.Sscanf(s, "%dx%d+%d+%d", &w, &h, &x, &y)
	} else {
		_, err = fmt.Sscanf(s, "%dx%d", &w, &h)
	}
	if err != nil || w <= 0 || h <= 0 || x < 0 || y < 0 {
		return image.Rectangle{}, fmt.Errorf("invalid crop region %q, expected WxH+X+Y", s)
	}
	return image.Rect(x, y, x+w, y+h), nil
}

func describe(w io.Writer, meta *jpegrotate.Metadata, markers []jpegrotate.Marker, plan *jpegrotate.Plan) {
	mode := "baseline"
	switch {
	case meta.Progressive:
		mode = "progressive"
	case meta.Extended:
		mode = "extended sequential"
	}
	fmt.Fprintf(w, "input: %dx%d %s, %s, %d components\n",
		meta.Width, meta.Height, meta.ColorSpace, mode, len(meta.Components))
	for _, c := range meta.Components {
		fmt.Fprintf(w, "  component %d: sampling %dx%d, quantization table %d\n", c.ID, c.H, c.V, c.Quant)
	}
	if meta.RestartInterval > 0 {
		fmt.Fprintf(w, "  restart interval: %d\n", meta.RestartInterval)
	}
	for _, m := range markers {
		kind := m.Kind()
		if kind != "" {
			kind = " " + kind
		}
		fmt.Fprintf(w, "  %s%s: %d bytes\n", m.Name(), kind, len(m.Data))
	}
	off := plan.CropOffset()
	fmt.Fprintf(w, "output: %dx%d, %s, iMCU %dx%d, offset %d,%d\n",
		plan.Width, plan.Height, plan.Request.Transform, plan.IMCUWidth, plan.IMCUHeight, off.X, off.Y)
}
