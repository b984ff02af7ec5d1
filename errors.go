package jpegrotate

import "errors"

var (
	// ErrCannotOpenInput is returned when the source file cannot be opened.
	ErrCannotOpenInput = errors.New("cannot open input file")
	// ErrCannotOpenOutput is returned when the destination file cannot be created.
	ErrCannotOpenOutput = errors.New("cannot open output file")
	// ErrTransformUnsatisfiable is returned when the requested transform
	// cannot be performed with the given constraints.
	ErrTransformUnsatisfiable = errors.New("transformation is not perfect")
	// ErrUnsupportedAngle is returned for rotation angles other than 90, 180 or 270.
	ErrUnsupportedAngle = errors.New("unsupported rotation angle")

	// ErrHeaderNotRead is returned when a step needs the source header
	// before Decoder.ReadHeader succeeded.
	ErrHeaderNotRead = errors.New("header was not read")
	// ErrWorkspaceNotRequested is returned when coefficients are read or
	// transformed before Decoder.RequestWorkspace.
	ErrWorkspaceNotRequested = errors.New("transform workspace was not requested")
	// ErrParametersNotSet is returned when the destination is written before
	// Encoder.CopyCriticalParameters.
	ErrParametersNotSet = errors.New("critical parameters were not copied")
	// ErrNotStarted is returned by encoder steps that need
	// Encoder.WriteCoefficients to have been called.
	ErrNotStarted = errors.New("coefficients were not written")
	// ErrAlreadyStarted is returned when destination parameters change
	// after Encoder.WriteCoefficients.
	ErrAlreadyStarted = errors.New("coefficients were already written")
	// ErrAlreadyFinished is returned by any encoder step after Encoder.Finish.
	ErrAlreadyFinished = errors.New("compression already finished")
)

// FormatError reports that the input is not a valid JPEG.
type FormatError string

func (e FormatError) Error() string { return "invalid JPEG format: " + string(e) }

// UnsupportedError reports that the input uses a valid but unimplemented JPEG feature.
type UnsupportedError string

func (e UnsupportedError) Error() string { return "unsupported JPEG feature: " + string(e) }
