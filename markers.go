package jpegrotate

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/vearutop/jpegrotate/internal/jpegx"
	"golang.org/x/exp/maps"
)

const xmpNamespace = "http://ns.adobe.com/xap/1.0/"

var (
	xmpSig = append([]byte(xmpNamespace), 0)
	iccSig = []byte{'I', 'C', 'C', '_', 'P', 'R', 'O', 'F', 'I', 'L', 'E', 0}
)

// Marker is an APPn or COM segment saved from the source image.
type Marker struct {
	Code byte
	Data []byte // Payload without the length field.
}

// Name returns the marker name, e.g. APP1 or COM.
func (m Marker) Name() string {
	switch {
	case m.Code == jpegx.COM:
		return "COM"
	case m.Code >= jpegx.APP0 && m.Code <= jpegx.APP15:
		return fmt.Sprintf("APP%d", m.Code-jpegx.APP0)
	}
	return fmt.Sprintf("0x%02X", m.Code)
}

// Kind names the well-known payload type, or returns an empty string.
func (m Marker) Kind() string {
	switch {
	case m.isJFIF():
		return "JFIF"
	case m.Code == jpegx.APP1 && bytes.HasPrefix(m.Data, exifSig):
		return "Exif"
	case m.Code == jpegx.APP1 && bytes.HasPrefix(m.Data, xmpSig):
		return "XMP"
	case m.Code == jpegx.APP2 && bytes.HasPrefix(m.Data, iccSig):
		return "ICC"
	case m.isMPF():
		return "MPF"
	case m.isAdobe():
		return "Adobe"
	}
	return ""
}

func (m Marker) isJFIF() bool {
	return m.Code == jpegx.APP0 && len(m.Data) >= 14 && bytes.HasPrefix(m.Data, jfifSig)
}

func (m Marker) isAdobe() bool {
	return m.Code == jpegx.APP14 && len(m.Data) >= 12 && bytes.HasPrefix(m.Data, adobeSig)
}

func (m Marker) isMPF() bool {
	return m.Code == jpegx.APP2 && bytes.HasPrefix(m.Data, mpfSig)
}

// CopyPolicy selects which saved markers are copied to the destination.
type CopyPolicy int

const (
	CopyAll      CopyPolicy = iota // Copy all APPn and COM markers except MPF indexes.
	CopyComments                   // Copy only COM markers.
	CopyNone                       // Copy nothing.
	CopyVerbatim                   // Copy all APPn and COM markers unchanged, MPF indexes included.
)

var copyPolicies = map[string]CopyPolicy{
	"all":      CopyAll,
	"comments": CopyComments,
	"none":     CopyNone,
	"verbatim": CopyVerbatim,
}

// CopyPolicyNames lists the accepted policy names in sorted order.
func CopyPolicyNames() []string {
	names := maps.Keys(copyPolicies)
	sort.Strings(names)
	return names
}

// ParseCopyPolicy parses a policy name as accepted by CopyPolicyNames.
func ParseCopyPolicy(s string) (CopyPolicy, error) {
	p, ok := copyPolicies[strings.ToLower(s)]
	if !ok {
		return CopyAll, fmt.Errorf("unknown copy policy %q, expected one of %s", s, strings.Join(CopyPolicyNames(), ", "))
	}
	return p, nil
}

func (p CopyPolicy) String() string {
	for name, v := range copyPolicies {
		if v == p {
			return name
		}
	}
	return fmt.Sprintf("CopyPolicy(%d)", int(p))
}

func (p CopyPolicy) keeps(m Marker) bool {
	switch p {
	case CopyAll:
		// An MPF index describes offsets of images that are not transformed.
		return !m.isMPF()
	case CopyVerbatim:
		return true
	case CopyComments:
		return m.Code == jpegx.COM
	}
	return false
}

// CopyMarkers writes the saved source markers selected by policy to dst,
// in their original order. It must be called after WriteCoefficients.
//
// JFIF and Adobe segments are skipped when the encoder wrote its own.
func CopyMarkers(src *Decoder, dst *Encoder, policy CopyPolicy) error {
	for _, m := range src.Markers() {
		if !policy.keeps(m) {
			continue
		}
		if m.isJFIF() && dst.wroteJFIF {
			continue
		}
		if m.isAdobe() && dst.wroteAdobe {
			continue
		}
		if err := dst.WriteMarker(m); err != nil {
			return err
		}
	}
	return nil
}

// writeSegment writes a marker segment with its length field.
func writeSegment(w *bufio.Writer, marker byte, payload []byte) error {
	if len(payload) > maxSegmentPayload {
		return fmt.Errorf("%s segment too large: %d bytes", Marker{Code: marker}.Name(), len(payload))
	}
	hdr := []byte{0xff, marker}
	hdr = putU16(hdr, len(payload)+2)
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
