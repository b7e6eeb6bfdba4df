package imaging

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"math"

	"github.com/tinoosan/volload/internal/data"
)

type webViewerEnvelope struct {
	Orthanc *struct {
		PixelData   *string `json:"PixelData"`
		Stretched   *bool   `json:"Stretched"`
		Compression *string `json:"Compression"`
		IsSigned    *bool   `json:"IsSigned"`
		StretchLow  *int32  `json:"StretchLow"`
		StretchHigh *int32  `json:"StretchHigh"`
	} `json:"Orthanc"`
}

// DecodeWebViewerJPEG decodes the JSON envelope returned by the web viewer
// plugin: an 8-bit JPEG, optionally stretched from a wider grayscale range.
// Stretched images are mapped back into expected.
func DecodeWebViewerJPEG(body []byte, expected Format) (*Image, error) {
	var env webViewerEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("web viewer envelope: %w: %w", data.ErrDecode, err)
	}
	info := env.Orthanc
	if info == nil || info.PixelData == nil || info.Stretched == nil || info.Compression == nil || *info.Compression != "Jpeg" {
		return nil, fmt.Errorf("web viewer envelope is incomplete: %w", data.ErrDecode)
	}
	signed := info.IsSigned != nil && *info.IsSigned
	stretched := *info.Stretched

	raw, err := base64.StdEncoding.DecodeString(*info.PixelData)
	if err != nil {
		return nil, fmt.Errorf("web viewer pixel data: %w: %w", data.ErrDecode, err)
	}
	src, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("web viewer jpeg: %w: %w", data.ErrDecode, err)
	}
	img := FromStd(src)

	if img.Format == RGB24 {
		if expected != RGB24 {
			return nil, fmt.Errorf("color jpeg for a %s slice: %w", expected, data.ErrIncompatibleImageFormat)
		}
		if signed || stretched {
			return nil, fmt.Errorf("color jpeg cannot be signed or stretched: %w", data.ErrDecode)
		}
		return img, nil
	}
	if img.Format != Gray8 {
		return nil, fmt.Errorf("unexpected jpeg format %s: %w", img.Format, data.ErrDecode)
	}
	if !stretched {
		if expected != Gray8 {
			return nil, fmt.Errorf("unstretched jpeg for a %s slice: %w", expected, data.ErrIncompatibleImageFormat)
		}
		return img, nil
	}

	if info.StretchLow == nil || info.StretchHigh == nil {
		return nil, fmt.Errorf("stretched jpeg without range: %w", data.ErrDecode)
	}
	low, high := *info.StretchLow, *info.StretchHigh
	if low < -32768 || high > 65535 || (low < 0 && high > 32767) {
		return nil, fmt.Errorf("stretch range [%d,%d] fits no 16-bit format: %w", low, high, data.ErrDecode)
	}
	return unstretch(img, expected, float64(low), float64(high))
}

// unstretch maps each 8-bit sample v to v*(high-low)/255 + low, rounded and
// clamped to the range of f.
func unstretch(src *Image, f Format, low, high float64) (*Image, error) {
	var lo, hi float64
	switch f {
	case Gray8:
		lo, hi = 0, math.MaxUint8
	case Gray16:
		lo, hi = 0, math.MaxUint16
	case SignedGray16:
		lo, hi = math.MinInt16, math.MaxInt16
	default:
		return nil, fmt.Errorf("cannot unstretch into %s: %w", f, data.ErrIncompatibleImageFormat)
	}

	scaling := (high - low) / 255
	out := NewImage(f, src.Width, src.Height)
	for i, v := range src.Pix {
		x := float64(v)
		if math.Abs(scaling) > epsilon {
			x = x*scaling + low
		}
		x = math.Max(lo, math.Min(hi, math.Round(x)))
		switch f {
		case Gray8:
			out.Pix[i] = uint8(x)
		case Gray16:
			binary.LittleEndian.PutUint16(out.Pix[2*i:], uint16(x))
		case SignedGray16:
			binary.LittleEndian.PutUint16(out.Pix[2*i:], uint16(int16(x)))
		}
	}
	return out, nil
}

const epsilon = 10 * 1.1920928955078125e-07

// Conform checks a decoded image against the format the slice geometry
// announced. A Gray16 buffer is relabelled as SignedGray16 since unsigned
// and signed endpoints share the same wire layout.
func Conform(img *Image, expected Format) error {
	if img.Format == expected {
		return nil
	}
	if img.Format == Gray16 && expected == SignedGray16 {
		img.Format = SignedGray16
		return nil
	}
	return fmt.Errorf("got %s, expected %s: %w", img.Format, expected, data.ErrIncompatibleImageFormat)
}
