package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"mime"
	"strings"
	"sync"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/tinoosan/volload/internal/data"
)

// Content types understood by the default registry.
const (
	ContentTypePAM  = "image/x-portable-arbitrarymap"
	ContentTypePNG  = "image/png"
	ContentTypeJPEG = "image/jpeg"
	ContentTypeTIFF = "image/tiff"
	ContentTypeBMP  = "image/bmp"
)

// Decoder turns an encoded body into pixels. Decoders are pure.
type Decoder func(body []byte) (*Image, error)

// Registry selects a decoder by declared content type.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]Decoder
}

func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]Decoder)}
}

// DefaultRegistry knows PAM, PNG, JPEG, TIFF and BMP.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(ContentTypePAM, DecodePAM)
	r.Register(ContentTypePNG, stdDecoder(png.Decode))
	r.Register(ContentTypeJPEG, stdDecoder(jpeg.Decode))
	r.Register(ContentTypeTIFF, stdDecoder(tiff.Decode))
	r.Register(ContentTypeBMP, stdDecoder(bmp.Decode))
	return r
}

func (r *Registry) Register(contentType string, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[strings.ToLower(contentType)] = d
}

// Decode parses body according to contentType. Parameters such as charset
// are ignored.
func (r *Registry) Decode(contentType string, body []byte) (*Image, error) {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}
	r.mu.RLock()
	d, ok := r.decoders[mt]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no decoder for content type %q: %w", contentType, data.ErrDecode)
	}
	img, err := d(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w: %w", mt, data.ErrDecode, err)
	}
	return img, nil
}

func stdDecoder(fn func(io.Reader) (image.Image, error)) Decoder {
	return func(body []byte) (*Image, error) {
		src, err := fn(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		return FromStd(src), nil
	}
}

// FromStd converts a decoded image.Image into a packed buffer. Gray images
// keep their depth; everything else becomes RGB24.
func FromStd(src image.Image) *Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	switch s := src.(type) {
	case *image.Gray:
		out := NewImage(Gray8, w, h)
		for y := 0; y < h; y++ {
			copy(out.Pix[y*w:(y+1)*w], s.Pix[y*s.Stride:y*s.Stride+w])
		}
		return out
	case *image.Gray16:
		out := NewImage(Gray16, w, h)
		for y := 0; y < h; y++ {
			row := s.Pix[y*s.Stride:]
			for x := 0; x < w; x++ {
				// image.Gray16 is big-endian
				out.Pix[2*(y*w+x)] = row[2*x+1]
				out.Pix[2*(y*w+x)+1] = row[2*x]
			}
		}
		return out
	}
	out := NewImage(RGB24, w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := 3 * (y*w + x)
			out.Pix[i], out.Pix[i+1], out.Pix[i+2] = c.R, c.G, c.B
		}
	}
	return out
}
