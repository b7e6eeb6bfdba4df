// Package imaging turns fetched bytes into raw pixel buffers.
package imaging

import "fmt"

// Format is the pixel layout of a decoded slice.
type Format int

const (
	FormatUnknown Format = iota
	Gray8
	Gray16
	SignedGray16
	RGB24
)

func (f Format) String() string {
	switch f {
	case Gray8:
		return "Gray8"
	case Gray16:
		return "Gray16"
	case SignedGray16:
		return "SignedGray16"
	case RGB24:
		return "RGB24"
	}
	return "Unknown"
}

// BytesPerPixel returns 0 for unknown formats.
func (f Format) BytesPerPixel() int {
	switch f {
	case Gray8:
		return 1
	case Gray16, SignedGray16:
		return 2
	case RGB24:
		return 3
	}
	return 0
}

// Image is a tightly packed, little-endian pixel buffer.
type Image struct {
	Format Format
	Width  int
	Height int
	Pix    []byte
}

// NewImage allocates a zeroed image.
func NewImage(f Format, width, height int) *Image {
	return &Image{Format: f, Width: width, Height: height, Pix: make([]byte, width*height*f.BytesPerPixel())}
}

// Stride is the number of bytes per row.
func (im *Image) Stride() int { return im.Width * im.Format.BytesPerPixel() }

// Validate checks that Pix matches the declared dimensions.
func (im *Image) Validate() error {
	if im == nil {
		return fmt.Errorf("nil image")
	}
	bpp := im.Format.BytesPerPixel()
	if bpp == 0 {
		return fmt.Errorf("unknown pixel format")
	}
	if im.Width < 0 || im.Height < 0 || len(im.Pix) != im.Width*im.Height*bpp {
		return fmt.Errorf("pixel buffer is %d bytes, want %dx%dx%d", len(im.Pix), im.Width, im.Height, bpp)
	}
	return nil
}
