package imaging

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// DecodePAM reads a Netpbm P7 image as served by the image-uint8,
// image-uint16 and image-int16 endpoints. 16-bit samples are big-endian on
// the wire and stored little-endian.
func DecodePAM(body []byte) (*Image, error) {
	rd := bytes.NewReader(body)
	br := bufio.NewReader(rd)

	magic, err := br.ReadString('\n')
	if err != nil || strings.TrimSpace(magic) != "P7" {
		return nil, fmt.Errorf("pam: missing P7 magic")
	}

	var width, height, depth, maxval int
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("pam: truncated header")
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "ENDHDR" {
			break
		}
		key, val, _ := strings.Cut(line, " ")
		val = strings.TrimSpace(val)
		switch key {
		case "WIDTH":
			width, err = strconv.Atoi(val)
		case "HEIGHT":
			height, err = strconv.Atoi(val)
		case "DEPTH":
			depth, err = strconv.Atoi(val)
		case "MAXVAL":
			maxval, err = strconv.Atoi(val)
		case "TUPLTYPE":
		default:
			return nil, fmt.Errorf("pam: unknown header field %q", key)
		}
		if err != nil {
			return nil, fmt.Errorf("pam: bad %s %q", key, val)
		}
	}

	var f Format
	switch {
	case depth == 1 && maxval > 0 && maxval < 256:
		f = Gray8
	case depth == 1 && maxval >= 256 && maxval < 65536:
		f = Gray16
	case depth == 3 && maxval > 0 && maxval < 256:
		f = RGB24
	default:
		return nil, fmt.Errorf("pam: unsupported depth %d with maxval %d", depth, maxval)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("pam: bad size %dx%d", width, height)
	}

	// the header is untrusted: size the buffer from what the body holds
	bpp := f.BytesPerPixel()
	remaining := br.Buffered() + rd.Len()
	if width > math.MaxInt/height/bpp || width*height*bpp > remaining {
		return nil, fmt.Errorf("pam: %dx%d %s exceeds the %d bytes of pixel data", width, height, f, remaining)
	}

	img := NewImage(f, width, height)
	if _, err := io.ReadFull(br, img.Pix); err != nil {
		return nil, fmt.Errorf("pam: short pixel data: %w", err)
	}
	if f == Gray16 {
		for i := 0; i+1 < len(img.Pix); i += 2 {
			img.Pix[i], img.Pix[i+1] = img.Pix[i+1], img.Pix[i]
		}
	}
	return img, nil
}

// EncodePAM writes img in the layout DecodePAM reads.
func EncodePAM(w io.Writer, img *Image) error {
	if err := img.Validate(); err != nil {
		return err
	}
	depth, maxval, tuple := 1, 255, "GRAYSCALE"
	switch img.Format {
	case Gray16, SignedGray16:
		maxval = 65535
	case RGB24:
		depth, tuple = 3, "RGB"
	}
	if _, err := fmt.Fprintf(w, "P7\nWIDTH %d\nHEIGHT %d\nDEPTH %d\nMAXVAL %d\nTUPLTYPE %s\nENDHDR\n",
		img.Width, img.Height, depth, maxval, tuple); err != nil {
		return err
	}
	if img.Format.BytesPerPixel() != 2 {
		_, err := w.Write(img.Pix)
		return err
	}
	be := make([]byte, len(img.Pix))
	for i := 0; i+1 < len(img.Pix); i += 2 {
		be[i], be[i+1] = img.Pix[i+1], img.Pix[i]
	}
	_, err := w.Write(be)
	return err
}
