package oracle

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"github.com/tinoosan/volload/internal/data"
)

// Shared zstd decoder; DecodeAll is safe for concurrent use.
var zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))

// DecodeContent undoes the Content-Encoding of a response body. Multiple
// codings are undone in reverse order of application.
func DecodeContent(encoding string, body []byte) ([]byte, error) {
	codings := strings.Split(encoding, ",")
	for i := len(codings) - 1; i >= 0; i-- {
		var err error
		body, err = decodeOne(strings.ToLower(strings.TrimSpace(codings[i])), body)
		if err != nil {
			return nil, fmt.Errorf("content encoding %q: %w: %w", codings[i], data.ErrDecode, err)
		}
	}
	return body, nil
}

func decodeOne(coding string, body []byte) ([]byte, error) {
	switch coding {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer func() { _ = zr.Close() }()
		return io.ReadAll(zr)
	case "deflate":
		// RFC 9110 deflate is zlib framed, but raw streams are common
		if zr, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
			defer func() { _ = zr.Close() }()
			return io.ReadAll(zr)
		}
		fr := flate.NewReader(bytes.NewReader(body))
		defer func() { _ = fr.Close() }()
		return io.ReadAll(fr)
	case "zstd":
		return zstdDecoder.DecodeAll(body, nil)
	}
	return nil, fmt.Errorf("unsupported coding")
}
