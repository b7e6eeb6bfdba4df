package fp

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// NormalizeSource trims surrounding whitespace. Orthanc identifiers are
// case-sensitive hashes, so nothing else is folded.
func NormalizeSource(s string) string {
	return strings.TrimSpace(s)
}

// Fingerprint computes a stable hex-encoded SHA-256 over the load kind and
// the normalized source id. Two requests for the same series share it.
func Fingerprint(kind, source string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(kind))))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeSource(source)))
	return hex.EncodeToString(h.Sum(nil))
}

// PixelDigest is a content tag for an extracted slice. The revision is
// mixed in so two identical images of different revisions still differ.
func PixelDigest(revision uint64, pix []byte) string {
	h := blake3.New()
	var rev [8]byte
	binary.BigEndian.PutUint64(rev[:], revision)
	h.Write(rev[:])
	h.Write(pix)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}
