package data

import "errors"

// Error taxonomy shared by the loading pipeline. Synchronous contract
// violations are returned directly to callers; asynchronous failures travel
// inside oracle failure completions and wrap ErrNetwork or ErrDecode.
var (
	ErrInvalidArgument         = errors.New("invalid argument")
	ErrInvalidState            = errors.New("invalid state")
	ErrBadGeometry             = errors.New("bad geometry")
	ErrIncompatibleImageFormat = errors.New("incompatible image format")
	ErrIncompatibleImageSize   = errors.New("incompatible image size")
	ErrNetwork                 = errors.New("network error")
	ErrDecode                  = errors.New("decode error")
	ErrNullReference           = errors.New("null reference")

	ErrNotFound  = errors.New("load not found")
	ErrConflict  = errors.New("load already exists")
	ErrBadSource = errors.New("invalid series or instance id")
)

// IsGeometry reports whether err belongs to the slice-set validation family.
func IsGeometry(err error) bool {
	return errors.Is(err, ErrBadGeometry) ||
		errors.Is(err, ErrIncompatibleImageFormat) ||
		errors.Is(err, ErrIncompatibleImageSize)
}
