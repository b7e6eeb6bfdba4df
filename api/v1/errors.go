package v1

import (
	"errors"
	"net/http"

	"github.com/tinoosan/volload/internal/data"
)

var (
	ErrLoadCtx     = errors.New("load request missing in context")
	ErrPatchCtx    = errors.New("patch body missing in context")
	ErrCurrentJSON = errors.New("current is required")
	ErrContentType = errors.New("Content-Type must be application/json")
	ErrProjection  = errors.New("projection must be axial, coronal or sagittal")
)

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, data.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, data.ErrInvalidArgument), errors.Is(err, data.ErrBadSource), errors.Is(err, ErrProjection):
		return http.StatusBadRequest
	case errors.Is(err, data.ErrInvalidState), errors.Is(err, data.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	markErr(w, err)
	http.Error(w, err.Error(), statusFor(err))
}
