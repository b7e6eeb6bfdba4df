package v1

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/tinoosan/volload/internal/reqid"
	"github.com/tinoosan/volload/internal/service"
)

type rwLogger struct {
	http.ResponseWriter
	status int
	bytes  int
	err    error
}

func (w *rwLogger) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *rwLogger) SetErr(err error) {
	w.err = err
}

func (w *rwLogger) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Hijack lets the events route upgrade to a websocket through the logger.
func (w *rwLogger) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

type errorSetter interface {
	SetErr(error)
}

func markErr(w http.ResponseWriter, err error) {
	if es, ok := w.(errorSetter); ok {
		es.SetErr(err)
	}
}

type (
	ctxKeyLoad  struct{}
	ctxKeyPatch struct{}
)

type patchBody struct {
	Current *int `json:"current"`
}

// decodeBody decodes the request body into a T stored under key, answering
// 415 or 400 itself. check rejects decoded bodies with a 400.
func decodeBody[T any](key any, check func(T) error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body T
			if err := decodeJSONStrict(w, r, &body, maxBody, "application/json"); err != nil {
				markErr(w, err)
				if errors.Is(err, ErrContentType) {
					http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
					return
				}
				http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
				return
			}
			if check != nil {
				if err := check(body); err != nil {
					markErr(w, err)
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), key, body)))
		})
	}
}

// MiddlewareLoadValidation puts the decoded service.CreateRequest in the
// request context.
var MiddlewareLoadValidation = decodeBody[service.CreateRequest](ctxKeyLoad{}, nil)

// MiddlewarePatchCurrent requires a body carrying the current slice.
var MiddlewarePatchCurrent = decodeBody[patchBody](ctxKeyPatch{}, func(b patchBody) error {
	if b.Current == nil {
		return ErrCurrentJSON
	}
	return nil
})

func (h *LoadHandler) Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		rw := &rwLogger{ResponseWriter: w}
		next.ServeHTTP(rw, r)
		if rw.status == 0 {
			rw.status = http.StatusOK
		}
		log := reqid.Logger(r.Context(), h.l)
		attrs := []any{
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.status,
			"remote", r.RemoteAddr,
			"ua", r.UserAgent(),
			"dur_ms", time.Since(startTime).Milliseconds(),
			"bytes", rw.bytes,
		}
		if rw.err != nil {
			log.Error(rw.err.Error(), attrs...)
			return
		}
		log.Info("", attrs...)
	})
}
