package oracle

import (
	"net/http"
	"sort"
	"strings"
)

type headerField struct {
	key   string
	value string
}

// Header is an ordered multimap with case-insensitive keys. Insertion order
// is kept for the wire; lookups ignore case.
type Header struct {
	fields []headerField
}

// Add appends a value, keeping earlier values for the same key.
func (h *Header) Add(key, value string) {
	h.fields = append(h.fields, headerField{key: key, value: value})
}

// Set replaces every value of key with value, at the position of the first
// occurrence.
func (h *Header) Set(key, value string) {
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].key, key) {
			h.fields[i].value = value
			h.del(key, i+1)
			return
		}
	}
	h.Add(key, value)
}

// Del removes every value of key.
func (h *Header) Del(key string) { h.del(key, 0) }

func (h *Header) del(key string, from int) {
	kept := h.fields[:from]
	for _, f := range h.fields[from:] {
		if !strings.EqualFold(f.key, key) {
			kept = append(kept, f)
		}
	}
	h.fields = kept
}

// Get returns the first value of key.
func (h Header) Get(key string) string {
	for _, f := range h.fields {
		if strings.EqualFold(f.key, key) {
			return f.value
		}
	}
	return ""
}

func (h Header) Values(key string) []string {
	var out []string
	for _, f := range h.fields {
		if strings.EqualFold(f.key, key) {
			out = append(out, f.value)
		}
	}
	return out
}

func (h Header) Len() int { return len(h.fields) }

// Each visits the fields in insertion order.
func (h Header) Each(fn func(key, value string)) {
	for _, f := range h.fields {
		fn(f.key, f.value)
	}
}

func (h Header) Clone() Header {
	return Header{fields: append([]headerField(nil), h.fields...)}
}

// apply copies the fields onto an outgoing request header.
func (h Header) apply(dst http.Header) {
	for _, f := range h.fields {
		dst.Add(f.key, f.value)
	}
}

// headerFrom converts a response header. net/http does not keep the wire
// order, so keys come out sorted.
func headerFrom(src http.Header) Header {
	var h Header
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range src[k] {
			h.Add(k, v)
		}
	}
	return h
}
