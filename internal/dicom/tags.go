// Package dicom turns the tag dumps served by Orthanc into slice
// descriptors.
package dicom

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tinoosan/volload/internal/data"
)

// Tags used to build slice descriptors, in Orthanc "gggg,eeee" notation.
const (
	TagSamplesPerPixel           = "0028,0002"
	TagPhotometricInterpretation = "0028,0004"
	TagNumberOfFrames            = "0028,0008"
	TagRows                      = "0028,0010"
	TagColumns                   = "0028,0011"
	TagPixelSpacing              = "0028,0030"
	TagBitsAllocated             = "0028,0100"
	TagPixelRepresentation       = "0028,0103"
	TagImagePositionPatient      = "0020,0032"
	TagImageOrientationPatient   = "0020,0037"
	TagSOPInstanceUID            = "0008,0018"
)

// Tags maps a tag to its string value. Sequences and binary values are
// left out.
type Tags map[string]string

type taggedValue struct {
	Name  string          `json:"Name"`
	Type  string          `json:"Type"`
	Value json.RawMessage `json:"Value"`
}

// ParseTags decodes one instance in the DICOM-as-JSON layout returned by
// /instances/{id}/tags.
func ParseTags(body []byte) (Tags, error) {
	var raw map[string]taggedValue
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("instance tags: %w: %w", data.ErrDecode, err)
	}
	return fromRaw(raw), nil
}

// Instance pairs an Orthanc instance id with its tags.
type Instance struct {
	ID   string
	Tags Tags
}

// ParseInstancesTags decodes the body of /series/{id}/instances-tags. The
// result is ordered by instance id so that repeated loads see the same
// input order.
func ParseInstancesTags(body []byte) ([]Instance, error) {
	var raw map[string]map[string]taggedValue
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("series tags: %w: %w", data.ErrDecode, err)
	}
	out := make([]Instance, 0, len(raw))
	for id, tags := range raw {
		out = append(out, Instance{ID: id, Tags: fromRaw(tags)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func fromRaw(raw map[string]taggedValue) Tags {
	t := make(Tags, len(raw))
	for k, v := range raw {
		if v.Type != "String" {
			continue
		}
		var s string
		if err := json.Unmarshal(v.Value, &s); err != nil {
			continue
		}
		t[strings.ToLower(k)] = s
	}
	return t
}

func (t Tags) Lookup(tag string) (string, bool) {
	v, ok := t[strings.ToLower(tag)]
	return strings.TrimSpace(v), ok
}

// Int parses a numeric tag.
func (t Tags) Int(tag string) (int, bool) {
	v, ok := t.Lookup(tag)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Floats parses a backslash separated multi-valued tag.
func (t Tags) Floats(tag string) ([]float64, bool) {
	v, ok := t.Lookup(tag)
	if !ok || v == "" {
		return nil, false
	}
	parts := strings.Split(v, "\\")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}
