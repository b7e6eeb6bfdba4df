// Package oracle describes units of asynchronous work and the contract the
// dispatcher backends implement to execute them.
package oracle

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tinoosan/volload/internal/imaging"
)

// Kind tags the closed set of command variants.
type Kind int

const (
	KindHTTP Kind = iota
	KindAPI
	KindImage
	KindCompressedImage
	KindTimer
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindHTTP:
		return "http"
	case KindAPI:
		return "api"
	case KindImage:
		return "image"
	case KindCompressedImage:
		return "compressed_image"
	case KindTimer:
		return "timer"
	case KindCustom:
		return "custom"
	}
	return "unknown"
}

// Continuation runs inside the loading context when the command succeeds.
// A returned error is handled like a failure completion.
type Continuation func(*Success) error

// ExecFunc carries the work of a custom command.
type ExecFunc func(ctx context.Context) (Result, error)

// Command is one unit of asynchronous work. A command is submitted once and
// owned by the scheduler, then by a backend, until its single completion is
// emitted.
type Command struct {
	kind Kind

	// Target is an absolute URL for KindHTTP and a path relative to the
	// server for the other network kinds.
	Target  string
	Method  string
	Header  Header
	Body    []byte
	Timeout time.Duration

	// Delay is the sleep of a timer command.
	Delay time.Duration

	// Expected is the pixel format image commands must produce.
	Expected imaging.Format

	// Quality is the JPEG quality of a compressed image command.
	Quality int

	// Name labels custom commands in logs and metrics.
	Name string
	exec ExecFunc

	then Continuation
}

func (c *Command) Kind() Kind { return c.kind }

// Then sets the continuation and returns c.
func (c *Command) Then(fn Continuation) *Command {
	c.then = fn
	return c
}

func (c *Command) Continuation() Continuation { return c.then }

func (c *Command) WithTimeout(d time.Duration) *Command {
	c.Timeout = d
	return c
}

func (c *Command) WithHeader(key, value string) *Command {
	c.Header.Set(key, value)
	return c
}

func (c *Command) WithBody(body []byte) *Command {
	c.Body = body
	return c
}

func (c *Command) String() string {
	switch c.kind {
	case KindTimer:
		return fmt.Sprintf("timer %s", c.Delay)
	case KindCustom:
		return fmt.Sprintf("custom %s", c.Name)
	}
	return fmt.Sprintf("%s %s %s", c.kind, c.Method, c.Target)
}

// NewHTTP fetches an arbitrary absolute URL.
func NewHTTP(method, rawURL string) *Command {
	return &Command{kind: KindHTTP, Method: method, Target: rawURL}
}

// NewAPI calls a REST route of the image server, e.g. "/series/x/instances-tags".
func NewAPI(method, path string) *Command {
	return &Command{kind: KindAPI, Method: method, Target: path}
}

// ImagePath is the best-quality pixel route of an instance for the given
// format.
func ImagePath(instanceID string, f imaging.Format) (string, error) {
	base := "/instances/" + url.PathEscape(instanceID)
	switch f {
	case imaging.RGB24:
		return base + "/preview", nil
	case imaging.Gray8:
		return base + "/image-uint8", nil
	case imaging.Gray16:
		return base + "/image-uint16", nil
	case imaging.SignedGray16:
		return base + "/image-int16", nil
	}
	return "", fmt.Errorf("no image route for %s", f)
}

// NewImage fetches the decoded pixels of an instance at full quality.
func NewImage(instanceID string, expected imaging.Format) (*Command, error) {
	path, err := ImagePath(instanceID, expected)
	if err != nil {
		return nil, err
	}
	c := &Command{kind: KindImage, Method: http.MethodGet, Target: path, Expected: expected}
	c.Header.Set("Accept", imaging.ContentTypePAM)
	c.Header.Set("Accept-Encoding", "gzip")
	return c, nil
}

// NewCompressedImage fetches a JPEG preview of an instance through the web
// viewer plugin.
func NewCompressedImage(instanceID string, quality int, expected imaging.Format) *Command {
	return &Command{
		kind:     KindCompressedImage,
		Method:   http.MethodGet,
		Target:   fmt.Sprintf("/web-viewer/instances/jpeg%d-%s_0", quality, url.PathEscape(instanceID)),
		Quality:  quality,
		Expected: expected,
	}
}

// NewTimer completes successfully after d.
func NewTimer(d time.Duration) *Command {
	return &Command{kind: KindTimer, Delay: d}
}

// NewCustom runs exec in a backend like any other blocking command.
func NewCustom(name string, exec ExecFunc) *Command {
	return &Command{kind: KindCustom, Name: name, exec: exec}
}
