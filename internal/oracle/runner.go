package oracle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tinoosan/volload/internal/data"
	"github.com/tinoosan/volload/internal/imaging"
	"github.com/tinoosan/volload/internal/metrics"
)

// Runner performs the blocking part of a command: the HTTP exchange,
// transport decoding and the kind-specific decoding. Both backends share it.
type Runner struct {
	BaseURL  *url.URL
	Client   *http.Client
	Username string
	Password string
	Images   *imaging.Registry
}

// NewRunner returns a runner for the server at base.
func NewRunner(base *url.URL, client *http.Client) *Runner {
	if client == nil {
		client = http.DefaultClient
	}
	return &Runner{BaseURL: base, Client: client, Images: imaging.DefaultRegistry()}
}

// Execute runs cmd and always returns a completion; it never panics past
// the dispatch boundary.
func (r *Runner) Execute(ctx context.Context, cmd *Command) (c Completion) {
	kind := cmd.Kind().String()
	timer := prometheus.NewTimer(metrics.CommandLatency.WithLabelValues(kind))
	defer timer.ObserveDuration()
	defer func() {
		if p := recover(); p != nil {
			c = Fail(cmd, fmt.Errorf("%s panicked: %v: %w", cmd, p, data.ErrDecode))
		}
		if _, failed := c.(*Failure); failed {
			metrics.CommandErrors.WithLabelValues(kind).Inc()
		}
	}()

	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	switch cmd.Kind() {
	case KindTimer:
		t := time.NewTimer(cmd.Delay)
		defer t.Stop()
		select {
		case <-t.C:
			return Succeed(cmd, Result{})
		case <-ctx.Done():
			return Fail(cmd, fmt.Errorf("%s: %w: %w", cmd, data.ErrNetwork, ctx.Err()))
		}
	case KindCustom:
		if cmd.exec == nil {
			return Fail(cmd, fmt.Errorf("%s has no body: %w", cmd, data.ErrNullReference))
		}
		res, err := cmd.exec(ctx)
		if err != nil {
			return Fail(cmd, err)
		}
		return Succeed(cmd, res)
	}

	res, err := r.fetch(ctx, cmd)
	if err != nil {
		return Fail(cmd, err)
	}
	if err := r.decode(cmd, &res); err != nil {
		return Fail(cmd, err)
	}
	return Succeed(cmd, res)
}

func (r *Runner) target(cmd *Command) (string, error) {
	if cmd.Kind() == KindHTTP {
		return cmd.Target, nil
	}
	if r.BaseURL == nil {
		return "", fmt.Errorf("no server configured for %s: %w", cmd, data.ErrInvalidArgument)
	}
	ref, err := url.Parse(cmd.Target)
	if err != nil {
		return "", fmt.Errorf("bad target %q: %w", cmd.Target, data.ErrInvalidArgument)
	}
	u := *r.BaseURL
	u.Path = strings.TrimRight(u.Path, "/") + ref.Path
	u.RawPath = ""
	u.RawQuery = ref.RawQuery
	return u.String(), nil
}

func (r *Runner) fetch(ctx context.Context, cmd *Command) (Result, error) {
	target, err := r.target(cmd)
	if err != nil {
		return Result{}, err
	}
	method := cmd.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if cmd.Body != nil {
		body = bytes.NewReader(cmd.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w: %w", cmd, data.ErrInvalidArgument, err)
	}
	cmd.Header.apply(req.Header)
	if cmd.Kind() != KindHTTP && r.Username != "" {
		req.SetBasicAuth(r.Username, r.Password)
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w: %w", cmd, data.ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("%s: read body: %w: %w", cmd, data.ErrNetwork, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("%s: http %d: %s: %w", cmd, resp.StatusCode, truncate(b, 256), data.ErrNetwork)
	}

	// Transport only decodes gzip on its own when it added the header
	if !resp.Uncompressed {
		b, err = DecodeContent(resp.Header.Get("Content-Encoding"), b)
		if err != nil {
			return Result{}, fmt.Errorf("%s: %w", cmd, err)
		}
	}
	return Result{Status: resp.StatusCode, Body: b, Header: headerFrom(resp.Header)}, nil
}

func (r *Runner) decode(cmd *Command, res *Result) error {
	switch cmd.Kind() {
	case KindImage:
		img, err := r.Images.Decode(res.Header.Get("Content-Type"), res.Body)
		if err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
		if err := imaging.Conform(img, cmd.Expected); err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
		res.Image = img
	case KindCompressedImage:
		img, err := imaging.DecodeWebViewerJPEG(res.Body, cmd.Expected)
		if err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
		res.Image = img
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
