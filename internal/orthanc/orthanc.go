// Package orthanc holds the image server settings and the command source
// that loads volumes from its REST API.
package orthanc

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/tinoosan/volload/internal/data"
	"github.com/tinoosan/volload/internal/imaging"
	"github.com/tinoosan/volload/internal/oracle"
)

const defaultURL = "http://127.0.0.1:8042"

// Client carries what a runner needs to reach the server.
type Client struct {
	baseURL  *url.URL
	username string
	password string
	http     *http.Client
}

func NewClientFromEnv() (*Client, error) {
	ms := 10000
	if v := os.Getenv("ORTHANC_TIMEOUT_MS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			ms = parsed
		}
	}
	return NewClient(os.Getenv("ORTHANC_URL"), os.Getenv("ORTHANC_USERNAME"), os.Getenv("ORTHANC_PASSWORD"),
		time.Duration(ms)*time.Millisecond)
}

// NewClient falls back to the local default server when rawURL is empty.
func NewClient(rawURL, username, password string, timeout time.Duration) (*Client, error) {
	if rawURL == "" {
		rawURL = defaultURL
	}
	baseURL, err := url.Parse(rawURL)
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("orthanc url %q: %w", rawURL, data.ErrInvalidArgument)
	}
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		http:     &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) BaseURL() *url.URL    { return c.baseURL }
func (c *Client) HTTP() *http.Client   { return c.http }
func (c *Client) Username() string     { return c.username }
func (c *Client) HasCredentials() bool { return c.username != "" }

// Runner executes commands against this server.
func (c *Client) Runner() *oracle.Runner {
	r := oracle.NewRunner(c.baseURL, c.http)
	r.Username, r.Password = c.username, c.password
	return r
}

// JPEG qualities of the web viewer previews, lowest level first.
const (
	QualityLowJPEG    = 50
	QualityMiddleJPEG = 90
)

// Source fetches metadata from the REST API and pixels in three levels:
// two web viewer JPEG previews, then the lossless image.
type Source struct {
	// Timeout applies to every command; zero leaves it to the HTTP client.
	Timeout time.Duration
}

func (s *Source) Levels() int { return 3 }

func (s *Source) SeriesTags(seriesID string) *oracle.Command {
	return oracle.NewAPI(http.MethodGet, "/series/"+url.PathEscape(seriesID)+"/instances-tags").WithTimeout(s.Timeout)
}

func (s *Source) InstanceTags(instanceID string) *oracle.Command {
	return oracle.NewAPI(http.MethodGet, "/instances/"+url.PathEscape(instanceID)+"/tags").WithTimeout(s.Timeout)
}

func (s *Source) Slice(instanceID string, expected imaging.Format, level int) (*oracle.Command, error) {
	switch level {
	case 0:
		return oracle.NewCompressedImage(instanceID, QualityLowJPEG, expected).WithTimeout(s.Timeout), nil
	case 1:
		return oracle.NewCompressedImage(instanceID, QualityMiddleJPEG, expected).WithTimeout(s.Timeout), nil
	case 2:
		cmd, err := oracle.NewImage(instanceID, expected)
		if err != nil {
			return nil, fmt.Errorf("instance %q: %w: %w", instanceID, data.ErrIncompatibleImageFormat, err)
		}
		return cmd.WithTimeout(s.Timeout), nil
	}
	return nil, fmt.Errorf("quality level %d: %w", level, data.ErrInvalidArgument)
}
