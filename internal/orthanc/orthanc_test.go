package orthanc

import (
	"errors"
	"testing"
	"time"

	"github.com/tinoosan/volload/internal/data"
	"github.com/tinoosan/volload/internal/imaging"
	"github.com/tinoosan/volload/internal/oracle"
)

func TestNewClientFromEnv(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		wantURL     string
		wantTimeout time.Duration
		wantCreds   bool
	}{
		{"defaults", map[string]string{}, "http://127.0.0.1:8042", 10 * time.Second, false},
		{"custom", map[string]string{
			"ORTHANC_URL":        "https://pacs.example.org/orthanc",
			"ORTHANC_TIMEOUT_MS": "2500",
			"ORTHANC_USERNAME":   "viewer",
			"ORTHANC_PASSWORD":   "secret",
		}, "https://pacs.example.org/orthanc", 2500 * time.Millisecond, true},
		{"bad timeout", map[string]string{"ORTHANC_TIMEOUT_MS": "-1"}, "http://127.0.0.1:8042", 10 * time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"ORTHANC_URL", "ORTHANC_TIMEOUT_MS", "ORTHANC_USERNAME", "ORTHANC_PASSWORD"} {
				t.Setenv(k, tt.env[k])
			}
			c, err := NewClientFromEnv()
			if err != nil {
				t.Fatal(err)
			}
			if c.BaseURL().String() != tt.wantURL {
				t.Errorf("url = %s", c.BaseURL())
			}
			if c.HTTP().Timeout != tt.wantTimeout {
				t.Errorf("timeout = %s", c.HTTP().Timeout)
			}
			if c.HasCredentials() != tt.wantCreds {
				t.Errorf("credentials = %v", c.HasCredentials())
			}
			r := c.Runner()
			if tt.wantCreds && (r.Username != "viewer" || r.Password != "secret") {
				t.Errorf("runner credentials = %q/%q", r.Username, r.Password)
			}
		})
	}
}

func TestNewClient_RejectsURL(t *testing.T) {
	if _, err := NewClient("not a url", "", "", time.Second); !errors.Is(err, data.ErrInvalidArgument) {
		t.Errorf("err = %v", err)
	}
}

func TestSource_Commands(t *testing.T) {
	s := &Source{Timeout: time.Second}
	tests := []struct {
		level      int
		wantKind   oracle.Kind
		wantTarget string
	}{
		{0, oracle.KindCompressedImage, "/web-viewer/instances/jpeg50-i%2F1_0"},
		{1, oracle.KindCompressedImage, "/web-viewer/instances/jpeg90-i%2F1_0"},
		{2, oracle.KindImage, "/instances/i%2F1/image-int16"},
	}
	for _, tt := range tests {
		cmd, err := s.Slice("i/1", imaging.SignedGray16, tt.level)
		if err != nil {
			t.Fatalf("level %d: %v", tt.level, err)
		}
		if cmd.Kind() != tt.wantKind || cmd.Target != tt.wantTarget || cmd.Timeout != time.Second {
			t.Errorf("level %d: %s timeout %s", tt.level, cmd, cmd.Timeout)
		}
	}
	if _, err := s.Slice("i1", imaging.Gray16, 3); !errors.Is(err, data.ErrInvalidArgument) {
		t.Errorf("level 3: err = %v", err)
	}
	if _, err := s.Slice("i1", imaging.FormatUnknown, 2); !errors.Is(err, data.ErrIncompatibleImageFormat) {
		t.Errorf("unknown format: err = %v", err)
	}
	if got := s.SeriesTags("s1").Target; got != "/series/s1/instances-tags" {
		t.Errorf("series target = %s", got)
	}
	if got := s.InstanceTags("i1").Target; got != "/instances/i1/tags" {
		t.Errorf("instance target = %s", got)
	}
}
