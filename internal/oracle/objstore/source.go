package objstore

import (
	"context"
	"fmt"
	"net/url"

	"github.com/tinoosan/volload/internal/data"
	"github.com/tinoosan/volload/internal/imaging"
	"github.com/tinoosan/volload/internal/oracle"
)

// Source lays a series out in a store the way the image server exposes it:
//
//	series/{id}/instances-tags.json
//	instances/{id}/tags.json
//	instances/{id}.pam
//
// Pixels exist at a single, full quality.
type Source struct {
	Store Store
}

func NewSource(s Store) *Source { return &Source{Store: s} }

func (s *Source) Levels() int { return 1 }

func (s *Source) SeriesTags(seriesID string) *oracle.Command {
	return s.read("series-tags", "series/"+url.PathEscape(seriesID)+"/instances-tags.json")
}

func (s *Source) InstanceTags(instanceID string) *oracle.Command {
	return s.read("instance-tags", "instances/"+url.PathEscape(instanceID)+"/tags.json")
}

func (s *Source) Slice(instanceID string, expected imaging.Format, level int) (*oracle.Command, error) {
	if level != 0 {
		return nil, fmt.Errorf("quality level %d of a single-level store: %w", level, data.ErrInvalidArgument)
	}
	key := "instances/" + url.PathEscape(instanceID) + ".pam"
	return oracle.NewCustom("slice "+key, func(ctx context.Context) (oracle.Result, error) {
		b, err := s.get(ctx, key)
		if err != nil {
			return oracle.Result{}, err
		}
		img, err := imaging.DecodePAM(b)
		if err != nil {
			return oracle.Result{}, fmt.Errorf("%s: %w: %w", key, data.ErrDecode, err)
		}
		if err := imaging.Conform(img, expected); err != nil {
			return oracle.Result{}, fmt.Errorf("%s: %w", key, err)
		}
		return oracle.Result{Body: b, Image: img}, nil
	}), nil
}

func (s *Source) read(name, key string) *oracle.Command {
	return oracle.NewCustom(name+" "+key, func(ctx context.Context) (oracle.Result, error) {
		b, err := s.get(ctx, key)
		if err != nil {
			return oracle.Result{}, err
		}
		return oracle.Result{Body: b}, nil
	})
}

func (s *Source) get(ctx context.Context, key string) ([]byte, error) {
	if s.Store == nil {
		return nil, fmt.Errorf("no store for %s: %w", key, data.ErrNullReference)
	}
	b, err := s.Store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", key, data.ErrNetwork, err)
	}
	return b, nil
}
