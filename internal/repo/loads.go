package repo

import (
	"context"

	"github.com/tinoosan/volload/internal/data"
)

// LoadRepo stores load job records. Pixel data never goes through it.
type LoadRepo interface {
	LoadReader
	LoadWriter
}

type LoadReader interface {
	List(ctx context.Context) (data.Loads, error)
	Get(ctx context.Context, id string) (*data.Load, error)
	GetByFingerprint(ctx context.Context, fprint string) (*data.Load, error)
}

type LoadWriter interface {
	// AddWithFingerprint inserts l unless a record with the same fingerprint
	// exists, in which case the existing record is returned with false.
	AddWithFingerprint(ctx context.Context, l *data.Load, fprint string) (*data.Load, bool, error)
	// Update applies mutate to the latest copy of the record and stores it.
	Update(ctx context.Context, id string, mutate func(*data.Load) error) (*data.Load, error)
	Delete(ctx context.Context, id string) error
}
