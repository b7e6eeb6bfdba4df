package repo

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/tinoosan/volload/internal/data"
)

type InMemoryLoadRepo struct {
	mu    sync.RWMutex
	loads data.Loads
	byFP  map[string]string
	fps   map[string]string
}

func NewInMemoryLoadRepo() *InMemoryLoadRepo {
	return &InMemoryLoadRepo{
		loads: make(data.Loads, 0),
		byFP:  make(map[string]string),
		fps:   make(map[string]string),
	}
}

func (r *InMemoryLoadRepo) List(ctx context.Context) (data.Loads, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loads.Clone(), nil
}

func (r *InMemoryLoadRepo) Get(ctx context.Context, id string) (*data.Load, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, err := r.findByID(id)
	if err != nil {
		return nil, err
	}
	return l.Clone(), nil
}

func (r *InMemoryLoadRepo) GetByFingerprint(ctx context.Context, fprint string) (*data.Load, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byFP[fprint]
	if !ok {
		return nil, data.ErrNotFound
	}
	l, err := r.findByID(id)
	if err != nil {
		return nil, err
	}
	return l.Clone(), nil
}

func (r *InMemoryLoadRepo) AddWithFingerprint(ctx context.Context, l *data.Load, fprint string) (*data.Load, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byFP[fprint]; ok {
		existing, err := r.findByID(id)
		if err != nil {
			return nil, false, err
		}
		return existing.Clone(), false, nil
	}
	saved := l.Clone()
	saved.ID = uuid.NewString()
	r.loads = append(r.loads, saved)
	r.byFP[fprint] = saved.ID
	r.fps[saved.ID] = fprint
	return saved.Clone(), true, nil
}

func (r *InMemoryLoadRepo) Update(ctx context.Context, id string, mutate func(*data.Load) error) (*data.Load, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, err := r.findByID(id)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}
	// id and creation time are immutable
	next.ID, next.CreatedAt = cur.ID, cur.CreatedAt
	*cur = *next
	return cur.Clone(), nil
}

func (r *InMemoryLoadRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, l := range r.loads {
		if l.ID == id {
			r.loads = append(r.loads[:i], r.loads[i+1:]...)
			delete(r.byFP, r.fps[id])
			delete(r.fps, id)
			return nil
		}
	}
	return data.ErrNotFound
}

func (r *InMemoryLoadRepo) findByID(id string) (*data.Load, error) {
	for _, l := range r.loads {
		if l.ID == id {
			return l, nil
		}
	}
	return nil, data.ErrNotFound
}

var _ LoadRepo = (*InMemoryLoadRepo)(nil)
