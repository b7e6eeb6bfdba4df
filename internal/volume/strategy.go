package volume

import (
	"fmt"

	"github.com/tinoosan/volload/internal/data"
)

// Quality ranks how faithfully a slice was fetched.
type Quality int

const (
	QualityLow Quality = iota
	QualityMiddle
	QualityBest
)

func (q Quality) String() string {
	switch q {
	case QualityLow:
		return "low"
	case QualityMiddle:
		return "middle"
	case QualityBest:
		return "best"
	}
	return fmt.Sprintf("quality(%d)", int(q))
}

// ItemSorter orders the items of a strategy around a current item.
type ItemSorter interface {
	Count() int
	Sort(current int) ([]int, error)
}

// CenterOut visits the current item, then alternates above and below it,
// then finishes the longer side.
type CenterOut struct{ n int }

func NewCenterOut(n int) (*CenterOut, error) {
	if n <= 0 {
		return nil, fmt.Errorf("center-out sorter over %d items: %w", n, data.ErrInvalidArgument)
	}
	return &CenterOut{n: n}, nil
}

func (s *CenterOut) Count() int { return s.n }

func (s *CenterOut) Sort(current int) ([]int, error) {
	if current < 0 || current >= s.n {
		return nil, fmt.Errorf("item %d out of range [0,%d): %w", current, s.n, data.ErrInvalidArgument)
	}
	out := make([]int, 0, s.n)
	out = append(out, current)
	below, above := current, s.n-1-current
	m := min(below, above)
	for i := 1; i <= m; i++ {
		out = append(out, current+i, current-i)
	}
	for i := current - m - 1; i >= 0; i-- {
		out = append(out, i)
	}
	for i := current + m + 1; i < s.n; i++ {
		out = append(out, i)
	}
	return out, nil
}

// Sequential visits the current item and everything after it, then walks
// back towards the first item.
type Sequential struct{ n int }

func NewSequential(n int) (*Sequential, error) {
	if n <= 0 {
		return nil, fmt.Errorf("sequential sorter over %d items: %w", n, data.ErrInvalidArgument)
	}
	return &Sequential{n: n}, nil
}

func (s *Sequential) Count() int { return s.n }

func (s *Sequential) Sort(current int) ([]int, error) {
	if current < 0 || current >= s.n {
		return nil, fmt.Errorf("item %d out of range [0,%d): %w", current, s.n, data.ErrInvalidArgument)
	}
	out := make([]int, 0, s.n)
	for i := current; i < s.n; i++ {
		out = append(out, i)
	}
	for i := current - 1; i >= 0; i-- {
		out = append(out, i)
	}
	return out, nil
}

// Sorter names accepted by NewItemSorter.
const (
	SorterCenterOut  = "center-out"
	SorterSequential = "sequential"
)

// NewItemSorter builds a sorter by name.
func NewItemSorter(name string, n int) (ItemSorter, error) {
	switch name {
	case "", SorterCenterOut:
		return NewCenterOut(n)
	case SorterSequential:
		return NewSequential(n)
	}
	return nil, fmt.Errorf("unknown fetching order %q: %w", name, data.ErrInvalidArgument)
}

// Strategy yields the next (item, quality level) to fetch until exhausted.
// Levels go from 0 to MaxQuality.
type Strategy interface {
	Count() int
	MaxQuality() int
	Next() (item, quality int, ok bool)
	SetCurrent(item int) error
}

type contentItem struct {
	item    int
	quality int
}

// DefaultBlockSize is the number of neighbours promoted per quality level.
const DefaultBlockSize = 2

// BasicStrategy fetches the current item at full quality first, then its
// neighbours in blocks: the closest block gets the higher levels early, the
// remote items start from the lowest level. An item is never scheduled at a
// level it has already been fetched at.
type BasicStrategy struct {
	sorter      ItemSorter
	nextQuality []int
	maxQuality  int
	content     []contentItem
	position    int
	blockSize   int
}

func NewBasicStrategy(sorter ItemSorter, maxQuality int) (*BasicStrategy, error) {
	if sorter == nil {
		return nil, fmt.Errorf("nil item sorter: %w", data.ErrNullReference)
	}
	if maxQuality < 0 {
		return nil, fmt.Errorf("max quality %d: %w", maxQuality, data.ErrInvalidArgument)
	}
	s := &BasicStrategy{
		sorter:      sorter,
		nextQuality: make([]int, sorter.Count()),
		maxQuality:  maxQuality,
		blockSize:   DefaultBlockSize,
	}
	if err := s.SetCurrent(0); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *BasicStrategy) Count() int { return s.sorter.Count() }

func (s *BasicStrategy) MaxQuality() int { return s.maxQuality }

// SetBlockSize takes effect at the next SetCurrent.
func (s *BasicStrategy) SetBlockSize(n int) error {
	if n <= 0 {
		return fmt.Errorf("block size %d: %w", n, data.ErrInvalidArgument)
	}
	s.blockSize = n
	return nil
}

func (s *BasicStrategy) schedule(item, quality int) {
	if s.nextQuality[item] <= quality {
		s.content = append(s.content, contentItem{item: item, quality: quality})
	}
}

func (s *BasicStrategy) Next() (int, int, bool) {
	if s.position >= len(s.content) {
		return 0, 0, false
	}
	c := s.content[s.position]
	s.position++
	s.nextQuality[c.item] = c.quality + 1
	return c.item, c.quality, true
}

// SetCurrent rebuilds the fetch order around item. What was already
// handed out by Next is not scheduled again at the same level.
func (s *BasicStrategy) SetCurrent(item int) error {
	v, err := s.sorter.Sort(item)
	if err != nil {
		return err
	}
	s.position = 0
	s.content = s.content[:0]
	if len(v) == 0 {
		return nil
	}

	s.schedule(v[0], s.maxQuality)
	for q := 0; q <= s.maxQuality; q++ {
		start := 1 + q*s.blockSize
		end := start + s.blockSize
		if q == s.maxQuality || end > len(v) {
			end = len(v)
		}
		a := 0
		if s.maxQuality >= q+1 {
			a = s.maxQuality - q - 1
		}
		for j := a; j <= s.maxQuality; j++ {
			for i := start; i < end; i++ {
				s.schedule(v[i], j)
			}
		}
	}
	return nil
}
