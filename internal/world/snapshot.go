package world

import (
	"sort"

	"voxelprism.ai/internal/catalogs"
)

// View is the read-only world model used while expanding one event. Block
// returns false for cells outside the known region; callers treat those as
// empty.
type View interface {
	Block(c Coordinate) (Block, bool)
	Entities(center Coordinate, radius int) []Entity
	Def(material string) (catalogs.BlockDef, bool)
	IsHanging(kind string) bool
}

type Bounds struct {
	Min Coordinate `json:"min"`
	Max Coordinate `json:"max"`
}

func (b Bounds) Contains(c Coordinate) bool {
	return c.X >= b.Min.X && c.X <= b.Max.X &&
		c.Y >= b.Min.Y && c.Y <= b.Max.Y &&
		c.Z >= b.Min.Z && c.Z <= b.Max.Z
}

// Snapshot is an in-memory region of the world. It is built once per event
// and then only read, so it is safe to share between goroutines after
// construction.
type Snapshot struct {
	cats     *catalogs.Catalogs
	bounds   *Bounds
	blocks   map[Coordinate]BlockState
	entities []Entity
}

func NewSnapshot(cats *catalogs.Catalogs) *Snapshot {
	return &Snapshot{
		cats:   cats,
		blocks: map[Coordinate]BlockState{},
	}
}

// WithBounds clips the snapshot: cells outside b are reported as unknown.
func (s *Snapshot) WithBounds(b Bounds) *Snapshot {
	s.bounds = &b
	return s
}

func (s *Snapshot) Put(b Block) *Snapshot {
	s.blocks[b.Pos] = b.State
	return s
}

func (s *Snapshot) Set(c Coordinate, st BlockState) *Snapshot {
	s.blocks[c] = st
	return s
}

func (s *Snapshot) AddEntity(e Entity) *Snapshot {
	s.entities = append(s.entities, e)
	return s
}

func (s *Snapshot) Len() int { return len(s.blocks) }

func (s *Snapshot) InBounds(c Coordinate) bool {
	return s.bounds == nil || s.bounds.Contains(c)
}

func (s *Snapshot) Block(c Coordinate) (Block, bool) {
	if !s.InBounds(c) {
		return Block{}, false
	}
	st, ok := s.blocks[c]
	if !ok {
		return Block{}, false
	}
	return Block{Pos: c, State: st}, true
}

func (s *Snapshot) Entities(center Coordinate, radius int) []Entity {
	if radius < 0 {
		return nil
	}
	var out []Entity
	for _, e := range s.entities {
		if Chebyshev(center, e.Pos) <= radius {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func (s *Snapshot) Def(material string) (catalogs.BlockDef, bool) {
	return s.cats.Block(material)
}

func (s *Snapshot) IsHanging(kind string) bool {
	return s.cats.IsHanging(kind)
}
