// Package spatial computes the blocks and entities that a single block change
// drags along with it. Every function only reads the given world.View.
package spatial

import (
	"sort"

	"voxelprism.ai/internal/catalogs"
	"voxelprism.ai/internal/world"
)

// RootBlock resolves the primary cell of a multi-cell structure: the lower
// half of a door or tall plant, the head of a bed. Anything else, or a
// structure whose partner cell is missing, is its own root.
func RootBlock(v world.View, b world.Block) world.Block {
	def, ok := v.Def(b.State.Material)
	if !ok {
		return b
	}
	switch def.Structure {
	case catalogs.StructureBisected:
		if b.State.Half != world.HalfUpper {
			return b
		}
		if lower, ok := v.Block(b.Pos.Down()); ok && lower.State.Material == b.State.Material && lower.State.Half != world.HalfUpper {
			return lower
		}
	case catalogs.StructureBed:
		if b.State.Part != world.PartFoot || b.State.Facing == world.FaceNone {
			return b
		}
		if head, ok := v.Block(b.Pos.Offset(b.State.Facing)); ok && head.State.Material == b.State.Material && head.State.Part == world.PartHead {
			return head
		}
	}
	return b
}

// partners returns the other cells of root's structure.
func partners(v world.View, root world.Block) []world.Block {
	def, ok := v.Def(root.State.Material)
	if !ok {
		return nil
	}
	var c world.Coordinate
	switch def.Structure {
	case catalogs.StructureBisected:
		c = root.Pos.Up()
	case catalogs.StructureBed:
		if root.State.Facing == world.FaceNone {
			return nil
		}
		c = root.Pos.Offset(root.State.Facing.Opposite())
	default:
		return nil
	}
	p, ok := v.Block(c)
	if !ok || p.State.Material != root.State.Material {
		return nil
	}
	if RootBlock(v, p).Pos != root.Pos {
		return nil
	}
	return []world.Block{p}
}

// supportOf reports the cell n needs to stay in place.
func supportOf(v world.View, n world.Block) (world.Coordinate, bool) {
	def, ok := v.Def(n.State.Material)
	if !ok {
		return world.Coordinate{}, false
	}
	if def.Structure == catalogs.StructureBisected && n.State.Half == world.HalfUpper {
		return n.Pos.Down(), true
	}
	switch def.Attach {
	case catalogs.AttachBelow:
		return n.Pos.Down(), true
	case catalogs.AttachAbove:
		return n.Pos.Up(), true
	case catalogs.AttachFacing:
		if n.State.Facing == world.FaceNone {
			return world.Coordinate{}, false
		}
		return n.Pos.Offset(n.State.Facing.Opposite()), true
	}
	return world.Coordinate{}, false
}

// Detachables returns, breadth first, every block that detaches once b is
// gone. Results are structure roots; b's own root is never included. Within
// one BFS level blocks are ordered by ascending coordinate.
func Detachables(v world.View, b world.Block) []world.Block {
	root := RootBlock(v, b)
	frontier := append([]world.Block{root}, partners(v, root)...)

	visited := make(map[world.Coordinate]struct{}, 8)
	emitted := map[world.Coordinate]struct{}{root.Pos: {}}
	for _, f := range frontier {
		visited[f.Pos] = struct{}{}
	}

	var out []world.Block
	for len(frontier) > 0 {
		var next []world.Block
		for _, f := range frontier {
			for _, face := range world.Faces {
				np := f.Pos.Offset(face)
				if _, seen := visited[np]; seen {
					continue
				}
				n, ok := v.Block(np)
				if !ok || n.State.IsAir() {
					continue
				}
				if sp, ok := supportOf(v, n); !ok || sp != f.Pos {
					continue
				}
				visited[np] = struct{}{}
				next = append(next, n)
			}
		}
		sortBlocks(next)

		level := append([]world.Block(nil), next...)
		for _, n := range next {
			r := RootBlock(v, n)
			if _, done := emitted[r.Pos]; !done {
				emitted[r.Pos] = struct{}{}
				out = append(out, r)
			}
			if _, seen := visited[r.Pos]; !seen {
				visited[r.Pos] = struct{}{}
				level = append(level, r)
			}
			for _, p := range partners(v, r) {
				if _, seen := visited[p.Pos]; seen {
					continue
				}
				visited[p.Pos] = struct{}{}
				level = append(level, p)
			}
		}
		frontier = level
	}
	return out
}

// Gravity returns, breadth first, the gravity-affected blocks stacked on b
// (or on its structure) that fall once b is gone.
func Gravity(v world.View, b world.Block) []world.Block {
	root := RootBlock(v, b)
	frontier := append([]world.Block{root}, partners(v, root)...)

	visited := make(map[world.Coordinate]struct{}, 8)
	for _, f := range frontier {
		visited[f.Pos] = struct{}{}
	}

	var out []world.Block
	for len(frontier) > 0 {
		var next []world.Block
		for _, f := range frontier {
			up := f.Pos.Up()
			if _, seen := visited[up]; seen {
				continue
			}
			n, ok := v.Block(up)
			if !ok || n.State.IsAir() {
				continue
			}
			if def, ok := v.Def(n.State.Material); !ok || !def.Gravity {
				continue
			}
			visited[up] = struct{}{}
			next = append(next, n)
		}
		sortBlocks(next)
		out = append(out, next...)
		frontier = next
	}
	return out
}

// HangingEntities returns hanging entities within radius of loc whose
// attachment point is loc itself.
func HangingEntities(v world.View, loc world.Coordinate, radius int) []world.Entity {
	if radius <= 0 {
		return nil
	}
	var out []world.Entity
	for _, e := range v.Entities(loc, radius) {
		if e.AttachedTo != loc || !v.IsHanging(e.Kind) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func sortBlocks(bs []world.Block) {
	sort.Slice(bs, func(i, j int) bool { return bs[i].Pos.Less(bs[j].Pos) })
}
