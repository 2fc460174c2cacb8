package world

import (
	"fmt"

	"github.com/google/uuid"
)

// Coordinate identifies one block cell.
type Coordinate struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func C(x, y, z int) Coordinate { return Coordinate{X: x, Y: y, Z: z} }

func (c Coordinate) ToArray() [3]int { return [3]int{c.X, c.Y, c.Z} }

func FromArray(a [3]int) Coordinate { return Coordinate{X: a[0], Y: a[1], Z: a[2]} }

func (c Coordinate) Add(dx, dy, dz int) Coordinate {
	return Coordinate{X: c.X + dx, Y: c.Y + dy, Z: c.Z + dz}
}

func (c Coordinate) Offset(f Face) Coordinate {
	d := f.Delta()
	return c.Add(d.X, d.Y, d.Z)
}

func (c Coordinate) Up() Coordinate   { return c.Add(0, 1, 0) }
func (c Coordinate) Down() Coordinate { return c.Add(0, -1, 0) }

// Less orders by X, then Y, then Z.
func (c Coordinate) Less(o Coordinate) bool {
	if c.X != o.X {
		return c.X < o.X
	}
	if c.Y != o.Y {
		return c.Y < o.Y
	}
	return c.Z < o.Z
}

func (c Coordinate) String() string { return fmt.Sprintf("%d,%d,%d", c.X, c.Y, c.Z) }

func Chebyshev(a, b Coordinate) int {
	return max(abs(a.X-b.X), abs(a.Y-b.Y), abs(a.Z-b.Z))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

type Face string

const (
	FaceNone  Face = ""
	FaceDown  Face = "down"
	FaceUp    Face = "up"
	FaceNorth Face = "north"
	FaceSouth Face = "south"
	FaceWest  Face = "west"
	FaceEast  Face = "east"
)

// Faces lists the six neighbour directions in a fixed order.
var Faces = [6]Face{FaceDown, FaceUp, FaceNorth, FaceSouth, FaceWest, FaceEast}

func (f Face) Delta() Coordinate {
	switch f {
	case FaceDown:
		return Coordinate{Y: -1}
	case FaceUp:
		return Coordinate{Y: 1}
	case FaceNorth:
		return Coordinate{Z: -1}
	case FaceSouth:
		return Coordinate{Z: 1}
	case FaceWest:
		return Coordinate{X: -1}
	case FaceEast:
		return Coordinate{X: 1}
	}
	return Coordinate{}
}

func (f Face) Opposite() Face {
	switch f {
	case FaceDown:
		return FaceUp
	case FaceUp:
		return FaceDown
	case FaceNorth:
		return FaceSouth
	case FaceSouth:
		return FaceNorth
	case FaceWest:
		return FaceEast
	case FaceEast:
		return FaceWest
	}
	return FaceNone
}

func (f Face) Valid() bool {
	for _, x := range Faces {
		if x == f {
			return true
		}
	}
	return f == FaceNone
}

const (
	HalfLower = "lower"
	HalfUpper = "upper"

	PartHead = "head"
	PartFoot = "foot"
)

// BlockState is the serializable material state of one cell.
type BlockState struct {
	Material string `json:"material"`
	Facing   Face   `json:"facing,omitempty"`
	Half     string `json:"half,omitempty"`
	Part     string `json:"part,omitempty"`
}

func (s BlockState) IsAir() bool { return s.Material == "" || s.Material == "AIR" }

// Block is a non-owning view of one cell, valid while its event is processed.
type Block struct {
	Pos   Coordinate `json:"pos"`
	State BlockState `json:"state"`
}

// Entity is a live, non-block object. AttachedTo is meaningful for hanging
// kinds only.
type Entity struct {
	ID         uuid.UUID  `json:"id"`
	Kind       string     `json:"kind"`
	Pos        Coordinate `json:"pos"`
	AttachedTo Coordinate `json:"attached_to"`
}

const (
	ActorPlayer = "player"
	ActorEntity = "entity"
)

type Actor struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Kind string    `json:"kind"`
}
