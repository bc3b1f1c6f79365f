package grid

import (
	"fmt"
	"strings"
)

type Vec3i struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3i) Sub(o Vec3i) Vec3i { return Vec3i{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3i) Scale(k int) Vec3i { return Vec3i{v.X * k, v.Y * k, v.Z * k} }
func (v Vec3i) Array() [3]int     { return [3]int{v.X, v.Y, v.Z} }
func (v Vec3i) String() string    { return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z) }
func FromArray(a [3]int) Vec3i    { return Vec3i{a[0], a[1], a[2]} }
func (v Vec3i) Cross(o Vec3i) Vec3i {
	return Vec3i{
		X: v.Y*o.Z - v.Z*o.Y,
		Y: v.Z*o.X - v.X*o.Z,
		Z: v.X*o.Y - v.Y*o.X,
	}
}

// Direction is one of the six unit axes. North is -Z, East is +X.
type Direction uint8

const (
	Down Direction = iota
	Up
	North
	South
	West
	East
)

var directionNames = [...]string{"DOWN", "UP", "NORTH", "SOUTH", "WEST", "EAST"}

var directionVecs = [...]Vec3i{
	Down:  {0, -1, 0},
	Up:    {0, 1, 0},
	North: {0, 0, -1},
	South: {0, 0, 1},
	West:  {-1, 0, 0},
	East:  {1, 0, 0},
}

// Directions lists every direction in declaration order.
var Directions = []Direction{Down, Up, North, South, West, East}

// Horizontal lists the cardinal directions clockwise from north.
var Horizontal = []Direction{North, East, South, West}

func (d Direction) Vec() Vec3i { return directionVecs[d] }

func (d Direction) String() string {
	if int(d) < len(directionNames) {
		return directionNames[d]
	}
	return fmt.Sprintf("Direction(%d)", uint8(d))
}

func (d Direction) Opposite() Direction { return d ^ 1 }

func (d Direction) Axis() int {
	return int(d) / 2
}

func ParseDirection(s string) (Direction, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, n := range directionNames {
		if n == s {
			return Direction(i), true
		}
	}
	return 0, false
}

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Direction) UnmarshalText(b []byte) error {
	v, ok := ParseDirection(string(b))
	if !ok {
		return fmt.Errorf("unknown direction %q", b)
	}
	*d = v
	return nil
}
