// Package zone implements the zone transition controller: boundary
// detection against the current GridSquare, the neighbour connection
// pool, and the atomic transition procedure that retargets a client
// from one action server to another.
package zone

import (
	"fmt"
	"math"
)

// DefaultZoneSize is the world-unit edge length of one grid cell.
const DefaultZoneSize = 1000.0

// GridSquare names one zone of the regular planar partition. Two
// zones are neighbours if their Chebyshev distance is 1.
type GridSquare struct {
	X, Y int
}

func (g GridSquare) Key() string { return fmt.Sprintf("%d,%d", g.X, g.Y) }

// FromPosition derives the GridSquare containing (x, y) given the
// partition's cell size.
func FromPosition(x, y, zoneSize float64) GridSquare {
	return GridSquare{X: int(floorDiv(x, zoneSize)), Y: int(floorDiv(y, zoneSize))}
}

func floorDiv(v, size float64) float64 {
	return math.Floor(v / size)
}

// Neighbours returns the up-to-8 Chebyshev-adjacent squares, excluding g itself.
func (g GridSquare) Neighbours() []GridSquare {
	out := make([]GridSquare, 0, 8)
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			if dx == 0 && dy == 0 {
				continue
			}
			out = append(out, GridSquare{X: g.X + dx, Y: g.Y + dy})
		}
	}
	return out
}

// DistanceToEdge returns the Chebyshev distance, in world units, from
// (x, y) to the nearest edge of the GridSquare it occupies.
func DistanceToEdge(x, y, zoneSize float64) float64 {
	localX := modFloat(x, zoneSize)
	localY := modFloat(y, zoneSize)
	distX := min(localX, zoneSize-localX)
	distY := min(localY, zoneSize-localY)
	return min(distX, distY)
}

func modFloat(v, size float64) float64 {
	m := v - floorDiv(v, size)*size
	if m < 0 {
		m += size
	}
	return m
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
