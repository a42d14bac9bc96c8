package zone

import "testing"

func TestGridSquareKey(t *testing.T) {
	if got := (GridSquare{X: -2, Y: 3}).Key(); got != "-2,3" {
		t.Fatalf("Key() = %q", got)
	}
}

func TestGridSquareNeighboursCount(t *testing.T) {
	n := (GridSquare{X: 0, Y: 0}).Neighbours()
	if len(n) != 8 {
		t.Fatalf("expected 8 neighbours, got %d", len(n))
	}
	for _, sq := range n {
		if sq.X == 0 && sq.Y == 0 {
			t.Fatalf("neighbours must not include self")
		}
	}
}

func TestFromPositionNegativeCoordinates(t *testing.T) {
	sq := FromPosition(-50, -1500, 1000)
	if sq.X != -1 || sq.Y != -2 {
		t.Fatalf("FromPosition(-50,-1500,1000) = %+v", sq)
	}
}

func TestDistanceToEdgeCenterIsHalfZone(t *testing.T) {
	d := DistanceToEdge(500, 500, 1000)
	if d != 500 {
		t.Fatalf("DistanceToEdge center = %v, want 500", d)
	}
}

func TestDistanceToEdgeNearBoundary(t *testing.T) {
	d := DistanceToEdge(995, 500, 1000)
	if d >= 50 {
		t.Fatalf("DistanceToEdge near boundary = %v, want < 50", d)
	}
}
