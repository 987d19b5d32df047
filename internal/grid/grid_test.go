package grid

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ecopia-map/octree_converter/internal/geometry"
)

func cubeBox(size float64) geometry.BoundingBox {
	return geometry.BoundingBox{
		Min: geometry.Vector3{X: 0, Y: 0, Z: 0},
		Max: geometry.Vector3{X: size, Y: size, Z: size},
	}
}

func TestCounterAddAssignsCellByOctant(t *testing.T) {
	c := NewCounter(cubeBox(8), 2)
	c.Add(geometry.Vector3{X: 1, Y: 1, Z: 1})   // lower octant, cell (0,0,0)
	c.Add(geometry.Vector3{X: 5, Y: 1, Z: 1})   // x-upper octant, cell (1,0,0)

	if got := c.Cells[c.CellMorton(0, 0, 0)]; got != 1 {
		t.Errorf("cell(0,0,0) = %d, want 1", got)
	}
	if got := c.Cells[c.CellMorton(1, 0, 0)]; got != 1 {
		t.Errorf("cell(1,0,0) = %d, want 1", got)
	}
}

func TestCounterMerge(t *testing.T) {
	a := NewCounter(cubeBox(8), 2)
	b := NewCounter(cubeBox(8), 2)
	a.Add(geometry.Vector3{X: 1, Y: 1, Z: 1})
	b.Add(geometry.Vector3{X: 1, Y: 1, Z: 1})
	b.Add(geometry.Vector3{X: 5, Y: 1, Z: 1})

	a.Merge(b)
	if got := a.Cells[a.CellMorton(0, 0, 0)]; got != 2 {
		t.Errorf("cell(0,0,0) after merge = %d, want 2", got)
	}
	if got := a.Cells[a.CellMorton(1, 0, 0)]; got != 1 {
		t.Errorf("cell(1,0,0) after merge = %d, want 1", got)
	}
}

// Plan must split whenever a cell's count exceeds maxPerCandidate, except
// at the grid's finest level where it has no choice but to emit a leaf
// over budget.
func TestPlanSplitsOverBudgetAndForcesLeafAtMaxLevel(t *testing.T) {
	box := cubeBox(8)
	c := NewCounter(box, 2) // MaxLevel = 1

	for i := 0; i < 10; i++ {
		c.Add(geometry.Vector3{X: 1, Y: 1, Z: 1}) // cell (0,0,0)
	}
	for i := 0; i < 3; i++ {
		c.Add(geometry.Vector3{X: 5, Y: 1, Z: 1}) // cell (1,0,0)
	}

	got := Plan(c, 5)
	want := []Candidate{
		{Digits: []uint8{0}, NumPoints: 10, Level: 1, Box: box.Octant(0)},
		{Digits: []uint8{1}, NumPoints: 3, Level: 1, Box: box.Octant(1)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Plan mismatch (-want +got):\n%s", diff)
	}
}

// When the whole point set fits under budget, Plan must emit a single
// root-level candidate with no digits, per the single-chunk-fits-root case.
func TestPlanEmitsSingleRootCandidateWhenUnderBudget(t *testing.T) {
	box := cubeBox(8)
	c := NewCounter(box, 2)
	c.Add(geometry.Vector3{X: 1, Y: 1, Z: 1})
	c.Add(geometry.Vector3{X: 5, Y: 5, Z: 5})

	got := Plan(c, 100)
	want := []Candidate{
		{Digits: []uint8{}, NumPoints: 2, Level: 0, Box: box},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Plan mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanSkipsEmptyCells(t *testing.T) {
	box := cubeBox(8)
	c := NewCounter(box, 2)
	c.Add(geometry.Vector3{X: 1, Y: 1, Z: 1})

	got := Plan(c, 0)
	if len(got) != 1 {
		t.Fatalf("expected exactly one non-empty candidate, got %d", len(got))
	}
	if got[0].NumPoints != 1 {
		t.Errorf("NumPoints = %d, want 1", got[0].NumPoints)
	}
}
