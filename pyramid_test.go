package jpegops

import "testing"

func fakeJpeg(w, h int) *OneJpeg {
	return &OneJpeg{width: w, height: h}
}

func TestBuildPyramidSingleFragment(t *testing.T) {
	fragments := []Fragment{
		{Z: 0, X: 0, Y: 0, Jpeg: fakeJpeg(100, 80)},
	}

	levels, err := buildPyramid(fragments)
	if err != nil {
		t.Fatalf("buildPyramid failed: %v", err)
	}

	// One input z, four scale_denoms: four logical levels.
	if len(levels) != 4 {
		t.Fatalf("expected 4 levels, got %d", len(levels))
	}

	if levels[0].Width() != 100 || levels[0].Height() != 80 {
		t.Fatalf("level 0 should be full resolution, got %dx%d", levels[0].Width(), levels[0].Height())
	}

	// Descending width sort.
	for i := 1; i < len(levels); i++ {
		if levels[i].Width() > levels[i-1].Width() {
			t.Fatalf("levels not sorted by descending width: %v", levels)
		}
	}

	wantWidths := map[int]bool{100: true, 50: true, 25: true, 12: true}
	for _, l := range levels {
		if !wantWidths[l.Width()] {
			t.Errorf("unexpected level width %d", l.Width())
		}
	}
}

func TestBuildPyramidGridAccumulation(t *testing.T) {
	// A 2x2 grid of 50x40 fragments at z=0: pixelW/H is the sum along row 0
	// and column 0, and image00 is the (0,0) fragment's own dimensions.
	fragments := []Fragment{
		{Z: 0, X: 0, Y: 0, Jpeg: fakeJpeg(50, 40)},
		{Z: 0, X: 1, Y: 0, Jpeg: fakeJpeg(50, 40)},
		{Z: 0, X: 0, Y: 1, Jpeg: fakeJpeg(50, 40)},
		{Z: 0, X: 1, Y: 1, Jpeg: fakeJpeg(50, 40)},
	}

	levels, err := buildPyramid(fragments)
	if err != nil {
		t.Fatalf("buildPyramid failed: %v", err)
	}

	var full *Level
	for _, l := range levels {
		if l.scaleDenom == 1 {
			full = l
		}
	}

	if full == nil {
		t.Fatal("no scale_denom=1 level found")
	}

	if full.pixelW != 100 || full.pixelH != 80 {
		t.Fatalf("expected accumulated 100x80, got %dx%d", full.pixelW, full.pixelH)
	}

	if full.image00W != 50 || full.image00H != 40 {
		t.Fatalf("expected image00 50x40, got %dx%d", full.image00W, full.image00H)
	}

	if full.jpegsAcross != 2 || full.jpegsDown != 2 {
		t.Fatalf("expected a 2x2 file grid, got %dx%d", full.jpegsAcross, full.jpegsDown)
	}
}

func TestBuildPyramidMultipleZ(t *testing.T) {
	fragments := []Fragment{
		{Z: 0, X: 0, Y: 0, Jpeg: fakeJpeg(100, 100)},
		{Z: 1, X: 0, Y: 0, Jpeg: fakeJpeg(50, 50)},
	}

	levels, err := buildPyramid(fragments)
	if err != nil {
		t.Fatalf("buildPyramid failed: %v", err)
	}

	// z=0 contributes widths 100,50,25,12; z=1 contributes 50,25,12,6.
	// Published widths 50, 25 and 12 collide between the two input z values;
	// last writer (z=1, later in fragment order) wins per spec.md §9.
	byWidth := make(map[int]*Level)
	for _, l := range levels {
		byWidth[l.Width()] = l
	}

	l50, ok := byWidth[50]
	if !ok {
		t.Fatal("expected a width-50 level")
	}

	if l50.pixelW != 50 {
		t.Fatalf("width-50 level should come from z=1's scale_denom=1 (pixelW=50), got pixelW=%d", l50.pixelW)
	}
}

func TestBuildPyramidRejectsBadOrder(t *testing.T) {
	fragments := []Fragment{
		{Z: 0, X: 0, Y: 0, Jpeg: fakeJpeg(50, 50)},
		{Z: 0, X: 0, Y: 1, Jpeg: fakeJpeg(50, 50)},
		{Z: 0, X: 1, Y: 0, Jpeg: fakeJpeg(50, 50)},
	}

	if _, err := buildPyramid(fragments); err != ErrFragmentOrder {
		t.Fatalf("expected ErrFragmentOrder, got %v", err)
	}
}

func TestBuildPyramidRejectsNonZeroStart(t *testing.T) {
	fragments := []Fragment{
		{Z: 0, X: 1, Y: 0, Jpeg: fakeJpeg(50, 50)},
	}

	if _, err := buildPyramid(fragments); err != ErrFragmentOrder {
		t.Fatalf("expected ErrFragmentOrder, got %v", err)
	}
}

func TestBuildPyramidRejectsSparseGrid(t *testing.T) {
	// lastX=1,lastY=1 implies a 2x2=4-fragment grid, but only 3 arrive.
	fragments := []Fragment{
		{Z: 0, X: 0, Y: 0, Jpeg: fakeJpeg(50, 50)},
		{Z: 0, X: 0, Y: 1, Jpeg: fakeJpeg(50, 50)},
		{Z: 0, X: 1, Y: 1, Jpeg: fakeJpeg(50, 50)},
	}

	if _, err := buildPyramid(fragments); err != ErrGridDensity {
		t.Fatalf("expected ErrGridDensity, got %v", err)
	}
}

func TestBuildPyramidEmpty(t *testing.T) {
	levels, err := buildPyramid(nil)
	if err != nil {
		t.Fatalf("expected no error for an empty fragment list, got %v", err)
	}

	if levels != nil {
		t.Fatalf("expected no levels, got %v", levels)
	}
}
