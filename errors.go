package jpegops

import "errors"

// Backend-level error kinds, per the setup/read_region error taxonomy:
// format rejection is fatal at setup; I/O failure is fatal for the
// current request only; range errors (out-of-bounds level) are not
// errors and are expressed as zero-valued returns instead.
var (
	// ErrNoRestartMarkers is returned when a fragment has no RSTn markers
	// or a restart interval of zero; this backend requires restart-marker
	// random access and cannot serve such a file.
	ErrNoRestartMarkers = errors.New("jpegops: fragment has no restart markers")

	// ErrFragmentOrder is returned when the caller's fragment list is not
	// in strict (z,x,y) lexicographic successor order, or does not begin
	// at (0,0,0).
	ErrFragmentOrder = errors.New("jpegops: fragment list is not in (z,x,y) order")

	// ErrGridDensity is returned when a level's fragment count does not
	// match jpegs_across * jpegs_down: the grid has holes.
	ErrGridDensity = errors.New("jpegops: level fragment grid is not dense")

	// ErrMissingFragment is returned when a region request needs a file
	// at a grid position that was never populated.
	ErrMissingFragment = errors.New("jpegops: no fragment at requested grid position")
)
