package jpegops

import "fmt"

// Backend is the public whole-slide-image reading backend: a pyramid of
// logical resolution levels built from tiled JPEG fragments (spec.md §6).
// The zero value is not ready to use; construct with AddJpegOps.
type Backend struct {
	levels []*Level
	jpegs  []*OneJpeg // flat, owns every fragment's file handle exactly once
}

// AddJpegOps is the setup call (spec.md §6): it builds backend's pyramid
// from fragments, an ordered, owned list whose file handles are consumed.
// If backend is nil, or if the fragment list is rejected (bad order or a
// non-dense grid), every fragment's file is closed and an error is
// returned if the rejection was the cause; passing a nil backend is not
// itself an error.
func AddJpegOps(backend *Backend, fragments []Fragment) error {
	if backend == nil {
		closeFragments(fragments)

		return nil
	}

	levels, err := buildPyramid(fragments)
	if err != nil {
		closeFragments(fragments)

		return err
	}

	jpegs := make([]*OneJpeg, len(fragments))
	for i, f := range fragments {
		jpegs[i] = f.Jpeg
	}

	backend.levels = levels
	backend.jpegs = jpegs

	return nil
}

func closeFragments(fragments []Fragment) {
	for _, f := range fragments {
		if f.Jpeg != nil {
			f.Jpeg.Close()
		}
	}
}

// ReadRegion writes w*h 32-bit BGRA pixels into dest, row-major with pitch
// w (spec.md §4.4). Where the window extends past the level's dimensions,
// only the in-bounds part is written and the rest of dest is left
// untouched. An out-of-range level writes nothing and
// returns nil: this is a range condition, not an error (spec.md §7).
func (b *Backend) ReadRegion(dest []byte, x, y, level, w, h int) error {
	if level < 0 || level >= len(b.levels) {
		return nil
	}

	if len(dest) < w*h*4 {
		return fmt.Errorf("jpegops: destination buffer too small for a %dx%d region", w, h)
	}

	return readRegion(b.levels[level], x, y, w, h, dest)
}

// GetDimensions returns level's published (scaled) pixel dimensions, or
// (0,0) if level is out of range (spec.md §6, §7: range, not an error).
func (b *Backend) GetDimensions(level int) (int, int) {
	if level < 0 || level >= len(b.levels) {
		return 0, 0
	}

	l := b.levels[level]

	return l.Width(), l.Height()
}

// LevelCount returns the number of logical pyramid levels.
func (b *Backend) LevelCount() int {
	return len(b.levels)
}

// GetComment returns the comment of the first JPEG fragment, or "" if
// there are no fragments or it has none (spec.md §6).
func (b *Backend) GetComment() string {
	if len(b.jpegs) == 0 {
		return ""
	}

	return b.jpegs[0].Comment()
}

// Close implements destroy() (spec.md §6): it closes every fragment file
// and drops the level array. After Close the Backend has no levels and no
// fragments: LevelCount returns 0, GetComment returns "", and a further
// Close returns nil.
func (b *Backend) Close() error {
	var firstErr error

	for _, oj := range b.jpegs {
		if err := oj.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	b.jpegs = nil
	b.levels = nil

	return firstErr
}
