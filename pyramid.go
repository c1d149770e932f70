package jpegops

import "sort"

// Fragment is one input tile: its position (z,x,y) in the pyramid and its
// already-indexed file. Callers supply fragments in strict (z,x,y)
// lexicographic order (spec.md §3); buildPyramid validates this.
type Fragment struct {
	Z, X, Y int
	Jpeg    *OneJpeg
}

// Level is one logical pyramid level (spec.md §3). jpegs is row-major,
// jpegsDown*jpegsAcross long, and holds non-owning references into the
// backend's flat fragment array.
type Level struct {
	jpegsAcross, jpegsDown int
	pixelW, pixelH         int
	image00W, image00H     int
	scaleDenom             int
	noScaleDenomDownsample int
	jpegs                  []*OneJpeg
}

// Width and Height are this level's published (scaled) dimensions.
func (l *Level) Width() int  { return l.pixelW / l.scaleDenom }
func (l *Level) Height() int { return l.pixelH / l.scaleDenom }

var scaleDenoms = [4]int{1, 2, 4, 8}

// buildPyramid implements the Pyramid Builder (spec.md §4.3): validates
// fragment order, accumulates per-input-z grid geometry, and emits four
// scaled Level records per input z, sorted by published width descending.
func buildPyramid(fragments []Fragment) ([]*Level, error) {
	if len(fragments) == 0 {
		return nil, nil
	}

	if f := fragments[0]; f.Z != 0 || f.X != 0 || f.Y != 0 {
		return nil, ErrFragmentOrder
	}

	type accum struct {
		lpw, lph           int
		image00W, image00H int
		lastX, lastY       int
		jpegs              []*OneJpeg
	}

	byWidth := make(map[int]*Level)

	var level0PixelW int
	cur := &accum{}
	prevZ, prevX, prevY := 0, 0, 0

	flush := func(z int) error {
		if len(cur.jpegs) != (cur.lastX+1)*(cur.lastY+1) {
			return ErrGridDensity
		}

		if z == 0 {
			level0PixelW = cur.lpw
		}

		for _, s := range scaleDenoms {
			l := &Level{
				jpegsAcross:            cur.lastX + 1,
				jpegsDown:              cur.lastY + 1,
				pixelW:                 cur.lpw,
				pixelH:                 cur.lph,
				image00W:               cur.image00W,
				image00H:               cur.image00H,
				scaleDenom:             s,
				noScaleDenomDownsample: level0PixelW / cur.lpw,
				jpegs:                  cur.jpegs,
			}

			// Keys collide only for equal published widths; last writer
			// wins (spec.md §9 DESIGN NOTES, §13 Open Question: this is
			// reproduced deliberately rather than deduplicated or errored).
			byWidth[l.pixelW/s] = l
		}

		return nil
	}

	for i, f := range fragments {
		if i > 0 {
			switch {
			case f.Z == prevZ+1 && f.X == 0 && f.Y == 0:
			case f.Z == prevZ && f.Y == prevY+1 && f.X == 0:
			case f.Z == prevZ && f.Y == prevY && f.X == prevX+1:
			default:
				return nil, ErrFragmentOrder
			}

			if f.Z != prevZ {
				if err := flush(prevZ); err != nil {
					return nil, err
				}

				cur = &accum{}
			}
		}

		if f.Y == 0 {
			cur.lpw += f.Jpeg.width
		}

		if f.X == 0 {
			cur.lph += f.Jpeg.height
		}

		if f.X == 0 && f.Y == 0 {
			cur.image00W = f.Jpeg.width
			cur.image00H = f.Jpeg.height
		}

		cur.jpegs = append(cur.jpegs, f.Jpeg)
		cur.lastX, cur.lastY = f.X, f.Y
		prevZ, prevX, prevY = f.Z, f.X, f.Y
	}

	if err := flush(prevZ); err != nil {
		return nil, err
	}

	levels := make([]*Level, 0, len(byWidth))
	for _, l := range byWidth {
		levels = append(levels, l)
	}

	sort.Slice(levels, func(i, j int) bool {
		return levels[i].Width() > levels[j].Width()
	})

	return levels, nil
}
