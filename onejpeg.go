package jpegops

import "fmt"

// OneJpeg is the immutable, per-file index built by buildIndex: everything
// the region router and the One-JPEG Reader need to seek into a single
// restart-marker-delimited JPEG fragment without re-parsing its header.
//
// Invariants (spec.md §3): width % tileWidth == 0, height % tileHeight ==
// 0; mcuStarts is strictly increasing; mcuStarts[0] is the byte offset of
// the first entropy-coded byte after the SOS header; len(mcuStarts) ==
// widthInTiles * heightInTiles.
type OneJpeg struct {
	file fileBacking

	width, height int
	tileWidth     int
	tileHeight    int
	widthInTiles  int
	heightInTiles int

	mcuStarts []int64
	comment   string
}

// NewOneJpeg opens path and builds its restart-marker index.
func NewOneJpeg(path string) (*OneJpeg, error) {
	f, err := openFragmentFile(path)
	if err != nil {
		return nil, fmt.Errorf("jpegops: opening fragment %s: %w", path, err)
	}

	oj, err := buildIndex(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	return oj, nil
}

// Close releases the fragment's open file handle.
func (oj *OneJpeg) Close() error {
	return oj.file.Close()
}

// Comment returns the fragment's COM marker payload, or "" if absent.
func (oj *OneJpeg) Comment() string {
	return oj.comment
}

// buildIndex implements the One-JPEG Index (spec.md §4.1): a header-only
// pass via a Fancy Source configured with no positions (disabling random
// access, since none of the index yet exists), followed by a direct scan
// of the raw entropy-coded bytes for restart markers.
func buildIndex(file fileBacking) (*OneJpeg, error) {
	fs, err := NewFancySource(file, nil, 0, 0, 0, 0)
	if err != nil {
		return nil, err
	}

	dec := decoderPool.Get().(*decoder)
	defer func() {
		dec.reset()
		decoderPool.Put(dec)
	}()

	data := fs.Bytes()

	dataStart, err := dec.parseHeaderForIndex(data)
	if err != nil {
		return nil, err
	}

	if dec.rstInterval == 0 {
		return nil, ErrNoRestartMarkers
	}

	// Each restart interval covers exactly restart_interval MCUs on one MCU
	// row (spec.md §4.1 rationale); the geometry is only sound when that
	// divides the MCU row evenly.
	tilesPerRow := dec.mbWidth / dec.rstInterval
	if tilesPerRow == 0 || dec.mbWidth%dec.rstInterval != 0 {
		return nil, ErrNoRestartMarkers
	}

	mcuRows := dec.mbHeight
	n := tilesPerRow * mcuRows

	mcuStarts := make([]int64, 0, n)
	mcuStarts = append(mcuStarts, int64(dataStart))

	for pos := dataStart; len(mcuStarts) < n && pos+1 < len(data); {
		if data[pos] != 0xFF {
			pos++
			continue
		}

		b2 := data[pos+1]

		if b2 == 0xD9 { // EOI: stop, whatever we have is final.
			break
		}

		if b2 >= 0xD0 && b2 <= 0xD7 { // RSTn
			mcuStarts = append(mcuStarts, int64(pos+2))
			pos += 2

			continue
		}

		pos++
	}

	// A single-tile fragment (n==1) needs no restart markers at all: there
	// is no inter-tile boundary to cross, so mcuStarts correctly holds just
	// dataStart. Anything short of the full n tiles means the file ran out
	// of restart markers before the index could be completed.
	if len(mcuStarts) < n {
		return nil, ErrNoRestartMarkers
	}

	tileWidth := dec.width / tilesPerRow
	tileHeight := dec.height / mcuRows

	return &OneJpeg{
		file:          file,
		width:         dec.width,
		height:        dec.height,
		tileWidth:     tileWidth,
		tileHeight:    tileHeight,
		widthInTiles:  tilesPerRow,
		heightInTiles: mcuRows,
		mcuStarts:     mcuStarts,
		comment:       dec.comment,
	}, nil
}
