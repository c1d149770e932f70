package jpegops

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
)

// inputBufSize is the nominal refill granularity of the original pull-style
// source manager this type is modeled on. The materialized implementation
// below reads whole tile-rows at once rather than INPUT_BUF_SIZE chunks and
// does not use this constant; neither the restart-marker rewrite nor the EOF
// handling depends on it.
const inputBufSize = 4096

// fileBacking is the storage a FancySource seeks within. It is satisfied by
// a memory-mapped file on platforms where that is available and by a plain
// os.File everywhere else; see source_unix.go / source_other.go.
type fileBacking interface {
	ReadAt(p []byte, off int64) (int, error)
	Size() int64
	Close() error
}

// osFile is the plain descriptor-based fileBacking, used on platforms
// without mmap support and as the fallback when mmap itself fails.
type osFile struct {
	f    *os.File
	size int64
}

func (o *osFile) ReadAt(p []byte, off int64) (int, error) {
	return o.f.ReadAt(p, off)
}

func (o *osFile) Size() int64 {
	return o.size
}

func (o *osFile) Close() error {
	return o.f.Close()
}

// FancySource implements the decoder's pull-style input contract while
// transparently seeking between the non-contiguous byte ranges of a single
// JPEG file that correspond to a requested band of tile rows, and rewriting
// restart-marker numbers so the decoder sees the cyclic sequence RST0..RST7
// it expects regardless of where in the file those bytes actually came from.
//
// Unlike the original C source manager, which is driven incrementally by
// the decompressor's fill_input_buffer callback, this implementation
// precomputes and concatenates the exact byte ranges a pull-based decoder
// would have been fed — the header, then each selected tile row in turn —
// rewriting restart markers as it goes, and hands the result to the decoder
// as a single in-memory buffer. The decoder in this package operates on a
// materialized []byte rather than a true streaming source, so this
// preserves the I/O-avoidance property (excluded columns and rows are
// never read from the file) without requiring a second, genuinely
// streaming decode engine.
type FancySource struct {
	data []byte
	r    *bytes.Reader
}

// NewFancySource configures a Fancy Source over file, selecting the band of
// tile rows described by (positions, topleft, width, stride, rows).
//
// positions is the mcu_starts table from the One-JPEG Index (§4.1); an
// empty table disables random access and yields a single segment covering
// the whole file, used for header-only reads. topleft is the index into
// positions of the first tile to emit; width is the number of tiles to
// emit per row; stride is the number of tiles per row in the underlying
// file (the file's own width_in_tiles); rows is the number of tile rows to
// serve before terminating with a synthetic EOI.
func NewFancySource(file fileBacking, positions []int64, topleft, width, stride, rows int) (*FancySource, error) {
	if len(positions) == 0 {
		data := make([]byte, file.Size())
		if _, err := file.ReadAt(data, 0); err != nil {
			if err != io.EOF {
				return nil, fmt.Errorf("jpegops: reading whole-file source: %w", err)
			}

			log.Printf("jpegops: unexpected EOF reading whole-file source, serving a short read")
		}

		return &FancySource{data: data, r: bytes.NewReader(data)}, nil
	}

	if topleft < 0 || topleft >= len(positions) {
		return nil, fmt.Errorf("jpegops: topleft %d out of range for %d positions", topleft, len(positions))
	}

	var out bytes.Buffer

	headerEnd := positions[0]
	header := make([]byte, headerEnd)
	if _, err := file.ReadAt(header, 0); err != nil {
		return nil, fmt.Errorf("jpegops: reading header: %w", err)
	}
	out.Write(header)

	nextRestart := 0
	idx := topleft

	for r := 0; r < rows; r++ {
		if idx >= len(positions) {
			break
		}

		start := positions[idx]

		var end int64
		if endIdx := idx + width; endIdx < len(positions) {
			end = positions[endIdx]
		} else {
			end = file.Size()
		}

		n := end - start
		if n < 0 {
			return nil, fmt.Errorf("jpegops: invalid segment [%d,%d) at tile row %d", start, end, r)
		}

		seg := make([]byte, n)
		if _, err := file.ReadAt(seg, start); err != nil {
			if err != io.EOF {
				return nil, fmt.Errorf("jpegops: reading tile row %d: %w", r, err)
			}

			// Per spec.md §7, an unexpected EOF mid-read is not fatal: log
			// and serve whatever was read, followed by the synthetic EOI
			// below so the decoder still terminates cleanly.
			log.Printf("jpegops: unexpected EOF reading tile row %d, serving a short read", r)
		}

		rewriteRestartMarkers(seg, &nextRestart)
		out.Write(seg)

		idx += stride
	}

	// Synthetic EOI: the decoder's marker loop always terminates cleanly on
	// 0xFFD9 even if the real file continues past the last tile row we
	// selected (per spec.md §4.2 EOF handling).
	out.Write([]byte{0xFF, 0xD9})

	data := out.Bytes()

	return &FancySource{data: data, r: bytes.NewReader(data)}, nil
}

// Read implements io.Reader, serving the precomputed, marker-rewritten byte
// stream in order.
func (fs *FancySource) Read(p []byte) (int, error) {
	return fs.r.Read(p)
}

// Pos reports the current logical file position: the ftell(file) equivalent
// minus any bytes already buffered-but-unconsumed. Since this
// implementation has no separate unconsumed buffer, this is simply the
// count of bytes read so far, which for a header-only pass (positions
// disabled) corresponds 1:1 to the true file offset. buildIndex does not
// call Pos: it seeds mcu_starts[0] from parseHeaderForIndex's offset into
// Bytes(), which is the same file offset.
func (fs *FancySource) Pos() int64 {
	return int64(len(fs.data)) - int64(fs.r.Len())
}

// Bytes returns the full materialized stream, for callers (the decoder)
// that consume it as a single buffer rather than incrementally.
func (fs *FancySource) Bytes() []byte {
	return fs.data
}

// rewriteRestartMarkers scans buf for FF Dn sequences (n in 0..7) and
// overwrites the marker number with the next expected value in the cyclic
// RST0..RST7 sequence, advancing *next modulo 8 for each one found. A
// stuffed 0xFF00 byte pair is not a restart marker and is left untouched
// because 0x00 falls outside the D0..D7 range.
func rewriteRestartMarkers(buf []byte, next *int) {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] != 0xFF {
			continue
		}

		if buf[i+1] < 0xD0 || buf[i+1] > 0xD7 {
			continue
		}

		buf[i+1] = 0xD0 | byte(*next&7)
		*next++
		i++ // The marker's second byte can't itself start another marker.
	}
}
