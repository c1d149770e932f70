//go:build unix

package jpegops

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// mmapFile is a fileBacking backed by a read-only memory mapping of the
// whole file. Whole-slide fragment files are read in scattered, small
// tile-row ranges spread across the file rather than sequentially, which is
// exactly the access pattern mmap is suited to: the kernel serves pages on
// demand and pages already touched by a neighboring request stay resident,
// instead of every ReadAt paying a syscall.
type mmapFile struct {
	f    *os.File
	data []byte
}

// openFragmentFile opens path and memory-maps it read-only. If mmap fails
// (e.g. a zero-length file, or a filesystem that does not support it), it
// falls back to plain descriptor-based reads.
func openFragmentFile(path string) (fileBacking, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if info.Size() == 0 {
		return &osFile{f: f, size: 0}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return &osFile{f: f, size: info.Size()}, nil
	}

	return &mmapFile{f: f, data: data}, nil
}

func (m *mmapFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(m.data)) {
		return 0, fmt.Errorf("jpegops: read offset %d out of range for %d-byte file", off, len(m.data))
	}

	n := copy(p, m.data[off:])
	if n < len(p) {
		// Satisfy the io.ReaderAt contract: a short read must carry a
		// non-nil error, so the EOF handling in source.go's NewFancySource
		// (log-and-serve-what-we-have) actually fires on this backing too.
		return n, io.EOF
	}

	return n, nil
}

func (m *mmapFile) Size() int64 {
	return int64(len(m.data))
}

func (m *mmapFile) Close() error {
	err := unix.Munmap(m.data)
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}

	return err
}
