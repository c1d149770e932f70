//go:build !unix

package jpegops

import "os"

// openFragmentFile opens path for plain descriptor-based reads. Platforms
// outside the unix build-tag family (notably Windows) don't get the mmap
// fast path in source_unix.go; os.File.ReadAt is otherwise identical in
// behavior.
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

	return &osFile{f: f, size: info.Size()}, nil
}
