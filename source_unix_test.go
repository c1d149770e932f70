//go:build unix

package jpegops

import (
	"io"
	"testing"
)

func TestMmapFileReadAtShortReadReturnsEOF(t *testing.T) {
	path := writeFixture(t, []byte("abcdefghij"))

	fb, err := openFragmentFile(path)
	if err != nil {
		t.Fatalf("openFragmentFile failed: %v", err)
	}
	defer fb.Close()

	if _, ok := fb.(*mmapFile); !ok {
		t.Skip("mmap unavailable on this filesystem; openFragmentFile fell back to osFile")
	}

	dest := make([]byte, 8)
	n, err := fb.ReadAt(dest, 6)
	if n != 4 {
		t.Fatalf("expected a short read of 4 bytes, got %d", n)
	}

	if err != io.EOF {
		t.Fatalf("a short ReadAt must report io.EOF per the io.ReaderAt contract, got %v", err)
	}

	if string(dest[:n]) != "ghij" {
		t.Fatalf("expected the short read to carry the trailing bytes, got %q", dest[:n])
	}
}
