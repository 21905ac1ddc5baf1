package zipfs

import (
	"os"
)

// FileSource adapts an *os.File to the Source interface, the common case
// of opening an archive directly from disk.
type FileSource struct {
	f    *os.File
	path string
	size int64
}

// OpenFile opens path and wraps it as a Source. The caller owns the
// returned FileSource and must Close it.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapIO(err, "open file")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, wrapIO(err, "stat file")
	}
	return &FileSource{f: f, path: path, size: info.Size()}, nil
}

func (s *FileSource) ReadAt(p []byte, off int64) (int, error) { return s.f.ReadAt(p, off) }

func (s *FileSource) Size() int64 { return s.size }

// Duplicate reopens the underlying path as an independent file handle, so
// the resulting Source can be read and closed without affecting s.
func (s *FileSource) Duplicate() (Source, error) {
	return OpenFile(s.path)
}

func (s *FileSource) Close() error {
	if err := s.f.Close(); err != nil {
		return wrapIO(err, "close file")
	}
	return nil
}

// MemorySource adapts an in-memory byte slice to the Source interface, for
// archives held entirely in memory.
type MemorySource struct {
	data []byte
}

// NewMemorySource wraps data as a Source. data is not copied; callers must
// not mutate it for the lifetime of the Source.
func NewMemorySource(data []byte) *MemorySource {
	return &MemorySource{data: data}
}

func (s *MemorySource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(s.data)) {
		return 0, wrapIO(os.ErrInvalid, "read at negative or out-of-range offset")
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, errShortBuffer
	}
	return n, nil
}

func (s *MemorySource) Size() int64 { return int64(len(s.data)) }

func (s *MemorySource) Duplicate() (Source, error) {
	return &MemorySource{data: s.data}, nil
}

func (s *MemorySource) Close() error { return nil }

var errShortBuffer = &Error{Kind: KindIO, Msg: "short read"}
