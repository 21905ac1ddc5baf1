package zipfs

import (
	"io"
)

// Source is the byte-source contract spec.md §6 hands to this engine: a
// read-only, seekable, length-queryable, duplicable stream. The host
// supplies an implementation (FileSource below covers the common case of
// an *os.File); the engine only ever calls these four methods.
type Source interface {
	io.ReaderAt
	// Size returns the total length of the underlying archive in bytes.
	Size() int64
	// Duplicate returns an independent Source over the same underlying
	// data, positioned and closed independently of the original.
	Duplicate() (Source, error)
	// Close releases resources held by this Source.
	Close() error
}

// readFull reads exactly len(buf) bytes at off, surfacing a short read as
// KindIO per spec.md §7 ("All short reads surface as Io").
func readFull(src Source, off int64, buf []byte) error {
	n, err := src.ReadAt(buf, off)
	if err != nil && !(err == io.EOF && n == len(buf)) {
		return wrapIO(err, "short read")
	}
	if n != len(buf) {
		return wrapIO(io.ErrUnexpectedEOF, "short read")
	}
	return nil
}

// The following are C1: little-endian fixed-width reads from an explicit
// offset, with no buffering of their own — callers interleave seeks
// freely, mirroring the readBuf helpers in the pack's zipread reference
// (other_examples/41bf2bbd_...zipread-reader.go), adapted from a consumed
// io.Reader to ReadAt-style random access since every caller here already
// knows the absolute offset it wants.

func readUint8At(src Source, off int64) (uint8, error) {
	var buf [1]byte
	if err := readFull(src, off, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func readUint16At(src Source, off int64) (uint16, error) {
	var buf [2]byte
	if err := readFull(src, off, buf[:]); err != nil {
		return 0, err
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, nil
}

func readUint32At(src Source, off int64) (uint32, error) {
	var buf [4]byte
	if err := readFull(src, off, buf[:]); err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}

func readUint64At(src Source, off int64) (uint64, error) {
	var buf [8]byte
	if err := readFull(src, off, buf[:]); err != nil {
		return 0, err
	}
	return uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 | uint64(buf[3])<<24 |
		uint64(buf[4])<<32 | uint64(buf[5])<<40 | uint64(buf[6])<<48 | uint64(buf[7])<<56, nil
}

// le16/le32/le64 decode little-endian integers already held in memory,
// used while walking buffers the engine has already read (central
// directory records, extra fields, EOCD candidates).
func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func le64(b []byte) uint64 {
	return uint64(le32(b[:4])) | uint64(le32(b[4:8]))<<32
}
