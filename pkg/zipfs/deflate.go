package zipfs

import (
	"compress/flate"
	"io"
)

// inflater wraps compress/flate behind the narrow feed/drain shape this
// engine's read streams need: push compressed bytes in, pull uncompressed
// bytes out, without the stream owning a long-lived goroutine. Go's
// stdlib flate.Reader already does incremental decompression over any
// io.Reader, so this is a thin adapter rather than a reimplementation.
type inflater struct {
	src io.Reader // feeds compressed bytes on demand
	fr  io.ReadCloser
}

func newInflater(src io.Reader) *inflater {
	return &inflater{src: src, fr: flate.NewReader(src)}
}

// read fills p with decompressed output, returning io.EOF once the
// DEFLATE stream's final block has been consumed.
func (d *inflater) read(p []byte) (int, error) {
	n, err := d.fr.Read(p)
	if err != nil && err != io.EOF {
		return n, newError(KindCorrupt, "deflate stream error", err)
	}
	return n, err
}

// reset rebuilds the decompressor against a new compressed-byte source,
// used when a seek rewinds to before the stream's current position and
// the only way back is to start decompression over from offset zero.
func (d *inflater) reset(src io.Reader) {
	d.src = src
	if resetter, ok := d.fr.(flate.Resetter); ok {
		_ = resetter.Reset(src, nil)
		return
	}
	d.fr = flate.NewReader(src)
}

func (d *inflater) close() error {
	return d.fr.Close()
}
