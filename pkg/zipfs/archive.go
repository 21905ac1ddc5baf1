// Package zipfs provides read-only, lazily-resolving access to ZIP
// archives, including classic PKWARE and WinZip AES encrypted entries,
// over any random-access byte source.
package zipfs

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
)

// Option configures an Archive at Open time. Grounded on the functional
// options pattern in pkg/hasher's Option/WithWorkers.
type Option func(*archiveConfig)

type archiveConfig struct {
	password []byte
	logger   *slog.Logger
}

// WithPassword sets the password used to verify and decrypt classic
// PKWARE and WinZip AES encrypted entries. Entries with no encryption
// bit set ignore it entirely.
func WithPassword(password string) Option {
	return func(c *archiveConfig) {
		c.password = []byte(password)
	}
}

// WithLogger attaches a structured logger used for diagnostic messages
// during archive loading (prefix-shift detection). Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *archiveConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// Archive is an opened, fully-indexed ZIP archive. It is not safe for
// concurrent use by multiple goroutines: every lookup reorders the hash
// bucket it hits (MRU promotion), and lazy resolution rewrites an entry's
// state and offset in place, with no locking.
type Archive struct {
	src       Source
	t         *tree
	r         *resolver
	cfg       archiveConfig
	log       *slog.Logger
	hasCrypto bool // any entry uses traditional PKWARE encryption
}

// Open loads and indexes the archive exposed through src. src is owned by
// the returned Archive and closed by Archive.Close; callers that want to
// keep using src after closing the Archive should pass a Duplicate().
func Open(src Source, opts ...Option) (*Archive, error) {
	cfg := archiveConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	info, err := locateEOCD(src)
	if err != nil {
		return nil, err
	}
	if info.prefixLen > 0 {
		cfg.logger.Debug("zipfs: detected prepended data before zip structure", "bytes", info.prefixLen)
	}

	raw, err := loadCentralDirectory(src, info)
	if err != nil {
		return nil, err
	}

	t, err := buildTree(raw)
	if err != nil {
		return nil, err
	}

	a := &Archive{
		src:       src,
		t:         t,
		cfg:       cfg,
		log:       cfg.logger,
		hasCrypto: hasClassicCrypto(raw),
	}
	a.r = &resolver{t: t, src: src}
	return a, nil
}

// OpenPath is a convenience wrapper around OpenFile and Open for the
// common case of reading an archive directly from disk.
func OpenPath(path string, opts ...Option) (*Archive, error) {
	fs, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	a, err := Open(fs, opts...)
	if err != nil {
		fs.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the underlying Source.
func (a *Archive) Close() error {
	return a.src.Close()
}

// Info describes one entry's metadata as exposed to callers, resolved
// path and all; it is a snapshot, safe to retain after further archive
// calls.
type Info struct {
	Path             string
	IsDir            bool
	IsSymlink        bool
	Broken           bool
	UncompressedSize uint64
	CompressedSize   uint64
	ModTime          int64
	CRC32            uint32
	Method           string
}

// methodName renders a compression method for display, distinguishing the
// two methods this engine actually streams from anything else a central
// directory record might declare, which Stat/Enumerate still need to
// surface so a caller can skip it before OpenRead fails. Deflate64 gets its
// own label since it is common enough (the 64-bit-window successor to
// Deflate) to be worth naming rather than lumping under "unknown".
func methodName(m compressionMethod) string {
	switch m {
	case methodStored:
		return "stored"
	case methodDeflate:
		return "deflate"
	case methodDeflate64:
		return "deflate64"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(m))
	}
}

func (a *Archive) infoOf(id entryID, fullPath string) Info {
	e := a.t.get(id)
	isSymlink := e.isSymlink() || e.state == stateResolved && e.symlinkTarget != noEntry
	method := methodName(e.compressionMethod)

	info := Info{
		Path:             fullPath,
		IsDir:            e.state == stateDirectory,
		IsSymlink:        isSymlink,
		Broken:           e.state == stateBrokenFile || e.state == stateBrokenSymlink,
		UncompressedSize: e.uncompressedSize,
		CompressedSize:   e.compressedSize,
		ModTime:          e.modTime,
		CRC32:            e.crc32,
		Method:           method,
	}
	if e.state == stateDirectory || isSymlink {
		info.UncompressedSize = 0
	}
	return info
}

// Stat reports path's own metadata without dereferencing a symlink named
// by its final path component (lstat semantics): a symlink reports kind
// Symlink and size 0 regardless of what it points to, or points at
// nothing. Intermediate path components are still followed through any
// symlinks they name. Like OpenRead, a miss falls back to the
// "$password" convention before reporting NotFound.
func (a *Archive) Stat(path string) (Info, error) {
	id, _, lookupPath, err := a.resolveWithPasswordUsing(path, a.r.lstatPath)
	if err != nil {
		return Info{}, err
	}
	return a.infoOf(id, cleanPath(lookupPath)), nil
}

// Enumerate lists every entry under dir (non-recursively), in name order.
// Pass "" or "/" to list the archive root.
func (a *Archive) Enumerate(dir string) ([]Info, error) {
	id, err := a.r.resolvePath(dir)
	if err != nil {
		return nil, err
	}
	e := a.t.get(id)
	if e.state != stateDirectory {
		return nil, newError(KindNotFound, "not a directory: "+dir, nil)
	}

	base := cleanPath(dir)
	var out []Info
	for c := e.children; c != noEntry; c = a.t.get(c).sibling {
		name := a.t.get(c).name
		full := name
		if base != "" {
			full = base + "/" + name
		}
		out = append(out, a.infoOf(c, full))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// OpenRead resolves path and returns a seekable stream over its
// decompressed, decrypted contents. The caller must Close the stream.
//
// When path does not resolve directly and the archive contains at least
// one traditionally-encrypted member, the "$password" convention is
// tried: the substring after the last '$' becomes a per-call password
// for a lookup on the substring before it, overriding the archive's
// configured password for that one classic-crypto entry.
func (a *Archive) OpenRead(path string) (*ReadStream, error) {
	id, password, _, err := a.resolveWithPassword(path)
	if err != nil {
		return nil, err
	}
	e := a.t.get(id)
	if e.state == stateDirectory {
		return nil, newError(KindCorrupt, "cannot open a directory as a stream: "+path, nil)
	}
	if e.state == stateBrokenSymlink && e.cyclic {
		return nil, newError(KindSymlinkLoop, "symlink cycle detected: "+path, nil)
	}
	if e.state == stateBrokenFile || e.state == stateBrokenSymlink {
		return nil, newError(KindCorrupt, "entry is broken: "+path, nil)
	}
	return openStream(a.src, e, password)
}

// resolveWithPassword implements the "$password" fallback shared by
// OpenRead and Stat: try the plain path first, and only consult the
// suffix-as-password convention on a miss, and only for archives that
// actually contain classic-crypto members. The third return value is the
// path that actually resolved, for callers that report it back to the
// caller (Stat's Info.Path should not include the embedded password).
func (a *Archive) resolveWithPassword(path string) (entryID, []byte, string, error) {
	return a.resolveWithPasswordUsing(path, a.r.resolvePath)
}

// resolveWithPasswordUsing is resolveWithPassword parameterized over which
// resolver method does the actual lookup, so Stat can plug in lstatPath
// while OpenRead/ReadAll keep using the dereferencing resolvePath.
func (a *Archive) resolveWithPasswordUsing(path string, resolve func(string) (entryID, error)) (entryID, []byte, string, error) {
	id, err := resolve(path)
	if err == nil {
		return id, a.cfg.password, path, nil
	}
	if !IsNotFound(err) || !a.hasCrypto {
		return noEntry, nil, path, err
	}

	i := strings.LastIndexByte(path, '$')
	if i < 0 {
		return noEntry, nil, path, err
	}
	prefix, suffix := path[:i], path[i+1:]

	id2, err2 := resolve(prefix)
	if err2 != nil {
		return noEntry, nil, path, err
	}
	e := a.t.get(id2)
	if e.generalBits&0x01 == 0 || e.aes != nil {
		return noEntry, nil, path, err
	}
	return id2, []byte(suffix), prefix, nil
}

// ReadAll reads the complete decompressed contents of path, verifying the
// CRC-32 recorded in the central directory against what was actually
// decompressed.
func (a *Archive) ReadAll(path string) ([]byte, error) {
	rs, err := a.OpenRead(path)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	buf := make([]byte, rs.e.uncompressedSize)
	if _, err := io.ReadFull(rs, buf); err != nil {
		return nil, newError(KindCorrupt, "short read while decompressing "+path, err)
	}
	if rs.e.crc32 != 0 && crc32Of(buf) != rs.e.crc32 {
		return nil, newError(KindCorrupt, "crc-32 mismatch for "+path, nil)
	}
	return buf, nil
}

// cleanPath turns backslashes into forward slashes and trims leading and
// trailing slashes; it formats the Path reported in Info values. Lookups
// do not go through it, so a path with backslash separators is not
// translated when resolved.
func cleanPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.Trim(p, "/")
}

// The following methods exist so Archive satisfies the shape callers
// written against a mutable filesystem might expect, and fail loudly
// with KindReadOnly rather than a missing-method compile error; this
// engine never mutates the archive it opens.

func (a *Archive) OpenWrite(string) (io.WriteCloser, error) { return nil, ErrReadOnly }
func (a *Archive) OpenAppend(string) (io.WriteCloser, error) { return nil, ErrReadOnly }
func (a *Archive) Remove(string) error                       { return ErrReadOnly }
func (a *Archive) Mkdir(string) error                        { return ErrReadOnly }
