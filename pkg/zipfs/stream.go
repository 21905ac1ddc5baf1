package zipfs

import "io"

// sourceSectionReader presents a bounded span of a Source as a plain
// io.Reader, advancing its own offset on each Read. It is the feed side
// of the decompress/decrypt pipeline: inflater and the ciphers pull from
// it without knowing anything about the archive's absolute layout.
type sourceSectionReader struct {
	src       Source
	off       int64
	remaining int64
}

func (s *sourceSectionReader) Read(p []byte) (int, error) {
	if s.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}
	n, err := s.src.ReadAt(p, s.off)
	s.off += int64(n)
	s.remaining -= int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// readAllInto reads exactly len(buf) bytes from r, the small-fixed-size
// counterpart to io.ReadFull used for symlink target decompression where
// the final size is already known from the central directory.
func readAllInto(r interface{ read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.read(buf[total:])
		total += n
		if err != nil {
			if err == io.EOF && total == len(buf) {
				return total, nil
			}
			return total, newError(KindCorrupt, "short decompressed read", err)
		}
	}
	return total, nil
}

// ReadStream is a seekable view over one entry's decompressed, decrypted
// plaintext. It implements io.Reader, io.Seeker, and io.Closer.
type ReadStream struct {
	src  Source // a Duplicate()d handle this stream owns and closes
	e    *entry
	kind compressionMethod

	baseOffset int64 // absolute offset of the first byte after the local header
	baseLen    int64 // e.compressedSize, unadjusted for any cipher header/trailer

	dataStart int64 // absolute offset of the first ciphertext/compressed byte
	cipherLen int64 // bytes of ciphertext+keystream-aligned payload, i.e. compressedSize minus any cipher header

	pos int64 // current plaintext read position, 0..uncompressedSize

	password []byte // retained so a backward seek can re-derive cipher state from scratch

	classic *classicCipher
	aesKey  []byte
	aes     *aesCipher

	section *sourceSectionReader
	inf     *inflater
}

// openStream builds a ReadStream for a resolved, non-directory entry.
// password is ignored unless the entry is encrypted. The same password
// (the archive-wide WithPassword value, or a "$password" path suffix for a
// classic entry) is used for classic and AES entries alike; the path
// suffix never applies to AES entries.
func openStream(src Source, e *entry, password []byte) (*ReadStream, error) {
	if e.state != stateResolved {
		return nil, newError(KindCorrupt, "cannot open unresolved entry", nil)
	}

	dup, err := src.Duplicate()
	if err != nil {
		return nil, err
	}

	s := &ReadStream{
		src:        dup,
		e:          e,
		baseOffset: e.offset,
		baseLen:    int64(e.compressedSize),
		password:   password,
	}

	if err := s.initCipher(password); err != nil {
		dup.Close()
		return nil, err
	}

	if s.kind != methodStored && s.kind != methodDeflate {
		dup.Close()
		return nil, newError(KindUnsupported, "unsupported compression method", nil)
	}

	s.resetPipeline()
	return s, nil
}

// initCipher (re)derives the cipher state and the resulting
// dataStart/cipherLen window from baseOffset/baseLen, so it can be called
// a second time on a backward seek without compounding earlier
// adjustments.
func (s *ReadStream) initCipher(password []byte) error {
	s.dataStart, s.cipherLen = s.baseOffset, s.baseLen
	s.classic, s.aes, s.aesKey = nil, nil, nil

	encrypted := s.e.generalBits&0x01 != 0
	switch {
	case encrypted && s.e.aes != nil:
		s.kind = compressionMethod(s.e.aes.compression)
		return s.initAES(password)
	case encrypted:
		s.kind = s.e.compressionMethod
		return s.initClassic(password)
	default:
		s.kind = s.e.compressionMethod
		return nil
	}
}

func (s *ReadStream) initClassic(password []byte) error {
	var header [classicHeaderLen]byte
	if err := readFull(s.src, s.dataStart, header[:]); err != nil {
		return err
	}
	c, err := verifyClassicHeader(password, header, s.e.generalBits, s.e.crc32, uint16(s.e.dosModTime))
	if err != nil {
		return err
	}
	s.classic = c
	s.dataStart += classicHeaderLen
	s.cipherLen -= classicHeaderLen
	return nil
}

func (s *ReadStream) initAES(password []byte) error {
	a := s.e.aes
	saltLen := a.keyStrength.saltLen()
	overhead := saltLen + aesVerifyLen + aesMACLen

	salt := make([]byte, saltLen)
	if err := readFull(s.src, s.dataStart, salt); err != nil {
		return err
	}
	var verify [2]byte
	if err := readFull(s.src, s.dataStart+int64(saltLen), verify[:]); err != nil {
		return err
	}

	encKey, _, wantVerify := deriveAESKeys(password, salt, a.keyStrength)
	if verify != wantVerify {
		return newError(KindBadPassword, "aes password verification failed", nil)
	}

	c, err := newAESCipher(encKey)
	if err != nil {
		return err
	}
	s.aesKey = encKey
	s.aes = c
	s.dataStart += int64(saltLen + aesVerifyLen)
	s.cipherLen -= int64(overhead)
	return nil
}

// resetPipeline rebuilds the section reader and, for Deflate entries, the
// inflater, starting from the current cipher position. Both ciphers
// maintain their own internal position state across calls, so this does
// not itself reset decryption, only the decompression stage.
func (s *ReadStream) resetPipeline() {
	s.section = &sourceSectionReader{src: s.src, off: s.dataStart, remaining: s.cipherLen}
	var r io.Reader = &decryptingReader{s: s}
	if s.kind == methodDeflate {
		s.inf = newInflater(r)
	} else {
		s.inf = nil
	}
}

// decryptingReader reads ciphertext from the stream's section and
// decrypts it in place before handing it to the DEFLATE reader or,
// for Stored entries, directly to the caller.
type decryptingReader struct{ s *ReadStream }

func (d *decryptingReader) Read(p []byte) (int, error) {
	n, err := d.s.section.Read(p)
	if n > 0 {
		switch {
		case d.s.classic != nil:
			d.s.classic.decrypt(p[:n])
		case d.s.aes != nil:
			d.s.aes.decrypt(p[:n])
		}
	}
	return n, err
}

// Read implements io.Reader over the plaintext stream.
func (s *ReadStream) Read(p []byte) (int, error) {
	remaining := int64(s.e.uncompressedSize) - s.pos
	if remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}

	var n int
	var err error
	if s.kind == methodStored {
		n, err = (&decryptingReader{s: s}).Read(p)
	} else {
		n, err = s.inf.read(p)
	}
	s.pos += int64(n)
	return n, err
}

// Seek implements io.Seeker. Stored, unencrypted entries seek directly,
// and AES over Stored realigns the AES block counter (seekAESStored);
// every other combination (Deflate, or the classic cipher) seeks by
// discarding forward from either the current position or, for backward
// seeks, from a freshly rebuilt pipeline at the start of the entry,
// since neither DEFLATE nor the classic cipher's key schedule can run in
// reverse.
func (s *ReadStream) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.pos + offset
	case io.SeekEnd:
		target = int64(s.e.uncompressedSize) + offset
	default:
		return 0, newError(KindIO, "invalid whence", nil)
	}
	if target < 0 || target > int64(s.e.uncompressedSize) {
		return 0, newError(KindPastEOF, "seek past entry bounds", nil)
	}

	if s.kind == methodStored && s.classic == nil && s.aes == nil {
		s.section = &sourceSectionReader{src: s.src, off: s.dataStart + target, remaining: s.cipherLen - target}
		s.pos = target
		return target, nil
	}

	if s.aes != nil && s.kind == methodStored {
		return s.seekAESStored(target)
	}

	if target < s.pos {
		if err := s.rewind(); err != nil {
			return 0, err
		}
	}
	if err := s.discardTo(target); err != nil {
		return 0, err
	}
	return target, nil
}

// seekAESStored handles the one case that can seek without replay: AES
// encryption over an otherwise-Stored payload, where the keystream is a
// block cipher keyed on a counter rather than a running state. Seeking
// realigns the AES block counter directly, per the block-counter seek
// technique in cipher.go's aesCipher.seekBlock.
func (s *ReadStream) seekAESStored(target int64) (int64, error) {
	blockIndex := uint64(target) / 16
	offsetInBlock := target % 16

	s.aes.seekBlock(blockIndex)
	s.section = &sourceSectionReader{
		src:       s.src,
		off:       s.dataStart + target - offsetInBlock,
		remaining: s.cipherLen - (target - offsetInBlock),
	}

	if offsetInBlock > 0 {
		discard := make([]byte, offsetInBlock)
		if _, err := (&decryptingReader{s: s}).Read(discard); err != nil {
			return 0, err
		}
	}
	s.pos = target
	return target, nil
}

// rewind restarts decryption and decompression from the first byte of
// the entry's payload, re-deriving cipher state from the retained
// password rather than attempting to run the classic cipher's key
// schedule or DEFLATE backward.
func (s *ReadStream) rewind() error {
	if err := s.initCipher(s.password); err != nil {
		return err
	}
	s.resetPipeline()
	s.pos = 0
	return nil
}

// discardTo reads and drops plaintext until the stream reaches target,
// used for the compressed and/or classic-encrypted cases that cannot
// jump directly. s.Read already advances s.pos, so this only needs to
// watch for EOF.
func (s *ReadStream) discardTo(target int64) error {
	buf := make([]byte, 32*1024)
	for s.pos < target {
		want := target - s.pos
		if want > int64(len(buf)) {
			want = int64(len(buf))
		}
		_, err := s.Read(buf[:want])
		if err != nil && err != io.EOF {
			return err
		}
		if err == io.EOF {
			break
		}
	}
	return nil
}

// Close releases the duplicated Source handle this stream owns.
func (s *ReadStream) Close() error {
	if s.inf != nil {
		s.inf.close()
	}
	return s.src.Close()
}
