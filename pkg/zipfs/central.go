package zipfs

import "strings"

const (
	centralHeaderFixedLen = 46
	localHeaderFixedLen   = 30

	extraZip64   = 0x0001
	extraWinZip  = 0x9901
	extraUnix    = 0x7875
	extraInfoZip = 0x5855

	winZipAESVendorAE1 = 0x0001
	winZipAESVendorAE2 = 0x0002
)

// cursor is a small little-endian decoding window over an in-memory
// buffer, used while walking central directory records and their extra
// fields. Grounded on the readBuf type in
// other_examples/41bf2bbd_malayinfotech-zipper__zipread-reader.go, trimmed
// to the handful of accessors this package needs.
type cursor struct{ b []byte }

func (c *cursor) uint16() uint16 {
	v := le16(c.b)
	c.b = c.b[2:]
	return v
}

func (c *cursor) uint32() uint32 {
	v := le32(c.b)
	c.b = c.b[4:]
	return v
}

func (c *cursor) uint64() uint64 {
	v := le64(c.b)
	c.b = c.b[8:]
	return v
}

func (c *cursor) bytes(n int) []byte {
	v := c.b[:n]
	c.b = c.b[n:]
	return v
}

func (c *cursor) len() int { return len(c.b) }

// rawCentralEntry is the as-parsed central directory record before names
// are deduplicated and strung into the tree; loadCentralDirectory builds
// one per record and central-to-entry conversion happens in tree.go.
type rawCentralEntry struct {
	name              string
	versionMadeBy     uint16
	versionNeeded     uint16
	generalBits       uint16
	method            compressionMethod
	dosTime, dosDate  uint16
	crc32             uint32
	compressedSize    uint64
	uncompressedSize  uint64
	localHeaderOffset uint64
	externalAttrs     uint32
	madeByHost        uint8
	aes               *aesParams
	isSymlink         bool
}

// loadCentralDirectory walks the central directory described by info and
// returns one rawCentralEntry per record, in on-disk order. Grounded on
// the sequential central-directory walk in the zipread-reader.go
// reference (readDirectoryEnd's file loop), adapted to operate against a
// Source plus a prefix shift instead of a consumed io.Reader.
func loadCentralDirectory(src Source, info *eocdInfo) ([]rawCentralEntry, error) {
	off := int64(info.centralDirOffset) + info.prefixLen
	end := off + int64(info.centralDirSize)
	if end > src.Size() {
		return nil, newError(KindCorrupt, "central directory size exceeds archive length", nil)
	}

	buf := make([]byte, info.centralDirSize)
	if err := readFull(src, off, buf); err != nil {
		return nil, err
	}

	entries := make([]rawCentralEntry, 0, info.totalEntryCount)
	c := cursor{b: buf}

	for c.len() > 0 {
		if c.len() < centralHeaderFixedLen {
			return nil, newError(KindCorrupt, "truncated central directory record", nil)
		}
		if le32(c.b[:4]) != sigCentralDir {
			return nil, newError(KindCorrupt, "central directory signature mismatch", nil)
		}
		c.bytes(4) // signature

		e := rawCentralEntry{}
		e.versionMadeBy = c.uint16()
		e.madeByHost = uint8(e.versionMadeBy >> 8)
		e.versionNeeded = c.uint16()
		e.generalBits = c.uint16()
		e.method = compressionMethod(c.uint16())
		e.dosTime = c.uint16()
		e.dosDate = c.uint16()
		e.crc32 = c.uint32()
		e.compressedSize = uint64(c.uint32())
		e.uncompressedSize = uint64(c.uint32())
		nameLen := int(c.uint16())
		extraLen := int(c.uint16())
		commentLen := int(c.uint16())
		diskNumberStart := c.uint16()
		c.bytes(2) // internal attrs
		e.externalAttrs = c.uint32()
		e.localHeaderOffset = uint64(c.uint32())

		if c.len() < nameLen+extraLen+commentLen {
			return nil, newError(KindCorrupt, "truncated central directory record", nil)
		}
		e.name = normalizeEntryName(c.bytes(nameLen), e.madeByHost)
		extra := c.bytes(extraLen)
		c.bytes(commentLen)

		resolvedDisk, err := applyExtraFields(&e, extra, diskNumberStart)
		if err != nil {
			return nil, err
		}
		if resolvedDisk != 0 {
			return nil, newError(KindUnsupported, "split/multi-disk archives are not supported", nil)
		}
		e.localHeaderOffset += uint64(info.prefixLen)
		e.isSymlink = isUnixSymlink(e.madeByHost, e.externalAttrs)

		entries = append(entries, e)
	}

	return entries, nil
}

const madeByHostFAT = 0

// hasClassicCrypto reports whether any record uses traditional PKWARE
// encryption (general bit 0 set, no WinZip AES extra field), which is
// what enables the archive-wide "$password" path suffix convention.
func hasClassicCrypto(raw []rawCentralEntry) bool {
	for _, e := range raw {
		if e.generalBits&0x01 != 0 && e.aes == nil {
			return true
		}
	}
	return false
}

// normalizeEntryName translates backslash separators to forward slashes
// only when the record was written by a FAT host, per spec step 3, and
// strips a leading slash so absolute-looking names still land under the
// tree root. This is a supplemented feature: the dedup-on-collision this
// implies is handled by the name index in tree.go, keyed on the
// post-normalization byte string.
func normalizeEntryName(raw []byte, madeByHost uint8) string {
	s := string(raw)
	if madeByHost == madeByHostFAT {
		s = strings.ReplaceAll(s, "\\", "/")
	}
	s = strings.TrimPrefix(s, "/")
	return s
}

// Host byte values (PKWARE APPNOTE version_made_by high byte) known not to
// carry Unix permission bits in their external attributes, and therefore
// never a candidate for the Unix-symlink file-type check below.
const (
	hostFAT    = 0
	hostAmiga  = 1
	hostVMS    = 2
	hostVMCMS  = 4
	hostHPFS   = 6
	hostNTFS   = 10
	hostMVS    = 11
	hostAcorn  = 13
	hostVFAT   = 14
	hostTheos  = 19
)

func hostCarriesUnixMode(host uint8) bool {
	switch host {
	case hostFAT, hostAmiga, hostVMS, hostVMCMS, hostHPFS, hostNTFS, hostMVS, hostAcorn, hostVFAT, hostTheos:
		return false
	default:
		return true
	}
}

// isUnixSymlink reports whether the central directory record's external
// attributes describe a Unix symlink (file type 0120000, S_IFLNK) in the
// high 16 bits, restricted to hosts whose external attributes are known
// to carry Unix mode bits in the first place.
func isUnixSymlink(madeByHost uint8, externalAttrs uint32) bool {
	const sIFLNK = 0xA000
	if !hostCarriesUnixMode(madeByHost) {
		return false
	}
	mode := externalAttrs >> 16
	return mode&0xF000 == sIFLNK
}

// applyExtraFields walks the extra field block, filling in ZIP64 64-bit
// sizes/offset when the 32-bit fields were maxed out, and WinZip AES
// parameters when a WinZip AES (0x9901) extra field is present.
// Grounded on the needUSize/needCSize/needHeaderOffset "best effort" extra
// field walk in zipread-reader.go, narrowed to the two extra IDs this
// engine actually consumes.
func applyExtraFields(e *rawCentralEntry, extra []byte, diskNumberStart uint16) (uint32, error) {
	needUSize := e.uncompressedSize == uint64(marker32)
	needCSize := e.compressedSize == uint64(marker32)
	needOffset := e.localHeaderOffset == uint64(marker32)
	needDisk := diskNumberStart == marker16
	disk := uint32(diskNumberStart)

	c := cursor{b: extra}
	for c.len() >= 4 {
		tag := c.uint16()
		size := int(c.uint16())
		if c.len() < size {
			return 0, newError(KindCorrupt, "truncated extra field", nil)
		}
		field := cursor{b: c.bytes(size)}

		switch tag {
		case extraZip64:
			if needUSize {
				if field.len() < 8 {
					return 0, newError(KindCorrupt, "short zip64 extra field", nil)
				}
				e.uncompressedSize = field.uint64()
				needUSize = false
			}
			if needCSize {
				if field.len() < 8 {
					return 0, newError(KindCorrupt, "short zip64 extra field", nil)
				}
				e.compressedSize = field.uint64()
				needCSize = false
			}
			if needOffset {
				if field.len() < 8 {
					return 0, newError(KindCorrupt, "short zip64 extra field", nil)
				}
				e.localHeaderOffset = field.uint64()
				needOffset = false
			}
			if needDisk {
				if field.len() < 4 {
					return 0, newError(KindCorrupt, "short zip64 extra field", nil)
				}
				disk = field.uint32()
				needDisk = false
			}
		case extraWinZip:
			if field.len() < 7 {
				return 0, newError(KindCorrupt, "short winzip aes extra field", nil)
			}
			vendorVersion := field.uint16()
			field.bytes(2) // vendor ID "AE"
			strengthByte := field.bytes(1)[0]
			underlyingMethod := field.uint16()

			strength, err := aesStrengthFromByte(strengthByte)
			if err != nil {
				return 0, err
			}
			if underlyingMethod != uint16(methodStored) {
				return 0, newError(KindCorrupt, "aes-wrapped entry with non-stored underlying method", nil)
			}
			e.aes = &aesParams{
				keyStrength:   strength,
				vendorVersion: vendorVersion,
				compression:   underlyingMethod,
			}
			// The record's nominal method (99) is a sentinel; the real
			// method for the plaintext stream is the one just read.
			e.method = compressionMethod(underlyingMethod)
		}
	}
	return disk, nil
}

// aesStrengthFromByte maps the WinZip AES extra field's 1-byte strength
// code (1/2/3) to a key length in bits. Unlike a naive translation of the
// code directly into bits, this does not shift the mapping by one: code 1
// is 128-bit, not 192-bit, matching the actual WinZip AE-1/AE-2 spec
// rather than the off-by-one some third-party readers carry.
func aesStrengthFromByte(code byte) (aesKeyStrength, error) {
	switch code {
	case 1:
		return aes128, nil
	case 2:
		return aes192, nil
	case 3:
		return aes256, nil
	default:
		return 0, newError(KindUnsupported, "unrecognized aes key strength code", nil)
	}
}

// localFileHeaderInfo is the subset of the local file header resolve.go
// needs once it decides to lazily confirm an entry and compute its data
// start offset.
type localFileHeaderInfo struct {
	dataOffset   int64
	methodAtOpen compressionMethod
	flagsAtOpen  uint16
}

// jarException reports whether a local-header field value should be
// excused from matching the central directory's recorded value, per the
// JAR convention of leaving crc/sizes zeroed (or maxed) in the local
// header when a trailing data descriptor is used instead.
func jarException(local, central uint64) bool {
	return local == central || local == 0 || local == uint64(marker32)
}

// readLocalFileHeader validates the local header at e.offset against the
// central directory record it was built from, and computes the absolute
// offset where entry data begins. It checks version_needed, the
// compression method (tolerating the WinZip-AES sentinel/Stored
// disagreement), and crc32/compressed/uncompressed sizes with the JAR
// zero-or-maxed exception; any other disagreement is corruption. This is
// also the fix for the historical defect where readers trusted the
// central directory's compression method without reconciling it against
// the local header's own method field at all.
func readLocalFileHeader(src Source, e *entry) (*localFileHeaderInfo, error) {
	hdr := make([]byte, localHeaderFixedLen)
	if err := readFull(src, e.offset, hdr); err != nil {
		return nil, err
	}
	if le32(hdr[0:4]) != sigLocalFile {
		return nil, newError(KindCorrupt, "local file header signature mismatch", nil)
	}

	versionNeeded := le16(hdr[4:6])
	flags := le16(hdr[6:8])
	localMethod := compressionMethod(le16(hdr[8:10]))
	crc := le32(hdr[14:18])
	compressedSize := uint64(le32(hdr[18:22]))
	uncompressedSize := uint64(le32(hdr[22:26]))
	nameLen := int(le16(hdr[26:28]))
	extraLen := int(le16(hdr[28:30]))

	if versionNeeded != e.versionNeeded {
		return nil, newError(KindCorrupt, "local and central version_needed disagree", nil)
	}

	centralMethod := e.effectiveLocalMethod()
	aesSentinel := e.aes != nil && localMethod == methodAESSentinel
	if localMethod != centralMethod && !aesSentinel {
		return nil, newError(KindCorrupt, "local and central compression methods disagree", nil)
	}

	if !jarException(uint64(crc), uint64(e.crc32)) {
		return nil, newError(KindCorrupt, "local and central crc32 disagree", nil)
	}
	if !jarException(compressedSize, e.compressedSize) {
		return nil, newError(KindCorrupt, "local and central compressed size disagree", nil)
	}
	if !jarException(uncompressedSize, e.uncompressedSize) {
		return nil, newError(KindCorrupt, "local and central uncompressed size disagree", nil)
	}

	dataOffset := e.offset + localHeaderFixedLen + int64(nameLen) + int64(extraLen)
	return &localFileHeaderInfo{dataOffset: dataOffset, methodAtOpen: localMethod, flagsAtOpen: flags}, nil
}
