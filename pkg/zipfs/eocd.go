package zipfs

import "bytes"

// Record layout constants grounded on the byte-level EOCD/ZIP64 scanning in
// pkg/unzipper/zip64_compat.go (findZipEndOfCentralDirectory,
// readZip64LocatorRecord) and on other_examples/41bf2bbd_malayinfotech-
// zipper__zipread-reader.go's findDirectory64End/findSignatureInBlock.
const (
	sigEOCD       = 0x06054b50
	sigZip64Loc   = 0x07064b50
	sigZip64EOCD  = 0x06064b50
	sigCentralDir = 0x02014b50
	sigLocalFile  = 0x04034b50

	eocdFixedLen      = 22
	zip64LocLen       = 20
	zip64EOCDFixedLen = 56

	eocdSearchWindow = eocdFixedLen + 0xffff

	marker16 = 0xffff
	marker32 = 0xffffffff
)

// eocdInfo is the resolved set of fields needed to locate and walk the
// central directory, after reconciling the standard EOCD with an optional
// ZIP64 locator/EOCD pair and an optional self-extracting/prepended-data
// offset shift.
type eocdInfo struct {
	diskEntryCount   uint64
	totalEntryCount  uint64
	centralDirSize   uint64
	centralDirOffset uint64
	comment          []byte
	// prefixLen is the number of bytes found ahead of where the central
	// directory offset says it should start, i.e. the length of a
	// self-extracting stub or other prepended data. All offsets the
	// central directory records are shifted by this amount before use.
	prefixLen int64
}

// locateEOCD finds and parses the end-of-central-directory record (and its
// ZIP64 extension, if present), handling archives with a self-extracting
// prefix or other data prepended before the true start of the ZIP
// structure per spec.md's prepended-data recovery requirement.
func locateEOCD(src Source) (*eocdInfo, error) {
	size := src.Size()
	if size < eocdFixedLen {
		return nil, newError(KindCorrupt, "archive too small for end of central directory record", nil)
	}

	eocdOff, buf, err := findEOCDBackward(src, size)
	if err != nil {
		return nil, err
	}
	if eocdOff < 0 {
		return nil, newError(KindCorrupt, "end of central directory record not found", nil)
	}

	diskEntryCount := uint64(le16(buf[eocdOff+8 : eocdOff+10]))
	totalEntryCount := uint64(le16(buf[eocdOff+10 : eocdOff+12]))
	cdSize := uint64(le32(buf[eocdOff+12 : eocdOff+16]))
	cdOffset := uint64(le32(buf[eocdOff+16 : eocdOff+20]))
	commentLen := int(le16(buf[eocdOff+20 : eocdOff+22]))

	var comment []byte
	if commentLen > 0 && eocdOff+eocdFixedLen+commentLen <= len(buf) {
		comment = append([]byte(nil), buf[eocdOff+eocdFixedLen:eocdOff+eocdFixedLen+commentLen]...)
	}

	info := &eocdInfo{
		diskEntryCount:   diskEntryCount,
		totalEntryCount:  totalEntryCount,
		centralDirSize:   cdSize,
		centralDirOffset: cdOffset,
		comment:          comment,
	}

	// absoluteEOCDOff is eocdOff's position within the whole archive, not
	// just within buf (buf may start partway through the file).
	absoluteEOCDOff := size - int64(len(buf)) + int64(eocdOff)

	// The ZIP64 locator is probed for unconditionally, immediately before
	// the EOCD, rather than only when the classic EOCD's own fields are
	// maxed out: a writer can emit a ZIP64 EOCD pair without marking every
	// 32-bit field in the classic record, so gating the lookup on those
	// markers would silently miss a real ZIP64 archive. Its absence is not
	// an error; it just means this is a plain (non-ZIP64) archive.
	found, err := applyZip64(src, absoluteEOCDOff, info)
	if err != nil {
		return nil, err
	}
	if !found {
		// The central directory should begin at info.centralDirOffset
		// bytes from the start of the archive. If a self-extracting stub
		// or other data was prepended, the actual bytes are shifted
		// forward by a constant amount, recoverable by comparing the
		// expected signature location against where the EOCD record was
		// actually found.
		info.prefixLen = detectPrefixShift(absoluteEOCDOff, info)
	}

	return info, nil
}

// findEOCDBackward scans backward from the end of the archive for the EOCD
// signature, validating each candidate by checking the comment length
// accounts for exactly the remaining bytes in the search window. Returns
// the index of the signature within the returned buffer, and the buffer
// itself (so comment and ZIP64 detection can reuse it without a second
// read).
func findEOCDBackward(src Source, size int64) (int, []byte, error) {
	windowSize := size
	if windowSize > eocdSearchWindow {
		windowSize = eocdSearchWindow
	}
	buf := make([]byte, windowSize)
	if err := readFull(src, size-windowSize, buf); err != nil {
		return -1, nil, err
	}

	for i := len(buf) - eocdFixedLen; i >= 0; i-- {
		if le32(buf[i:i+4]) != sigEOCD {
			continue
		}
		commentLen := int(le16(buf[i+eocdFixedLen-2 : i+eocdFixedLen]))
		if i+eocdFixedLen+commentLen == len(buf) {
			return i, buf, nil
		}
	}
	return -1, buf, nil
}

// zip64EOCDVarLen is the size of a ZIP64 EOCD record's fixed portion at
// version 2 (with the AES-extensible-data-sector fields some writers add),
// the second of the two fixed offsets tried before falling back to a full
// scan.
const zip64EOCDVarLen = 84

// zip64ScanWindow bounds the brute-force backward scan for a ZIP64 EOCD
// signature when neither the locator's recorded offset nor either common
// fixed-size offset resolves, to avoid an unbounded read over a corrupt or
// adversarial archive.
const zip64ScanWindow = 256 * 1024

// applyZip64 probes for a ZIP64 locator immediately before the EOCD and,
// if one is present, reads the ZIP64 EOCD record it describes and
// overwrites info's fields with their 64-bit true values. It reports
// found=false with a nil error when no locator signature is there at all
// (a plain, non-ZIP64 archive), which the caller treats as harmless.
// Archives with data prepended before the true start of the ZIP structure
// (a self-extracting stub, for example) shift every absolute offset the
// locator and central directory record by a constant amount, so the
// record is not always where the locator's raw offset says it is: this
// tries, in order, the recorded offset itself, the two fixed-size offsets
// immediately before the locator, and finally a bounded backward scan for
// the signature.
func applyZip64(src Source, eocdOff int64, info *eocdInfo) (bool, error) {
	locOff := eocdOff - zip64LocLen
	if locOff < 0 {
		return false, nil
	}
	loc := make([]byte, zip64LocLen)
	if err := readFull(src, locOff, loc); err != nil {
		return false, err
	}
	if le32(loc[0:4]) != sigZip64Loc {
		return false, nil
	}
	recordedOffset := int64(le64(loc[8:16]))

	actualOffset, rec, err := locateZip64EOCDRecord(src, locOff, recordedOffset)
	if err != nil {
		return false, err
	}

	info.diskEntryCount = le64(rec[24:32])
	info.totalEntryCount = le64(rec[32:40])
	info.centralDirSize = le64(rec[40:48])
	info.centralDirOffset = le64(rec[48:56])
	info.prefixLen = actualOffset - recordedOffset
	return true, nil
}

// locateZip64EOCDRecord tries the three recovery steps in turn and returns
// the absolute offset at which the record actually starts along with its
// fixed-length bytes.
func locateZip64EOCDRecord(src Source, locOff, recordedOffset int64) (int64, []byte, error) {
	if rec, err := tryReadZip64EOCD(src, recordedOffset); err == nil {
		return recordedOffset, rec, nil
	}

	for _, delta := range []int64{zip64EOCDFixedLen, zip64EOCDVarLen} {
		candidate := locOff - delta
		if candidate < 0 {
			continue
		}
		if rec, err := tryReadZip64EOCD(src, candidate); err == nil {
			return candidate, rec, nil
		}
	}

	windowSize := locOff
	if windowSize > zip64ScanWindow {
		windowSize = zip64ScanWindow
	}
	windowStart := locOff - windowSize
	buf := make([]byte, windowSize)
	if err := readFull(src, windowStart, buf); err != nil {
		return 0, nil, err
	}
	for i := len(buf) - zip64EOCDFixedLen; i >= 0; i-- {
		if le32(buf[i:i+4]) == sigZip64EOCD {
			return windowStart + int64(i), buf[i : i+zip64EOCDFixedLen], nil
		}
	}

	return 0, nil, newError(KindCorrupt, "zip64 end of central directory record not found", nil)
}

func tryReadZip64EOCD(src Source, off int64) ([]byte, error) {
	if off < 0 {
		return nil, newError(KindCorrupt, "negative zip64 eocd offset", nil)
	}
	rec := make([]byte, zip64EOCDFixedLen)
	if err := readFull(src, off, rec); err != nil {
		return nil, err
	}
	if le32(rec[0:4]) != sigZip64EOCD {
		return nil, newError(KindCorrupt, "zip64 end of central directory signature mismatch", nil)
	}
	return rec, nil
}

// detectPrefixShift compares where the EOCD chain was actually found
// against where the recorded central directory size says it should end,
// recovering the length of any data (e.g. a self-extracting stub)
// prepended before the real start of the ZIP structure. A non-zero result
// means every absolute offset the central directory records must be
// shifted forward by this amount before use.
func detectPrefixShift(eocdOff int64, info *eocdInfo) int64 {
	expectedEOCDOff := int64(info.centralDirOffset) + int64(info.centralDirSize)
	shift := eocdOff - expectedEOCDOff
	if shift < 0 {
		return 0
	}
	return shift
}

// verifyLocalSignature checks the 4-byte local file header signature at
// off. Nothing in the package calls it; readLocalFileHeader in central.go
// checks the signature inline.
func verifyLocalSignature(src Source, off int64) error {
	var sig [4]byte
	if err := readFull(src, off, sig[:]); err != nil {
		return err
	}
	if le32(sig[:]) != sigLocalFile {
		return newError(KindCorrupt, "local file header signature mismatch", nil)
	}
	return nil
}

// findSignature scans buf for the 4-byte little-endian signature sig,
// tolerating it straddling nothing since buf is assumed contiguous; kept
// as a small helper for tests exercising malformed EOCD candidates.
func findSignature(buf []byte, sig uint32) int {
	var want [4]byte
	want[0] = byte(sig)
	want[1] = byte(sig >> 8)
	want[2] = byte(sig >> 16)
	want[3] = byte(sig >> 24)
	return bytes.Index(buf, want[:])
}
