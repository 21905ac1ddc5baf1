package zipfs

// entryID indexes into tree.entries. The tree owns every entry; ids
// (rather than pointers shared through the tree, hash chains, and symlink
// targets) keep that ownership explicit, matching spec.md §9's guidance
// for an arena-owned graph even though Go's garbage collector would not
// otherwise require it.
type entryID int32

const noEntry entryID = -1

// resolutionState tracks where an Entry sits in the one-shot, one-way
// resolution lifecycle described in spec.md §3.
type resolutionState int

const (
	stateUnresolvedFile resolutionState = iota
	stateUnresolvedSymlink
	stateResolving
	stateResolved
	stateDirectory
	stateBrokenFile
	stateBrokenSymlink
)

// compressionMethod enumerates the methods this engine understands. Method
// 99 is the WinZip-AES sentinel: central.go replaces it with the
// underlying method recorded in the 0x9901 extra field before the entry is
// ever exposed to a caller.
type compressionMethod uint16

const (
	methodStored      compressionMethod = 0
	methodDeflate     compressionMethod = 8
	methodDeflate64   compressionMethod = 9
	methodAESSentinel compressionMethod = 99
)

// aesKeyStrength is the WinZip AES key length in bits, also used to derive
// salt length (bits/16 bytes) per spec.md §4.C2.
type aesKeyStrength int

const (
	aes128 aesKeyStrength = 128
	aes192 aesKeyStrength = 192
	aes256 aesKeyStrength = 256
)

func (s aesKeyStrength) saltLen() int { return int(s) / 16 }
func (s aesKeyStrength) keyLen() int  { return int(s) / 8 }

// aesParams holds the WinZip AES extra-field data for an entry, populated
// by central.go and consulted by stream.go.
type aesParams struct {
	keyStrength      aesKeyStrength
	vendorVersion    uint16 // 1 (AE-1) or 2 (AE-2)
	compression      uint16 // underlying method; this engine only accepts Stored
	salt             []byte
	passVerification uint16
}

// entry is one member of the archive: a regular file, a directory, or a
// synthesized ancestor directory. See spec.md §3 for the field semantics.
type entry struct {
	name string // slash-delimited, no leading or trailing '/'

	state resolutionState

	offset int64 // local header offset pre-resolution, data offset post-resolution

	versionMadeBy     uint16
	versionNeeded     uint16
	generalBits       uint16
	compressionMethod compressionMethod
	crc32             uint32
	compressedSize    uint64
	uncompressedSize  uint64
	dosModTime        uint32 // packed DOS date<<16 | time
	modTime           int64  // epoch seconds, derived from dosModTime

	madeByHost uint8 // high byte of versionMadeBy

	aes *aesParams

	symlinkTarget entryID

	// cyclic is set on a BrokenSymlink entry whose resolution failed
	// specifically because following it re-entered a symlink already on
	// the current resolution chain, as opposed to a dangling target or
	// an unreadable link body. OpenRead uses it to report SymlinkLoop
	// instead of a generic Corrupt for that entry going forward.
	cyclic bool

	children entryID // first child, if directory
	sibling  entryID // next sibling in parent's child list
	hashNext entryID // next entry in the same hash bucket
}

func (e *entry) isDirectory() bool { return e.state == stateDirectory }

func (e *entry) isSymlink() bool {
	return e.state == stateUnresolvedSymlink || e.state == stateBrokenSymlink
}
