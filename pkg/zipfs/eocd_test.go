package zipfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocateEOCD_PlainArchive(t *testing.T) {
	raw := buildZip(t, map[string]string{"a.txt": "hello"})

	info, err := locateEOCD(newMemSource(raw))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.totalEntryCount)
	assert.Equal(t, int64(0), info.prefixLen)
}

func TestLocateEOCD_PrependedStubIsRecovered(t *testing.T) {
	raw := buildZip(t, map[string]string{"a.txt": "hello"})
	stub := make([]byte, 512)
	for i := range stub {
		stub[i] = byte(i)
	}
	prefixed := append(stub, raw...)

	info, err := locateEOCD(newMemSource(prefixed))
	require.NoError(t, err)
	assert.Equal(t, int64(len(stub)), info.prefixLen)
}

func TestLocateEOCD_TooSmallArchiveIsCorrupt(t *testing.T) {
	_, err := locateEOCD(newMemSource([]byte{1, 2, 3}))
	require.Error(t, err)
	assert.True(t, IsCorrupt(err))
}

func TestLocateEOCD_MissingSignatureIsCorrupt(t *testing.T) {
	buf := make([]byte, 64)
	_, err := locateEOCD(newMemSource(buf))
	require.Error(t, err)
	assert.True(t, IsCorrupt(err))
}

func TestFindSignature(t *testing.T) {
	buf := []byte{0, 0, 0x50, 0x4b, 0x05, 0x06, 0, 0}
	idx := findSignature(buf, sigEOCD)
	assert.Equal(t, 2, idx)

	assert.Equal(t, -1, findSignature(buf, sigZip64Loc))
}
