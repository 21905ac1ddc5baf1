package zipfs

import (
	"archive/zip"
	"bytes"
	"io"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildZipWithSymlinks writes files normally and symlinks with the Unix
// external-attribute file-type bits archive/zip's FileHeader.SetMode sets,
// so central.go's isUnixSymlink sees a realistic central directory record.
func buildZipWithSymlinks(t *testing.T, files map[string]string, symlinks map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}

	for name, target := range symlinks {
		h := &zip.FileHeader{Name: name, Method: zip.Store}
		h.SetMode(fs.ModeSymlink | 0777)
		fw, err := w.CreateHeader(h)
		require.NoError(t, err)
		_, err = fw.Write([]byte(target))
		require.NoError(t, err)
	}

	require.NoError(t, w.Close())
	return buf.Bytes()
}

func openSymlinkArchive(t *testing.T, files, symlinks map[string]string) *Archive {
	t.Helper()
	raw := buildZipWithSymlinks(t, files, symlinks)
	a, err := Open(newMemSource(raw))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestResolve_SymlinkToFile(t *testing.T) {
	a := openSymlinkArchive(t,
		map[string]string{"real.txt": "actual content"},
		map[string]string{"link.txt": "real.txt"},
	)

	info, err := a.Stat("link.txt")
	require.NoError(t, err)
	assert.True(t, info.IsSymlink, "Stat must report the link itself, not dereference it")
	assert.False(t, info.Broken)
	assert.Equal(t, uint64(0), info.UncompressedSize, "a symlink's own size is reported as 0")

	content, err := a.ReadAll("link.txt")
	require.NoError(t, err)
	assert.Equal(t, "actual content", string(content))

	// Reading through the same cached resolution a second time must still
	// reach the target's content rather than the link's own record.
	content2, err := a.ReadAll("link.txt")
	require.NoError(t, err)
	assert.Equal(t, "actual content", string(content2))
}

func TestResolve_SymlinkChain(t *testing.T) {
	a := openSymlinkArchive(t,
		map[string]string{"real.txt": "chained"},
		map[string]string{
			"link1.txt": "link2.txt",
			"link2.txt": "real.txt",
		},
	)

	content, err := a.ReadAll("link1.txt")
	require.NoError(t, err)
	assert.Equal(t, "chained", string(content))
}

func TestResolve_BrokenSymlinkTarget(t *testing.T) {
	a := openSymlinkArchive(t,
		nil,
		map[string]string{"link.txt": "missing.txt"},
	)

	info, err := a.Stat("link.txt")
	require.NoError(t, err)
	assert.True(t, info.Broken)

	_, err = a.OpenRead("link.txt")
	require.Error(t, err)
	assert.True(t, IsCorrupt(err))
}

func TestResolve_SymlinkCycleIsBroken(t *testing.T) {
	a := openSymlinkArchive(t,
		nil,
		map[string]string{
			"a.txt": "b.txt",
			"b.txt": "a.txt",
		},
	)

	// Stat reports the link itself (lstat semantics) and never loops
	// forever walking the chain, regardless of where it leads.
	info, err := a.Stat("a.txt")
	require.NoError(t, err)
	assert.True(t, info.IsSymlink)

	_, err = a.OpenRead("a.txt")
	require.Error(t, err)
	assert.True(t, IsSymlinkLoop(err), "opening a cyclic symlink chain must fail SymlinkLoop")
}

func TestResolve_SymlinkEscapingArchiveRootIsBroken(t *testing.T) {
	a := openSymlinkArchive(t,
		nil,
		map[string]string{"link.txt": "../../etc/passwd"},
	)

	info, err := a.Stat("link.txt")
	require.NoError(t, err)
	assert.True(t, info.Broken, "a symlink target that would escape the archive root must not resolve")
}

func TestResolve_StatThenOpenReadUsesCachedTarget(t *testing.T) {
	a := openSymlinkArchive(t,
		map[string]string{"real.txt": "actual content"},
		map[string]string{"link.txt": "real.txt"},
	)

	// Stat drives resolution to completion via lstatPath without
	// dereferencing; a later OpenRead must still reach the cached
	// target's content rather than the link's own (empty) data.
	_, err := a.Stat("link.txt")
	require.NoError(t, err)

	content, err := a.OpenRead("link.txt")
	require.NoError(t, err)
	defer content.Close()

	got, err := io.ReadAll(content)
	require.NoError(t, err)
	assert.Equal(t, "actual content", string(got))
}

func TestResolve_SymlinkToDirectoryIsTraversable(t *testing.T) {
	a := openSymlinkArchive(t,
		map[string]string{"real/nested.txt": "nested"},
		map[string]string{"alias": "real"},
	)

	entries, err := a.Enumerate("alias")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alias/nested.txt", entries[0].Path)

	content, err := a.ReadAll("alias/nested.txt")
	require.NoError(t, err)
	assert.Equal(t, "nested", string(content))
}

func TestResolve_DirectoryLookupThroughNestedPath(t *testing.T) {
	a := openSymlinkArchive(t,
		map[string]string{"a/b/c.txt": "deep"},
		nil,
	)

	info, err := a.Stat("a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, "a/b/c.txt", info.Path)

	entries, err := a.Enumerate("a/b")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a/b/c.txt", entries[0].Path)
}
