package zipfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawFile(name string) rawCentralEntry {
	return rawCentralEntry{name: name, method: methodStored}
}

func TestBuildTree_SynthesizesImplicitDirectories(t *testing.T) {
	raw := []rawCentralEntry{rawFile("a/b/c.txt")}

	tr, err := buildTree(raw)
	require.NoError(t, err)

	root := tr.get(tr.root)
	require.NotEqual(t, noEntry, root.children)

	aID, ok := tr.indexLookup(tr.root, "a")
	require.True(t, ok)
	assert.True(t, tr.get(aID).isDirectory())

	bID, ok := tr.indexLookup(aID, "b")
	require.True(t, ok)
	assert.True(t, tr.get(bID).isDirectory())

	cID, ok := tr.indexLookup(bID, "c.txt")
	require.True(t, ok)
	assert.False(t, tr.get(cID).isDirectory())
}

func TestBuildTree_DropsEmptyNames(t *testing.T) {
	raw := []rawCentralEntry{rawFile(""), rawFile("real.txt")}

	tr, err := buildTree(raw)
	require.NoError(t, err)

	_, ok := tr.indexLookup(tr.root, "real.txt")
	assert.True(t, ok)
	assert.Equal(t, 1, countEntries(tr, tr.root))
}

func TestBuildTree_DropsDotDotComponents(t *testing.T) {
	raw := []rawCentralEntry{
		rawFile("../escape.txt"),
		rawFile("a/../b.txt"),
		rawFile("./hidden.txt"),
		rawFile("safe.txt"),
	}

	tr, err := buildTree(raw)
	require.NoError(t, err)

	_, ok := tr.indexLookup(tr.root, "safe.txt")
	assert.True(t, ok)

	_, ok = tr.indexLookup(tr.root, "escape.txt")
	assert.False(t, ok, "a dot-dot-named entry must never be represented in the tree")

	_, ok = tr.indexLookup(tr.root, "..")
	assert.False(t, ok, "the tree must never contain a literal .. child")

	assert.Equal(t, 1, countEntries(tr, tr.root))
}

func TestBuildTree_DuplicateZeroModTimeEntriesPromoteLastWriterWins(t *testing.T) {
	// None of these carry a DOS mod-time, so each collision lands on the
	// zero-mod-time carve-out (placeholder promotion) rather than the
	// true-duplicate error: the last record's fields win.
	raw := []rawCentralEntry{
		{name: "dup.txt", method: methodStored, crc32: 1},
		{name: "dup.txt", method: methodStored, crc32: 2},
		{name: "DUP.TXT", method: methodStored, crc32: 3},
	}

	tr, err := buildTree(raw)
	require.NoError(t, err)

	id, ok := tr.indexLookup(tr.root, "dup.txt")
	require.True(t, ok)
	assert.Equal(t, uint32(3), tr.get(id).crc32)
	assert.Equal(t, 1, countEntries(tr, tr.root))
}

func TestBuildTree_TrueDuplicateWithModTimeFailsCorrupt(t *testing.T) {
	raw := []rawCentralEntry{
		{name: "dup.txt", method: methodStored, crc32: 1, dosDate: 0x0021}, // 1980-01-01
		{name: "dup.txt", method: methodStored, crc32: 2, dosDate: 0x0021},
	}

	_, err := buildTree(raw)
	require.Error(t, err)
	assert.True(t, IsCorrupt(err))
}

func TestBuildTree_PlaceholderAncestorPromotedByExplicitDirectoryRecord(t *testing.T) {
	raw := []rawCentralEntry{
		rawFile("dir/nested.txt"),
		{name: "dir/", method: methodStored, dosDate: 0x0021, versionMadeBy: 777},
	}

	tr, err := buildTree(raw)
	require.NoError(t, err)

	dirID, ok := tr.indexLookup(tr.root, "dir")
	require.True(t, ok)
	dirEntry := tr.get(dirID)
	assert.True(t, dirEntry.isDirectory())
	assert.Equal(t, uint16(777), dirEntry.versionMadeBy)
	assert.NotEqual(t, noEntry, dirEntry.children, "promotion must not drop the synthesized directory's existing children")

	_, ok = tr.indexLookup(dirID, "nested.txt")
	assert.True(t, ok)
}

func TestBuildTree_DirectoryEntrySuffix(t *testing.T) {
	raw := []rawCentralEntry{{name: "dir/", method: methodStored}}

	tr, err := buildTree(raw)
	require.NoError(t, err)

	id, ok := tr.indexLookup(tr.root, "dir")
	require.True(t, ok)
	assert.True(t, tr.get(id).isDirectory())
}

func TestBuildTree_FileCollidesWithPathComponent(t *testing.T) {
	raw := []rawCentralEntry{
		rawFile("a"),
		rawFile("a/b.txt"),
	}

	_, err := buildTree(raw)
	require.Error(t, err)
	assert.True(t, IsCorrupt(err))
}

func countEntries(tr *tree, dir entryID) int {
	n := 0
	for c := tr.get(dir).children; c != noEntry; c = tr.get(c).sibling {
		n++
	}
	return n
}

func TestHasDotComponent(t *testing.T) {
	cases := map[string]bool{
		"a/b/c":    false,
		"..":       true,
		".":        true,
		"a/../b":   true,
		"a/..b/c":  false,
		"..hidden": false,
	}
	for name, want := range cases {
		assert.Equal(t, want, hasDotComponent(name), "name=%q", name)
	}
}
