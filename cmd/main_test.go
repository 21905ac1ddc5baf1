package main

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setCommandGlobals(t *testing.T, dryRunValue, verboseValue bool, passwordValue string) {
	t.Helper()

	prevDryRun := dryRun
	prevVerbose := verbose
	prevPassword := password

	dryRun = dryRunValue
	verbose = verboseValue
	password = passwordValue

	t.Cleanup(func() {
		dryRun = prevDryRun
		verbose = prevVerbose
		password = prevPassword
	})
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	oldStdout := os.Stdout
	reader, writer, err := os.Pipe()
	require.NoError(t, err)

	os.Stdout = writer
	defer func() {
		os.Stdout = oldStdout
	}()

	fn()

	require.NoError(t, writer.Close())
	out, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.NoError(t, reader.Close())

	return string(out)
}

func writeZipArchive(t *testing.T, archivePath string, entries map[string]string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(archivePath), 0o755))

	archiveFile, err := os.Create(archivePath)
	require.NoError(t, err)

	writer := zip.NewWriter(archiveFile)
	for name, content := range entries {
		entryWriter, err := writer.Create(name)
		require.NoError(t, err)

		_, err = entryWriter.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, writer.Close())
	require.NoError(t, archiveFile.Close())
}

func TestRunUnzip_DryRun_OutputSummary(t *testing.T) {
	tmpDir := t.TempDir()
	writeZipArchive(t, filepath.Join(tmpDir, "photos.zip"), map[string]string{
		"nested/photo.jpg": "photo",
	})

	setCommandGlobals(t, true, false, "")

	output := captureStdout(t, func() {
		err := runUnzip(nil, []string{tmpDir})
		require.NoError(t, err)
	})

	assert.Contains(t, output, "=== DRY RUN - no changes will be made ===")
	assert.Contains(t, output, "Command: UNZIP")
	assert.Contains(t, output, "=== Summary ===")
	assert.Contains(t, output, "Total files:        1")
	assert.Contains(t, output, "Archives found:     1")
	assert.Contains(t, output, "Archives processed: 1")
	assert.Contains(t, output, "Archives extracted: 1")
	assert.Contains(t, output, "Archives deleted:   1")
	assert.Contains(t, output, "Files extracted:    1")
	assert.Contains(t, output, "Dir entries:        1")
	assert.Contains(t, output, "Errors:             0")
	assert.Contains(t, output, "Run without --dry-run to apply changes.")

	_, err := os.Stat(filepath.Join(tmpDir, "photos.zip"))
	require.NoError(t, err, "dry-run must not remove archives")

	_, err = os.Stat(filepath.Join(tmpDir, "nested", "photo.jpg"))
	assert.True(t, os.IsNotExist(err), "dry-run must not extract files")
}

func TestRunList_PrintsEntries(t *testing.T) {
	tmpDir := t.TempDir()
	archivePath := filepath.Join(tmpDir, "photos.zip")
	writeZipArchive(t, archivePath, map[string]string{
		"a.txt":     "aaa",
		"dir/b.txt": "bbb",
	})

	setCommandGlobals(t, false, false, "")

	output := captureStdout(t, func() {
		err := runList(archivePath, "")
		require.NoError(t, err)
	})

	assert.Contains(t, output, "a.txt")
	assert.Contains(t, output, "dir")
}

func TestRunStat_PrintsMetadata(t *testing.T) {
	tmpDir := t.TempDir()
	archivePath := filepath.Join(tmpDir, "photos.zip")
	writeZipArchive(t, archivePath, map[string]string{
		"a.txt": "hello",
	})

	setCommandGlobals(t, false, false, "")

	output := captureStdout(t, func() {
		err := runStat(archivePath, "a.txt")
		require.NoError(t, err)
	})

	assert.Contains(t, output, "Path:       a.txt")
	assert.Contains(t, output, "Kind:       file")
	assert.Contains(t, output, "Size:       5")
}

func TestRunCat_StreamsContent(t *testing.T) {
	tmpDir := t.TempDir()
	archivePath := filepath.Join(tmpDir, "photos.zip")
	writeZipArchive(t, archivePath, map[string]string{
		"a.txt": "hello world",
	})

	setCommandGlobals(t, false, false, "")

	output := captureStdout(t, func() {
		err := runCat(archivePath, "a.txt")
		require.NoError(t, err)
	})

	assert.Equal(t, "hello world", output)
}

func TestRunExtract_WritesFilesUnderDestDir(t *testing.T) {
	tmpDir := t.TempDir()
	archivePath := filepath.Join(tmpDir, "photos.zip")
	writeZipArchive(t, archivePath, map[string]string{
		"nested/photo.jpg": "photo",
	})

	destDir := filepath.Join(tmpDir, "out")
	setCommandGlobals(t, false, false, "")

	output := captureStdout(t, func() {
		err := runExtract(archivePath, destDir)
		require.NoError(t, err)
	})

	assert.Contains(t, output, "Files extracted: 1")

	content, err := os.ReadFile(filepath.Join(destDir, "nested", "photo.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "photo", string(content))
}

func TestRunExtract_DryRunLeavesFilesystemUntouched(t *testing.T) {
	tmpDir := t.TempDir()
	archivePath := filepath.Join(tmpDir, "photos.zip")
	writeZipArchive(t, archivePath, map[string]string{
		"a.txt": "aaa",
	})

	destDir := filepath.Join(tmpDir, "out")
	setCommandGlobals(t, true, false, "")

	output := captureStdout(t, func() {
		err := runExtract(archivePath, destDir)
		require.NoError(t, err)
	})

	assert.Contains(t, output, "Files extracted: 1")
	_, err := os.Stat(filepath.Join(destDir, "a.txt"))
	assert.True(t, os.IsNotExist(err), "dry-run must not write extracted content")
}
