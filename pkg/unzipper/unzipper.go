// Package unzipper extracts zip archives safely within a root directory.
package unzipper

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"zipaccess/pkg/collector"
	"zipaccess/pkg/safepath"
	"zipaccess/pkg/zipfs"
)

const (
	// progressStageExtracting is the stage name reported
	// to progress callbacks during archive extraction.
	progressStageExtracting = "extracting"

	// maxDecompressedSize is the maximum allowed size for
	// a single extracted file (100 GiB). This guards
	// against zip-bomb attacks where a small archive
	// expands to enormous size, while still allowing
	// extraction of very large legitimate files.
	maxDecompressedSize = 100 << 30
)

var (
	// errArchiveEntryPathTraversal is returned when an
	// archive entry name contains path traversal components
	// (e.g., "../") that would escape the extraction
	// directory.
	errArchiveEntryPathTraversal = errors.New("contains path traversal")

	// errArchiveEntryInvalidPath is returned when an archive
	// entry name is malformed: empty, contains NUL bytes,
	// or has degenerate path segments like "." or "".
	errArchiveEntryInvalidPath = errors.New("contains invalid entry path")

	// errUnsupportedMethod is returned when an archive entry uses a
	// compression method this engine cannot decode.
	errUnsupportedMethod = errors.New("unsupported compression method")

	// errCRCMismatch is returned when an extracted file's content does
	// not match the CRC-32 recorded in the archive's central directory.
	errCRCMismatch = errors.New("crc-32 mismatch after extraction")

	// windowsVolumePrefixPattern matches Windows drive-volume
	// prefixes (e.g., "C:") at the start of a path string.
	windowsVolumePrefixPattern = regexp.MustCompile(`^[A-Za-z]:`)
)

// ExtractOperation represents a single archive
// extraction operation.
type ExtractOperation struct {
	// ArchivePath is the absolute path to the archive
	// file being extracted.
	ArchivePath string

	// ExtractedFiles is the count of regular files
	// successfully extracted from this archive.
	ExtractedFiles int

	// ExtractedDirs is the count of directories created
	// during extraction.
	ExtractedDirs int

	// SkippedEntries is the count of archive entries that
	// were skipped because zipfs already reported them
	// Broken when the archive was walked.
	SkippedEntries int

	// EntryErrors contains error messages for individual
	// entries that failed during extraction.
	EntryErrors []string

	// NestedArchives is the count of archive files
	// discovered within this archive during extraction.
	NestedArchives int

	// ExtractionComplete indicates whether the archive
	// was fully extracted without fatal errors.
	ExtractionComplete bool

	// DeletedArchive indicates whether the source archive
	// was deleted after successful extraction (in dry-run
	// mode, whether it would be).
	DeletedArchive bool

	// Skipped indicates whether this archive was skipped
	// entirely without attempting extraction.
	Skipped bool

	// SkipReason contains the explanation when Skipped is
	// true (the unsupported-compression-method error text).
	SkipReason string

	// Error contains any fatal error that prevented
	// extraction or archive deletion.
	Error error
}

// Result contains the aggregated statistics and outcomes from an unzip operation.
// Use this to understand the overall impact of extraction: how many archives were
// found and processed, how many files were extracted, and whether any errors occurred.
// The Operations slice provides detailed per-archive breakdown.
type Result struct {
	// Operations contains detailed results for each individual archive extraction.
	Operations []ExtractOperation

	// TotalFiles is the total number of files scanned in the target directory.
	TotalFiles int

	// ArchivesFound is the number of archive files discovered during collection.
	ArchivesFound int

	// ArchivesProcessed is the number of archives that were attempted for extraction.
	ArchivesProcessed int

	// ExtractedArchives is the count of archives successfully extracted.
	ExtractedArchives int

	// DeletedArchives is the number of archives removed after successful extraction
	// (in dry-run mode, the number that would be removed).
	DeletedArchives int

	// ExtractedFiles is the total number of files extracted across all archives.
	ExtractedFiles int

	// ExtractedDirs is the total number of directories created during extraction.
	ExtractedDirs int

	// SkippedCount is the number of archives skipped (e.g., unsupported methods).
	SkippedCount int

	// ErrorCount is the number of archives that failed to extract.
	ErrorCount int
}

// Unzipper extracts archives recursively while enforcing path containment.
//
// An Unzipper orchestrates the extraction of archive files within a validated root directory.
// It ensures all extracted paths remain within the target directory boundary through safepath
// validation, preventing path traversal attacks and symlink escapes. Archive reading itself is
// delegated to zipfs.Archive, which resolves symlinks and encryption internally; this package's
// own job is containment, batching, and filesystem side effects.
//
// Key features:
//   - Recursive extraction: archives within archives are discovered and extracted
//   - Path safety: all extraction paths validated via safepath.Validator
//   - Dry-run mode: preview extraction without modifying the filesystem
//   - Progress tracking: reports extraction progress through callback functions
//
// Usage:
//
//	// Create with automatic validator
//	uz, err := unzipper.New("/path/to/target", false)
//
//	// Or with an existing validator
//	uz, err := unzipper.NewWithValidator(validator, false, "")
//
//	// Extract archives with progress tracking
//	result, err := uz.ExtractArchivesWithProgressRecursively(files, func(stage string, processed, total int) {
//	    fmt.Printf("Stage: %s, Progress: %d/%d\n", stage, processed, total)
//	})
//
// Safety guarantees:
//   - All extraction paths validated before creation
//   - Symlinks that escape root directory are rejected
//   - Archive entries with path traversal attempts (../) are blocked
//   - Extracted content is verified against the archive's recorded CRC-32
//
// The Unzipper is safe for concurrent use within different root directories,
// but should not be shared across goroutines for the same extraction operation.
type Unzipper struct {
	// dryRun when true prevents all filesystem modifications.
	// Extraction logic executes but no files are created or removed.
	// Use this to preview what would happen before committing changes.
	dryRun bool

	// validator enforces path containment for all extraction operations.
	// Every extracted file path is validated to ensure it stays within the
	// root directory. This prevents malicious archives from writing outside
	// the target directory through techniques like path traversal or symlinks.
	validator *safepath.Validator

	// classicPassword is passed to zipfs.Open for every archive this
	// Unzipper opens, enabling traditional PKWARE-encrypted members that
	// don't rely on the per-path "$password" suffix convention.
	classicPassword string
}

// New creates an Unzipper rooted at rootDir.
func New(rootDir string, dryRun bool) (*Unzipper, error) {
	validator, err := safepath.New(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create path validator: %w", err)
	}

	return NewWithValidator(validator, dryRun, "")
}

// NewWithValidator creates an Unzipper with an existing validator.
// classicPassword, when non-empty, is used to decrypt traditional
// PKWARE-encrypted entries in every archive this Unzipper opens.
func NewWithValidator(
	validator *safepath.Validator,
	dryRun bool,
	classicPassword string,
) (*Unzipper, error) {
	if validator == nil {
		return nil, errors.New("validator is required")
	}

	return &Unzipper{
		dryRun:          dryRun,
		validator:       validator,
		classicPassword: classicPassword,
	}, nil
}

// ExtractArchivesWithProgressRecursively extracts all archive files from the
// provided file list, then re-scans the directory to discover and extract any
// nested archives that were contained within the originals. This process repeats
// until no more archives remain.
//
// The progress callback is invoked during extraction to report the current stage,
// number of archives processed, and total archive count. Pass nil to disable
// progress reporting.
//
// It determines the root directory from the common ancestor of all provided files
// and returns an empty [Result] if the file list is empty. On each iteration,
// only archive files are selected for extraction; after extraction, the directory
// is re-collected to find any newly revealed archives.
//
// Returns the aggregated [Result] and any error encountered during extraction or
// file collection.
func (u *Unzipper) ExtractArchivesWithProgressRecursively(
	files []collector.FileInfo,
	progress func(stage string, processed, total int),
) (Result, error) {
	res := Result{TotalFiles: len(files)}
	rootDir := getRootDirectory(files)

	if rootDir == "" {
		return res, nil
	}

	processed := make(map[string]bool)

	for {
		archives := filterNewArchives(files, processed)
		if len(archives) == 0 {
			break
		}

		res.ArchivesFound += len(archives)

		if err := u.extractBatch(archives, processed, progress, &res); err != nil {
			return res, err
		}

		var err error
		files, err = getAllFilesRecursively(rootDir)
		if err != nil {
			return res, err
		}

		res.TotalFiles = len(files)
	}

	return res, nil
}

// filterNewArchives returns archives from files that have not yet been processed.
func filterNewArchives(files []collector.FileInfo, processed map[string]bool) []collector.FileInfo {
	archives := filterOnlyArchives(files)

	unprocessed := make([]collector.FileInfo, 0, len(archives))
	for _, a := range archives {
		key := filepath.Join(a.Dir, a.Name)
		if !processed[key] {
			unprocessed = append(unprocessed, a)
		}
	}

	return unprocessed
}

// extractBatch processes a batch of archives, updating the result and processed map.
func (u *Unzipper) extractBatch(
	archives []collector.FileInfo,
	processed map[string]bool,
	progress func(stage string, processed, total int),
	res *Result,
) error {
	for i, archive := range archives {
		if progress != nil {
			progress(progressStageExtracting, i, len(archives))
		}

		archivePath := filepath.Join(archive.Dir, archive.Name)
		processed[archivePath] = true

		op, err := u.processArchive(archive, archivePath)
		res.ArchivesProcessed++

		if err != nil {
			res.ErrorCount++
			res.Operations = append(res.Operations, op)
			return err
		}

		if op.Skipped {
			res.SkippedCount++
			res.Operations = append(res.Operations, op)
			continue
		}

		res.ExtractedArchives++
		res.ExtractedFiles += op.ExtractedFiles
		res.ExtractedDirs += op.ExtractedDirs

		op.DeletedArchive = true
		res.DeletedArchives++
		res.Operations = append(res.Operations, op)
	}

	if progress != nil {
		progress(progressStageExtracting, len(archives), len(archives))
	}

	return nil
}

// processArchive extracts or inspects a single archive, then removes it if not in dry-run mode.
// In non-dry-run mode the source archive is permanently deleted after successful
// extraction.
//
// The returned [ExtractOperation] contains extraction statistics (files, dirs,
// nested archives). If extraction or archive removal fails, the partial operation
// result is returned alongside the error, with op.Error set to the cause.
func (u *Unzipper) processArchive(archive collector.FileInfo, archivePath string) (ExtractOperation, error) {
	var op ExtractOperation
	var err error

	if u.dryRun {
		op, err = u.inspectArchive(archive)
	} else {
		op, err = u.unzip(archive)
	}

	if err != nil {
		if errors.Is(err, errUnsupportedMethod) {
			op.Skipped = true
			op.SkipReason = err.Error()
			op.Error = nil
			return op, nil
		}

		return op, err
	}

	if !u.dryRun {
		if rmErr := os.Remove(archivePath); rmErr != nil {
			op.Error = fmt.Errorf("failed to remove archive %s: %w", archivePath, rmErr)
			return op, op.Error
		}
	}

	return op, nil
}

// getRootDirectory computes the lowest common ancestor directory for a slice of
// [collector.FileInfo]. It iteratively walks up the directory tree until it finds
// a path that is a parent of (or equal to) every file's directory. Returns an
// empty string if the slice is empty.
func getRootDirectory(f []collector.FileInfo) string {
	if len(f) == 0 {
		return ""
	}

	root := f[0].Dir
	for _, fi := range f[1:] {
		for !isSubPath(root, fi.Dir) {
			parent := filepath.Dir(root)
			if parent == root {
				return root
			}
			root = parent
		}
	}

	return root
}

// isSubPath reports whether child is equal to or nested under parent.
func isSubPath(parent, child string) bool {
	return child == parent || strings.HasPrefix(child, parent+string(filepath.Separator))
}

// filterOnlyArchives filters a slice of FileInfo, returning only entries whose
// filenames are recognized as archive formats.
func filterOnlyArchives(blob []collector.FileInfo) []collector.FileInfo {
	filteredBlob := make([]collector.FileInfo, 0)
	for _, f := range blob {
		if ok := isArchive(filepath.Join(f.Dir, f.Name)); ok {
			filteredBlob = append(filteredBlob, f)
		}
	}

	return filteredBlob
}

// normalizeArchiveEntryPath converts an archive entry name to a canonical
// forward-slash path by applying [filepath.ToSlash] and replacing any
// remaining literal backslash sequences with forward slashes.
func normalizeArchiveEntryPath(entryName string) string {
	return strings.ReplaceAll(filepath.ToSlash(entryName), `\\`, "/")
}

// hasWindowsVolumePrefix reports whether pathName starts with a Windows
// drive-volume prefix (e.g., "C:").
func hasWindowsVolumePrefix(pathName string) bool {
	return windowsVolumePrefixPattern.MatchString(pathName)
}

// validateArchiveEntryPath checks that entryName is a safe, relative file path
// suitable for extraction. zipfs drops central directory entries whose names
// contain "." or ".." segments, so zipfs.Archive.Enumerate never yields them
// (and a ".." in a symlink target that would ascend past the archive root
// leaves that symlink Broken), so this is a second line of defense rather
// than the only one.
// It rejects absolute paths, traversal segments, Windows drive-volume
// prefixes, empty path elements, and NUL bytes. Returns
// [errArchiveEntryPathTraversal] for traversal-like entries and
// [errArchiveEntryInvalidPath] for malformed names.
func validateArchiveEntryPath(entryName string) error {
	normalized := normalizeArchiveEntryPath(entryName)
	if normalized == "" {
		return errArchiveEntryInvalidPath
	}

	if strings.HasPrefix(normalized, "/") || hasWindowsVolumePrefix(normalized) {
		return errArchiveEntryPathTraversal
	}

	if strings.ContainsRune(normalized, '\x00') {
		return errArchiveEntryInvalidPath
	}

	trimmed := strings.TrimRight(normalized, "/")
	if trimmed == "" {
		return errArchiveEntryInvalidPath
	}

	for part := range strings.SplitSeq(trimmed, "/") {
		switch part {
		case "..":
			return errArchiveEntryPathTraversal
		case "", ".":
			return errArchiveEntryInvalidPath
		}
	}

	cleanPath := path.Clean(trimmed)
	if cleanPath == "." || strings.HasPrefix(cleanPath, "/") || hasWindowsVolumePrefix(cleanPath) {
		return errArchiveEntryInvalidPath
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, "../") {
		return errArchiveEntryPathTraversal
	}

	return nil
}

// resolveArchiveEntryPath validates and resolves an archive entry's resolved
// path (from [zipfs.Info.Path]) to a safe absolute filesystem path under
// baseDir, additionally checking the result against a [safepath.Validator]
// when one is provided.
func resolveArchiveEntryPath(
	baseDir string,
	entryName string,
	validator *safepath.Validator,
) (string, error) {
	if err := validateArchiveEntryPath(entryName); err != nil {
		return "", err
	}

	normalized := normalizeArchiveEntryPath(entryName)
	targetPath := filepath.Join(baseDir, filepath.FromSlash(normalized))

	if validator != nil {
		if err := validator.ValidatePathForWrite(targetPath); err != nil {
			return "", fmt.Errorf("%w: %w", errArchiveEntryPathTraversal, err)
		}
	}

	return targetPath, nil
}

// unzip extracts all entries from the zip archive identified by file into the
// same directory that contains the archive, using u's validator and
// decryption password.
func (u *Unzipper) unzip(file collector.FileInfo) (ExtractOperation, error) {
	return u.walkArchive(file, true)
}

// inspectArchive performs a dry-run inspection of the zip archive identified
// by file, validating all entry paths without writing anything to disk.
func (u *Unzipper) inspectArchive(file collector.FileInfo) (ExtractOperation, error) {
	return u.walkArchive(file, false)
}

// walkArchive opens the archive at file, confirms every member uses a
// supported compression method, then walks the tree breadth-first via
// zipfs.Archive.Enumerate, either creating directories and extracting file
// content (write == true) or only validating and counting (write == false).
//
// Archive entries containing path traversal components are rejected to
// prevent zip-slip attacks. Extraction stops on the first error encountered
// and returns both the partial operation result and the error.
func (u *Unzipper) walkArchive(file collector.FileInfo, write bool) (ExtractOperation, error) {
	archivePath := filepath.Join(file.Dir, file.Name)
	op := ExtractOperation{ArchivePath: archivePath}

	var opts []zipfs.Option
	if u.classicPassword != "" {
		opts = append(opts, zipfs.WithPassword(u.classicPassword))
	}

	a, err := zipfs.OpenPath(archivePath, opts...)
	if err != nil {
		op.Error = fmt.Errorf("failed to open archive %s: %w", archivePath, err)
		return op, op.Error
	}
	defer func() {
		_ = a.Close()
	}()

	entries, err := collectEntries(a)
	if err != nil {
		op.Error = err
		return op, op.Error
	}

	if err := validateCompressionMethods(entries); err != nil {
		op.Error = err
		return op, op.Error
	}

	for _, info := range entries {
		if info.Broken {
			op.SkippedEntries++
			op.EntryErrors = append(op.EntryErrors, fmt.Sprintf("%s: broken entry", info.Path))
			continue
		}

		targetPath, pathErr := resolveArchiveEntryPath(file.Dir, info.Path, u.validator)
		if pathErr != nil {
			op.Error = fmt.Errorf("illegal entry path %q: %w", info.Path, pathErr)
			return op, op.Error
		}

		if info.IsDir {
			if write {
				if mkErr := os.MkdirAll(targetPath, 0o755); mkErr != nil {
					op.Error = fmt.Errorf("failed to create directory %s: %w", targetPath, mkErr)
					return op, op.Error
				}
			}
			op.ExtractedDirs++
			continue
		}

		if write {
			parentDir := filepath.Dir(targetPath)
			if mkErr := os.MkdirAll(parentDir, 0o755); mkErr != nil {
				op.Error = fmt.Errorf("failed to create parent directory %s: %w", parentDir, mkErr)
				return op, op.Error
			}
			if writeErr := extractEntry(a, info, targetPath); writeErr != nil {
				op.Error = fmt.Errorf("failed to extract %s: %w", info.Path, writeErr)
				return op, op.Error
			}
		}
		op.ExtractedFiles++

		if write && isArchive(targetPath) {
			op.NestedArchives++
		}
	}

	op.ExtractionComplete = true
	return op, nil
}

// collectEntries walks the full archive tree breadth-first via Enumerate,
// returning every entry (files, directories, and symlinks) in traversal
// order. Enumerate reports a symlink as the link entry itself, unresolved;
// extraction opens it with OpenRead, which follows the link, so a symlink
// to a file is written at its own archive path with its target's content.
// A symlink to a directory is not descended into.
func collectEntries(a *zipfs.Archive) ([]zipfs.Info, error) {
	var out []zipfs.Info
	queue := []string{""}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		children, err := a.Enumerate(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to list %q: %w", dir, err)
		}
		for _, info := range children {
			out = append(out, info)
			if info.IsDir {
				queue = append(queue, info.Path)
			}
		}
	}
	return out, nil
}

// extractEntry writes one archive entry's decompressed, decrypted content to
// targetPath, verifying it against the CRC-32 recorded in the central
// directory as it streams rather than buffering the whole file in memory.
// Extraction is limited to [maxDecompressedSize] bytes to prevent
// decompression bombs.
func extractEntry(a *zipfs.Archive, info zipfs.Info, targetPath string) error {
	rs, err := a.OpenRead(info.Path)
	if err != nil {
		return fmt.Errorf("failed to open entry: %w", err)
	}
	defer func() {
		_ = rs.Close()
	}()

	outFile, err := os.OpenFile(targetPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	checksum := crc32.NewIEEE()
	written, err := io.Copy(io.MultiWriter(outFile, checksum), io.LimitReader(rs, maxDecompressedSize))
	if err != nil {
		_ = outFile.Close()
		return fmt.Errorf("failed to write file content: %w", err)
	}
	if err := outFile.Close(); err != nil {
		return err
	}

	if uint64(written) == info.UncompressedSize && checksum.Sum32() != info.CRC32 {
		return fmt.Errorf("%w: %s", errCRCMismatch, info.Path)
	}

	return nil
}

// validateCompressionMethods checks that every non-directory entry uses a
// supported compression method (Stored or Deflate). It returns an error
// wrapping [errUnsupportedMethod] for the first entry that uses an
// unsupported method, or nil if all entries are compatible.
func validateCompressionMethods(entries []zipfs.Info) error {
	for _, info := range entries {
		if info.IsDir || info.Broken {
			continue
		}
		if info.Method == "stored" || info.Method == "deflate" {
			continue
		}
		return fmt.Errorf("entry %q uses %s: %w", info.Path, info.Method, errUnsupportedMethod)
	}
	return nil
}

// isArchive reports whether filePath is a valid zip archive by attempting to
// open it with zipfs. Returns true if the file can be opened as a zip
// archive, false if it cannot (e.g., not a zip file, corrupted, or
// unreadable); the open error is only logged at debug level.
func isArchive(filePath string) bool {
	a, err := zipfs.OpenPath(filePath)
	if err != nil {
		slog.Debug("skipped a file", "path", filePath, "error", err)
		return false
	}
	_ = a.Close()

	return true
}

// getAllFilesRecursively collects all files under rootDir.
// It returns a slice of FileInfo for every regular file found.
func getAllFilesRecursively(rootDir string) ([]collector.FileInfo, error) {
	c := collector.New(collector.Options{})

	files, err := c.Collect(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to collect files: %w", err)
	}

	return files, nil
}
