package main

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"zipaccess/pkg/filelock"
	"zipaccess/pkg/safepath"
	"zipaccess/pkg/zipfs"
)

func buildExtractCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <archive.zip> <dest-dir>",
		Short: "Extract an archive's contents into a destination directory",
		Long: `Extracts every entry of archive.zip into dest-dir, creating it if it does
not already exist. Unlike "unzip", this extracts exactly one archive,
does not look for nested archives inside it, and never removes the
source archive.

An advisory lock on dest-dir prevents two btidy extract invocations from
writing into the same destination concurrently; a conflicting process
gets an immediate error rather than interleaved writes.

Every target path is validated against dest-dir before anything is
written, and each file's content is checked against the CRC-32 recorded
in the archive as it streams to disk.

Examples:
  btidy extract photos.zip ./out
  btidy extract --dry-run photos.zip ./out`,
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return runExtract(args[0], args[1])
		},
	}
	return cmd
}

func runExtract(archivePath, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	validator, err := safepath.New(destDir)
	if err != nil {
		return fmt.Errorf("failed to create path validator: %w", err)
	}

	lockPath := filepath.Join(destDir, ".btidy-extract.lock")
	lock, err := filelock.Acquire(lockPath)
	if err != nil {
		return fmt.Errorf("another extraction is already in progress in %s: %w", destDir, err)
	}
	defer lock.Close()

	a, err := openArchive(archivePath)
	if err != nil {
		return err
	}
	defer a.Close()

	printDryRunBanner()
	printCommandHeader("EXTRACT", destDir)

	entries, err := walkArchiveTree(a)
	if err != nil {
		return err
	}

	var files, dirs, skipped int
	for _, info := range entries {
		if info.Broken {
			skipped++
			if verbose {
				fmt.Printf("SKIP: %s (broken entry)\n", info.Path)
			}
			continue
		}

		targetPath, err := resolveExtractPath(destDir, info.Path, validator)
		if err != nil {
			return fmt.Errorf("illegal entry path %q: %w", info.Path, err)
		}

		if info.IsDir {
			dirs++
			if !dryRun {
				if err := os.MkdirAll(targetPath, 0o755); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", targetPath, err)
				}
			}
			continue
		}

		if info.Method != "stored" && info.Method != "deflate" {
			skipped++
			fmt.Printf("SKIP: %s (%s)\n", info.Path, info.Method)
			continue
		}

		if !dryRun {
			if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
				return fmt.Errorf("failed to create parent directory: %w", err)
			}
			if err := extractOne(a, info, targetPath); err != nil {
				return fmt.Errorf("failed to extract %s: %w", info.Path, err)
			}
		}
		files++
		if verbose {
			fmt.Printf("EXTRACT: %s\n", info.Path)
		}
	}

	printSummary(
		fmt.Sprintf("Files extracted: %d", files),
		fmt.Sprintf("Dir entries:     %d", dirs),
		fmt.Sprintf("Skipped:         %d", skipped),
	)
	printDryRunHint()

	return nil
}

// walkArchiveTree mirrors pkg/unzipper's breadth-first Enumerate walk.
// Symlinks surface as ordinary, non-directory entries here; extractOne
// opens them through Archive.OpenRead, which dereferences the link and
// writes its target's content to the symlink's own path.
func walkArchiveTree(a *zipfs.Archive) ([]zipfs.Info, error) {
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

func resolveExtractPath(destDir, entryPath string, validator *safepath.Validator) (string, error) {
	targetPath := filepath.Join(destDir, filepath.FromSlash(entryPath))
	if err := validator.ValidatePathForWrite(targetPath); err != nil {
		return "", err
	}
	return targetPath, nil
}

func extractOne(a *zipfs.Archive, info zipfs.Info, targetPath string) error {
	rs, err := a.OpenRead(info.Path)
	if err != nil {
		return fmt.Errorf("failed to open entry: %w", err)
	}
	defer rs.Close()

	outFile, err := os.OpenFile(targetPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	checksum := crc32.NewIEEE()
	written, err := io.Copy(io.MultiWriter(outFile, checksum), rs)
	if err != nil {
		_ = outFile.Close()
		return fmt.Errorf("failed to write file content: %w", err)
	}
	if err := outFile.Close(); err != nil {
		return err
	}

	if uint64(written) == info.UncompressedSize && checksum.Sum32() != info.CRC32 {
		return fmt.Errorf("crc-32 mismatch for %s", info.Path)
	}
	return nil
}
