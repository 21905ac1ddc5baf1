package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"zipaccess/pkg/zipfs"
)

func buildStatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <archive.zip> <entry-path>",
		Short: "Print metadata for a single archive entry",
		Long: `Reports entry-path's own metadata within archive.zip: a symlink is
reported as a symlink with size 0, not followed to its target (use "cat"
to read through a symlink). Intermediate path components are still
followed through any symlinks they name.

If the archive contains traditionally-encrypted members and entry-path
does not resolve on its own, a trailing "$password" suffix on entry-path
is tried as a per-entry password before reporting not-found.

Examples:
  btidy stat photos.zip 2019/vacation/beach.jpg
  btidy stat secrets.zip secret.txt$hunter2`,
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return runStat(args[0], args[1])
		},
	}
}

func runStat(archivePath, entryPath string) error {
	a, err := openArchive(archivePath)
	if err != nil {
		return err
	}
	defer a.Close()

	info, err := a.Stat(entryPath)
	if err != nil {
		return fmt.Errorf("failed to stat %q: %w", entryPath, err)
	}

	fmt.Printf("Path:       %s\n", info.Path)
	fmt.Printf("Kind:       %s\n", entryKind(info))
	fmt.Printf("Method:     %s\n", info.Method)
	fmt.Printf("Size:       %d\n", info.UncompressedSize)
	fmt.Printf("Compressed: %d\n", info.CompressedSize)
	fmt.Printf("ModTime:    %s\n", time.Unix(info.ModTime, 0).UTC().Format(time.RFC3339))
	fmt.Printf("CRC-32:     %08x\n", info.CRC32)
	return nil
}

func entryKind(info zipfs.Info) string {
	switch {
	case info.Broken:
		return "broken"
	case info.IsDir:
		return "directory"
	case info.IsSymlink:
		return "symlink"
	default:
		return "file"
	}
}
