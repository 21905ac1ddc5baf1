package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"zipaccess/pkg/zipfs"
)

func buildListCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "list <archive.zip>",
		Short: "List the entries under a directory inside an archive",
		Long: `Opens archive read-only, resolves the directory named by --dir (the
archive root by default), and prints each of its immediate children in
name order, one per line: type, uncompressed size, compression method,
and path.

A directory's contents are listed non-recursively; list a subdirectory's
own path with --dir to descend into it.

Examples:
  btidy list photos.zip
  btidy list photos.zip --dir 2019/vacation`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runList(args[0], dir)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Directory within the archive to list (default: root)")
	return cmd
}

func runList(archivePath, dir string) error {
	a, err := openArchive(archivePath)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.Enumerate(dir)
	if err != nil {
		return fmt.Errorf("failed to list %q: %w", dir, err)
	}

	for _, info := range entries {
		fmt.Println(formatEntryLine(info))
	}
	if verbose {
		fmt.Printf("%d entries\n", len(entries))
	}
	return nil
}

func formatEntryLine(info zipfs.Info) string {
	kind := "-"
	switch {
	case info.Broken:
		kind = "!"
	case info.IsDir:
		kind = "d"
	case info.IsSymlink:
		kind = "l"
	}
	return fmt.Sprintf("%s %10d  %-10s %s", kind, info.UncompressedSize, info.Method, info.Path)
}

func openArchive(archivePath string) (*zipfs.Archive, error) {
	var opts []zipfs.Option
	if password != "" {
		opts = append(opts, zipfs.WithPassword(password))
	}
	a, err := zipfs.OpenPath(archivePath, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", archivePath, err)
	}
	return a, nil
}
