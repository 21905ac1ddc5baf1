package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func buildCatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <archive.zip> <entry-path>",
		Short: "Stream one entry's decompressed, decrypted content to stdout",
		Long: `Resolves entry-path within archive.zip and copies its decompressed,
decrypted content to stdout. Directories cannot be cat'd.

The entry is streamed rather than buffered, so this works for entries
larger than available memory. Use "stat" first if you only need the
CRC-32 or size without reading the content.

Examples:
  btidy cat photos.zip 2019/vacation/notes.txt
  btidy cat --password hunter2 secrets.zip secret.txt`,
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return runCat(args[0], args[1])
		},
	}
}

func runCat(archivePath, entryPath string) error {
	a, err := openArchive(archivePath)
	if err != nil {
		return err
	}
	defer a.Close()

	rs, err := a.OpenRead(entryPath)
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", entryPath, err)
	}
	defer rs.Close()

	if _, err := io.Copy(os.Stdout, rs); err != nil {
		return fmt.Errorf("failed to read %q: %w", entryPath, err)
	}
	return nil
}
