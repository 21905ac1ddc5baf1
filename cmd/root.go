package main

import (
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	dryRun   bool
	verbose  bool
	password string
)

func buildRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "btidy",
		Version: version,
		Short:   "Read, inspect, and extract zip archives without trusting their contents",
		Long: `btidy opens zip archives read-only and never trusts what is inside them:
entries are indexed once up front, symlinks are resolved and cycle-checked
before any content is streamed, and extraction paths are validated against
their destination directory before a single byte is written.

Commands:
  list     Lists the entries under a directory inside an archive
  stat     Prints metadata for a single archive entry
  cat      Streams one entry's decompressed, decrypted content to stdout
  extract  Extracts an archive's contents into a destination directory
  unzip    Recursively extracts every archive under a directory tree,
           including archives nested inside other archives, removing
           each source archive once it has been fully extracted

Safety:
  Extraction paths are validated to stay within their destination root.
  Archive entries using an unrecognized compression method are skipped,
  not half-extracted.
  Advisory file locking prevents two btidy processes from extracting
  into the same directory at once.

Compression:
  ZIP methods store (0) and deflate (8) are supported. Deflate64 (method
  9) and any other method are reported but skipped rather than guessed at.

Encryption:
  Traditional PKWARE and WinZip AES encrypted entries are supported. Pass
  --password for an archive-wide password, or suffix an individual entry
  path with "$password" to supply one just for that lookup.`,
	}

	cmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without making changes")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	cmd.PersistentFlags().StringVar(&password, "password", "", "Password for encrypted archive entries")

	return cmd
}
