package main

import "os"

func main() {
	rootCmd := buildRootCommand()
	rootCmd.AddCommand(buildListCommand())
	rootCmd.AddCommand(buildStatCommand())
	rootCmd.AddCommand(buildCatCommand())
	rootCmd.AddCommand(buildExtractCommand())
	rootCmd.AddCommand(buildUnzipCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
