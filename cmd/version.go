package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "unreleased"

// versionCmd represents the version command.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display spvheaders version",
	Long:  `Display spvheaders version.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("spvheaders version", Version)
	},
}
