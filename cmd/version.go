package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/viizet/svg2tgs/svg2tgs"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf(
			"version=%s commit=%s built: %s",
			svg2tgs.Version,
			svg2tgs.CommitSHA,
			svg2tgs.BuildTime,
		)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(versionCmd)
}
