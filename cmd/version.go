package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kmsflip/kmsflip/internal/logger"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		logger.Infof("kmsflip %s", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
