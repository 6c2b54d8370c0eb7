package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kmsflip/kmsflip/internal/config"
	"github.com/kmsflip/kmsflip/internal/logger"
)

var (
	// Version is set during build
	Version = "0.1.0-dev"

	configPath string

	rootCmd = &cobra.Command{
		Use:   "kmsflip",
		Short: "kmsflip - atomic KMS display pipeline",
		Long: `kmsflip drives a single connector/CRTC/plane chain with atomic
modesetting and explicit fences. Configuration changes are submitted as
indivisible transactions, and buffers rotate through a fixed pool so a
frame is never overwritten while still on screen.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				config.SetConfigPath(configPath)
			}
			if err := config.Init(); err != nil {
				return err
			}
			if lvl := config.Get().Logging.LogLevel; lvl != "" {
				logger.SetLevel(lvl)
			}
			return nil
		},
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
}

// Exit with error message
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
