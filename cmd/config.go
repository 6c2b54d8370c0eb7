package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kmsflip/kmsflip/internal/config"
	"github.com/kmsflip/kmsflip/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()

		fmt.Println(ui.FormatHeader("kmsflip configuration"))
		fmt.Println(ui.SubtleStyle.Render("File: " + config.GetConfigPath()))
		fmt.Println()

		fmt.Println(ui.SubheaderStyle.Render("Device"))
		fmt.Println(ui.FormatKeyValue("path", cfg.Device.Path))
		fmt.Println(ui.FormatKeyValue("connector_id", cfg.Device.ConnectorID))
		fmt.Println(ui.FormatKeyValue("crtc_id", cfg.Device.CrtcID))
		fmt.Println(ui.FormatKeyValue("plane_id", cfg.Device.PlaneID))
		fmt.Println()

		fmt.Println(ui.SubheaderStyle.Render("Display"))
		mode := cfg.Display.Mode
		if mode == "" {
			mode = "(preferred)"
		}
		fmt.Println(ui.FormatKeyValue("mode", mode))
		fmt.Println(ui.FormatKeyValue("buffer_count", cfg.Display.BufferCount))
		fmt.Println(ui.FormatKeyValue("frame_limit", cfg.Display.FrameLimit))
		fmt.Println()

		fmt.Println(ui.SubheaderStyle.Render("Lease"))
		fmt.Println(ui.FormatKeyValue("connector_id", cfg.Lease.ConnectorID))
		fmt.Println(ui.FormatKeyValue("crtc_id", cfg.Lease.CrtcID))
		fmt.Println(ui.FormatKeyValue("plane_id", cfg.Lease.PlaneID))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
