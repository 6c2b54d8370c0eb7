package cmd

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/kmsflip/kmsflip/internal/config"
	"github.com/kmsflip/kmsflip/internal/ui"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactively write the kmsflip configuration",
	Long: `Walk through the device settings and write them to the config file.

kmsflip does not enumerate the device; find the connector, CRTC and
plane ids with a tool like modetest or drm_info and enter them here.`,
	RunE: runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	device := cfg.Device.Path
	connector := formatID(cfg.Device.ConnectorID)
	crtc := formatID(cfg.Device.CrtcID)
	plane := formatID(cfg.Device.PlaneID)
	mode := cfg.Display.Mode
	save := true

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("DRM device").
				Description("Card node to open").
				Value(&device),
			huh.NewInput().
				Title("Connector id").
				Validate(validateID).
				Value(&connector),
			huh.NewInput().
				Title("CRTC id").
				Validate(validateID).
				Value(&crtc),
			huh.NewInput().
				Title("Plane id").
				Validate(validateID).
				Value(&plane),
			huh.NewInput().
				Title("Mode").
				Description("WIDTHxHEIGHT[@REFRESH], empty for the preferred mode").
				Value(&mode),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Write configuration to %s?", config.GetConfigPath())).
				Value(&save),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("setup aborted: %w", err)
	}
	if !save {
		fmt.Println(ui.SubtleStyle.Render("Nothing written"))
		return nil
	}

	deviceCfg := config.DeviceConfig{
		Path:        device,
		ConnectorID: parseID(connector),
		CrtcID:      parseID(crtc),
		PlaneID:     parseID(plane),
	}
	if err := config.UpdateDevice(deviceCfg); err != nil {
		return err
	}
	displayCfg := cfg.Display
	displayCfg.Mode = mode
	if err := config.UpdateDisplay(displayCfg); err != nil {
		return err
	}

	fmt.Println(ui.SuccessStyle.Render("✓ Configuration written to " + config.GetConfigPath()))
	return nil
}

func formatID(id uint32) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatUint(uint64(id), 10)
}

func parseID(s string) uint32 {
	v, _ := strconv.ParseUint(s, 10, 32)
	return uint32(v)
}

func validateID(s string) error {
	if s == "" {
		return fmt.Errorf("required")
	}
	if _, err := strconv.ParseUint(s, 10, 32); err != nil {
		return fmt.Errorf("must be a numeric object id")
	}
	return nil
}
