package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kmsflip/kmsflip/internal/config"
	"github.com/kmsflip/kmsflip/internal/drm"
	"github.com/kmsflip/kmsflip/internal/drm/card"
	"github.com/kmsflip/kmsflip/internal/ui"
)

// ObjectInfo represents one object's property table in the JSON output
type ObjectInfo struct {
	Type       string   `json:"type"`
	ID         uint32   `json:"id"`
	Properties []string `json:"properties"`
}

// PropsInfo represents the props command output
type PropsInfo struct {
	Mode    string       `json:"mode"`
	Objects []ObjectInfo `json:"objects"`
	Error   string       `json:"error,omitempty"`
}

var propsJSON bool

var propsCmd = &cobra.Command{
	Use:   "props",
	Short: "Show the property tables of the configured objects",
	Long: `Fetch and display the property-name tables of the configured
connector, CRTC and plane, in the order the device enumerates them.
Useful to verify that the chain supports atomic modesetting with fences
(OUT_FENCE_PTR on the CRTC, IN_FENCE_FD on the plane).`,
	RunE: runProps,
}

func init() {
	propsCmd.Flags().BoolVar(&propsJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(propsCmd)
}

func runProps(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	sess, err := card.Open(cfg.Device.Path, card.Options{
		ConnectorID: cfg.Device.ConnectorID,
		CrtcID:      cfg.Device.CrtcID,
		PlaneID:     cfg.Device.PlaneID,
		Mode:        cfg.Display.Mode,
	})
	if err != nil {
		if propsJSON {
			return json.NewEncoder(os.Stdout).Encode(PropsInfo{Error: err.Error()})
		}
		return fmt.Errorf("initialize device session: %w", err)
	}
	defer sess.Close()

	mode := sess.Mode()
	objects := []*drm.Object{sess.Connector(), sess.Crtc(), sess.Plane()}

	if propsJSON {
		info := PropsInfo{
			Mode: fmt.Sprintf("%dx%d@%d", mode.Width, mode.Height, mode.Refresh),
		}
		for _, obj := range objects {
			oi := ObjectInfo{Type: obj.Type.String(), ID: obj.ID}
			for _, p := range obj.Props {
				oi.Properties = append(oi.Properties, p.Name)
			}
			info.Objects = append(info.Objects, oi)
		}
		return json.NewEncoder(os.Stdout).Encode(info)
	}

	fmt.Println(ui.FormatHeader(fmt.Sprintf("%s - mode %dx%d@%d", cfg.Device.Path, mode.Width, mode.Height, mode.Refresh)))
	for _, obj := range objects {
		fmt.Println(ui.SubheaderStyle.Render(fmt.Sprintf("%s %d", obj.Type, obj.ID)))
		for _, p := range obj.Props {
			fmt.Println(ui.FormatKeyValue(p.Name, p.ID))
		}
		fmt.Println()
	}
	return nil
}
