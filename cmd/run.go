package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kmsflip/kmsflip/internal/config"
	"github.com/kmsflip/kmsflip/internal/drm"
	"github.com/kmsflip/kmsflip/internal/drm/card"
	"github.com/kmsflip/kmsflip/internal/fence"
	"github.com/kmsflip/kmsflip/internal/lease"
	"github.com/kmsflip/kmsflip/internal/logger"
	"github.com/kmsflip/kmsflip/internal/pipeline"
	"github.com/kmsflip/kmsflip/internal/render/dumbfb"
)

var (
	runDevice string
	runMode   string
	runFrames uint64
	runLease  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the atomic swap pipeline",
	Long: `Run the steady-state swap loop: render into a free buffer, exchange
fences with the previous commit, and submit the next atomic transaction.
With --lease a second, independent pipeline runs on its own thread over
a DRM lease of the objects listed in the [lease] config section.`,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringVar(&runDevice, "device", "", "DRM device path (overrides config)")
	runCmd.Flags().StringVar(&runMode, "mode", "", "Display mode as WIDTHxHEIGHT[@REFRESH] (overrides config)")
	runCmd.Flags().Uint64Var(&runFrames, "frames", 0, "Stop after N frames (0 = run until interrupted)")
	runCmd.Flags().BoolVar(&runLease, "lease", false, "Also run a leased pipeline on a second connector/CRTC/plane")
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	device := cfg.Device.Path
	if runDevice != "" {
		device = runDevice
	}
	mode := cfg.Display.Mode
	if runMode != "" {
		mode = runMode
	}
	frames := cfg.Display.FrameLimit
	if runFrames != 0 {
		frames = runFrames
	}

	sess, err := card.Open(device, card.Options{
		ConnectorID: cfg.Device.ConnectorID,
		CrtcID:      cfg.Device.CrtcID,
		PlaneID:     cfg.Device.PlaneID,
		Mode:        mode,
	})
	if err != nil {
		return fmt.Errorf("initialize device session: %w", err)
	}
	defer sess.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	primary, cleanup, err := buildStack(sess, "primary", frames, cfg.Display.BufferCount)
	if err != nil {
		return err
	}
	defer cleanup()

	if !runLease {
		return primary.Run(ctx)
	}

	lcfg := cfg.Lease
	if lcfg.ConnectorID == 0 || lcfg.CrtcID == 0 || lcfg.PlaneID == 0 {
		return fmt.Errorf("--lease requires lease.connector_id, lease.crtc_id and lease.plane_id in the config")
	}

	coord := lease.New(sess,
		[]uint32{lcfg.ConnectorID, lcfg.CrtcID, lcfg.PlaneID},
		func(lesseeID uint32, fd int) (*pipeline.Pipeline, func(), error) {
			leased, err := card.FromFD(fd, card.Options{
				ConnectorID: lcfg.ConnectorID,
				CrtcID:      lcfg.CrtcID,
				PlaneID:     lcfg.PlaneID,
			})
			if err != nil {
				return nil, nil, err
			}
			pl, cleanupStack, err := buildStack(leased, fmt.Sprintf("lessee-%d", lesseeID), frames, cfg.Display.BufferCount)
			if err != nil {
				_ = leased.Close()
				return nil, nil, err
			}
			return pl, func() {
				cleanupStack()
				if err := leased.Close(); err != nil {
					logger.Warnf("close leased session: %v", err)
				}
			}, nil
		})

	return coord.RunDual(ctx, primary)
}

// buildStack assembles the builder, buffer pool, fence broker and
// pipeline for one session.
func buildStack(sess *card.Session, name string, frames uint64, bufferCount int) (*pipeline.Pipeline, func(), error) {
	builder := drm.NewBuilder(sess)
	mode := sess.Mode()

	pool, err := dumbfb.NewPool(sess.FD(), uint32(mode.Width), uint32(mode.Height), bufferCount)
	if err != nil {
		_ = builder.Close()
		return nil, nil, fmt.Errorf("create buffer pool: %w", err)
	}

	pl := pipeline.New(builder, pool, pool, fence.NewSyncFileBroker(),
		pipeline.WithName(name),
		pipeline.WithFrameLimit(frames),
	)
	cleanup := func() {
		if err := builder.Close(); err != nil {
			logger.Warnf("close builder: %v", err)
		}
		if err := pool.Close(); err != nil {
			logger.Warnf("close buffer pool: %v", err)
		}
	}
	return pl, cleanup, nil
}
