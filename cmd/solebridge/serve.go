package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/solebridge/internal/bridge"
	"github.com/srg/solebridge/internal/control"
	"github.com/srg/solebridge/internal/device"
	goble "github.com/srg/solebridge/internal/device/go-ble"
	"github.com/srg/solebridge/internal/groutine"
	"github.com/srg/solebridge/internal/hub"
	"github.com/srg/solebridge/internal/server"
	"github.com/srg/solebridge/pkg/config"
)

// newRadio creates the BLE adapter. Tests replace it with a fake.
var newRadio = func(logger *logrus.Logger) device.Adapter {
	return goble.NewAdapter(logger)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge",
	Long: `Scans for the left and right insoles, keeps both connected and streams their
readings to websocket viewers at /ws. GET /api/status reports both slots and
their frame counters.

Examples:
  solebridge serve
  solebridge serve --port 8080 --static-dir ./dashboard
  solebridge serve --wire-format ascii --left-name Sole_L --right-name Sole_R`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	addSensorFlags(serveCmd)
	serveCmd.Flags().String("host", "", "Interface to listen on (empty means all)")
	serveCmd.Flags().IntP("port", "p", 3000, "Preferred port; the next free one is used when taken")
	serveCmd.Flags().String("static-dir", "", "Directory served at / (dashboard)")
	serveCmd.Flags().StringSlice("allow-origin", nil, "Extra websocket origin patterns to accept")
}

// addSensorFlags registers the flags shared by every command that talks to the insoles.
func addSensorFlags(cmd *cobra.Command) {
	cmd.Flags().String("left-name", "", "Advertised-name substring of the left insole")
	cmd.Flags().String("right-name", "", "Advertised-name substring of the right insole")
	cmd.Flags().String("service-uuid", "", "Sensor service UUID")
	cmd.Flags().String("wire-format", "", "Notification payload format (binary, ascii)")
	cmd.Flags().Int("frame-values", 0, "Values per frame (0 uses the format default)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, newRadio(logger), logger, cmd.OutOrStdout())
}

// serve runs the bridge until ctx is cancelled, then disconnects both insoles
// within cfg.ShutdownTimeout.
func serve(ctx context.Context, cfg *config.Config, radio device.Adapter, logger *logrus.Logger, out io.Writer) error {
	decoder, err := cfg.Decoder()
	if err != nil {
		return err
	}

	viewers := hub.New(hub.Options{
		QueueSize:      cfg.ViewerQueue,
		OriginPatterns: cfg.AllowedOrigins,
		CommandRate:    cfg.CommandRate,
		CommandBurst:   cfg.CommandBurst,
	}, logger)

	coord, err := bridge.New(radio, viewers, bridge.Config{
		Targets: []bridge.Target{
			{Slot: bridge.Left, Pattern: cfg.LeftName},
			{Slot: bridge.Right, Pattern: cfg.RightName},
		},
		ServiceUUID:      cfg.ServiceUUID,
		NotifyUUID:       cfg.NotifyUUID,
		WriteUUID:        cfg.WriteUUID,
		Decoder:          decoder,
		ScanRestartDelay: cfg.ScanRestartDelay,
		ConnectTimeout:   cfg.ConnectTimeout,
	}, logger)
	if err != nil {
		return err
	}
	viewers.Bind(coord, control.NewDispatcher(coord, logger))

	srv := server.New(server.Config{
		Host:         cfg.Host,
		Port:         cfg.Port,
		PortAttempts: cfg.PortAttempts,
		StaticDir:    cfg.StaticDir,
	}, viewers, coord, logger)
	if err := srv.Listen(); err != nil {
		return err
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	runErr := make(chan error, 1)
	groutine.Go(runCtx, "coordinator", func(ctx context.Context) {
		runErr <- coord.Run(ctx)
	})
	serveErr := make(chan error, 1)
	groutine.Go(runCtx, "http-server", func(context.Context) {
		serveErr <- srv.Serve()
	})

	printBanner(out, cfg, srv.Addr().String())

	var failure error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down...")
	case err := <-runErr:
		failure = fmt.Errorf("bridge stopped: %w", err)
	case err := <-serveErr:
		failure = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := coord.Shutdown(shutdownCtx); err != nil {
		logger.WithField("timeout", cfg.ShutdownTimeout).Error("Forcing exit: insoles did not disconnect in time")
		failure = errors.Join(failure, fmt.Errorf("%w: %w", ErrShutdownTimeout, err))
	}

	viewers.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err).Warn("HTTP server did not shut down cleanly")
	}
	cancelRun()
	<-coord.Done()

	return failure
}
