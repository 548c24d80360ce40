package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/solebridge/internal/bridge"
	"github.com/srg/solebridge/scanner"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List nearby peers advertising the insole service",
	Long: `Scans for peers advertising the sensor service and shows which slot each one
would be bound to by 'serve'. Useful to check advertised names before
configuring left_name and right_name.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	addSensorFlags(scanCmd)
	scanCmd.Flags().DurationP("duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().StringP("format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringSlice("allow", nil, "Only show peers with these addresses")
	scanCmd.Flags().StringSlice("block", nil, "Hide peers with these addresses")
	scanCmd.Flags().Bool("duplicates", false, "Report every advertisement instead of one per peer")
}

func runScan(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "table" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}
	duration, _ := cmd.Flags().GetDuration("duration")
	if duration <= 0 {
		return fmt.Errorf("duration must be > 0")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	s, err := scanner.NewScanner(newRadio(logger), logger)
	if err != nil {
		return fmt.Errorf("failed to create BLE scanner: %w", err)
	}

	opts := scanner.DefaultOptions(cfg.ServiceUUID)
	opts.Duration = duration
	opts.Targets = []scanner.Target{
		{Label: bridge.Left.Key(), Pattern: cfg.LeftName},
		{Label: bridge.Right.Key(), Pattern: cfg.RightName},
	}
	opts.AllowList, _ = cmd.Flags().GetStringSlice("allow")
	opts.BlockList, _ = cmd.Flags().GetStringSlice("block")
	dups, _ := cmd.Flags().GetBool("duplicates")
	opts.DuplicateFilter = !dups

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(cmd.ErrOrStderr(), "\nCtrl+C pressed, stopping scan...")
			cancel()
		case <-ctx.Done():
		}
	}()

	progress := func(string) {}
	if isTerminal(cmd.ErrOrStderr()) {
		p := NewProgressPrinter(cmd.ErrOrStderr(), "Scanning for insoles", "Waiting for Bluetooth", duration, "Processing results")
		p.Start()
		defer p.Stop()
		progress = p.Callback()
	}

	results, err := s.Scan(ctx, opts, progress)
	if err != nil {
		return err
	}

	if format == "json" {
		return writeResultsJSON(cmd.OutOrStdout(), results)
	}
	return writeResultsTable(cmd.OutOrStdout(), results)
}

func writeResultsJSON(w io.Writer, results []scanner.Result) error {
	if results == nil {
		results = []scanner.Result{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(results)
}

func writeResultsTable(w io.Writer, results []scanner.Result) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(w, "No insoles discovered")
		return err
	}

	matched := color.New(color.FgGreen)
	if !isTerminal(w) {
		matched.DisableColor()
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SLOT\tNAME\tADDRESS\tRSSI\tSEEN")
	for _, r := range results {
		slot := "-"
		if r.Match != "" {
			slot = matched.Sprint(r.Match)
		}
		name := r.Name
		if name == "" {
			name = "(unnamed)"
		}
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d dBm\t%d\n", slot, name, r.Address, r.RSSI, r.Seen)
	}
	return tw.Flush()
}
