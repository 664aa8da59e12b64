package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/sdcmon/discovery"
	"github.com/srg/sdcmon/internal/device"
	"github.com/srg/sdcmon/orchestrator"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Search for SDC devices",
	Long: `Search for SDC medical devices and list them.

The search probes for DPWS devices and medical devices and reports every
device that answers before the timeout, with its name, address and location.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanTimeout time.Duration
	scanFormat  string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanTimeout, "timeout", "t", 0, "Search timeout (default from config, 10s)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	timeout := cfg.Discovery.SearchTimeout
	if scanTimeout > 0 {
		timeout = scanTimeout
	}

	network := newNetwork(cfg, logger)
	orch := orchestrator.New(discovery.New(network, discoveryOptions(cfg), logger), network, orchestrator.Callbacks{}, nil, logger)
	if err := orch.Start(); err != nil {
		return err
	}
	defer func() { _ = orch.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	var records []device.DeviceRecord
	func() {
		progress := NewProgressPrinter(out, "Searching for SDC devices", timeout)
		if scanFormat == "table" && isTerminal(out) {
			progress.Start()
		}
		defer progress.Stop()
		records, err = orch.Search(ctx, timeout)
	}()
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return context.Canceled
	}

	if scanFormat == "json" {
		return displayDevicesJSON(out, records)
	}
	return displayDevicesTable(out, records)
}

func displayDevicesTable(out io.Writer, records []device.DeviceRecord) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tID\tADDRESS\tLOCATION")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, r := range records {
		name := r.DisplayName()
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		location := "-"
		if !r.Location.IsEmpty() {
			location = r.Location.String()
		}
		address := r.NetworkAddress
		if address == "" {
			address = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, r.ShortID(), address, location)
	}

	return w.Flush()
}

func displayDevicesJSON(out io.Writer, records []device.DeviceRecord) error {
	if records == nil {
		records = []device.DeviceRecord{}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(records)
}
