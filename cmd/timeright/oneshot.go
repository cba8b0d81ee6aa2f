package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/randytsao24/timeright/internal/decision"
	"github.com/randytsao24/timeright/internal/models"
	"github.com/randytsao24/timeright/internal/power"
)

func newDecideCmd() *cobra.Command {
	var (
		distance, eta, speed float64
		signals              []float64
		asJSON               bool
	)
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Decide whether to walk or run for a vehicle",
		Example: `  timeright decide --distance 200 --eta 300
  timeright decide --distance 200 --eta 300 --signals 30,45`,
		RunE: func(cmd *cobra.Command, args []string) error {
			waits := signals
			if !cmd.Flags().Changed("signals") {
				waits = decision.DefaultSignals.Estimate(distance)
			}
			d := decision.New(speed).Decide(distance, eta, waits)
			return printDecision(cmd.OutOrStdout(), d, asJSON)
		},
	}
	cmd.Flags().Float64Var(&distance, "distance", 0, "Meters to the stop")
	cmd.Flags().Float64Var(&eta, "eta", 0, "Seconds until the vehicle arrives")
	cmd.Flags().Float64Var(&speed, "speed", decision.DefaultWalkSpeed, "Walking speed in m/s")
	cmd.Flags().Float64SliceVar(&signals, "signals", nil, "Expected traffic signal waits in seconds (default: estimated from distance)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	_ = cmd.MarkFlagRequired("eta")
	return cmd
}

func newTransferCmd() *cobra.Command {
	var (
		platform, eta, speed float64
		crowd                string
		asJSON               bool
	)
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Decide whether a transfer can be made",
		RunE: func(cmd *cobra.Command, args []string) error {
			d := decision.New(speed).DecideTransfer(platform, eta, models.ParseCongestion(crowd))
			return printDecision(cmd.OutOrStdout(), d, asJSON)
		},
	}
	cmd.Flags().Float64Var(&platform, "platform", 0, "Meters to the transfer platform")
	cmd.Flags().Float64Var(&eta, "eta", 0, "Seconds until the connecting vehicle arrives")
	cmd.Flags().Float64Var(&speed, "speed", decision.DefaultWalkSpeed, "Walking speed in m/s")
	cmd.Flags().StringVar(&crowd, "crowd", "", "Crowding: low, medium or high")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	_ = cmd.MarkFlagRequired("eta")
	return cmd
}

func newProfileCmd() *cobra.Command {
	var state power.State
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the location sampling profile for a power state",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := map[string]any{
				"profile":    power.Select(state),
				"sufficient": power.Sufficient(state),
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().BoolVar(&state.Charging, "charging", false, "Device is charging")
	cmd.Flags().BoolVar(&state.Full, "full", false, "Battery is full")
	cmd.Flags().BoolVar(&state.LowPowerMode, "low-power", false, "OS low power mode is on")
	cmd.Flags().Float64Var(&state.BatteryFraction, "battery", 1, "Battery level between 0 and 1")
	return cmd
}

func printDecision(w io.Writer, d decision.Decision, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}
	_, err := fmt.Fprintf(w, "%s [%s] %s\n%s\n", d.Action, d.Urgency, d.Headline, d.Detail)
	return err
}
