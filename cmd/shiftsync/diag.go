package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kmorita/shiftsync/internal/ui"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of every storage tier",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		report := a.engine.Health(cmd.Context())

		fmt.Printf("%s Storage health\n", ui.RenderAccent("●"))
		fmt.Printf("  %s fast cache\n", ui.Check(report.FastCache))
		fmt.Printf("  %s durable store\n", ui.Check(report.DurableStore))
		fmt.Printf("  %s remote store\n", ui.Check(report.RemoteStore))
		fmt.Printf("  %d of 3 tiers healthy\n", report.SuccessCount)

		if report.SuccessCount == 0 {
			return fmt.Errorf("all storage tiers unhealthy")
		}
		return nil
	},
}

var flagWarnThreshold float64

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Report local storage usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		report, err := a.engine.Usage(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("%s Storage usage\n", ui.RenderAccent("●"))
		fmt.Printf("  total:     %d bytes (%.1f%% of %d)\n",
			report.TotalBytes, report.UsagePercent, report.CapacityBytes)
		fmt.Printf("  available: %d bytes\n", report.AvailableBytes)
		fmt.Printf("  local db:  %d bytes\n", report.LocalDBBytes)
		if report.RemoteBytes > 0 {
			fmt.Printf("  remote:    %d bytes\n", report.RemoteBytes)
		}
		for _, key := range report.PerKey {
			fmt.Printf("  %s %s: %d bytes\n", ui.RenderMuted("·"), key.Key, key.Bytes)
		}

		if msg, warn := a.engine.StorageWarning(cmd.Context(), flagWarnThreshold); warn {
			fmt.Printf("%s %s\n", ui.RenderWarn("!"), msg)
		}
		return nil
	},
}

func init() {
	usageCmd.Flags().Float64Var(&flagWarnThreshold, "warn-threshold", 70, "warn when usage exceeds this percent")
}
