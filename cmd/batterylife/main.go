package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"fit-telemetry/battery"
)

func main() {
	flags := pflag.NewFlagSet(filepath.Base(os.Args[0]), pflag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s /path/to/records/csv/folder\n", filepath.Base(os.Args[0]))
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if flags.NArg() != 1 {
		flags.Usage()
		os.Exit(2)
	}

	dir := flags.Arg(0)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		fmt.Fprintf(os.Stderr, "Error: path %q is not a directory\n", dir)
		os.Exit(2)
	}

	report, err := battery.Analyze(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "battery analysis failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("--- Battery Analysis Results for %q ---\n", filepath.Base(dir))
	fmt.Printf("Files read:            %d (%d data points)\n", report.Files, report.Points)
	fmt.Printf("Discharge slope:       %.3f %%/hour\n", report.SlopePerHour)
	fmt.Printf("Predicted battery life (from start of measurements): %.2f hours\n", report.PredictedHours)
	fmt.Printf("Root Mean Squared Error (RMSE): %.2f\n", report.RMSE)
}
