package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logFormat  string
	rootCmd    = &cobra.Command{
		Use:   "wfsync",
		Short: "wfsync - dependency-aware workflow schedule simulator",
		Long: `wfsync simulates parallel execution of a workflow of tasks with dependencies.
It loads JSON, YAML, TOML or HCL workflow documents, computes a deterministic
schedule under a parallelism cap and reports makespan, efficiency and utilization.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
