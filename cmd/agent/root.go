package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var settingsPath string

// Execute is the entry point for the CLI.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCmd wires the cobra tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "device-agent",
		Short:         "LLM-driven phone automation agent",
		Long:          "Runs natural-language tasks against Android, HarmonyOS or iOS devices,\nletting a vision model decide each step.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&settingsPath, "settings", "", "Path to a YAML settings file")

	root.AddCommand(
		newRunCmd(),
		newDevicesCmd(),
	)
	return root
}
