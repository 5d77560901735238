package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentgrid-dev/agentgrid"
)

// Version information (set via ldflags)
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "agentgrid",
		Short: "Agent network coordinator",
		Long:  "agentgrid runs a network of message-passing agents with capability discovery.",
	}

	var configFile string
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run an agent network from a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Printf("Starting agentgrid v%s (config: %s)", Version, configFile)
			return agentgrid.Run(configFile)
		},
	}
	runCmd.Flags().StringVarP(&configFile, "config", "c", getEnv("CONFIG_FILE", "config/network.yaml"), "network configuration file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agentgrid v%s\n", Version)
		},
	}

	root.AddCommand(runCmd, versionCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
