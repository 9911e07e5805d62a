package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "bridge",
		Short:         "Keeps wallet membership cards in step with booking orders",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a JSON or YAML config file")

	rootCmd.AddCommand(serveCmd(&configFile))
	rootCmd.AddCommand(enrollCmd(&configFile))
	rootCmd.AddCommand(cancelCmd(&configFile))
	rootCmd.AddCommand(webhooksCmd(&configFile))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
