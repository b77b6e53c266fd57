package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const ninepdVersion = "0.1.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "ninepd",
	Short:         "9P2000 file server daemon",
	Long:          `ninepd serves an in-memory filesystem over the 9P2000 protocol on TCP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the ninepd version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "ninepd version %s\n", ninepdVersion)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to config file (yaml)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}
