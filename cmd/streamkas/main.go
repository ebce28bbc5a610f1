package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "streamkas",
	Short: "Stream KAS payments in ticks",
	Long: `streamkas splits a lump-sum Kaspa payment into small transfers sent at a fixed
interval until the total is paid.

Streams move pending -> active -> completed; active streams can be paused,
resumed or cancelled, and a failed transfer halts the stream in the error state
until it is resumed. State is written to the configured storage after every
change, and streams that were active when the process stopped come back paused.

Only one process may own the storage at a time: do not run offline commands
(create, cancel) while "streamkas run" is active.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STREAMKAS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "./streamkas.yaml", "config file (json or yaml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("demo", false, "use the demo wallet (no funds move)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("demo", rootCmd.PersistentFlags().Lookup("demo"))
}

func registerCommands() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(createCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(auditCmd())
}
