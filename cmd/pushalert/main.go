// Command pushalert runs the rule-driven push notification dispatcher.
//
// Usage:
//
//	pushalert run --config ./config.yaml
//	pushalert tick --at 2024-01-01T09:02:00+07:00 --dry-run
//	pushalert migrate --seed
//	pushalert rules
//	pushalert rules set low_sessions --label "Low sessions" --days 1,3,5 --time 09:00
//	pushalert tokens add <token>...
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// Values in .env feed ${VAR} references in the config file.
	_ = godotenv.Load(".env")

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "pushalert",
		Short:         "Rule-driven push notification dispatcher",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")

	root.AddCommand(runCmd(&cfgPath))
	root.AddCommand(tickCmd(&cfgPath))
	root.AddCommand(migrateCmd(&cfgPath))
	root.AddCommand(rulesCmd(&cfgPath))
	root.AddCommand(tokensCmd(&cfgPath))
	return root
}
