package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	settingsFile string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "practice-sync",
		Short:         "Appointment change replication and reminder delivery engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.settingsFile, "settings", "", "path to an operational settings file (yaml, json or toml)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newPollOnceCommand(opts))
	cmd.AddCommand(newRemindCommand(opts))

	return cmd
}
