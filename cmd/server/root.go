// Command server runs the ScheduleZero scheduler: the handler registry,
// schedule store, dispatcher, scheduler loop, execution log, and control
// plane adapter all live in this one process (or one per instance, when
// pointed at a shared Postgres store with the event bus enabled).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes per spec.md 6: 0 ok, 1 generic error, 2 config error, 3 store
// unavailable.
const (
	exitOK             = 0
	exitGeneric        = 1
	exitConfig         = 2
	exitStoreUnavailable = 3
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(exitGeneric)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "server",
		Short: "ScheduleZero scheduler server",
	}
	root.PersistentFlags().StringP("config", "c", "", "path to an optional YAML config file")
	root.AddCommand(newStartCmd(), newStopCmd(), newStatusCmd())
	return root
}

func exitWith(code int, format string, args ...any) {
	if format != "" {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
	os.Exit(code)
}
