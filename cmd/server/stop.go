package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
)

func newStopCmd() *cobra.Command {
	var pidfile string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Signal a running server instance to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			if pidfile == "" {
				pidfile = defaultPidfilePath()
			}
			pid, err := readPidfile(pidfile)
			if err != nil {
				exitWith(exitGeneric, "stop: %v", err)
				return nil
			}
			proc, err := os.FindProcess(pid)
			if err != nil {
				exitWith(exitGeneric, "stop: find process %d: %v", pid, err)
				return nil
			}
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				exitWith(exitGeneric, "stop: signal process %d: %v", pid, err)
				return nil
			}
			fmt.Printf("sent SIGTERM to pid %d\n", pid)
			return nil
		},
	}
	cmd.Flags().StringVar(&pidfile, "pidfile", "", "path to the server's pidfile (default schedulezero.pid)")
	return cmd
}
