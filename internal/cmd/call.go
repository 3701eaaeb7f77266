package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newCallCmd() *cobra.Command {
	call := &cobra.Command{
		Use:   "call",
		Short: "Control the active call",
	}
	call.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start a call with the agent",
		RunE:  runCallStart,
	})
	call.AddCommand(&cobra.Command{
		Use:   "end",
		Short: "End the active call",
		RunE:  runCallEnd,
	})
	return call
}

func runCallStart(cmd *cobra.Command, args []string) error {
	client, err := dialIPC(cmd)
	if err != nil {
		return fmt.Errorf("agent not reachable: %w", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.StartCall(); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(os.Stdout, "Call starting.")
	return nil
}

func runCallEnd(cmd *cobra.Command, args []string) error {
	client, err := dialIPC(cmd)
	if err != nil {
		return fmt.Errorf("agent not reachable: %w", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.EndCall(); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(os.Stdout, "Call ending.")
	return nil
}
