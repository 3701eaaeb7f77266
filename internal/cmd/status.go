package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/voxline-ai/voxline/internal/ipc"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show agent status and remaining talk time",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	status, err := queryIPCStatus(cmd)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stdout, "Status:    stopped (agent not reachable)")
		return nil
	}

	balance := "checking…"
	if status.BalanceKnown {
		balance = fmt.Sprintf("%s (%s)", status.RemainingDisplay, status.PlanTier)
	}

	_, _ = fmt.Fprintf(os.Stdout, "Status:    running\n")
	_, _ = fmt.Fprintf(os.Stdout, "User:      %s\n", status.UserID)
	_, _ = fmt.Fprintf(os.Stdout, "Call:      %s\n", status.Phase)
	if status.Phase == "active" {
		_, _ = fmt.Fprintf(os.Stdout, "Elapsed:   %ds\n", status.ElapsedSeconds)
	}
	_, _ = fmt.Fprintf(os.Stdout, "Time left: %s\n", balance)
	_, _ = fmt.Fprintf(os.Stdout, "Uptime:    %s\n", status.Uptime)
	return nil
}

func dialIPC(cmd *cobra.Command) (*ipc.Client, error) {
	return ipc.Dial(socketPath(cmd))
}

func queryIPCStatus(cmd *cobra.Command) (*ipc.StatusResult, error) {
	client, err := dialIPC(cmd)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	return client.Status()
}
