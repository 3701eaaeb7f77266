package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent calls",
		RunE:  runHistory,
	}
	cmd.Flags().IntP("limit", "n", 20, "maximum number of calls to show")
	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	client, err := dialIPC(cmd)
	if err != nil {
		return fmt.Errorf("agent not reachable: %w", err)
	}
	defer func() { _ = client.Close() }()

	calls, err := client.History(limit)
	if err != nil {
		return err
	}

	if len(calls) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No calls yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STARTED\tDURATION\tENDED BY\tLEFT")
	for _, c := range calls {
		_, _ = fmt.Fprintf(w, "%s\t%ds\t%s\t%ds\n",
			c.StartedAt.Local().Format("2006-01-02 15:04"),
			c.DurationSeconds,
			c.EndReason,
			c.RemainingSeconds,
		)
	}
	return w.Flush()
}
