package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPlansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List purchasable plans",
		RunE:  runPlans,
	}
}

func runPlans(cmd *cobra.Command, args []string) error {
	client, err := dialIPC(cmd)
	if err != nil {
		return fmt.Errorf("agent not reachable: %w", err)
	}
	defer func() { _ = client.Close() }()

	offers, err := client.Plans()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PLAN\tPRICE\tMINUTES\tCALLS")
	for _, o := range offers {
		_, _ = fmt.Fprintf(w, "%s\t%.2f\t%d\t%d\n",
			o.ID,
			float64(o.PriceMinorUnits)/100,
			o.MinutesIncluded,
			o.CallsIncluded,
		)
	}
	return w.Flush()
}
