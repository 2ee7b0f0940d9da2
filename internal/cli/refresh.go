package cli

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Recompute alerts for one tenant or every active tenant",
	RunE:  runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
	refreshCmd.Flags().StringP("tenant", "t", "", "Tenant to refresh (default: all active tenants)")
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tenant, _ := cmd.Flags().GetString("tenant")

	a, err := newApp(cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer a.Close()

	sum, err := a.job.Execute(cmd.Context(), tenant)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	fmt.Printf("Processed %d tenant(s) in %dms\n", sum.Processed, sum.DurationMs)
	if len(sum.Counts) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "  TENANT\tALERTS\n")
		for _, id := range sortedKeys(sum.Counts) {
			fmt.Fprintf(w, "  %s\t%d\n", id, sum.Counts[id])
		}
		w.Flush()
	}
	if len(sum.Errors) > 0 {
		fmt.Printf("\nFailures:\n")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "  TENANT\tERROR\n")
		for _, e := range sum.Errors {
			fmt.Fprintf(w, "  %s\t%s\n", e.TenantID, e.Error)
		}
		w.Flush()
		return fmt.Errorf("%d tenant(s) failed", len(sum.Errors))
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
