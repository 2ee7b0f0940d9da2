package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/ops-sentinel/pkg/paginator"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List a tenant's alerts",
	RunE:  runAlerts,
}

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.Flags().StringP("tenant", "t", "", "Tenant id")
	alertsCmd.Flags().Int("page", 1, "Page number")
	alertsCmd.Flags().Int("page-size", paginator.DefaultPageSize, "Alerts per page")
	alertsCmd.Flags().StringP("severity", "s", "", "Filter by severity (critical, warning, info)")
	alertsCmd.Flags().StringP("category", "c", "", "Filter by category")
	alertsCmd.Flags().String("os", "", "Filter by operation id")
	alertsCmd.Flags().Bool("count", false, "Print totals per severity only")
	_ = alertsCmd.MarkFlagRequired("tenant")
}

func runAlerts(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tenant, _ := cmd.Flags().GetString("tenant")
	page, _ := cmd.Flags().GetInt("page")
	pageSize, _ := cmd.Flags().GetInt("page-size")
	severity, _ := cmd.Flags().GetString("severity")
	category, _ := cmd.Flags().GetString("category")
	osID, _ := cmd.Flags().GetString("os")
	countOnly, _ := cmd.Flags().GetBool("count")

	a, err := newApp(cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer a.Close()

	filters := paginator.Filters{Severity: severity, Category: category, OSID: osID}

	if countOnly {
		c, err := a.paginator.Count(cmd.Context(), tenant, filters)
		if err != nil {
			return err
		}
		fmt.Printf("Critical: %d\nWarning:  %d\nInfo:     %d\nTotal:    %d\n", c.Critical, c.Warning, c.Info, c.Total)
		return nil
	}

	result, err := a.paginator.Get(cmd.Context(), paginator.Query{
		TenantID: tenant,
		Page:     page,
		PageSize: pageSize,
		Filters:  filters,
	})
	if err != nil {
		return err
	}

	p := result.Pagination
	fmt.Printf("=== Alerts for %s (page %d/%d, %d total) ===\n\n", tenant, p.Page, max(p.TotalPages, 1), p.Total)
	if len(result.Data) == 0 {
		fmt.Println("No alerts.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  SEVERITY\tCATEGORY\tOS\tTITLE\tDESCRIPTION\n")
	for _, al := range result.Data {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n", al.Severity, al.Category, al.OperationID, al.Title, al.Description)
	}
	w.Flush()
	return nil
}
