package cli

import (
	"github.com/spf13/cobra"

	"github.com/soulsense/soulsense-outliers/internal/analytics/report"
	"github.com/soulsense/soulsense-outliers/internal/db"
)

func newReportsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Inspect persisted analysis reports",
	}

	var q db.ReportQuery
	list := &cobra.Command{
		Use:   "list",
		Short: "List persisted reports, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := a.outputFormat()
			if err != nil {
				return err
			}
			rt, err := a.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			records, err := rt.store.ListReports(cmd.Context(), q)
			if err != nil {
				return err
			}
			return report.Encode(cmd.OutOrStdout(), records, format)
		},
	}
	list.Flags().StringVar(&q.ScopeType, "scope-type", "", "filter by scope type: user, age_group or global")
	list.Flags().StringVar(&q.ScopeKey, "scope-key", "", "filter by subject ID or group key")
	list.Flags().IntVar(&q.Limit, "limit", 50, "maximum number of reports")
	list.Flags().IntVar(&q.Offset, "offset", 0, "number of reports to skip")

	get := &cobra.Command{
		Use:   "get <report-id>",
		Short: "Print one persisted report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := a.outputFormat()
			if err != nil {
				return err
			}
			rt, err := a.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			r, err := rt.store.GetReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return report.Encode(cmd.OutOrStdout(), r, format)
		},
	}

	cmd.AddCommand(list, get)
	return cmd
}
