package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sesmailer/internal/maillog"
)

func newJobsCmd(ro *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List queued jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := ro.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			jobs, err := a.Queue().Jobs(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				_, _ = fmt.Fprintln(out, "no queued jobs")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tATTEMPT\tTO\tSUBJECT")
			for _, j := range jobs {
				_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n",
					j.ID, j.Attempt, strings.Join(j.To, ", "), maillog.Truncate(j.Subject, 60))
			}
			return tw.Flush()
		},
	}
}
