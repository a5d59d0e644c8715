package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newQuotaCmd(ro *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Show the SES sending quota",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := ro.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			q, err := a.SES().GetSendQuota(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Max24HourSend:   %s\n", q.Max24HourSend)
			_, _ = fmt.Fprintf(out, "MaxSendRate:     %s\n", q.MaxSendRate)
			_, _ = fmt.Fprintf(out, "SentLast24Hours: %s\n", q.SentLast24Hours)
			_, _ = fmt.Fprintf(out, "Remaining:       %s\n", q.Remaining())
			return nil
		},
	}
}
