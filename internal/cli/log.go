package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLogCmd(ro *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print the outcome log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := ro.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			b, err := a.MailLog().Read()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Truncate the outcome log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := ro.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.MailLog().Clear(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "outcome log cleared")
			return nil
		},
	})
	return cmd
}
