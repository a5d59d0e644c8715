// Package cli implements the sesmailer command line.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"sesmailer/internal/app"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "./config.json"

type rootOptions struct {
	configPath string
	appOpts    []app.Option
}

// Execute runs the root command with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree. opts are passed to every app.New call.
func NewRootCmd(opts ...app.Option) *cobra.Command {
	ro := &rootOptions{appOpts: opts}
	cmd := &cobra.Command{
		Use:   "sesmailer",
		Short: "Send email through Amazon SES",
		Long: `sesmailer delivers email through the Amazon SES query API.

Messages are sent immediately or, with mailer.background_send, stored
as jobs and delivered by "sesmailer serve" with up to three attempts.

Example:
  sesmailer serve                                   # run queue worker and HTTP API
  sesmailer send --to a@example.com --subject Hi --body hello
  sesmailer quota                                   # show SES sending limits`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&ro.configPath, "config", "c", DefaultConfigPath, "path to config file (JSON or YAML)")

	cmd.AddCommand(
		newServeCmd(ro),
		newSendCmd(ro),
		newQuotaCmd(ro),
		newJobsCmd(ro),
		newLogCmd(ro),
	)
	return cmd
}

// open builds an app for one-shot commands. The caller must Close it.
func (ro *rootOptions) open(ctx context.Context) (*app.App, error) {
	return app.New(ctx, ro.configPath, ro.appOpts...)
}
