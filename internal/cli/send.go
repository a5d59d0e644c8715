package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"sesmailer/internal/message"
)

type sendOptions struct {
	to          []string
	subject     string
	body        string
	bodyFile    string
	html        bool
	headers     []string
	attachments []string
}

func newSendCmd(ro *rootOptions) *cobra.Command {
	o := &sendOptions{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one message",
		Long: `Send one message with the configured credentials and sender.

With mailer.background_send the message is stored as a job and delivered
by a running "sesmailer serve" sharing the same storage.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			msg, err := o.message(cmd.InOrStdin())
			if err != nil {
				return err
			}
			a, err := ro.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			res, err := a.Mailer().Submit(cmd.Context(), msg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.Queued {
				_, _ = fmt.Fprintf(out, "queued job %s\n", res.JobID)
				return nil
			}
			_, _ = fmt.Fprintf(out, "sent (%d bytes)\n", res.Bytes)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&o.to, "to", nil, "recipient address (repeatable or comma separated)")
	f.StringVarP(&o.subject, "subject", "s", "", "subject line")
	f.StringVarP(&o.body, "body", "b", "", "message body")
	f.StringVar(&o.bodyFile, "body-file", "", `read the body from a file ("-" for stdin)`)
	f.BoolVar(&o.html, "html", false, "body is HTML (a text alternative is generated)")
	f.StringArrayVarP(&o.headers, "header", "H", nil, `extra header line, e.g. "X-Ses-Mailer-Tag: welcome"`)
	f.StringArrayVarP(&o.attachments, "attach", "a", nil, "file to attach (repeatable)")
	_ = cmd.MarkFlagRequired("to")
	cmd.MarkFlagsMutuallyExclusive("body", "body-file")
	return cmd
}

func (o *sendOptions) message(stdin io.Reader) (message.Message, error) {
	body := o.body
	if o.bodyFile != "" {
		var (
			b   []byte
			err error
		)
		if o.bodyFile == "-" {
			b, err = io.ReadAll(stdin)
		} else {
			b, err = os.ReadFile(o.bodyFile)
		}
		if err != nil {
			return message.Message{}, fmt.Errorf("read body: %w", err)
		}
		body = string(b)
	}
	for _, p := range o.attachments {
		if _, err := os.Stat(p); err != nil {
			return message.Message{}, fmt.Errorf("attachment: %w", err)
		}
	}
	if len(message.SanitizeRecipients(o.to)) == 0 {
		return message.Message{}, errors.New("no valid recipient in --to")
	}
	return message.Message{
		To:          o.to,
		Subject:     o.subject,
		Body:        body,
		HTML:        o.html,
		Headers:     o.headers,
		Attachments: o.attachments,
	}, nil
}
