package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teemow/mailtriage/internal/connector"
)

func newSendCmd() *cobra.Command {
	var (
		to      []string
		cc      []string
		bcc     []string
		subject string
		body    string
	)

	cmd := &cobra.Command{
		Use:   "send <account-id>",
		Short: "Send a message through an account",
		Long: `Send a message through the account's provider. The sent text also feeds the
tone learner, so future drafts to the same recipient pick up your style.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.shutdown(ctx)

			msg := connector.OutgoingMessage{
				To:      to,
				Cc:      cc,
				Bcc:     bcc,
				Subject: subject,
				Body:    body,
			}
			if err := app.triager.SendEmail(ctx, args[0], msg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Message sent")
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&to, "to", nil, "Recipient addresses")
	cmd.Flags().StringSliceVar(&cc, "cc", nil, "Cc addresses")
	cmd.Flags().StringSliceVar(&bcc, "bcc", nil, "Bcc addresses")
	cmd.Flags().StringVar(&subject, "subject", "", "Message subject")
	cmd.Flags().StringVar(&body, "body", "", "Message body")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newDraftCmd() *cobra.Command {
	var (
		to      string
		subject string
	)

	cmd := &cobra.Command{
		Use:   "draft <context...>",
		Short: "Draft a message body in the recipient's learned tone",
		Long: `Ask the local model for body content and wrap it in the greeting and closing
learned for the recipient. The draft is printed, never sent.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.shutdown(ctx)

			draft, err := app.triager.DraftEmail(ctx, to, subject, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), draft)
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "Recipient address")
	cmd.Flags().StringVar(&subject, "subject", "", "Message subject")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
