package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/mailtriage/internal/connector"
)

func newLearnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learn",
		Short: "Feed triage feedback back into the learners",
	}
	cmd.AddCommand(newLearnCorrectionCmd())
	cmd.AddCommand(newLearnActionCmd())
	return cmd
}

func newLearnCorrectionCmd() *cobra.Command {
	var (
		from    string
		subject string
		was     string
		should  string
	)

	cmd := &cobra.Command{
		Use:   "correction",
		Short: "Record a category correction",
		Long: `Record that a message was sorted into the wrong category. Corrections teach
the learner sender and keyword rules that take precedence over the model.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.shutdown(ctx)

			msg := connector.MailMessage{From: from, Subject: subject}
			app.learner.LearnFromCorrection(msg, was, should)

			fmt.Fprintf(cmd.OutOrStdout(), "Correction recorded: %s -> %s\n", was, should)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Sender address of the message")
	cmd.Flags().StringVar(&subject, "subject", "", "Subject of the message")
	cmd.Flags().StringVar(&was, "was", "", "Category the message was sorted into")
	cmd.Flags().StringVar(&should, "should", "", "Category the message belongs in")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("was")
	_ = cmd.MarkFlagRequired("should")
	return cmd
}

// learnActions lists the observable actions, for the flag help text.
var learnActions = []string{
	"opened_immediately",
	"starred",
	"replied_fast",
	"opened_within_hour",
	"opened_within_day",
	"ignored_week",
	"deleted_immediately",
}

func newLearnActionCmd() *cobra.Command {
	var (
		from    string
		subject string
		action  string
		after   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "action",
		Short: "Record how a message was handled",
		Long: `Record what you did with a message. Repeated observations shift the sender's
priority score, so mail from people you answer quickly surfaces sooner.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			valid := false
			for _, known := range learnActions {
				if action == known {
					valid = true
					break
				}
			}
			if !valid {
				sorted := append([]string(nil), learnActions...)
				sort.Strings(sorted)
				return fmt.Errorf("unknown action %q (one of: %s)", action, strings.Join(sorted, ", "))
			}

			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.shutdown(ctx)

			msg := connector.MailMessage{From: from, Subject: subject}
			app.priority.LearnFromAction(msg, action, after)

			fmt.Fprintf(cmd.OutOrStdout(), "Action recorded for %s\n", from)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Sender address of the message")
	cmd.Flags().StringVar(&subject, "subject", "", "Subject of the message")
	cmd.Flags().StringVar(&action, "action", "", "Observed action ("+strings.Join(learnActions, ", ")+")")
	cmd.Flags().DurationVar(&after, "after", 0, "Time between arrival and the action (e.g. 30m)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}
