package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/teemow/mailtriage/internal/accounts"
	"github.com/teemow/mailtriage/internal/vault"
)

func newAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage configured mail accounts",
	}
	cmd.AddCommand(newAccountsAddCmd())
	cmd.AddCommand(newAccountsRemoveCmd())
	cmd.AddCommand(newAccountsListCmd())
	cmd.AddCommand(newAccountsTestCmd())
	return cmd
}

func newAccountsAddCmd() *cobra.Command {
	var (
		provider string
		email    string
		imapAddr string
		smtpHost string
		smtpPort int
	)

	cmd := &cobra.Command{
		Use:   "add <account-id>",
		Short: "Add a mail account",
		Long: `Add a mail account under a local identifier.

Gmail and Outlook authorize through the browser; the other providers take an
app password, read from the terminal so it never lands in shell history.
Generic IMAP servers additionally need --imap-addr and --smtp-host.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch provider {
			case "gmail", "outlook", "yahoo", "comcast", "generic":
			default:
				return fmt.Errorf("unknown provider %q (gmail, outlook, yahoo, comcast, generic)", provider)
			}

			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.shutdown(ctx)

			accountID := args[0]
			switch provider {
			case "gmail", "outlook":
				if err := app.accounts.AddAccountOAuth(ctx, accountID, provider, email); err != nil {
					return err
				}
			case "yahoo", "comcast", "generic":
				fmt.Fprintf(cmd.ErrOrStderr(), "App password for %s: ", email)
				password, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(cmd.ErrOrStderr())
				if err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}

				var generic *accounts.GenericServer
				if provider == "generic" {
					if imapAddr == "" || smtpHost == "" {
						return fmt.Errorf("generic provider requires --imap-addr and --smtp-host")
					}
					generic = &accounts.GenericServer{
						IMAPAddr: imapAddr,
						SMTPHost: smtpHost,
						SMTPPort: smtpPort,
					}
				}
				if err := app.accounts.AddAccountPassword(ctx, accountID, provider, email, string(password), generic); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Account %s added\n", accountID)
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Mail provider (gmail, outlook, yahoo, comcast, generic)")
	cmd.Flags().StringVar(&email, "email", "", "Email address of the account")
	cmd.Flags().StringVar(&imapAddr, "imap-addr", "", "IMAP server address (host:port) for generic providers")
	cmd.Flags().StringVar(&smtpHost, "smtp-host", "", "SMTP server host for generic providers")
	cmd.Flags().IntVar(&smtpPort, "smtp-port", 587, "SMTP server port for generic providers")
	_ = cmd.MarkFlagRequired("provider")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newAccountsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <account-id>",
		Short: "Remove an account and purge its credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.shutdown(ctx)

			if err := app.accounts.RemoveAccount(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account %s removed\n", args[0])
			return nil
		},
	}
}

func newAccountsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.shutdown(ctx)

			all, err := app.accounts.ListAccounts()
			if err != nil {
				return err
			}

			ids := make([]string, 0, len(all))
			for id := range all {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			type listed struct {
				ID       string `json:"id"`
				Provider string `json:"provider"`
				Email    string `json:"email"`
				OAuth    bool   `json:"oauth"`
			}
			out := make([]listed, 0, len(ids))
			for _, id := range ids {
				meta := all[id]
				out = append(out, listed{
					ID:       id,
					Provider: meta.Provider,
					Email:    meta.Email,
					OAuth:    meta.HasCredential(vault.KindOAuthRefreshToken),
				})
			}
			return printJSON(out)
		},
	}
}

func newAccountsTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Probe every account with a live connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.shutdown(ctx)

			report, err := app.accounts.TestAllAccounts(ctx)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}
