package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/teemow/mailtriage/internal/config"
)

// rootCmd represents the base command for the mailtriage application
var rootCmd = &cobra.Command{
	Use:   "mailtriage",
	Short: "Triages personal mailboxes across providers",
	Long: `mailtriage connects to your mail accounts (Gmail, Outlook, Yahoo, Comcast,
or any generic IMAP server), detects spam, sorts mail into category folders,
and learns your priorities from how you handle messages.

Credentials live in the OS keyring; only non-secret metadata is written to
disk.`,
	SilenceUsage: true,
}

var (
	configPath string
	logLevel   string
)

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mailtriage version %s\n" .Version}}`)

	// If no subcommand is provided, run the check command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "check")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newAccountsCmd())
	rootCmd.AddCommand(newSpamCmd())
	rootCmd.AddCommand(newCleanupCmd())
	rootCmd.AddCommand(newCategorizeCmd())
	rootCmd.AddCommand(newFoldersCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newSendCmd())
	rootCmd.AddCommand(newDraftCmd())
	rootCmd.AddCommand(newLearnCmd())
	rootCmd.AddCommand(newVersionCmd())
}
