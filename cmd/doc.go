// Package cmd implements the command-line interface for mailtriage.
//
// This package provides the following commands:
//   - accounts: Add, remove, list, and test configured mail accounts
//   - spam: Classify inbox messages and optionally trash detected spam
//   - cleanup: Bulk-delete messages matching age, folder, or sender criteria
//   - categorize: Sort every account's inbox into the category folders
//   - folders: Create the category folders on an account
//   - check: Poll all accounts once and report priority mail
//   - watch: Poll continuously and expose Prometheus metrics
//   - send: Send a message through an account
//   - draft: Draft a reply body in the recipient's learned tone
//   - learn: Feed category corrections back into the learner
//   - version: Display version information
//
// The check command is the default command when no subcommand is specified.
package cmd
