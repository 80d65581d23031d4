// commands.go contains all cobra command definitions and their flag
// configurations. Each builder creates a command and wires it to its handler.
package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func buildReplCmd() *cobra.Command {
	var (
		conversationID string
		noExec         bool
	)

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive conversation",
		Long: `Start an interactive conversation against the built-in tool catalogue.

Type messages at the prompt; the runtime streams its thinking, tool
calls, and results as they happen. Slash commands:

  /audit     show recent security events for this conversation
  /context   show the conversation context map
  /quit      exit

With snapshot persistence configured, the conversation is saved after
every turn and can be resumed with --conversation.`,
		Example: `  # Fresh conversation
  conduit repl

  # Resume a saved conversation
  conduit repl --config conduit.yaml --conversation 7f3c...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepl(cmd, conversationID, noExec)
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "Resume a saved conversation by id")
	cmd.Flags().BoolVar(&noExec, "plan-only", false, "Plan tool calls without executing them")
	return cmd
}

func buildRunCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "run <message>",
		Short: "Process a single message and print the reply",
		Args:  cobra.ExactArgs(1),
		Example: `  conduit run "what is 12 * 34"
  conduit run --json "search the web for Go generics"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, args[0], jsonOut)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the full event stream as JSON lines")
	return cmd
}

func buildToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the built-in tool catalogue",
	}
	cmd.AddCommand(buildToolsListCmd(), buildToolsSearchCmd())
	return cmd
}

func buildToolsListCmd() *cobra.Command {
	var (
		category string
		jsonOut  bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsList(cmd, category, jsonOut)
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Filter by category (core, search, utility, execution, data, integration)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print definitions as JSON")
	return cmd
}

func buildToolsSearchCmd() *cobra.Command {
	var (
		fuzzy bool
		limit int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search tools by name, description, and tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsSearch(cmd, args[0], fuzzy, limit)
		},
	}

	cmd.Flags().BoolVar(&fuzzy, "fuzzy", false, "Use fuzzy matching")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of results")
	return cmd
}

func buildExecCmd() *cobra.Command {
	var (
		file string
		kind string
	)

	cmd := &cobra.Command{
		Use:   "exec [code]",
		Short: "Run a Go snippet in the interpreter sandbox",
		Long: `Run a Go snippet in the interpreter sandbox and print its result.

The snippet must define:

	func Run(input map[string]interface{}) (interface{}, error)

Code is taken from the argument, from --file, or from stdin.`,
		Example: `  conduit exec 'func Run(input map[string]interface{}) (interface{}, error) { return 6*7, nil }'
  conduit exec --file snippet.go --env isolated`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := ""
			if len(args) == 1 {
				code = args[0]
			}
			return runExec(cmd, code, file, kind)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the snippet from a file")
	cmd.Flags().StringVar(&kind, "env", "sandboxed", "Environment kind (direct, worker, sandboxed, isolated)")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "conduit %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func buildSnapshotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Manage persisted conversations",
	}
	cmd.AddCommand(buildSnapshotsListCmd(), buildSnapshotsDeleteCmd())
	return cmd
}

func buildSnapshotsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshotsList(cmd)
		},
	}
}

func buildSnapshotsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a saved conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshotsDelete(cmd, args[0])
		},
	}
}
