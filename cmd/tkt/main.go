// Command tkt is the ticketd client: the git hook that forwards pushes and a
// few commands for inspecting tickets.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/drewfead/ticketd/internal/config"
	"github.com/drewfead/ticketd/internal/control"
)

var cfg *config.Config

func main() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getClient() (*control.Client, error) {
	return control.NewClient(cfg.Daemon.Socket)
}

var rootCmd = &cobra.Command{
	Use:   "tkt",
	Short: "Push-to-ticket client for ticketd",
	Long: `tkt - Tickets from git pushes.

Push a branch to refs/for/<branch> to open a ticket; push to
refs/heads/ticket/<n> to add a patchset. Options ride on the ref:

  git push origin HEAD:refs/for/main%topic=cache,m=v2,r=bob,cc=carol

Install 'tkt hook' as the repository's pre-receive hook and
'tkt post-receive' as its post-receive hook.

Examples:
  tkt list                      # Open tickets
  tkt show 12                   # Ticket details
  tkt changes 12                # Change journal
  tkt watch                     # Live change feed
  tkt ref 12 3                  # Patchset ref for revision 3
  tkt resolve refs/tickets/12/12/3`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList(false)
	},
}

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Run as a git pre-receive hook",
	Long: `Reads "<old> <new> <ref>" lines from stdin, forwards each ticket ref
update to ticketd and rejects the push if any update is refused.

The pusher is taken from --pusher, $TICKETD_PUSHER, $GL_USERNAME,
$REMOTE_USER or $USER, in that order.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pusher, _ := cmd.Flags().GetString("pusher")
		repo, _ := cmd.Flags().GetString("repository")
		return runHook(cmd.Context(), os.Stdin, os.Stdout, os.Stderr, pusher, repo)
	},
}

var postReceiveCmd = &cobra.Command{
	Use:   "post-receive",
	Short: "Run as a git post-receive hook",
	Long: `Reads "<old> <new> <ref>" lines from stdin after a push is accepted.
For each ticket update it points the patchset ref and the ticket head ref at
the new tip, then deletes the refs/for/<branch> ref git stored for a new
ticket so that the next proposal to the same branch is not a non-fast-forward.

Ref updates are not allowed while pre-receive runs, so without this hook the
patchset refs reported by 'tkt hook' are never written.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, _ := cmd.Flags().GetString("repository")
		return runPostReceive(cmd.Context(), os.Stdin, os.Stdout, os.Stderr, repo)
	},
}

var showCmd = &cobra.Command{
	Use:   "show <number>",
	Short: "Show a ticket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := parseNumber(args[0])
		if err != nil {
			return err
		}
		return runShow(number)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tickets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		return runList(all)
	},
}

var changesCmd = &cobra.Command{
	Use:   "changes <number>",
	Short: "Show the change journal of a ticket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := parseNumber(args[0])
		if err != nil {
			return err
		}
		return runChanges(number)
	},
}

var refCmd = &cobra.Command{
	Use:   "ref <number> [rev]",
	Short: "Print the head ref of a ticket, or the ref of one patchset",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRef(os.Stdout, args)
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <ref>",
	Short: "Print the ticket number a ref addresses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResolve(os.Stdout, args[0])
	},
}

var parseMessageCmd = &cobra.Command{
	Use:   "parse-message <commit>",
	Short: "Show how a commit message becomes a ticket title and body",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, _ := cmd.Flags().GetString("repository")
		return runParseMessage(cmd.Context(), os.Stdout, repo, args[0])
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [number]",
	Short: "Follow ticket changes live",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var number int64
		if len(args) == 1 {
			n, err := parseNumber(args[0])
			if err != nil {
				return err
			}
			number = n
		}
		return runWatch(number)
	},
}

func init() {
	hookCmd.Flags().String("pusher", "", "Authenticated pusher name")
	hookCmd.Flags().String("repository", "", "Repository path (default: current directory)")
	postReceiveCmd.Flags().String("repository", "", "Repository path (default: current directory)")
	listCmd.Flags().BoolP("all", "a", false, "Include closed tickets")
	parseMessageCmd.Flags().String("repository", ".", "Repository path")

	rootCmd.AddCommand(hookCmd, postReceiveCmd, showCmd, listCmd, changesCmd, refCmd, resolveCmd, parseMessageCmd, watchCmd)
}
