package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/holon-run/squish/pkg/errors"
	"github.com/holon-run/squish/pkg/logs/redact"
)

var rootCmd = newRootCmd()

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "squish: %s\n", redactor.Error(err))
		if !errors.IsUserFacing(err) {
			fmt.Fprintln(os.Stderr, "squish: rerun with --log-level debug for details")
		}
		os.Exit(errors.ExitCode(err))
	}
}

// redactor scrubs secrets from errors before they reach stderr. runSquish
// registers the signing passphrase once the config is loaded.
var redactor = redact.RedactFromEnv()

func newRootCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "squish [branch] <upstream>",
		Short: "Squash a branch into a single commit",
		Long: `Squash every commit a branch made since it diverged from its upstream into
one commit, then move the branch to it.

The branch defaults to the current branch. The upstream can be any revision:
a branch, a remote-tracking branch, a tag or a commit id. The squashed commit
has the divergence point as its parent and the branch tip's tree, so the
files on the branch do not change. The branch is only moved if nobody else
moved it while squish was running; the old commits stay in the repository
and the undo command is printed.

Examples:
  squish main
  squish feature/login origin/main
  squish -m "Add login form" main
  squish --dry-run --output json main`,
		Args:          validateArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSquish(cmd, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.message, "message", "m", "", "Use this message for the squashed commit")
	flags.BoolVar(&opts.sign, "sign", false, "Sign the squashed commit")
	flags.BoolVar(&opts.noSign, "no-sign", false, "Do not sign the squashed commit, even if commit.gpgsign is set")
	flags.String("signing-key", "", "Key to sign with (overrides user.signingkey)")
	flags.String("keyring", "", "OpenPGP keyring file for the gogit backend")
	flags.StringVar(&opts.base, "base", "", "Only squash commits after this revision")
	flags.BoolVar(&opts.rebase, "rebase", false, "Put the squashed commit on the upstream tip (git backend)")
	flags.Bool("skip-empty", false, "Leave the branch alone if the squash has no changes")
	flags.Bool("preserve-author", false, "Keep the author and date of the oldest squashed commit")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "Show what would be done without writing anything")
	flags.String("message-style", "summary", "Composed message: summary or first")
	flags.StringVarP(&opts.repo, "repo", "C", ".", "Path to the repository")
	flags.String("backend", "gogit", "Repository backend: gogit or git")
	flags.StringP("output", "o", "text", "Output format: text, json or yaml")
	flags.String("log-level", "progress", "Log level: debug, info, progress, minimal, warn, error")
	flags.StringVarP(&opts.configFile, "config", "c", "", "Config file (default .squish.yaml in the repository, then ~/.config/squish/config.yaml)")

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	})

	opts.bindings = map[string]*pflag.Flag{
		"backend":                flags.Lookup("backend"),
		"output":                 flags.Lookup("output"),
		"log.level":              flags.Lookup("log-level"),
		"signing.key":            flags.Lookup("signing-key"),
		"signing.keyring":        flags.Lookup("keyring"),
		"message.style":          flags.Lookup("message-style"),
		"commit.skip_empty":      flags.Lookup("skip-empty"),
		"commit.preserve_author": flags.Lookup("preserve-author"),
	}

	cmd.AddCommand(newVersionCmd())
	return cmd
}

// validateArgs accepts "<upstream>" or "<branch> <upstream>".
func validateArgs(_ *cobra.Command, args []string) error {
	switch len(args) {
	case 1, 2:
		for _, a := range args {
			if a == "" {
				return fmt.Errorf("%w: empty revision argument", errors.ErrInvalidConfig)
			}
		}
		return nil
	case 0:
		return fmt.Errorf("%w: missing upstream; usage: squish [branch] <upstream>", errors.ErrInvalidConfig)
	default:
		return fmt.Errorf("%w: too many arguments; usage: squish [branch] <upstream>", errors.ErrInvalidConfig)
	}
}
