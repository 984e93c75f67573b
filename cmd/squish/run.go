package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/holon-run/squish/pkg/backend"
	"github.com/holon-run/squish/pkg/backend/gitcli"
	"github.com/holon-run/squish/pkg/backend/gogit"
	"github.com/holon-run/squish/pkg/config"
	"github.com/holon-run/squish/pkg/errors"
	holonlog "github.com/holon-run/squish/pkg/log"
	"github.com/holon-run/squish/pkg/pathutil"
	"github.com/holon-run/squish/pkg/preflight"
	"github.com/holon-run/squish/pkg/report"
	"github.com/holon-run/squish/pkg/squash"
)

// runOptions holds the per-run flags. Flags that are also config keys are
// bound to viper instead.
type runOptions struct {
	message    string
	sign       bool
	noSign     bool
	base       string
	rebase     bool
	dryRun     bool
	repo       string
	configFile string

	bindings map[string]*pflag.Flag
}

func runSquish(cmd *cobra.Command, opts *runOptions, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.sign && opts.noSign {
		return fmt.Errorf("%w: --sign and --no-sign are mutually exclusive", errors.ErrInvalidConfig)
	}

	root, err := pathutil.FindRepoRoot(opts.repo)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}

	cfg, err := loadConfig(opts, root)
	if err != nil {
		return err
	}
	redactor.AddSecret(cfg.Passphrase())

	if err := holonlog.Init(holonlog.Config{
		Level:  holonlog.LogLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer holonlog.Sync()

	b, err := openBackend(ctx, cfg, opts, root)
	if err != nil {
		return err
	}

	squashOpts := squash.Options{
		Upstream:       args[len(args)-1],
		Message:        opts.message,
		Sign:           cfg.Sign(),
		SigningKey:     cfg.Signing.Key,
		Base:           opts.base,
		Rebase:         opts.rebase,
		SkipEmpty:      cfg.Commit.SkipEmpty,
		PreserveAuthor: cfg.Commit.PreserveAuthor,
		DryRun:         opts.dryRun,
		MessageStyle:   squash.MessageStyle(cfg.Message.Style),
	}
	if len(args) == 2 {
		squashOpts.Branch = args[0]
	}

	holonlog.Progress("squashing", "upstream", squashOpts.Upstream, "backend", b.Name())
	result, err := squash.New(b).Run(ctx, squashOpts)
	if err != nil {
		return err
	}
	holonlog.Info("squash finished", "outcome", string(result.Outcome), "branch", result.Branch.Short())

	return report.Render(cmd.OutOrStdout(), cfg.Output, result)
}

// loadConfig layers flags over SQUISH_* env over the config file over
// defaults.
func loadConfig(opts *runOptions, root string) (*config.Config, error) {
	v := config.New()
	if err := bindFlags(v, opts.bindings); err != nil {
		return nil, err
	}
	if opts.sign {
		v.Set("signing.mode", config.SigningAlways)
	}
	if opts.noSign {
		v.Set("signing.mode", config.SigningNever)
	}

	used, err := config.ReadFile(v, opts.configFile, root)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	if used != "" {
		holonlog.Debug("loaded config file", "path", used)
	}
	return cfg, nil
}

func bindFlags(v *viper.Viper, bindings map[string]*pflag.Flag) error {
	for key, flag := range bindings {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", flag.Name, err)
		}
	}
	return nil
}

func openBackend(ctx context.Context, cfg *config.Config, opts *runOptions, root string) (backend.Backend, error) {
	switch cfg.Backend {
	case gitcli.Name:
		checker := preflight.NewChecker(preflight.Config{
			RequireGit:       true,
			RequireMergeTree: opts.rebase,
		})
		if err := checker.Run(ctx); err != nil {
			return nil, err
		}
		return gitcli.Open(ctx, root, gitcli.Options{})
	default:
		return gogit.Open(root, gogit.Options{
			SigningKeyring: cfg.Signing.Keyring,
			Passphrase:     cfg.Passphrase(),
		})
	}
}
