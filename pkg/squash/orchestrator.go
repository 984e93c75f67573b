// Package squash collapses every commit a branch made since it left its
// upstream into one commit and moves the branch to it with a single
// compare-and-swap.
//
// A run walks a fixed state machine:
//
//	Resolving -> Validating -> Planning -> Synthesizing -> Updating -> Done
//
// and any non-terminal state may end in Aborted. Nothing is written before
// Synthesizing, and only the final compare-and-swap in Updating touches a
// reference, so an aborted run leaves at most one unreferenced commit behind.
package squash

import (
	"context"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"go.uber.org/zap"

	"github.com/holon-run/squish/pkg/backend"
	"github.com/holon-run/squish/pkg/errors"
	"github.com/holon-run/squish/pkg/git"
	holonlog "github.com/holon-run/squish/pkg/log"
	"github.com/holon-run/squish/pkg/preflight"
)

// State is a step of a squash run.
type State int

const (
	StateResolving State = iota
	StateValidating
	StatePlanning
	StateSynthesizing
	StateUpdating
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateValidating:
		return "validating"
	case StatePlanning:
		return "planning"
	case StateSynthesizing:
		return "synthesizing"
	case StateUpdating:
		return "updating"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures one run.
type Options struct {
	// Branch is the branch to squash; empty means the current branch.
	Branch string
	// Upstream is the revision the branch diverged from.
	Upstream string
	// Message replaces the composed commit message.
	Message string
	// Sign overrides commit.gpgsign when non-nil.
	Sign *bool
	// SigningKey overrides user.signingkey.
	SigningKey string
	// Base squashes only the commits after this revision, which must lie
	// between the divergence point and the branch tip.
	Base string
	// Rebase puts the squashed commit on the upstream tip instead of the
	// divergence point. Needs a backend.Merger.
	Rebase bool
	// SkipEmpty leaves the branch alone when the squash has no net changes.
	SkipEmpty bool
	// PreserveAuthor keeps the oldest squashed commit's author and date.
	PreserveAuthor bool
	// DryRun stops after planning.
	DryRun bool
	// MessageStyle selects the composed message; empty means StyleSummary.
	MessageStyle MessageStyle
}

// Squasher runs squashes against one backend.
type Squasher struct {
	backend     backend.Backend
	resolver    *Resolver
	synthesizer *Synthesizer
	updater     *Updater

	// Now stamps new commits. Defaults to time.Now.
	Now func() time.Time
	// OnTransition, when set, observes every state change.
	OnTransition func(from, to State)
}

// New creates a Squasher for b.
func New(b backend.Backend) *Squasher {
	return &Squasher{
		backend:     b,
		resolver:    NewResolver(b),
		synthesizer: NewSynthesizer(b),
		updater:     NewUpdater(b),
		Now:         time.Now,
	}
}

// run carries the state of one Run call.
type run struct {
	s     *Squasher
	opts  Options
	state State
	log   *zap.SugaredLogger

	branch   plumbing.ReferenceName
	tip      plumbing.Hash
	upstream plumbing.Hash
}

// Run squashes according to opts. No-op outcomes are successes; every
// failure leaves the branch where it was.
func (s *Squasher) Run(ctx context.Context, opts Options) (*Result, error) {
	r := &run{
		s:     s,
		opts:  opts,
		state: StateResolving,
		log:   holonlog.With("upstream", opts.Upstream),
	}
	r.log.Debugw("state transition", "to", r.state.String())

	result, err := r.execute(ctx)
	if err != nil {
		r.transition(StateAborted, "error", err.Error())
		return nil, err
	}
	r.transition(StateDone, "outcome", string(result.Outcome))
	return result, nil
}

func (r *run) transition(to State, kv ...interface{}) {
	from := r.state
	r.state = to
	args := append([]interface{}{"from", from.String(), "to", to.String()}, kv...)
	r.log.Debugw("state transition", args...)
	if r.s.OnTransition != nil {
		r.s.OnTransition(from, to)
	}
}

func (r *run) execute(ctx context.Context) (*Result, error) {
	if err := r.resolve(ctx); err != nil {
		return nil, err
	}

	r.transition(StateValidating)
	d, base, merger, err := r.validate(ctx)
	if err != nil {
		return nil, err
	}
	if d.NothingToSquash() {
		return r.noop(OutcomeNothingToSquash, d.Base), nil
	}

	r.transition(StatePlanning, "base", base.String(), "ahead", d.Ahead)
	plan, outcome, err := r.plan(ctx, d, base, merger)
	if err != nil {
		return nil, err
	}
	if outcome != "" {
		result := r.noop(outcome, base)
		if plan != nil {
			fillFromPlan(result, plan)
		}
		return result, nil
	}

	r.transition(StateSynthesizing, "tree", plan.Tree.String(), "parent", plan.Parent.String())
	newTip, err := r.s.synthesizer.Synthesize(ctx, plan)
	if err != nil {
		return nil, err
	}

	r.transition(StateUpdating, "new", newTip.String())
	if err := r.s.updater.Update(ctx, r.branch, newTip, r.tip, Reason(plan)); err != nil {
		r.log.Debugw("leaving unreferenced commit", "commit", newTip.String())
		return nil, err
	}

	result := r.noop(OutcomeSquashed, base)
	fillFromPlan(result, plan)
	result.NewTip = newTip
	result.Rewritten = true

	if plan.Rebase && merger != nil {
		if err := merger.SyncWorktree(ctx, r.branch, r.tip, newTip); err != nil {
			holonlog.Warn("branch moved but the working tree was not updated", "error", err)
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("working tree not updated: %v; run 'git reset --keep %s'", err, backend.ShortHash(newTip)))
		}
	}
	return result, nil
}

// resolve fills in the branch, its tip and the upstream tip.
func (r *run) resolve(ctx context.Context) error {
	b := r.s.backend

	name := r.opts.Branch
	if name == "" {
		current, err := b.CurrentBranch(ctx)
		if err != nil {
			return err
		}
		name = current.String()
	}
	branch, tip, err := b.ResolveBranch(ctx, name)
	if err != nil {
		return err
	}

	upstream, err := b.ResolveRevision(ctx, r.opts.Upstream)
	if err != nil {
		if errors.Is(err, errors.ErrUnresolvedReference) {
			return errors.NewRefError("resolve upstream", r.opts.Upstream, errors.ErrUnresolvedReference)
		}
		return err
	}

	r.branch, r.tip, r.upstream = branch, tip, upstream
	r.log = r.log.With("branch", branch.Short())
	return nil
}

// validate checks the repository state and locates the range to squash.
func (r *run) validate(ctx context.Context) (Divergence, plumbing.Hash, backend.Merger, error) {
	var merger backend.Merger
	if r.opts.Rebase {
		m, ok := r.s.backend.(backend.Merger)
		if !ok {
			return Divergence{}, plumbing.ZeroHash, nil,
				fmt.Errorf("%w: the %s backend cannot rebase; use --backend git", errors.ErrUnsupported, r.s.backend.Name())
		}
		merger = m
	}

	checker := preflight.NewChecker(preflight.Config{Quiet: true, Repo: r.s.backend})
	if err := checker.Run(ctx); err != nil {
		return Divergence{}, plumbing.ZeroHash, nil, err
	}

	d, err := r.s.resolver.Resolve(ctx, r.tip, r.upstream)
	if err != nil {
		return d, plumbing.ZeroHash, nil, err
	}
	if d.NothingToSquash() || r.opts.Base == "" {
		return d, d.Base, merger, nil
	}

	base, err := r.s.backend.ResolveRevision(ctx, r.opts.Base)
	if err != nil {
		if errors.Is(err, errors.ErrUnresolvedReference) {
			return d, plumbing.ZeroHash, nil, errors.NewRefError("resolve base", r.opts.Base, errors.ErrUnresolvedReference)
		}
		return d, plumbing.ZeroHash, nil, err
	}
	if err := r.s.resolver.ValidateBase(ctx, d, base); err != nil {
		return d, plumbing.ZeroHash, nil, err
	}
	return d, base, merger, nil
}

// plan builds the Plan. A non-empty outcome short-circuits the run; the
// plan is returned with it when one was built.
func (r *run) plan(ctx context.Context, d Divergence, base plumbing.Hash, merger backend.Merger) (*Plan, Outcome, error) {
	b := r.s.backend

	commits, err := b.Range(ctx, base, r.tip)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list commits: %w", err)
	}
	if len(commits) == 0 {
		return nil, OutcomeNothingToSquash, nil
	}
	tipCommit := commits[len(commits)-1]

	parent, tree := base, tipCommit.Tree
	if r.opts.Rebase && r.upstream != base {
		parent = r.upstream
		tree, err = merger.MergeTree(ctx, base, r.upstream, r.tip)
		if err != nil {
			return nil, "", err
		}
	}

	settings, err := b.Settings(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read git config: %w", err)
	}

	message, err := r.message(base, commits)
	if err != nil {
		return nil, "", err
	}
	sign := r.signing(settings)
	author, committer := r.identities(settings, commits[0])

	// One commit already sitting on the parent: rewriting it changes nothing
	// unless a new message or a missing signature was asked for.
	if len(commits) == 1 && r.opts.Message == "" && tipCommit.Tree == tree &&
		len(tipCommit.Parents) == 1 && tipCommit.Parents[0] == parent &&
		(!sign.Enabled || tipCommit.Signed) {
		return nil, OutcomeAlreadySquashed, nil
	}

	plan, err := NewPlan(PlanInput{
		Branch:           r.branch,
		OriginalTip:      r.tip,
		Upstream:         r.upstream,
		Base:             base,
		Parent:           parent,
		Tree:             tree,
		Message:          message,
		Commits:          commits,
		Author:           author,
		Committer:        committer,
		Sign:             sign,
		Rebase:           parent != base,
		WorktreeVerified: true,
	})
	if err != nil {
		return nil, "", err
	}

	if r.opts.SkipEmpty {
		empty, err := r.s.synthesizer.IsEmpty(ctx, plan)
		if err != nil {
			return nil, "", err
		}
		if empty {
			return plan, OutcomeEmpty, nil
		}
	}
	if r.opts.DryRun {
		return plan, OutcomeDryRun, nil
	}
	return plan, "", nil
}

func (r *run) message(base plumbing.Hash, commits []*backend.Commit) (string, error) {
	if r.opts.Message != "" {
		return NormalizeMessage(r.opts.Message)
	}
	style := r.opts.MessageStyle
	if style == "" {
		style = StyleSummary
	}
	return ComposeMessage(r.branch, base, commits, style), nil
}

// signing merges git's signing config with the per-run overrides.
func (r *run) signing(settings backend.Settings) backend.Signing {
	sign := backend.Signing{
		Enabled: settings.Sign,
		Key:     settings.SigningKey,
		Format:  settings.SigningFormat,
	}
	if r.opts.Sign != nil {
		sign.Enabled = *r.opts.Sign
	}
	if r.opts.SigningKey != "" {
		sign.Key = r.opts.SigningKey
	}
	return sign
}

// identities resolves author and committer the way git would, optionally
// keeping the oldest commit's author.
func (r *run) identities(settings backend.Settings, oldest *backend.Commit) (backend.Signature, backend.Signature) {
	opts := git.ConfigOptions{RepoName: settings.UserName, RepoEmail: settings.UserEmail}
	if r.opts.PreserveAuthor {
		opts.ExplicitAuthorName = oldest.Author.Name
		opts.ExplicitAuthorEmail = oldest.Author.Email
	}
	cfg := git.ResolveConfig(git.OptionsFromEnv(opts))

	now := r.s.Now()
	author := backend.Signature{Name: cfg.AuthorName, Email: cfg.AuthorEmail, When: now}
	if r.opts.PreserveAuthor {
		author.When = oldest.Author.When
	}
	committer := backend.Signature{Name: cfg.CommitterName, Email: cfg.CommitterEmail, When: now}
	return author, committer
}

func (r *run) noop(outcome Outcome, base plumbing.Hash) *Result {
	return &Result{
		Outcome:  outcome,
		Branch:   r.branch,
		OldTip:   r.tip,
		NewTip:   r.tip,
		Base:     base,
		Parent:   base,
		Upstream: r.upstream,
	}
}

func fillFromPlan(result *Result, plan *Plan) {
	result.Base = plan.Base
	result.Parent = plan.Parent
	result.Squashed = len(plan.Commits)
	result.Message = plan.Message
	result.Signed = plan.Sign.Enabled
	result.Author = plan.Author
}
