package squash

import (
	"context"
	"testing"

	"github.com/holon-run/squish/internal/testutil"
	"github.com/holon-run/squish/pkg/backend/gogit"
	"github.com/holon-run/squish/pkg/errors"
)

func TestResolve(t *testing.T) {
	r := forkedRepo(t)
	resolver := NewResolver(gogit.New(r.Git, gogit.Options{}))
	ctx := context.Background()

	initial := r.CommitObject(r.BranchHash("main")).ParentHashes[0]

	t.Run("diverged", func(t *testing.T) {
		d, err := resolver.Resolve(ctx, r.BranchHash("topic"), r.BranchHash("main"))
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if d.Base != initial {
			t.Errorf("Base = %s, want %s", d.Base, initial)
		}
		if d.Ahead != 3 {
			t.Errorf("Ahead = %d, want 3", d.Ahead)
		}
		if d.NothingToSquash() {
			t.Error("NothingToSquash() = true")
		}
	})

	t.Run("identical", func(t *testing.T) {
		tip := r.BranchHash("topic")
		d, err := resolver.Resolve(ctx, tip, tip)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if !d.Identical() || !d.NothingToSquash() || d.Base != tip {
			t.Errorf("Resolve() = %+v", d)
		}
	})

	t.Run("behind upstream", func(t *testing.T) {
		d, err := resolver.Resolve(ctx, initial, r.BranchHash("main"))
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if d.Identical() || !d.NothingToSquash() || d.Ahead != 0 {
			t.Errorf("Resolve() = %+v", d)
		}
	})

	t.Run("unrelated", func(t *testing.T) {
		orphan := r.Orphan("orphan", "other.txt", "x\n", "Unrelated root")
		_, err := resolver.Resolve(ctx, orphan, r.BranchHash("main"))
		if !errors.Is(err, errors.ErrUnrelatedHistories) {
			t.Errorf("Resolve() error = %v, want ErrUnrelatedHistories", err)
		}
	})
}

func TestValidateBase(t *testing.T) {
	r := testutil.NewRepo(t)
	initial := r.CommitFile("README.md", "base\n", "Initial commit")
	r.CheckoutNew("topic")
	a := r.CommitFile("a.txt", "a\n", "Add a")
	r.CommitFile("b.txt", "b\n", "Add b")
	tip := r.CommitFile("c.txt", "c\n", "Add c")
	r.Checkout("main")
	mainTip := r.CommitFile("main.txt", "m\n", "Main work")

	resolver := NewResolver(gogit.New(r.Git, gogit.Options{}))
	ctx := context.Background()
	d, err := resolver.Resolve(ctx, tip, mainTip)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	tests := []struct {
		name    string
		base    string
		wantErr bool
	}{
		{name: "divergence point", base: initial.String()},
		{name: "inside the branch", base: a.String()},
		{name: "branch tip", base: tip.String(), wantErr: true},
		{name: "upstream commit", base: mainTip.String(), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := resolver.ValidateBase(ctx, d, hash(tt.base))
			if tt.wantErr {
				if !errors.Is(err, errors.ErrInvalidBase) {
					t.Errorf("ValidateBase() error = %v, want ErrInvalidBase", err)
				}
				return
			}
			if err != nil {
				t.Errorf("ValidateBase() error = %v", err)
			}
		})
	}
}
