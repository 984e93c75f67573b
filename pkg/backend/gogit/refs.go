package gogit

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage"

	"github.com/holon-run/squish/pkg/errors"
	holonlog "github.com/holon-run/squish/pkg/log"
)

// CompareAndSwapRef moves name from oldHash to newHash.
//
// On a filesystem repository this follows git's own protocol: create
// "<ref>.lock", check the current value while holding it, write the new
// value into the lock file and rename it over the ref. Readers see either
// the old or the new file, never a partial one.
func (b *Backend) CompareAndSwapRef(ctx context.Context, name plumbing.ReferenceName, newHash, oldHash plumbing.Hash, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fs := b.dotGit()
	if fs == nil {
		return b.checkAndSet(name, newHash, oldHash)
	}

	lock, err := lockRef(fs, name)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			lock.release()
		}
	}()

	current, err := readRef(fs, name)
	if err != nil {
		return err
	}
	switch {
	case current.IsZero():
		return fmt.Errorf("%w: %s was deleted", errors.ErrConcurrentModification, name)
	case current != oldHash:
		return fmt.Errorf("%w: %s no longer points at %s", errors.ErrConcurrentModification, name, oldHash)
	}

	if err := lock.commit(newHash); err != nil {
		return err
	}
	committed = true

	holonlog.Debug("reference updated", "ref", name.String(), "old", oldHash.String(), "new", newHash.String(), "reason", reason)
	return nil
}

// checkAndSet is the CAS for storage without a filesystem, e.g. memory.
func (b *Backend) checkAndSet(name plumbing.ReferenceName, newHash, oldHash plumbing.Hash) error {
	newRef := plumbing.NewHashReference(name, newHash)
	oldRef := plumbing.NewHashReference(name, oldHash)
	if err := b.repo.Storer.CheckAndSetReference(newRef, oldRef); err != nil {
		if err == storage.ErrReferenceHasChanged || err == plumbing.ErrReferenceNotFound {
			return fmt.Errorf("%w: %s no longer points at %s", errors.ErrConcurrentModification, name, oldHash)
		}
		return fmt.Errorf("failed to update %s: %w", name, err)
	}
	return nil
}

// refLock is a held "<ref>.lock" file.
type refLock struct {
	fs   billy.Filesystem
	name plumbing.ReferenceName
	path string
	file billy.File
}

// lockRef creates the git lock file for name.
func lockRef(fs billy.Filesystem, name plumbing.ReferenceName) (*refLock, error) {
	path := name.String() + ".lock"
	f, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrExist):
			return nil, fmt.Errorf("%w: %s is locked by another process", errors.ErrConcurrentModification, name)
		case errors.Is(err, os.ErrPermission):
			return nil, fmt.Errorf("%w: cannot lock %s: %v", errors.ErrPermissionDenied, name, err)
		default:
			return nil, fmt.Errorf("failed to lock %s: %w", name, err)
		}
	}
	return &refLock{fs: fs, name: name, path: path, file: f}, nil
}

// commit writes hash into the lock file and renames it over the ref.
func (l *refLock) commit(hash plumbing.Hash) error {
	_, werr := l.file.Write([]byte(hash.String() + "\n"))
	cerr := l.file.Close()
	l.file = nil
	if werr != nil {
		return fmt.Errorf("failed to write %s: %w", l.path, werr)
	}
	if cerr != nil {
		return fmt.Errorf("failed to write %s: %w", l.path, cerr)
	}
	if err := l.fs.Rename(l.path, l.name.String()); err != nil {
		if errors.Is(err, os.ErrPermission) {
			return fmt.Errorf("%w: %s: %v", errors.ErrPermissionDenied, l.name, err)
		}
		return fmt.Errorf("failed to update %s: %w", l.name, err)
	}
	return nil
}

// release drops the lock without touching the ref.
func (l *refLock) release() {
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
	if err := l.fs.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		holonlog.Warn("failed to remove ref lock", "path", l.path, "error", err)
	}
}

// readRef returns the current value of name: the loose file if present,
// else its packed-refs entry, else the zero hash.
func readRef(fs billy.Filesystem, name plumbing.ReferenceName) (plumbing.Hash, error) {
	data, err := util.ReadFile(fs, name.String())
	switch {
	case err == nil:
		line := strings.TrimSpace(string(data))
		if strings.HasPrefix(line, "ref: ") || !plumbing.IsHash(line) {
			return plumbing.ZeroHash, fmt.Errorf("%w: %s is not a direct reference", errors.ErrConcurrentModification, name)
		}
		return plumbing.NewHash(line), nil
	case errors.Is(err, os.ErrNotExist):
		return packedHash(fs, name)
	case errors.Is(err, os.ErrPermission):
		return plumbing.ZeroHash, fmt.Errorf("%w: %s: %v", errors.ErrPermissionDenied, name, err)
	default:
		return plumbing.ZeroHash, fmt.Errorf("failed to read %s: %w", name, err)
	}
}

// packedHash returns the value of name in packed-refs, or the zero hash.
func packedHash(fs billy.Filesystem, name plumbing.ReferenceName) (plumbing.Hash, error) {
	data, err := util.ReadFile(fs, "packed-refs")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return plumbing.ZeroHash, nil
		}
		return plumbing.ZeroHash, fmt.Errorf("failed to read packed-refs: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" || line[0] == '#' || line[0] == '^' {
			continue
		}
		hash, ref, ok := strings.Cut(strings.TrimSpace(line), " ")
		if ok && ref == name.String() {
			return plumbing.NewHash(hash), nil
		}
	}
	return plumbing.ZeroHash, nil
}
