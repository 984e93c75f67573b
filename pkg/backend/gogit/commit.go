package gogit

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/holon-run/squish/pkg/backend"
	"github.com/holon-run/squish/pkg/errors"
	holonlog "github.com/holon-run/squish/pkg/log"
)

// CreateCommit encodes and stores a new commit object. No reference moves.
func (b *Backend) CreateCommit(ctx context.Context, req backend.CommitRequest) (plumbing.Hash, error) {
	if err := ctx.Err(); err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := b.repo.TreeObject(req.Tree); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to read tree %s: %w", req.Tree, err)
	}

	commit := &object.Commit{
		Author:       toSignature(req.Author),
		Committer:    toSignature(req.Committer),
		Message:      req.Message,
		TreeHash:     req.Tree,
		ParentHashes: req.Parents,
	}

	if req.Signing.Enabled {
		signature, err := b.sign(commit, req.Signing)
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("%w: %v", errors.ErrSigningFailed, err)
		}
		commit.PGPSignature = signature
	}

	obj := b.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to encode commit: %w", err)
	}
	hash, err := b.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		if os.IsPermission(err) {
			return plumbing.ZeroHash, fmt.Errorf("%w: write commit object: %v", errors.ErrPermissionDenied, err)
		}
		return plumbing.ZeroHash, fmt.Errorf("failed to store commit: %w", err)
	}

	holonlog.Debug("created commit", "hash", hash.String(), "tree", req.Tree.String(), "signed", req.Signing.Enabled)
	return hash, nil
}

// signingRemedy names the ways out when commit.gpgsign asks for a signature
// this backend cannot produce.
const signingRemedy = "use --backend git to sign with gpg, or --no-sign"

// sign produces an armored detached OpenPGP signature over the commit
// encoded without its signature header, which is what git verifies.
func (b *Backend) sign(commit *object.Commit, signing backend.Signing) (string, error) {
	if signing.Format != "" && signing.Format != "openpgp" {
		return "", fmt.Errorf("gpg.format %q is not supported by the %s backend (%s)", signing.Format, Name, signingRemedy)
	}
	if b.opts.SigningKeyring == "" {
		return "", fmt.Errorf("no signing keyring configured for the %s backend (set --keyring, %s)", Name, signingRemedy)
	}

	entity, err := loadSigningEntity(b.opts.SigningKeyring, signing.Key, b.opts.Passphrase)
	if err != nil {
		return "", err
	}

	unsigned := &plumbing.MemoryObject{}
	if err := commit.EncodeWithoutSignature(unsigned); err != nil {
		return "", fmt.Errorf("failed to encode commit for signing: %w", err)
	}
	reader, err := unsigned.Reader()
	if err != nil {
		return "", err
	}
	defer reader.Close()

	var sig bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&sig, entity, reader, nil); err != nil {
		return "", fmt.Errorf("failed to sign commit: %w", err)
	}
	return sig.String(), nil
}

// loadSigningEntity reads a keyring and picks the private key matching key.
// key may be a key id or fingerprint (optionally 0x-prefixed) or a string
// contained in one of the key's user ids. An empty key picks the first
// private key in the ring.
func loadSigningEntity(path, key, passphrase string) (*openpgp.Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing keyring: %w", err)
	}

	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if err != nil {
		entities, err = openpgp.ReadKeyRing(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to parse signing keyring: %w", err)
		}
	}

	var entity *openpgp.Entity
	for _, candidate := range entities {
		if candidate.PrivateKey == nil {
			continue
		}
		if key == "" || matchesKey(candidate, key) {
			entity = candidate
			break
		}
	}
	if entity == nil {
		if key == "" {
			return nil, fmt.Errorf("no private key in %s", path)
		}
		return nil, fmt.Errorf("no private key matching %q in %s", key, path)
	}

	if err := decrypt(entity, passphrase); err != nil {
		return nil, err
	}
	return entity, nil
}

func matchesKey(entity *openpgp.Entity, key string) bool {
	want := strings.ToUpper(strings.TrimPrefix(strings.TrimPrefix(key, "0x"), "0X"))
	want = strings.TrimSuffix(want, "!")
	fingerprint := strings.ToUpper(fmt.Sprintf("%X", entity.PrimaryKey.Fingerprint))
	if want != "" && strings.HasSuffix(fingerprint, want) {
		return true
	}
	for _, sub := range entity.Subkeys {
		if sub.PrivateKey == nil {
			continue
		}
		if strings.HasSuffix(strings.ToUpper(fmt.Sprintf("%X", sub.PublicKey.Fingerprint)), want) {
			return true
		}
	}
	for name := range entity.Identities {
		if strings.Contains(name, key) {
			return true
		}
	}
	return false
}

func decrypt(entity *openpgp.Entity, passphrase string) error {
	encrypted := entity.PrivateKey.Encrypted
	for _, sub := range entity.Subkeys {
		if sub.PrivateKey != nil && sub.PrivateKey.Encrypted {
			encrypted = true
		}
	}
	if !encrypted {
		return nil
	}
	if passphrase == "" {
		return fmt.Errorf("signing key is encrypted and no passphrase was provided")
	}
	if entity.PrivateKey.Encrypted {
		if err := entity.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
			return fmt.Errorf("failed to decrypt signing key: %w", err)
		}
	}
	for _, sub := range entity.Subkeys {
		if sub.PrivateKey != nil && sub.PrivateKey.Encrypted {
			if err := sub.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
				return fmt.Errorf("failed to decrypt signing subkey: %w", err)
			}
		}
	}
	return nil
}
