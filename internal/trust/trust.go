// Package trust implements per-directory Ed25519 trust tokens (spec
// §4.E). A directory is trusted once its .shadowenv.d carries a signature
// of its own path produced by a key this machine holds; anyone who can
// write to the directory but not sign with that key cannot expand what the
// engine is willing to evaluate there.
//
// Grounded on original_source/src/trust.rs, adjusted per spec §9 for the
// signing-key migration (tolerate the old 64-byte keypair format) and
// atomic token writes.
package trust

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/Shopify/shadowenv/internal/invariant"
)

const keyRelPath = ".config/shadowenv/trust-key-v2"

// gitignoreAlreadyIgnoring matches a gitignore line that already ignores
// everything (`*`, `/*`) or every dot-entry (`.*`, `/.*`, the line Trust
// itself writes); when one is present, Trust appends nothing.
var gitignoreAlreadyIgnoring = regexp.MustCompile(`(?m)^/?\.?\*$`)

// NotTrustedError reports every chain directory lacking a valid token.
type NotTrustedError struct {
	Dirs []string
}

func (e *NotTrustedError) Error() string {
	return fmt.Sprintf("shadowenv: untrusted directories (run `shadowenv trust` in each): %v", e.Dirs)
}

// LoadOrGenerateSigner reads the persisted signing key under homeDir,
// generating and persisting one on first use. The on-disk format is a
// 32-byte Ed25519 seed; an older 64-byte keypair format is tolerated by
// reading only its first 32 bytes and regenerating the verifying key from
// them (spec §9 "Signing key migration").
func LoadOrGenerateSigner(homeDir string) (ed25519.PrivateKey, error) {
	path := filepath.Join(homeDir, keyRelPath)

	bytes, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(bytes) < ed25519.SeedSize {
			return nil, fmt.Errorf("shadowenv: signing key at %s is truncated", path)
		}
		return ed25519.NewKeyFromSeed(bytes[:ed25519.SeedSize]), nil
	case os.IsNotExist(err):
		return generateSigner(path)
	default:
		return nil, fmt.Errorf("shadowenv: reading signing key %s: %w", path, err)
	}
}

func generateSigner(path string) (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("shadowenv: generating signing key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("shadowenv: creating %s: %w", filepath.Dir(path), err)
	}
	seed := priv.Seed()
	if err := writeFileAtomic(path, seed, 0o600); err != nil {
		return nil, fmt.Errorf("shadowenv: persisting signing key: %w", err)
	}
	return priv, nil
}

// Fingerprint is the first 4 bytes of the verifying key, hex-encoded, so
// multiple signers (e.g. different machines or users) can coexist as
// distinct trust tokens in the same directory.
func Fingerprint(priv ed25519.PrivateKey) string {
	pub := priv.Public().(ed25519.PublicKey)
	return hex.EncodeToString(pub[:4])
}

func tokenPath(root string, priv ed25519.PrivateKey) string {
	return filepath.Join(root, ".trust-"+Fingerprint(priv))
}

// Trust signs root's own path and writes the token, then ensures .gitignore
// excludes the dotfiles shadowenv writes into the directory.
func Trust(root string, priv ed25519.PrivateKey) error {
	invariant.Precondition(filepath.IsAbs(root), "trust root must be absolute, got %q", root)

	sig := ed25519.Sign(priv, []byte(root))
	if err := writeFileAtomic(tokenPath(root, priv), sig, 0o644); err != nil {
		return fmt.Errorf("shadowenv: writing trust token: %w", err)
	}
	return writeGitignore(root)
}

// IsTrusted verifies root's token against priv's public half. A missing or
// malformed token is reported as untrusted, not as an error: a corrupted
// signature file must never be treated as implicit trust.
func IsTrusted(root string, priv ed25519.PrivateKey) (bool, error) {
	bytes, err := os.ReadFile(tokenPath(root, priv))
	switch {
	case err == nil:
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, fmt.Errorf("shadowenv: reading trust token: %w", err)
	}

	if len(bytes) != ed25519.SignatureSize {
		return false, nil
	}
	pub := priv.Public().(ed25519.PublicKey)
	return ed25519.Verify(pub, []byte(root), bytes), nil
}

// EnsureTreeTrusted verifies every directory in the chain, collecting all
// untrusted roots into a single NotTrustedError rather than failing on the
// first one, so a user can see the whole chain's trust state at once.
func EnsureTreeTrusted(roots []string, priv ed25519.PrivateKey) error {
	var untrusted []string
	for _, root := range roots {
		ok, err := IsTrusted(root, priv)
		if err != nil {
			return err
		}
		if !ok {
			untrusted = append(untrusted, root)
		}
	}
	if len(untrusted) > 0 {
		sort.Strings(untrusted)
		return &NotTrustedError{Dirs: untrusted}
	}
	return nil
}

func writeGitignore(root string) error {
	path := filepath.Join(root, ".gitignore")

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("shadowenv: reading %s: %w", path, err)
	}

	if gitignoreAlreadyIgnoring.Match(existing) {
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("shadowenv: opening %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString("/.*\n!/.gitignore\n"); err != nil {
		return fmt.Errorf("shadowenv: writing %s: %w", path, err)
	}
	return nil
}

// writeFileAtomic writes data to a temporary sibling of path and renames it
// into place, so a concurrent reader never observes a partially written
// token (spec §9 "Atomicity of trust tokens").
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
