// Package digest computes the 64-bit chain hash that is the hook's sole
// fast-path cache key (spec §4.A). The digest is a keyed BLAKE2b hash
// truncated to 8 bytes: keyed so that a malicious program file cannot
// target the hash's preimage with a chosen-prefix attack against a public
// hash function, though the key itself has no secrecy requirement (the
// chain's hash is never treated as a capability).
package digest

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"

	"golang.org/x/crypto/blake2b"

	"github.com/Shopify/shadowenv/internal/invariant"
)

const (
	recordSeparator byte = 0x1D
	fileSeparator   byte = 0x1C
)

// domainKey separates this hash's input space from any other use of
// BLAKE2b elsewhere in the process. It carries no secrecy requirement.
var domainKey = []byte("shadowenv.chain.v1")

// ProgramFile is a single file within a program directory: its basename and
// UTF-8 contents.
type ProgramFile struct {
	Name     string
	Contents string
}

// Source is one program directory's worth of files.
type Source struct {
	Dir   string
	Files []ProgramFile
}

// Hash computes the chain digest over an ordered sequence of directories.
// An empty chain, or a chain whose directories are all empty, hashes to the
// sentinel 0.
func Hash(chain []Source) uint64 {
	h, err := blake2b.New(8, domainKey)
	invariant.Invariant(err == nil, "blake2b.New(8, key) must not fail: %v", err)

	any := false
	for _, src := range chain {
		d, ok := sourceDigest(src)
		if !ok {
			// An empty directory contributes no digest (spec §4.A).
			continue
		}
		if any {
			h.Write([]byte{fileSeparator})
		}
		h.Write(d)
		any = true
	}
	if !any {
		return 0
	}
	return binary.LittleEndian.Uint64(h.Sum(nil))
}

// sourceDigest hashes one directory's sorted-by-name files. Returns false
// if the directory has no files (contributes nothing to the chain digest).
func sourceDigest(src Source) ([]byte, bool) {
	if len(src.Files) == 0 {
		return nil, false
	}

	files := make([]ProgramFile, len(src.Files))
	copy(files, src.Files)
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	h, err := blake2b.New(8, domainKey)
	invariant.Invariant(err == nil, "blake2b.New(8, key) must not fail: %v", err)

	h.Write([]byte(src.Dir))
	for _, f := range files {
		h.Write([]byte(f.Name))
		h.Write([]byte{recordSeparator})
		h.Write([]byte(f.Contents))
		h.Write([]byte{fileSeparator})
	}
	return h.Sum(nil), true
}

// Format renders a digest as 16 lowercase hex characters.
func Format(hash uint64) string {
	return fmt.Sprintf("%016x", hash)
}

// Parse reverses Format, rejecting anything that isn't exactly 16 hex
// characters.
func Parse(s string) (uint64, error) {
	if len(s) != 16 {
		return 0, fmt.Errorf("shadowenv: hash %q must be 16 hex characters", s)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("shadowenv: hash %q is not valid hex: %w", s, err)
	}
	return v, nil
}
