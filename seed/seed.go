// Package seed loads the per-build secret and derives every build-specific
// constant from it: the opcode permutation stream, the envelope cipher key,
// the build id, the region-hash constants, the substitution stream, and the
// yield mask. Build and runtime must be constructed from the same seed;
// nothing here is process-global.
package seed

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// SeedSize is the size of the build secret in bytes.
const SeedSize = 32

// EnvKey is the environment variable that, when set to 64 hex characters,
// supersedes the seed file and makes builds reproducible across machines.
const EnvKey = "VEIL_BUILD_KEY"

// FileName is the name of the seed file created next to the build tree when
// no environment key is present.
const FileName = ".veil_seed"

// Derivation labels. Each derived output uses its own HKDF info string so
// no two outputs are related.
const (
	labelOpcodeShuffle = "veil/opcode-shuffle/v1"
	labelCipherKey     = "veil/envelope-key/v1"
	labelBuildID       = "veil/build-id/v1"
	labelRegionFNV     = "veil/region-fnv/v1"
	labelSubstStream   = "veil/subst-stream/v1"
	labelYieldMask     = "veil/yield-mask/v1"
)

// Seed is the 32-byte per-build secret.
type Seed [SeedSize]byte

// Load returns the build seed. Resolution order: the VEIL_BUILD_KEY
// environment variable, then the seed file under dir, then a freshly
// sampled seed persisted to that file.
func Load(dir string) (Seed, error) {
	if hexKey := os.Getenv(EnvKey); hexKey != "" {
		return parseHex(hexKey)
	}

	path := filepath.Join(dir, FileName)
	if data, err := os.ReadFile(path); err == nil {
		return parseHex(string(data))
	}

	var s Seed
	if _, err := rand.Read(s[:]); err != nil {
		return Seed{}, fmt.Errorf("seed: sampling: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(s[:])), 0o600); err != nil {
		return Seed{}, fmt.Errorf("seed: persisting %s: %w", path, err)
	}
	return s, nil
}

func parseHex(text string) (Seed, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(text))
	if err != nil {
		return Seed{}, fmt.Errorf("seed: decoding hex: %w", err)
	}
	if len(raw) != SeedSize {
		return Seed{}, fmt.Errorf("seed: expected %d bytes, got %d", SeedSize, len(raw))
	}
	var s Seed
	copy(s[:], raw)
	return s, nil
}

// ---------------------------------------------------------------------------
// Material: the derived key bundle
// ---------------------------------------------------------------------------

// Material is the full bundle of constants derived from one seed. It is
// immutable after construction and threaded into both the compiler and the
// engine.
type Material struct {
	// CipherKey is the 32-byte key for the envelope AEAD.
	CipherKey [32]byte

	// BuildID is the 16-byte public fingerprint of the seed.
	BuildID [16]byte

	// RegionOffset and RegionPrime are the FNV-style hash constants used
	// for envelope region hashing and the HASH opcode.
	RegionOffset uint64
	RegionPrime  uint64

	// YieldMask is a power-of-two-minus-one in [63, 255], consumed only by
	// the cooperative driver.
	YieldMask uint64

	seed Seed
}

// Derive computes the material bundle for a seed.
func Derive(s Seed) (*Material, error) {
	m := &Material{seed: s}

	if err := expand(s, labelCipherKey, m.CipherKey[:]); err != nil {
		return nil, err
	}
	if err := expand(s, labelBuildID, m.BuildID[:]); err != nil {
		return nil, err
	}

	var fnv [16]byte
	if err := expand(s, labelRegionFNV, fnv[:]); err != nil {
		return nil, err
	}
	m.RegionOffset = binary.LittleEndian.Uint64(fnv[0:8])
	// The multiplier must be odd so the hash permutes the word space.
	m.RegionPrime = binary.LittleEndian.Uint64(fnv[8:16]) | 1

	var ym [1]byte
	if err := expand(s, labelYieldMask, ym[:]); err != nil {
		return nil, err
	}
	switch ym[0] % 3 {
	case 0:
		m.YieldMask = 63
	case 1:
		m.YieldMask = 127
	default:
		m.YieldMask = 255
	}

	return m, nil
}

// ShuffleStream returns the PRF stream that keys the opcode permutation.
// The stream is reproducible: two calls yield identical bytes.
func (m *Material) ShuffleStream() *Stream {
	return newStream(m.seed, labelOpcodeShuffle)
}

// SubstStream returns the deterministic stream the compiler consumes when it
// chooses among equivalent lowerings. Position-reproducible: compiling the
// same tree twice with the same seed reads the same bytes.
func (m *Material) SubstStream() *Stream {
	return newStream(m.seed, labelSubstStream)
}

// RegionHash hashes data with the build-specific FNV constants.
func (m *Material) RegionHash(data []byte) uint64 {
	h := m.RegionOffset
	for _, b := range data {
		h ^= uint64(b)
		h *= m.RegionPrime
	}
	return h
}

func expand(s Seed, label string, out []byte) error {
	r := hkdf.New(sha256.New, s[:], nil, []byte(label))
	if _, err := io.ReadFull(r, out); err != nil {
		return fmt.Errorf("seed: deriving %s: %w", label, err)
	}
	return nil
}
