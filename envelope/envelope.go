// Package envelope wraps emitted bytecode in an authenticated, integrity-
// tagged container bound to the build seed. The layout is
//
//	magic(4) | version(1) | flags(1) | build-id(16) | nonce(12) |
//	region-count(u32) | {offset u32, length u32, hash u64}* |
//	ciphertext | tag
//
// Region hashes cover fixed windows of the ciphertext with the seed-derived
// FNV constants, so tampering is localizable before decryption and the
// region table is meaningful only for the matching build.
package envelope

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/chazu/veil/manifest"
	"github.com/chazu/veil/seed"
)

// Magic identifies the envelope format.
var Magic = [4]byte{'V', 'E', 'N', 'V'}

// Version is the current envelope format version.
const Version byte = 1

// Envelope flags.
const (
	flagEncrypted byte = 1 << 0
	flagRegions   byte = 1 << 1
)

// RegionSize is the width of one integrity window. The last region may be
// short.
const RegionSize = 64

const headerSize = 4 + 1 + 1 + 16 + 12 + 4

// ---------------------------------------------------------------------------
// Load-time errors
// ---------------------------------------------------------------------------

// LoadError classifies a rejected envelope.
type LoadError struct {
	Kind   LoadErrorKind
	Region int // valid for IntegrityFailure
}

// LoadErrorKind enumerates the load-time failure classes.
type LoadErrorKind uint8

const (
	BadMagic LoadErrorKind = iota + 1
	VersionMismatch
	BuildMismatch
	DecryptFailure
	IntegrityFailure
)

func (k LoadErrorKind) String() string {
	switch k {
	case BadMagic:
		return "bad magic"
	case VersionMismatch:
		return "version mismatch"
	case BuildMismatch:
		return "build mismatch"
	case DecryptFailure:
		return "decrypt failure"
	case IntegrityFailure:
		return "integrity failure"
	}
	return fmt.Sprintf("load error(%d)", k)
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	if e.Kind == IntegrityFailure {
		return fmt.Sprintf("envelope: integrity failure in region %d", e.Region)
	}
	return fmt.Sprintf("envelope: %s", e.Kind)
}

// ---------------------------------------------------------------------------
// Body: the sealed payload
// ---------------------------------------------------------------------------

// Body is the plaintext payload: the serialized opcode permutation and the
// bytecode it encodes. CBOR in canonical mode keeps sealing deterministic
// for a fixed nonce.
type Body struct {
	OpcodeTable []byte `cbor:"1,keyasint"`
	Code        []byte `cbor:"2,keyasint"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("envelope: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// ---------------------------------------------------------------------------
// Seal
// ---------------------------------------------------------------------------

// Seal wraps a body for the given protection level. At debug the payload
// travels in clear (the build id is still bound); standard adds the AEAD;
// paranoid additionally writes the region table.
func Seal(m *seed.Material, body *Body, level manifest.Level) ([]byte, error) {
	plain, err := encMode.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("envelope: encoding body: %w", err)
	}

	var flags byte
	var nonce [chacha20poly1305.NonceSize]byte
	payload := plain

	if level != manifest.LevelDebug {
		flags |= flagEncrypted
		if _, err := rand.Read(nonce[:]); err != nil {
			return nil, fmt.Errorf("envelope: sampling nonce: %w", err)
		}
		aead, err := chacha20poly1305.New(m.CipherKey[:])
		if err != nil {
			return nil, fmt.Errorf("envelope: cipher init: %w", err)
		}
		payload = aead.Seal(nil, nonce[:], plain, m.BuildID[:])
	}

	var regions []region
	if level == manifest.LevelParanoid {
		flags |= flagRegions
		regions = hashRegions(m, payload)
	}

	var buf bytes.Buffer
	buf.Write(Magic[:])
	buf.WriteByte(Version)
	buf.WriteByte(flags)
	buf.Write(m.BuildID[:])
	buf.Write(nonce[:])

	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(regions)))
	buf.Write(count[:])
	for _, r := range regions {
		var entry [16]byte
		binary.LittleEndian.PutUint32(entry[0:4], r.offset)
		binary.LittleEndian.PutUint32(entry[4:8], r.length)
		binary.LittleEndian.PutUint64(entry[8:16], r.hash)
		buf.Write(entry[:])
	}
	buf.Write(payload)

	return buf.Bytes(), nil
}

type region struct {
	offset uint32
	length uint32
	hash   uint64
}

func hashRegions(m *seed.Material, payload []byte) []region {
	var regions []region
	for off := 0; off < len(payload); off += RegionSize {
		end := off + RegionSize
		if end > len(payload) {
			end = len(payload)
		}
		regions = append(regions, region{
			offset: uint32(off),
			length: uint32(end - off),
			hash:   m.RegionHash(payload[off:end]),
		})
	}
	return regions
}

// ---------------------------------------------------------------------------
// Open
// ---------------------------------------------------------------------------

// Open verifies and unwraps an envelope. Verification order: magic,
// version, build id, region table (when present), authenticator. Every
// rejection is a *LoadError.
func Open(m *seed.Material, data []byte) (*Body, error) {
	if len(data) < headerSize {
		return nil, &LoadError{Kind: BadMagic}
	}
	if !bytes.Equal(data[0:4], Magic[:]) {
		return nil, &LoadError{Kind: BadMagic}
	}
	if data[4] != Version {
		return nil, &LoadError{Kind: VersionMismatch}
	}
	flags := data[5]
	if !bytes.Equal(data[6:22], m.BuildID[:]) {
		return nil, &LoadError{Kind: BuildMismatch}
	}
	var nonce [chacha20poly1305.NonceSize]byte
	copy(nonce[:], data[22:34])

	count := binary.LittleEndian.Uint32(data[34:38])
	off := headerSize
	if len(data) < off+int(count)*16 {
		return nil, &LoadError{Kind: BadMagic}
	}
	regions := make([]region, count)
	for i := range regions {
		entry := data[off+i*16:]
		regions[i] = region{
			offset: binary.LittleEndian.Uint32(entry[0:4]),
			length: binary.LittleEndian.Uint32(entry[4:8]),
			hash:   binary.LittleEndian.Uint64(entry[8:16]),
		}
	}
	payload := data[off+int(count)*16:]

	if flags&flagRegions != 0 {
		for i, r := range regions {
			start, end := int(r.offset), int(r.offset)+int(r.length)
			if start > len(payload) || end > len(payload) {
				return nil, &LoadError{Kind: IntegrityFailure, Region: i}
			}
			if m.RegionHash(payload[start:end]) != r.hash {
				return nil, &LoadError{Kind: IntegrityFailure, Region: i}
			}
		}
	}

	plain := payload
	if flags&flagEncrypted != 0 {
		aead, err := chacha20poly1305.New(m.CipherKey[:])
		if err != nil {
			return nil, fmt.Errorf("envelope: cipher init: %w", err)
		}
		plain, err = aead.Open(nil, nonce[:], payload, m.BuildID[:])
		if err != nil {
			return nil, &LoadError{Kind: DecryptFailure}
		}
	}

	var body Body
	if err := cbor.Unmarshal(plain, &body); err != nil {
		return nil, &LoadError{Kind: DecryptFailure}
	}
	return &body, nil
}
