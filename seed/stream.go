package seed

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
)

// ---------------------------------------------------------------------------
// Stream: deterministic PRF byte stream
// ---------------------------------------------------------------------------

// Stream is a deterministic pseudo-random byte stream keyed by the seed and
// a domain label. Blocks are HMAC-SHA256(seed, label || counter), so the
// stream has no length limit and byte i is the same on every run.
type Stream struct {
	key     []byte
	label   []byte
	counter uint64
	block   [sha256.Size]byte
	used    int
}

func newStream(s Seed, label string) *Stream {
	st := &Stream{
		key:   append([]byte(nil), s[:]...),
		label: []byte(label),
		used:  sha256.Size, // force a refill on first read
	}
	return st
}

func (s *Stream) refill() {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(s.label)
	var ctr [8]byte
	binary.LittleEndian.PutUint64(ctr[:], s.counter)
	mac.Write(ctr[:])
	mac.Sum(s.block[:0])
	s.counter++
	s.used = 0
}

// Byte returns the next stream byte.
func (s *Stream) Byte() byte {
	if s.used >= sha256.Size {
		s.refill()
	}
	b := s.block[s.used]
	s.used++
	return b
}

// Uint64 returns the next 8 stream bytes as a little-endian word.
func (s *Stream) Uint64() uint64 {
	var buf [8]byte
	for i := range buf {
		buf[i] = s.Byte()
	}
	return binary.LittleEndian.Uint64(buf[:])
}

// Intn returns a value in [0, n) drawn from the stream. n must be positive.
func (s *Stream) Intn(n int) int {
	if n <= 0 {
		panic("seed: Intn with non-positive bound")
	}
	return int(s.Uint64() % uint64(n))
}
