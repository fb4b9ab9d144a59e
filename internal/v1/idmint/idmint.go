// Package idmint mints the opaque identifiers and human-legible room codes
// used across the signaling server. All identifiers except room codes are
// 128-bit random values compared only by equality; room codes are short
// strings drawn from an alphabet with the visually-ambiguous glyphs removed,
// since they are read aloud and typed by players.
package idmint

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// unambiguousAlphabet excludes 0, O, 1, I so room codes read cleanly over
// voice chat and don't get mistyped on a game controller's on-screen keyboard.
const unambiguousAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// DefaultRoomCodeLength is used when the caller does not request a specific
// length.
const DefaultRoomCodeLength = 6

// defaultMaxCollisionRetries bounds how many times FreshRoomCode will retry
// against a caller-supplied "taken" check before giving up.
const defaultMaxCollisionRetries = 8

// ID is a 128-bit opaque identifier. It is never interpreted, only compared.
type ID uuid.UUID

// Nil is the zero-value ID, used to represent "no id".
var Nil ID

// String renders the canonical lowercase, dash-separated hex form required
// by the wire protocol (spec §6: "identifiers are lowercase canonical 128-bit
// hex with dashes").
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether id is the zero value.
func (id ID) IsNil() bool {
	return id == Nil
}

// ParseID parses the canonical hex-with-dashes form back into an ID.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("idmint: parse id %q: %w", s, err)
	}
	return ID(u), nil
}

// FreshID returns a uniformly random 128-bit identifier. Collision
// probability is negligible (122 bits of randomness for a v4 UUID), so no
// caller-side uniqueness check is required.
func FreshID() ID {
	return ID(uuid.New())
}

// ErrRoomCreationFailed is returned by FreshRoomCode when no unused code
// could be minted within the retry budget. Callers surface this as the wire
// error code ROOM_CREATION_FAILED.
type ErrRoomCreationFailed struct {
	Attempts int
}

func (e *ErrRoomCreationFailed) Error() string {
	return fmt.Sprintf("idmint: exhausted %d attempts minting a free room code", e.Attempts)
}

// TakenFunc reports whether a candidate room code is already in use by a
// live room in the same game namespace. The mint retries on true.
type TakenFunc func(code string) bool

// FreshRoomCode concatenates prefix with length characters drawn from the
// unambiguous alphabet. If a TakenFunc is supplied and reports the candidate
// as already live, it retries up to maxRetries times (defaulting to 8) before
// returning ErrRoomCreationFailed — grounded on the bounded retry-over-the-
// keyspace pattern used for numeric rendezvous codes in the wider pack
// (collision retry with reclaim-on-expiry, same shape here without the
// reclaim since the caller's TakenFunc already reflects live rooms only).
func FreshRoomCode(length int, prefix string, maxRetries int, taken TakenFunc) (string, error) {
	if length <= 0 {
		length = DefaultRoomCodeLength
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxCollisionRetries
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		code, err := randomCode(length)
		if err != nil {
			return "", fmt.Errorf("idmint: generate room code: %w", err)
		}
		candidate := prefix + code
		if taken == nil || !taken(candidate) {
			return candidate, nil
		}
	}
	return "", &ErrRoomCreationFailed{Attempts: maxRetries}
}

func randomCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	alphabetSize := big.NewInt(int64(len(unambiguousAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		b.WriteByte(unambiguousAlphabet[n.Int64()])
	}
	return b.String(), nil
}
