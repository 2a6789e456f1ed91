// Package token implements the time-windowed bearer tokens used to
// authenticate requests against a node's management API.
//
// A token is derived from a long-term shared secret and the current coarse
// time window, so client and agent stay in sync with no handshake, nonce, or
// stored session: both sides compute the same value from the same secret and
// clock. The secret itself is never transmitted.
//
// The derivation is a protocol contract. [WindowSeconds], [SegmentSize],
// [SegmentCount], the SHA-256 digest, and the digit/base64 formatting must
// all match the agent's verifier exactly; changing any of them requires a
// coordinated client and agent upgrade.
package token

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// WindowSeconds is the width of the time bucket tokens are derived from.
	// A token is valid for one window. This is a protocol constant: the
	// agent's verifier must use the same value or every request fails.
	WindowSeconds = 15

	// SegmentSize is the length in bytes of each secret segment.
	SegmentSize = 64

	// SegmentCount is the number of segments in a secret.
	SegmentCount = 6

	// SecretSize is the required decoded length of a secret.
	SecretSize = SegmentSize * SegmentCount

	// codeDigits is the number of decimal digits per segment code.
	codeDigits = 6

	// codeModulus reduces the leading digest bytes to a codeDigits-wide code.
	codeModulus = 1_000_000
)

// Invalid is the sentinel returned when a secret cannot be decoded or has
// the wrong length. Its base64 payload is not 36 ASCII digits, so any
// conforming verifier rejects it. Returning a well-formed-but-unverifiable
// token instead of an error lets callers treat bad credentials like any
// other failed request.
var Invalid = base64.StdEncoding.EncodeToString([]byte("invalid"))

// Generate derives the bearer token for the given base64-encoded secret at
// the given instant.
//
// The secret must decode to exactly [SecretSize] bytes. For each
// [SegmentSize]-byte segment, the code is
//
//	BE_uint32(SHA-256(segment ‖ BE_uint64(window))[0:4]) mod 1e6
//
// zero-padded to six digits. The six codes are concatenated (36 digits) and
// base64-encoded.
//
// Generate never returns an error: an undecodable or wrong-length secret
// yields [Invalid]. Two calls with the same secret inside the same time
// window produce byte-identical tokens.
func Generate(secret string, now time.Time) string {
	raw, err := base64.StdEncoding.DecodeString(secret)
	if err != nil || len(raw) != SecretSize {
		return Invalid
	}
	return encode(raw, window(now))
}

// Window returns the time window index for the given instant.
func Window(now time.Time) int64 {
	return window(now)
}

// Verify reports whether tok is the valid token for the given secret at the
// given instant, accepting the current window and its immediate neighbours
// to tolerate small client/agent clock skew.
//
// Verify is the agent-side counterpart of [Generate]; it is exported so an
// in-process agent (or a test) can check tokens the same way a production
// node does.
func Verify(secret, tok string, now time.Time) bool {
	raw, err := base64.StdEncoding.DecodeString(secret)
	if err != nil || len(raw) != SecretSize {
		return false
	}

	w := window(now)
	for _, candidate := range []int64{w, w - 1, w + 1} {
		expected := encode(raw, candidate)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(tok)) == 1 {
			return true
		}
	}
	return false
}

// window buckets wall-clock seconds into WindowSeconds-wide intervals.
func window(now time.Time) int64 {
	return now.Unix() / WindowSeconds
}

// encode derives the token for an already-decoded secret and window index.
func encode(raw []byte, window int64) string {
	var windowBytes [8]byte
	binary.BigEndian.PutUint64(windowBytes[:], uint64(window))

	digits := make([]byte, 0, SegmentCount*codeDigits)
	for i := 0; i < SegmentCount; i++ {
		segment := raw[i*SegmentSize : (i+1)*SegmentSize]

		h := sha256.New()
		h.Write(segment)
		h.Write(windowBytes[:])
		sum := h.Sum(nil)

		code := binary.BigEndian.Uint32(sum[:4]) % codeModulus
		digits = fmt.Appendf(digits, "%06d", code)
	}

	return base64.StdEncoding.EncodeToString(digits)
}
