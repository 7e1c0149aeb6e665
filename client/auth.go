package client

import (
	"crypto/hmac"
	"crypto/rand"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// ChallengeSize is the number of random bytes in an authentication challenge.
const ChallengeSize = 20

// NewChallenge returns a fresh random challenge.
func NewChallenge() ([]byte, error) {
	challenge := make([]byte, ChallengeSize)
	if _, err := rand.Read(challenge); err != nil {
		return nil, err
	}
	return challenge, nil
}

func newBlake2b() hash.Hash {
	// New256 only fails for keys longer than 64 bytes.
	h, _ := blake2b.New256(nil)
	return h
}

// Digest computes HMAC-BLAKE2b-256 of challenge keyed with the shared secret.
func Digest(key string, challenge []byte) []byte {
	mac := hmac.New(newBlake2b, []byte(key))
	mac.Write(challenge)
	return mac.Sum(nil)
}

// Verify reports whether digest answers challenge under key, in constant time.
func Verify(key string, challenge, digest []byte) bool {
	return hmac.Equal(Digest(key, challenge), digest)
}
