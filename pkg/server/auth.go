package server

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultChallengeTTL bounds how long an issued challenge stays
	// redeemable.
	DefaultChallengeTTL = 60 * time.Second

	// challengeSize is the length of the random challenge in bytes.
	challengeSize = 32
)

// ErrBadProof is what a VerifyFunc should return (or wrap) when a proof
// does not validate for the claimed identity.
var ErrBadProof = errors.New("server: proof verification failed")

// VerifyFunc validates an authentication proof. It receives the claimed
// identity, the proof bytes the client wrote to its auth-fid, and the
// challenge the engine issued. The function must independently confirm
// the proof is bound to uname; the engine interprets nothing beyond the
// returned error.
type VerifyFunc func(uname string, proof, challenge []byte) error

// AuthPolicy turns on the authentication handshake. With no policy
// configured, Tauth is refused and Tattach succeeds unauthenticated.
type AuthPolicy struct {
	// Verify validates proofs. Required.
	Verify VerifyFunc

	// TTL bounds the life of an issued challenge. Zero means
	// DefaultChallengeTTL.
	TTL time.Duration
}

func (p *AuthPolicy) ttl() time.Duration {
	if p.TTL <= 0 {
		return DefaultChallengeTTL
	}
	return p.TTL
}

// authState is one handshake in flight on an auth-fid. An auth-fid never
// carries a resource node; a resource fid never carries this.
type authState struct {
	uname     string
	aname     string
	challenge []byte
	issued    time.Time
	delivered bool // challenge read at least once
	verified  bool
}

func newAuthState(uname, aname string, now time.Time) (*authState, error) {
	ch := make([]byte, challengeSize)
	if _, err := rand.Read(ch); err != nil {
		return nil, fmt.Errorf("server: generate challenge: %w", err)
	}
	return &authState{
		uname:     uname,
		aname:     aname,
		challenge: ch,
		issued:    now,
	}, nil
}

func (a *authState) expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(a.issued) > ttl
}
