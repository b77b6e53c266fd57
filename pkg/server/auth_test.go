package server

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/jrsharp/9p4z-sub000/pkg/proto"
)

// trustingPolicy accepts any proof equal to the challenge reversed, a
// stand-in for real cryptographic verification.
func trustingPolicy(ttl time.Duration) *AuthPolicy {
	return &AuthPolicy{
		TTL: ttl,
		Verify: func(uname string, proof, challenge []byte) error {
			if !bytes.Equal(proof, reverse(challenge)) {
				return ErrBadProof
			}
			return nil
		},
	}
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[len(b)-1-i] = c
	}
	return out
}

func newAuthSession(t *testing.T, ttl time.Duration) *Session {
	t.Helper()
	s := newTestSession(t, newFakeFS(), WithAuthPolicy(trustingPolicy(ttl)))
	negotiate(t, s)
	return s
}

// startAuth runs Tauth and reads the full challenge back.
func startAuth(t *testing.T, s *Session, afid uint32, uname string) []byte {
	t.Helper()
	r := call(t, s, 1, &proto.Tauth{Afid: afid, Uname: uname})
	ra, ok := r.(*proto.Rauth)
	if !ok {
		t.Fatalf("auth reply = %+v", r)
	}
	if !ra.Aqid.IsAuth() {
		t.Fatalf("aqid %v lacks the auth bit", ra.Aqid)
	}
	rr, ok := call(t, s, 2, &proto.Tread{Fid: afid, Offset: 0, Count: 256}).(*proto.Rread)
	if !ok {
		t.Fatal("challenge read failed")
	}
	return rr.Data
}

func TestAuthRefusedWithoutPolicy(t *testing.T) {
	s := newTestSession(t, newFakeFS())
	negotiate(t, s)
	wantRerror(t, call(t, s, 1, &proto.Tauth{Afid: 9, Uname: "user"}), enameNoAuth)
}

func TestAuthHandshake(t *testing.T) {
	s := newAuthSession(t, 0)

	challenge := startAuth(t, s, 9, "glenda")
	if len(challenge) != challengeSize {
		t.Fatalf("challenge length = %d, want %d", len(challenge), challengeSize)
	}

	// Attach must not succeed before the proof lands.
	wantRerror(t, call(t, s, 3, &proto.Tattach{Fid: 0, Afid: 9, Uname: "glenda"}), enameAuthFailed)

	r := call(t, s, 4, &proto.Twrite{Fid: 9, Offset: 0, Data: reverse(challenge)})
	if _, ok := r.(*proto.Rwrite); !ok {
		t.Fatalf("proof write reply = %+v", r)
	}

	if _, ok := call(t, s, 5, &proto.Tattach{Fid: 0, Afid: 9, Uname: "glenda"}).(*proto.Rattach); !ok {
		t.Fatal("attach after verified handshake failed")
	}
}

func TestAttachRequiresAfidWithPolicy(t *testing.T) {
	s := newAuthSession(t, 0)
	wantRerror(t, call(t, s, 1,
		&proto.Tattach{Fid: 0, Afid: proto.NoFid, Uname: "glenda"}), enameAuthRequired)
}

func TestAttachIdentityMustMatch(t *testing.T) {
	s := newAuthSession(t, 0)
	challenge := startAuth(t, s, 9, "glenda")
	call(t, s, 3, &proto.Twrite{Fid: 9, Offset: 0, Data: reverse(challenge)})

	// The handshake authenticated "glenda"; attaching as anyone else
	// must fail.
	wantRerror(t, call(t, s, 4, &proto.Tattach{Fid: 0, Afid: 9, Uname: "mallory"}), enameAuthFailed)
}

func TestProofBeforeChallengeRead(t *testing.T) {
	s := newAuthSession(t, 0)
	r := call(t, s, 1, &proto.Tauth{Afid: 9, Uname: "glenda"})
	if _, ok := r.(*proto.Rauth); !ok {
		t.Fatalf("auth reply = %+v", r)
	}
	wantRerror(t, call(t, s, 2, &proto.Twrite{Fid: 9, Offset: 0, Data: []byte("early")}), enameNotRead)
}

func TestBadProofLeavesUnauthenticated(t *testing.T) {
	s := newAuthSession(t, 0)
	challenge := startAuth(t, s, 9, "glenda")

	wantRerror(t, call(t, s, 3, &proto.Twrite{Fid: 9, Offset: 0, Data: []byte("wrong")}), enameAuthFailed)
	wantRerror(t, call(t, s, 4, &proto.Tattach{Fid: 0, Afid: 9, Uname: "glenda"}), enameAuthFailed)

	// The handshake is not poisoned: the correct proof still lands.
	if _, ok := call(t, s, 5, &proto.Twrite{Fid: 9, Offset: 0, Data: reverse(challenge)}).(*proto.Rwrite); !ok {
		t.Fatal("valid proof rejected after a failed attempt")
	}
}

func TestChallengeReadAfterTTL(t *testing.T) {
	s := newAuthSession(t, time.Minute)
	r := call(t, s, 1, &proto.Tauth{Afid: 9, Uname: "glenda"})
	if _, ok := r.(*proto.Rauth); !ok {
		t.Fatalf("auth reply = %+v", r)
	}

	base := time.Now()
	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	wantRerror(t, call(t, s, 2, &proto.Tread{Fid: 9, Offset: 0, Count: 256}), enameAuthExpired)
}

func TestValidProofAfterTTL(t *testing.T) {
	s := newAuthSession(t, time.Minute)
	challenge := startAuth(t, s, 9, "glenda")

	base := time.Now()
	s.now = func() time.Time { return base.Add(2 * time.Minute) }

	// The proof would verify; the TTL gate fires first.
	wantRerror(t, call(t, s, 3, &proto.Twrite{Fid: 9, Offset: 0, Data: reverse(challenge)}), enameAuthExpired)
	wantRerror(t, call(t, s, 4, &proto.Tattach{Fid: 0, Afid: 9, Uname: "glenda"}), enameAuthFailed)
}

func TestAuthFidNeverWalkable(t *testing.T) {
	s := newAuthSession(t, 0)
	startAuth(t, s, 9, "glenda")
	wantRerror(t, call(t, s, 3, &proto.Twalk{Fid: 9, Newfid: 10}), enameWalkAuthFid)
}

func TestAuthFidRejectsResourceOps(t *testing.T) {
	s := newAuthSession(t, 0)
	startAuth(t, s, 9, "glenda")
	wantRerror(t, call(t, s, 3, &proto.Topen{Fid: 9, Mode: proto.OREAD}), enameAuthFidIO)
	wantRerror(t, call(t, s, 4, &proto.Tstat{Fid: 9}), enameAuthFidIO)
	wantRerror(t, call(t, s, 5, &proto.Tremove{Fid: 9}), enameAuthFidIO)
}

func TestAuthChallengeOffsetRead(t *testing.T) {
	s := newAuthSession(t, 0)
	full := startAuth(t, s, 9, "glenda")

	rr := call(t, s, 3, &proto.Tread{Fid: 9, Offset: 8, Count: 8}).(*proto.Rread)
	if !bytes.Equal(rr.Data, full[8:16]) {
		t.Error("offset read does not match challenge slice")
	}
	rr = call(t, s, 4, &proto.Tread{Fid: 9, Offset: 1000, Count: 8}).(*proto.Rread)
	if len(rr.Data) != 0 {
		t.Errorf("read past challenge end returned %d bytes", len(rr.Data))
	}
}

func TestVerifyErrorIsNotWireVisible(t *testing.T) {
	leaky := &AuthPolicy{
		Verify: func(uname string, proof, challenge []byte) error {
			return errors.New("secret internal detail")
		},
	}
	s := newTestSession(t, newFakeFS(), WithAuthPolicy(leaky))
	negotiate(t, s)
	startAuth(t, s, 9, "glenda")

	r := call(t, s, 3, &proto.Twrite{Fid: 9, Offset: 0, Data: []byte("p")})
	wantRerror(t, r, enameAuthFailed)
}
