package auth

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

var fastHasherParams = HasherParams{Memory: 1024, Iterations: 1, Parallelism: 1}

func TestHasherRoundTrip(t *testing.T) {
	h := NewHasher(fastHasherParams)
	hash, err := h.Hash("secret1")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$") {
		t.Fatalf("unexpected encoding: %s", hash)
	}
	if !h.Verify("secret1", hash) {
		t.Fatalf("expected password to verify")
	}
	if h.Verify("secret2", hash) {
		t.Fatalf("expected wrong password to fail")
	}
	again, err := h.Hash("secret1")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if again == hash {
		t.Fatalf("expected per-call salt to change the output")
	}
}

func TestHasherVerifiesLegacyBcrypt(t *testing.T) {
	legacy, err := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	h := NewHasher(fastHasherParams)
	if !h.Verify("secret1", string(legacy)) {
		t.Fatalf("expected bcrypt hash to verify")
	}
	if h.Verify("nope", string(legacy)) {
		t.Fatalf("expected bcrypt mismatch to fail")
	}
}

func TestHasherVerifyNeverPanicsOnGarbage(t *testing.T) {
	h := NewHasher(fastHasherParams)
	for _, encoded := range []string{
		"",
		"plaintext",
		"$argon2id$",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1024,t=1,p=1$!!!$aGFzaA",
		"$argon2id$v=19$m=0,t=0,p=0$c2FsdA$aGFzaA",
		"$2b$10$short",
	} {
		if h.Verify("secret1", encoded) {
			t.Fatalf("expected %q to be rejected", encoded)
		}
	}
	h.Burn("anything")
}

func TestLockoutPolicy(t *testing.T) {
	p := LockoutPolicy{}
	if p.Locked(4) {
		t.Fatalf("4 failures must not lock")
	}
	if !p.Locked(5) || !p.Locked(9) {
		t.Fatalf("5 or more failures must lock")
	}
	if (LockoutPolicy{Threshold: 3}).Locked(2) || !(LockoutPolicy{Threshold: 3}).Locked(3) {
		t.Fatalf("custom threshold not honoured")
	}
}
