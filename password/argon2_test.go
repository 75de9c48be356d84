package password

import (
	"strings"
	"testing"
)

func newHasher(t *testing.T) *Hasher {
	t.Helper()
	// Minimum costs keep the test fast; production uses DefaultConfig.
	h, err := New(Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := newHasher(t)

	encoded, err := h.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Fatalf("unexpected hash format: %s", encoded)
	}

	ok, err := h.Verify("correct-horse-battery", encoded)
	if err != nil || !ok {
		t.Fatalf("verify = %v, %v; want match", ok, err)
	}
	ok, err = h.Verify("wrong-password-entirely", encoded)
	if err != nil || ok {
		t.Fatalf("verify = %v, %v; want mismatch", ok, err)
	}
}

func TestHashIsSalted(t *testing.T) {
	h := newHasher(t)

	a, err := h.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	b, err := h.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if a == b {
		t.Fatal("two hashes of the same password must differ")
	}
}

func TestShortPasswordRejected(t *testing.T) {
	h := newHasher(t)
	if _, err := h.Hash("short"); err == nil {
		t.Fatal("expected rejection of short password")
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	h := newHasher(t)

	for _, encoded := range []string{
		"",
		"$argon2id$v=19$m=8192,t=1,p=1$notbase64!!$njM",
		"$bcrypt$v=19$m=8192,t=1,p=1$YWJj$YWJj",
		"plain-text",
	} {
		if _, err := h.Verify("whatever-password", encoded); err == nil {
			t.Fatalf("malformed hash %q accepted", encoded)
		}
	}
}
