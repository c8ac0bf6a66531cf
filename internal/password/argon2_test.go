package password

import (
	"strings"
	"testing"
)

func testHasher(t *testing.T) *Hasher {
	t.Helper()

	// Small parameters keep the test fast while staying above the
	// configuration floor.
	h, err := New(Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("hasher init failed: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := testHasher(t)

	encoded, err := h.Hash("correct-password-123")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Fatalf("unexpected PHC prefix: %s", encoded)
	}

	ok, err := h.Verify("correct-password-123", encoded)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !ok {
		t.Fatal("correct password rejected")
	}

	ok, err = h.Verify("wrong-password-456", encoded)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if ok {
		t.Fatal("wrong password accepted")
	}
}

func TestHashesAreSalted(t *testing.T) {
	h := testHasher(t)

	first, err := h.Hash("correct-password-123")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	second, err := h.Hash("correct-password-123")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if first == second {
		t.Fatal("two hashes of the same password are identical")
	}
}

func TestShortPasswordRejected(t *testing.T) {
	h := testHasher(t)

	if _, err := h.Hash("short"); err == nil {
		t.Fatal("expected error for short password")
	}
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	h := testHasher(t)

	cases := []string{
		"",
		"not-a-phc-string",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$aGFzaA",
	}
	for _, encoded := range cases {
		if _, err := h.Verify("whatever-password", encoded); err == nil {
			t.Fatalf("expected parse error for %q", encoded)
		}
	}
}

func TestConfigValidation(t *testing.T) {
	base := Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}

	weakMemory := base
	weakMemory.Memory = 1024
	if _, err := New(weakMemory); err == nil {
		t.Fatal("expected error for weak memory parameter")
	}

	weakSalt := base
	weakSalt.SaltLength = 8
	if _, err := New(weakSalt); err == nil {
		t.Fatal("expected error for short salt")
	}

	if _, err := New(DefaultConfig()); err != nil {
		t.Fatalf("default config rejected: %v", err)
	}
}
