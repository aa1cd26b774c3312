package security

import (
	"strings"
	"testing"
)

// Low iteration count keeps the suite fast; the encoding carries it anyway.
func testHasher() *Hasher {
	return NewHasher(1000)
}

func TestHashVerify(t *testing.T) {
	h := testHasher()
	hash, err := h.Hash("s3cret-pass")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}

	if !h.Verify("s3cret-pass", hash) {
		t.Fatalf("expected secret to verify")
	}
	if h.Verify("s3cret-pasS", hash) {
		t.Fatalf("expected different secret to fail")
	}
	if h.Verify("", hash) {
		t.Fatalf("expected empty secret to fail")
	}
}

func TestHashIsSalted(t *testing.T) {
	h := testHasher()
	first, err := h.Hash("1234")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	second, err := h.Hash("1234")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}

	if first == second {
		t.Fatalf("expected different encodings for the same secret")
	}
	if !h.Verify("1234", first) || !h.Verify("1234", second) {
		t.Fatalf("expected both encodings to verify")
	}
}

func TestHashEncodingFormat(t *testing.T) {
	hash, err := NewHasher(0).Hash("1234")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	parts := strings.Split(hash, "$")
	if len(parts) != 4 {
		t.Fatalf("expected 4 parts, got %d", len(parts))
	}
	if parts[0] != "pbkdf2" || parts[1] != "100000" {
		t.Fatalf("unexpected header %q$%q", parts[0], parts[1])
	}
	if len(parts[2]) != 32 {
		t.Fatalf("expected 128-bit salt, got %d hex chars", len(parts[2]))
	}
	if len(parts[3]) != 64 {
		t.Fatalf("expected 256-bit key, got %d hex chars", len(parts[3]))
	}
}

func TestVerifyUsesStoredIterations(t *testing.T) {
	old := NewHasher(500)
	hash, err := old.Hash("1234")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}

	current := testHasher()
	if !current.Verify("1234", hash) {
		t.Fatalf("expected hash from older parameters to verify")
	}
	if !current.NeedsRehash(hash) {
		t.Fatalf("expected weaker hash to need rehash")
	}
}

func TestVerifyFailsClosedOnMalformedHash(t *testing.T) {
	h := testHasher()
	cases := []string{
		"",
		"pbkdf2",
		"bcrypt$1000$00$00",
		"pbkdf2$abc$00ff$00ff",
		"pbkdf2$0$00ff$00ff",
		"pbkdf2$99999999999$00ff$00ff",
		"pbkdf2$1000$zz$00ff",
		"pbkdf2$1000$00ff$",
		"pbkdf2$1000$00ff$00ff$extra",
	}
	for _, encoded := range cases {
		if h.Verify("1234", encoded) {
			t.Fatalf("expected %q to fail verification", encoded)
		}
	}
}
