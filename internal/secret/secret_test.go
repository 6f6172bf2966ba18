package secret

import (
	"errors"
	"strings"
	"testing"
)

func TestSealOpen(t *testing.T) {
	b, err := New("correct horse battery staple")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sealed, err := b.Seal("abcd-efgh-ijkl")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if strings.Contains(sealed, "abcd") {
		t.Fatal("sealed value leaks plaintext")
	}
	if !strings.HasPrefix(sealed, "v1.") {
		t.Errorf("sealed = %q, want v1. prefix", sealed)
	}

	again, _ := b.Seal("abcd-efgh-ijkl")
	if again == sealed {
		t.Error("two seals of the same value are identical; nonce reuse?")
	}

	plain, err := b.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if plain != "abcd-efgh-ijkl" {
		t.Errorf("Open = %q", plain)
	}
}

func TestOpenWrongKey(t *testing.T) {
	a, _ := New("key-a")
	b, _ := New("key-b")
	sealed, _ := a.Seal("secret")
	if _, err := b.Open(sealed); err == nil {
		t.Fatal("Open under a different key succeeded")
	}
}

func TestOpenMalformed(t *testing.T) {
	b, _ := New("k")
	for _, in := range []string{"", "v1.", "v2.abc", "v1.!!!", "v1.YWJj"} {
		if _, err := b.Open(in); err == nil {
			t.Errorf("Open(%q) succeeded", in)
		}
	}
	if _, err := b.Open("nope"); !errors.Is(err, ErrMalformed) {
		t.Errorf("Open(nope) err = %v, want ErrMalformed", err)
	}
}

func TestNewEmpty(t *testing.T) {
	if _, err := New(""); !errors.Is(err, ErrEmptyKeyMaterial) {
		t.Fatalf("New(\"\") err = %v", err)
	}
}
