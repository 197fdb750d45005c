package password

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func fastConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func TestHashAndVerify(t *testing.T) {
	hasher, err := NewHasher(fastConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	hash, err := hasher.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := hasher.Verify("P@ssw0rd-Ascii", hash)
	if err != nil || !ok {
		t.Fatalf("expected verification to succeed: ok=%v err=%v", ok, err)
	}
	ok, err = hasher.Verify("wrong-password", hash)
	if err != nil || ok {
		t.Fatalf("expected mismatch: ok=%v err=%v", ok, err)
	}
}

func TestVerifyLegacyBcrypt(t *testing.T) {
	hasher, _ := NewHasher(fastConfig())
	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-password"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	ok, err := hasher.Verify("legacy-password", string(legacy))
	if err != nil || !ok {
		t.Fatalf("expected bcrypt match: ok=%v err=%v", ok, err)
	}
	ok, err = hasher.Verify("nope-nope-nope", string(legacy))
	if err != nil || ok {
		t.Fatalf("expected bcrypt mismatch: ok=%v err=%v", ok, err)
	}
	if rehash, _ := hasher.NeedsRehash(string(legacy)); !rehash {
		t.Fatal("bcrypt hashes must be upgraded")
	}
}

func TestNeedsRehash(t *testing.T) {
	weak, _ := NewHasher(fastConfig())
	hash, err := weak.Hash("upgrade-me-please")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	stronger := fastConfig()
	stronger.Time = 2
	strong, _ := NewHasher(stronger)

	if rehash, err := strong.NeedsRehash(hash); err != nil || !rehash {
		t.Fatalf("expected upgrade: %v %v", rehash, err)
	}
	if rehash, err := weak.NeedsRehash(hash); err != nil || rehash {
		t.Fatalf("expected no upgrade: %v %v", rehash, err)
	}
}

func TestVerifyRejectsUnknownEncoding(t *testing.T) {
	hasher, _ := NewHasher(fastConfig())
	if _, err := hasher.Verify("whatever-pass", "$md5$abc"); !errors.Is(err, ErrUnsupportedHash) {
		t.Fatalf("expected ErrUnsupportedHash, got %v", err)
	}
	if _, err := hasher.Verify("whatever-pass", "$argon2id$garbage"); err == nil {
		t.Fatal("expected malformed argon2id hash to fail")
	}
}

func TestHashLengthBounds(t *testing.T) {
	hasher, _ := NewHasher(fastConfig())
	if _, err := hasher.Hash("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if _, err := hasher.Hash(strings.Repeat("a", 1025)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
}

func TestNewHasherRejectsWeakConfig(t *testing.T) {
	cfg := fastConfig()
	cfg.Memory = 1024
	if _, err := NewHasher(cfg); err == nil {
		t.Fatal("expected weak memory to be rejected")
	}
}
