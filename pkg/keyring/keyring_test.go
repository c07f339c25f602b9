package keyring

import (
	"strings"
	"testing"
)

func TestNew_GeneratesArmoredKeyPair(t *testing.T) {
	desc := "release signing key"
	key, err := New("release-key", &desc, "Subatomic Release <release@example.org>")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if key.ID != "release-key" {
		t.Errorf("expected id release-key, got %s", key.ID)
	}
	if !strings.Contains(key.SecretKey, "BEGIN PGP PRIVATE KEY BLOCK") {
		t.Error("expected armored secret key block")
	}
	if !strings.Contains(key.PublicKey, "BEGIN PGP PUBLIC KEY BLOCK") {
		t.Error("expected armored public key block")
	}
	if key.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestGpgKey_Ref_StripsSecretKey(t *testing.T) {
	key, err := New("k1", nil, "tester")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ref := key.Ref()
	if ref.ID != key.ID || ref.UserID != key.UserID || ref.PublicKey != key.PublicKey {
		t.Error("ref should mirror public fields")
	}

	// GpgKeyRef has no field capable of exposing the secret material.
	var _ = ref.PublicKey
}

func TestGpgKey_SecretEntityRoundTrip(t *testing.T) {
	key, err := New("k2", nil, "tester")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	entity, err := key.SecretEntity()
	if err != nil {
		t.Fatalf("SecretEntity: %v", err)
	}
	if entity.PrivateKey == nil {
		t.Fatal("expected a private key on the parsed entity")
	}

	pub, err := key.PublicEntity()
	if err != nil {
		t.Fatalf("PublicEntity: %v", err)
	}
	if pub.PrimaryKey == nil {
		t.Fatal("expected a primary key on the parsed public entity")
	}
}
