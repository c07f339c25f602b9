// Package keyring implements OpenPGP key generation and the GpgKey record
// used to sign assembled packages.
package keyring

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// GpgKey is a generated OpenPGP identity, stored with both halves armored.
// The secret key never leaves the process boundary in API responses — see
// GpgKeyRef.
type GpgKey struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Description *string   `json:"description,omitempty"`
	SecretKey   string    `json:"secret_key"`
	PublicKey   string    `json:"public_key"`
	CreatedAt   time.Time `json:"created_at"`
}

// GpgKeyRef is the public projection of a GpgKey returned by the HTTP API.
type GpgKeyRef struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Description *string   `json:"description,omitempty"`
	PublicKey   string    `json:"public_key"`
	CreatedAt   time.Time `json:"created_at"`
}

// Ref strips the secret key, producing the value safe to return over HTTP.
func (k *GpgKey) Ref() *GpgKeyRef {
	return &GpgKeyRef{
		ID:          k.ID,
		UserID:      k.UserID,
		Description: k.Description,
		PublicKey:   k.PublicKey,
		CreatedAt:   k.CreatedAt,
	}
}

// New generates a fresh Ed25519 OpenPGP identity: sign-capable,
// certify-disabled, self-signed under userID, with an empty key
// passphrase. Keys are stored at rest in the database; the threat model
// here is access control on that store, not on-disk key encryption.
func New(id string, description *string, userID string) (*GpgKey, error) {
	cfg := &packet.Config{
		Algorithm: packet.PubKeyAlgoEdDSA,
		Time:      time.Now,
	}

	entity, err := openpgp.NewEntity(userID, "", "", cfg)
	if err != nil {
		return nil, fmt.Errorf("keyring: generate entity: %w", err)
	}

	for _, identity := range entity.Identities {
		identity.SelfSignature.FlagsValid = true
		identity.SelfSignature.FlagCertify = false
		identity.SelfSignature.FlagSign = true
		identity.SelfSignature.FlagEncryptCommunications = false
		identity.SelfSignature.FlagEncryptStorage = false
		if err := identity.SelfSignature.SignUserId(identity.UserId.Id, entity.PrimaryKey, entity.PrivateKey, cfg); err != nil {
			return nil, fmt.Errorf("keyring: self-sign identity: %w", err)
		}
	}

	secretArmored, err := armorSecretKey(entity)
	if err != nil {
		return nil, fmt.Errorf("keyring: armor secret key: %w", err)
	}
	publicArmored, err := armorPublicKey(entity)
	if err != nil {
		return nil, fmt.Errorf("keyring: armor public key: %w", err)
	}

	return &GpgKey{
		ID:          id,
		UserID:      userID,
		Description: description,
		SecretKey:   secretArmored,
		PublicKey:   publicArmored,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// SecretEntity parses the armored secret key back into an *openpgp.Entity
// suitable for use as an RPM signer.
func (k *GpgKey) SecretEntity() (*openpgp.Entity, error) {
	block, err := armor.Decode(bytes.NewReader([]byte(k.SecretKey)))
	if err != nil {
		return nil, fmt.Errorf("keyring: decode secret key armor: %w", err)
	}
	entity, err := openpgp.ReadEntity(packet.NewReader(block.Body))
	if err != nil {
		return nil, fmt.Errorf("keyring: parse secret key: %w", err)
	}
	return entity, nil
}

// PublicEntity parses the armored public key back into an *openpgp.Entity.
func (k *GpgKey) PublicEntity() (*openpgp.Entity, error) {
	block, err := armor.Decode(bytes.NewReader([]byte(k.PublicKey)))
	if err != nil {
		return nil, fmt.Errorf("keyring: decode public key armor: %w", err)
	}
	entity, err := openpgp.ReadEntity(packet.NewReader(block.Body))
	if err != nil {
		return nil, fmt.Errorf("keyring: parse public key: %w", err)
	}
	return entity, nil
}

func armorSecretKey(entity *openpgp.Entity) (string, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PrivateKeyType, nil)
	if err != nil {
		return "", err
	}
	if err := entity.SerializePrivate(w, nil); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func armorPublicKey(entity *openpgp.Entity) (string, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return "", err
	}
	if err := entity.Serialize(w); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
