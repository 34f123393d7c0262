// Package identity holds the identities that own, subscribe to and publish into hubs.
//
// An identity is a libp2p peer ID derived from an Ed25519 public key. Ed25519 peer IDs
// inline the public key, so signatures can be verified from the ID alone.
package identity

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Width is the encoded length of an Ed25519 peer ID (identity multihash of the
// protobuf-wrapped public key).
const Width = 38

var (
	ErrInvalidIdentity  = errors.New("invalid identity")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Keypair is a private key together with the identity it controls.
type Keypair struct {
	ID   peer.ID
	priv crypto.PrivKey
}

// Generate creates a fresh Ed25519 keypair.
func Generate() (*Keypair, error) {
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return FromPrivateKey(priv)
}

// FromPrivateKey wraps an existing libp2p private key.
func FromPrivateKey(priv crypto.PrivKey) (*Keypair, error) {
	if priv.Type() != crypto.Ed25519 {
		return nil, fmt.Errorf("%w: key type %s", ErrInvalidIdentity, priv.Type())
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("derive peer id: %w", err)
	}
	return &Keypair{ID: id, priv: priv}, nil
}

// PrivateKey returns the underlying libp2p key, e.g. to run a host under this identity.
func (k *Keypair) PrivateKey() crypto.PrivKey {
	return k.priv
}

// Sign signs an arbitrary payload.
func (k *Keypair) Sign(payload []byte) ([]byte, error) {
	return k.priv.Sign(payload)
}

// SignRequest signs the canonical payload of an operation.
func (k *Keypair) SignRequest(op string, fields ...string) ([]byte, error) {
	return k.Sign(SigningPayload(op, fields...))
}

// Parse decodes and validates a textual peer ID.
func Parse(s string) (peer.ID, error) {
	id, err := peer.Decode(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	if err := Validate(id); err != nil {
		return "", err
	}
	return id, nil
}

// Validate checks that id is a fixed-width Ed25519 identity.
func Validate(id peer.ID) error {
	if len(id) != Width {
		return fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidIdentity, Width, len(id))
	}
	pub, err := id.ExtractPublicKey()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	if pub.Type() != crypto.Ed25519 {
		return fmt.Errorf("%w: key type %s", ErrInvalidIdentity, pub.Type())
	}
	return nil
}

// Verify checks sig against payload using the public key inlined in id.
func Verify(id peer.ID, payload, sig []byte) error {
	if len(sig) == 0 {
		return ErrInvalidSignature
	}
	pub, err := id.ExtractPublicKey()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	ok, err := pub.Verify(payload, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}

// SigningPayload builds the bytes a caller signs for an operation. Fields are
// length-prefixed so that no two field lists produce the same payload.
func SigningPayload(op string, fields ...string) []byte {
	var b strings.Builder
	b.WriteString("hubrelay/v1/")
	b.WriteString(op)
	for _, f := range fields {
		fmt.Fprintf(&b, "\n%d:%s", len(f), f)
	}
	return []byte(b.String())
}

// LoadOrCreate reads a marshalled private key from path, generating and persisting a new
// one when the file does not exist yet.
func LoadOrCreate(path string) (*Keypair, error) {
	if b, err := os.ReadFile(path); err == nil && len(b) > 0 {
		priv, err := crypto.UnmarshalPrivateKey(b)
		if err != nil {
			return nil, fmt.Errorf("unmarshal private key: %w", err)
		}
		return FromPrivateKey(priv)
	}
	kp, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := Save(path, kp); err != nil {
		return nil, err
	}
	return kp, nil
}

// Save writes the private key of kp to path with owner-only permissions.
func Save(path string, kp *Keypair) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir key dir: %w", err)
	}
	raw, err := crypto.MarshalPrivateKey(kp.priv)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	return nil
}
