// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package signing wraps the secp256k1 signature primitives consumed by
// the signer. Key material handling never leaves this package; the
// rest of the code sees only the Signer and Verify capabilities.
package signing

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/blinklabs-io/gosigner/stacks"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

var (
	ErrInvalidKeyFile   = errors.New("invalid signing key file")
	ErrInsecureFileMode = errors.New("insecure key file permissions")
)

// Signer is the injected signing capability
type Signer interface {
	// Sign signs the given message digest
	Sign(digest []byte) ([]byte, error)
	// ID returns the signer identity (compressed public key)
	ID() stacks.SignerID
}

// KeyPair is a secp256k1 keypair implementing Signer
type KeyPair struct {
	priv *btcec.PrivateKey
	id   stacks.SignerID
}

// NewKeyPair wraps an existing private key
func NewKeyPair(priv *btcec.PrivateKey) *KeyPair {
	kp := &KeyPair{priv: priv}
	copy(kp.id[:], priv.PubKey().SerializeCompressed())
	return kp
}

// GenerateKeyPair creates a new random keypair
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return NewKeyPair(priv), nil
}

func (k *KeyPair) Sign(digest []byte) ([]byte, error) {
	sig := ecdsa.Sign(k.priv, digest)
	return sig.Serialize(), nil
}

func (k *KeyPair) ID() stacks.SignerID {
	return k.id
}

// PubKeyBytes returns the compressed public key
func (k *KeyPair) PubKeyBytes() []byte {
	return k.priv.PubKey().SerializeCompressed()
}

// Verify checks a DER signature over the given digest against a
// compressed public key
func Verify(pubKey stacks.SignerID, digest []byte, sigBytes []byte) bool {
	pub, err := btcec.ParsePubKey(pubKey[:])
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return false
	}
	return sig.Verify(digest, pub)
}

// LoadKeyPair reads a hex-encoded private key from the given file.
// The file must not be group or world readable
func LoadKeyPair(path string) (*KeyPair, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf(
			"%w: %s has mode %04o",
			ErrInsecureFileMode,
			path,
			info.Mode().Perm(),
		)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	keyBytes, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKeyFile, err)
	}
	if len(keyBytes) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf(
			"%w: key length %d",
			ErrInvalidKeyFile,
			len(keyBytes),
		)
	}
	priv, _ := btcec.PrivKeyFromBytes(keyBytes)
	return NewKeyPair(priv), nil
}

// SaveKeyPair writes the private key hex-encoded to the given file
// with owner-only permissions
func SaveKeyPair(kp *KeyPair, path string) error {
	data := hex.EncodeToString(kp.priv.Serialize()) + "\n"
	if err := os.WriteFile(path, []byte(data), fs.FileMode(0o600)); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}
