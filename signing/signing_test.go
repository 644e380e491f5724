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

package signing_test

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/blinklabs-io/gosigner/signing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	keyPair, err := signing.GenerateKeyPair()
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("test message"))
	sig, err := keyPair.Sign(digest[:])
	require.NoError(t, err)

	assert.True(t, signing.Verify(keyPair.ID(), digest[:], sig))
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	keyPair, err := signing.GenerateKeyPair()
	require.NoError(t, err)
	other, err := signing.GenerateKeyPair()
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("test message"))
	sig, err := keyPair.Sign(digest[:])
	require.NoError(t, err)

	assert.False(t, signing.Verify(other.ID(), digest[:], sig))
}

func TestVerifyRejectsWrongDigest(t *testing.T) {
	keyPair, err := signing.GenerateKeyPair()
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("test message"))
	sig, err := keyPair.Sign(digest[:])
	require.NoError(t, err)

	otherDigest := sha256.Sum256([]byte("another message"))
	assert.False(t, signing.Verify(keyPair.ID(), otherDigest[:], sig))
}

func TestVerifyRejectsGarbageSignature(t *testing.T) {
	keyPair, err := signing.GenerateKeyPair()
	require.NoError(t, err)
	digest := sha256.Sum256([]byte("test message"))
	assert.False(
		t,
		signing.Verify(keyPair.ID(), digest[:], []byte{0x01, 0x02}),
	)
}

func TestKeyFileRoundTrip(t *testing.T) {
	keyPair, err := signing.GenerateKeyPair()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "signer.key")
	require.NoError(t, signing.SaveKeyPair(keyPair, path))

	loaded, err := signing.LoadKeyPair(path)
	require.NoError(t, err)
	assert.Equal(t, keyPair.ID(), loaded.ID())

	// Signatures from the reloaded key verify against the original ID
	digest := sha256.Sum256([]byte("round trip"))
	sig, err := loaded.Sign(digest[:])
	require.NoError(t, err)
	assert.True(t, signing.Verify(keyPair.ID(), digest[:], sig))
}

func TestLoadKeyPairRejectsInsecureMode(t *testing.T) {
	keyPair, err := signing.GenerateKeyPair()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "signer.key")
	require.NoError(t, signing.SaveKeyPair(keyPair, path))
	require.NoError(t, os.Chmod(path, 0o644))

	_, err = signing.LoadKeyPair(path)
	assert.ErrorIs(t, err, signing.ErrInsecureFileMode)
}

func TestLoadKeyPairRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signer.key")
	require.NoError(
		t,
		os.WriteFile(path, []byte("not a hex key\n"), 0o600),
	)

	_, err := signing.LoadKeyPair(path)
	assert.ErrorIs(t, err, signing.ErrInvalidKeyFile)
}

func TestLoadKeyPairRejectsShortKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signer.key")
	require.NoError(
		t,
		os.WriteFile(path, []byte("deadbeef\n"), 0o600),
	)

	_, err := signing.LoadKeyPair(path)
	assert.ErrorIs(t, err, signing.ErrInvalidKeyFile)
}
