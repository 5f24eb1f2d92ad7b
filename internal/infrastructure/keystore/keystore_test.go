package keystore

import (
	"crypto/rsa"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hilthontt/escrow/internal/infrastructure/sign"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// low scrypt cost keeps the tests fast
const testWorkFactor = 10

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func key(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		testKey, err = sign.GenerateKey(sign.DefaultKeyBits)
		require.NoError(t, err)
	})
	return testKey
}

func TestSealOpen(t *testing.T) {
	sealed, err := Seal([]byte("secret pem"), "correct horse", testWorkFactor)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "secret pem")

	plain, err := Open(sealed, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "secret pem", string(plain))

	_, err = Open(sealed, "wrong")
	assert.Error(t, err)
}

func TestWriteKeyPair_Plain(t *testing.T) {
	dir := t.TempDir()

	paths, err := WriteKeyPair(dir, "arbiter", key(t), "", 0)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "arbiter_private.pem"), paths.Private)

	signer, err := LoadSigner(paths.Private, "")
	require.NoError(t, err)

	public, err := os.ReadFile(paths.Public)
	require.NoError(t, err)
	assert.Equal(t, string(public), signer.PublicKeyPEM())

	sig, err := signer.Sign("c1:AI_ORACLE:RELEASE")
	require.NoError(t, err)
	assert.NoError(t, sign.Verify(string(public), "c1:AI_ORACLE:RELEASE", sig))

	_, err = WriteKeyPair(dir, "arbiter", key(t), "", 0)
	assert.Error(t, err, "existing keys must not be replaced")
}

func TestWriteKeyPair_Sealed(t *testing.T) {
	dir := t.TempDir()

	paths, err := WriteKeyPair(dir, "arbiter", key(t), "hunter2", testWorkFactor)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "arbiter_private.pem.age"), paths.Private)

	_, err = LoadPrivateKey(paths.Private, "")
	assert.ErrorIs(t, err, ErrPassphraseRequired)

	loaded, err := LoadPrivateKey(paths.Private, "hunter2")
	require.NoError(t, err)
	assert.True(t, key(t).Equal(loaded))
}

func TestLoadPrivateKey_DetectsSealedContent(t *testing.T) {
	pemBytes, err := sign.EncodePrivateKey(key(t))
	require.NoError(t, err)
	sealed, err := Seal(pemBytes, "pw", testWorkFactor)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "renamed.pem")
	require.NoError(t, os.WriteFile(path, sealed, 0o600))

	_, err = LoadPrivateKey(path, "")
	assert.ErrorIs(t, err, ErrPassphraseRequired)

	_, err = LoadPrivateKey(path, "pw")
	assert.NoError(t, err)
}
