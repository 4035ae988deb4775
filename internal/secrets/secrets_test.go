package secrets

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	c, err := Load(t.TempDir())
	require.NoError(t, err)

	for _, plaintext := range []string{"", "hunter2", "pässwörd ∆", strings.Repeat("x", 4096)} {
		env, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		got, err := c.Decrypt(env)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestNonceRandomness(t *testing.T) {
	c, err := Load(t.TempDir())
	require.NoError(t, err)

	a, err := c.Encrypt("same")
	require.NoError(t, err)
	b, err := c.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptFailsLoudly(t *testing.T) {
	c, err := Load(t.TempDir())
	require.NoError(t, err)

	_, err = c.Decrypt("no-colon-here")
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	_, err = c.Decrypt("!!!:also-bad")
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	// Flip a ciphertext byte: GCM tag mismatch.
	env, err := c.Encrypt("secret")
	require.NoError(t, err)
	tampered := env[:len(env)-2] + "A="
	_, err = c.Decrypt(tampered)
	assert.Error(t, err)
}

func TestKeyPersistsAcrossLoads(t *testing.T) {
	dir := t.TempDir()
	c1, err := Load(dir)
	require.NoError(t, err)
	env, err := c1.Encrypt("durable")
	require.NoError(t, err)

	c2, err := Load(dir)
	require.NoError(t, err)
	got, err := c2.Decrypt(env)
	require.NoError(t, err)
	assert.Equal(t, "durable", got)
}

func TestKeyFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions only")
	}
	dir := t.TempDir()
	_, err := Load(dir)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, "credentials.key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
