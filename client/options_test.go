package client

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func writeKey(t *testing.T, passphrase string) (string, ssh.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte(passphrase))
	}
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return path, sshPub
}

func TestLoadSigner(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := loadSigner(filepath.Join(t.TempDir(), "nope"), "")
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("plain key", func(t *testing.T) {
		path, pub := writeKey(t, "")
		signer, err := loadSigner(path, "")
		require.NoError(t, err)
		assert.Equal(t, pub.Marshal(), signer.PublicKey().Marshal())
	})

	t.Run("encrypted key without passphrase", func(t *testing.T) {
		path, _ := writeKey(t, "s3cret")
		_, err := loadSigner(path, "")
		assert.ErrorContains(t, err, "no passphrase was given")
	})

	t.Run("encrypted key with wrong passphrase", func(t *testing.T) {
		path, _ := writeKey(t, "s3cret")
		_, err := loadSigner(path, "guess")
		assert.Error(t, err)
	})

	t.Run("encrypted key with passphrase", func(t *testing.T) {
		path, pub := writeKey(t, "s3cret")
		signer, err := loadSigner(path, "s3cret")
		require.NoError(t, err)
		assert.Equal(t, pub.Marshal(), signer.PublicKey().Marshal())
	})

	t.Run("not a key", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "junk")
		require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))
		_, err := loadSigner(path, "")
		assert.Error(t, err)
	})
}

func TestClientConfigAuthMethods(t *testing.T) {
	path, _ := writeKey(t, "")

	o := defaultOptions()
	cfg, release, err := o.clientConfig("admin", "")
	require.NoError(t, err)
	release()
	assert.Empty(t, cfg.Auth)

	WithKeyFile(path, "")(o)
	cfg, release, err = o.clientConfig("admin", "x")
	require.NoError(t, err)
	release()
	// key, password, keyboard-interactive
	assert.Len(t, cfg.Auth, 3)
	assert.Equal(t, "admin", cfg.User)

	WithKeyFile(filepath.Join(t.TempDir(), "gone"), "")(o)
	_, release, err = o.clientConfig("admin", "x")
	release()
	assert.ErrorContains(t, err, "load key")
}
