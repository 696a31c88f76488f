package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	secrets := map[string]string{RelayTokenSecret: "tok-123", "OTHER": "value"}

	require.NoError(t, EncryptSecretsFile(dir, "hunter2", secrets))
	assert.True(t, SecretsFileExists(dir))

	decrypted, err := DecryptSecretsFile(dir, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, secrets, decrypted)
}

func TestSecretsWrongPassword(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EncryptSecretsFile(dir, "right", map[string]string{"K": "v"}))

	_, err := DecryptSecretsFile(dir, "wrong")
	require.Error(t, err)
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestSecretsFilePermissions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EncryptSecretsFile(dir, "pw", map[string]string{"K": "v"}))

	path := filepath.Join(dir, ColonyDirName, secretsFileName)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestSecretsTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ColonyDirName), 0755))
	path := filepath.Join(dir, ColonyDirName, secretsFileName)
	require.NoError(t, os.WriteFile(path, []byte("short"), 0600))

	_, err := DecryptSecretsFile(dir, "pw")
	assert.Error(t, err)
}

func TestGetSecretEnvFallback(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("COLONY_TEST_SECRET", "from-env")

	value, err := GetSecret(dir, "COLONY_TEST_SECRET", "")
	require.NoError(t, err)
	assert.Equal(t, "from-env", value)

	_, err = GetSecret(dir, "COLONY_MISSING_SECRET", "")
	require.Error(t, err)
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestGetSecretPrefersFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(RelayTokenSecret, "from-env")
	require.NoError(t, EncryptSecretsFile(dir, "pw", map[string]string{RelayTokenSecret: "from-file"}))

	value, err := GetSecret(dir, RelayTokenSecret, "pw")
	require.NoError(t, err)
	assert.Equal(t, "from-file", value)
}
