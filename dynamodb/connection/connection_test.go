package connection

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/acksell/ddbmodel/dynamodb/ddberrors"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupMap(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		s, err := FromEnv(lookupMap(map[string]string{EnvNamespace: "dev_"}))
		require.NoError(t, err)
		assert.Equal(t, Settings{Namespace: "dev_", Region: DefaultRegion}, s)
		assert.Empty(t, s.Endpoint())
	})

	t.Run("local endpoint", func(t *testing.T) {
		s, err := FromEnv(lookupMap(map[string]string{
			EnvNamespace:       "dev_",
			EnvHost:            "localhost",
			EnvPort:            "8000",
			EnvAccessKeyID:     "key",
			EnvSecretAccessKey: "secret",
			EnvRegion:          "eu-west-1",
		}))
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:8000", s.Endpoint())
		assert.Equal(t, "eu-west-1", s.Region)

		s.IsSecure = true
		assert.Equal(t, "https://localhost:8000", s.Endpoint())
		s.Port = 0
		assert.Equal(t, "https://localhost", s.Endpoint())
	})

	t.Run("missing namespace", func(t *testing.T) {
		_, err := FromEnv(lookupMap(map[string]string{EnvHost: "localhost"}))
		assert.ErrorIs(t, err, ddberrors.ErrConfiguration)
		assert.Contains(t, err.Error(), "missing namespace")
	})

	t.Run("non integer port", func(t *testing.T) {
		_, err := FromEnv(lookupMap(map[string]string{EnvNamespace: "dev_", EnvPort: "eight"}))
		assert.ErrorIs(t, err, ddberrors.ErrConfiguration)
		assert.Contains(t, err.Error(), "integer value expected")
	})

	t.Run("bad secure flag", func(t *testing.T) {
		_, err := FromEnv(lookupMap(map[string]string{EnvNamespace: "dev_", EnvIsSecure: "maybe"}))
		assert.ErrorIs(t, err, ddberrors.ErrConfiguration)
	})

	t.Run("half a key pair", func(t *testing.T) {
		_, err := FromEnv(lookupMap(map[string]string{EnvNamespace: "dev_", EnvAccessKeyID: "key"}))
		assert.ErrorIs(t, err, ddberrors.ErrConfiguration)
	})
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"DYNAMODB_NAMESPACE=file_\nDYNAMODB_HOST=localhost\nDYNAMODB_PORT=8000\nDYNAMODB_REGION=eu-west-1\n",
	), 0o600))

	t.Setenv(EnvRegion, "ap-south-1")

	s, err := Load(filepath.Join(dir, "missing.env"), envFile)
	require.NoError(t, err)
	assert.Equal(t, "file_", s.Namespace)
	assert.Equal(t, "http://localhost:8000", s.Endpoint())
	// The process environment wins over the file.
	assert.Equal(t, "ap-south-1", s.Region)
}

func TestNewClient(t *testing.T) {
	ctx := context.Background()

	_, err := NewClient(ctx, Settings{Region: DefaultRegion}, logr.Discard())
	assert.ErrorIs(t, err, ddberrors.ErrConfiguration)

	client, err := NewClient(ctx, Settings{
		Namespace:       "dev_",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Host:            "localhost",
		Port:            8000,
		Region:          DefaultRegion,
	}, logr.Discard())
	require.NoError(t, err)
	assert.NotNil(t, client)
}
