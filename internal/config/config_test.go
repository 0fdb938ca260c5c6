package config

// file: internal/config/config_test.go

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastrpc/fast/internal/wire"
)

func TestDefaultSettingsValidate(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsV1V2ForClient(t *testing.T) {
	s := Default()
	s.Client.CRCMode = wire.CRCModeV1V2
	require.Error(t, s.Validate())
}

func TestValidateRejectsNegativeRecentRequests(t *testing.T) {
	s := Default()
	s.Client.NRecentRequests = -1
	require.Error(t, s.Validate())
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fast.yaml")
	content := []byte("client:\n  crc_mode: V2\n  n_recent_requests: 10\nserver:\n  crc_mode: V1_V2\n  listen_address: \"0.0.0.0:9000\"\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	settings, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, wire.CRCModeV2, settings.Client.CRCMode)
	assert.Equal(t, 10, settings.Client.NRecentRequests)
	assert.Equal(t, wire.CRCModeV1V2, settings.Server.CRCMode)
	assert.Equal(t, "0.0.0.0:9000", settings.Server.ListenAddress)
}

func TestLoadRejectsInvalidClientMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fast.yaml")
	content := []byte("client:\n  crc_mode: V1_V2\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	_, err := Load(path)
	require.Error(t, err)
}
