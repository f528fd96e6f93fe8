package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `{
	"nodeId": "node-1",
	"listenPorts": {"node": 16980, "local": 16981, "client": 16982},
	"advertisedContacts": [{"address": "203.0.113.9", "port": 16980}],
	"seeds": [{"address": "198.51.100.1", "port": 16980}],
	"location": {"lat": 47.4979, "lon": 19.0402},
	"dbPath": "/tmp/locnet.db",
	"neighbourhoodTarget": 6,
	"colleagueTarget": 16
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "locnet.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "node-1", cfg.NodeID)
	assert.Equal(t, 16980, cfg.ListenPorts.Node)

	contacts, err := cfg.Contacts()
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "203.0.113.9:16980", contacts[0].String())

	seeds, err := cfg.SeedContacts()
	require.NoError(t, err)
	require.Len(t, seeds, 1)
}

func TestLoad_MissingNodeID(t *testing.T) {
	path := writeConfig(t, `{"listenPorts": {"node": 1, "local": 2, "client": 3}, "location": {"lat": 0, "lon": 0}}`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_InvalidLocation(t *testing.T) {
	path := writeConfig(t, `{"nodeId": "n", "listenPorts": {"node": 1, "local": 2, "client": 3}, "location": {"lat": 999, "lon": 0}}`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_AppliesOverlayDefaultsWhenUnset(t *testing.T) {
	path := writeConfig(t, `{"nodeId": "n", "listenPorts": {"node": 1, "local": 2, "client": 3}, "location": {"lat": 0, "lon": 0}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	oc := cfg.OverlayConfig()
	assert.Greater(t, oc.NeighbourhoodTarget, 0)
	assert.Greater(t, oc.ColleagueTarget, 0)
}
