package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaultsWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	l, err := Load(filepath.Join(dir, "missing.toml"))
	require.NoError(t, err)

	cfg := l.Current()
	require.Equal(t, ":8080", cfg.Listen)
	require.Equal(t, 1024, cfg.Limitations.MaxAvatarSize)
	require.Len(t, cfg.AuthProviders, 2)
}

func TestLoadParsesFullConfig(t *testing.T) {
	path := writeConfig(t, `
listen = ":9090"
token = "secret-admin-token"
mcFolder = "/srv/mc"

[motd]
displayServerInfo = true
customText = "hi"

[limitations]
maxAvatarSize = 2048
maxAvatars = 3

[[authProviders]]
name = "Mojang"
url = "https://sessionserver.mojang.com/session/minecraft/hasJoined"

[advancedUsers."11111111-1111-1111-1111-111111111111"]
username = "Alice"
banned = false
special = [1, 0, 0, 0, 0, 0]
`)

	l, err := Load(path)
	require.NoError(t, err)

	cfg := l.Current()
	require.Equal(t, ":9090", cfg.Listen)
	require.Equal(t, "secret-admin-token", cfg.Token)
	require.True(t, cfg.MOTD.DisplayServerInfo)
	require.Equal(t, 2048, cfg.Limitations.MaxAvatarSize)
	require.Len(t, cfg.AuthProviders, 1)

	u, ok := cfg.AdvancedUsers["11111111-1111-1111-1111-111111111111"]
	require.True(t, ok)
	require.Equal(t, "Alice", u.Username)
	require.Equal(t, [6]int{1, 0, 0, 0, 0, 0}, u.Special)
}

func TestLoadRejectsInvalidLimitations(t *testing.T) {
	path := writeConfig(t, `
listen = ":9090"
[limitations]
maxAvatarSize = 0
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestOnReloadFiresImmediatelyOnRegister(t *testing.T) {
	path := writeConfig(t, `listen = ":9090"`)
	l, err := Load(path)
	require.NoError(t, err)

	var seen Config
	l.OnReload(func(c Config) { seen = c })
	require.Equal(t, ":9090", seen.Listen)
}
