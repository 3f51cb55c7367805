package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeIni(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.ini")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeIni(t, `
[server]
type = plex

[plex]
server = http://localhost:32400
token = abc123

[scan]
directories = /movies, /shows

[behaviour]
scan_debounce = 5
deletion_threshold = 25
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ServerPlex, cfg.ServerType)
	require.Equal(t, []string{"/movies", "/shows"}, cfg.ScanDirectories)
	require.Equal(t, 25, cfg.DeletionThreshold)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeIni(t, `
[server]
type = plex

[plex]
server = http://localhost:32400
token = abc123

[scan]
directories = /movies
`)
	t.Setenv("DELETION_THRESHOLD", "5")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.DeletionThreshold)
}

func TestMissingRootsIsConfigError(t *testing.T) {
	path := writeIni(t, `
[server]
type = plex

[plex]
server = http://localhost:32400
token = abc123
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLibraryOverridesLoadedFromYAML(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "libraries.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
libraries:
  - id: "1"
    title: Movies
    kind: movie
    roots:
      - /movies
`), 0o644))

	path := writeIni(t, fmt.Sprintf(`
[server]
type = plex

[plex]
server = http://localhost:32400
token = abc123

[scan]
directories = /movies
libraries_yaml = %s
`, yamlPath))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.LibraryOverrides, 1)
	require.Equal(t, "Movies", cfg.LibraryOverrides[0].Title)
	require.Equal(t, []string{"/movies"}, cfg.LibraryOverrides[0].Roots)
}

func TestMissingLibraryOverridesFileIsNotAnError(t *testing.T) {
	path := writeIni(t, `
[server]
type = plex

[plex]
server = http://localhost:32400
token = abc123

[scan]
directories = /movies
libraries_yaml = /no/such/file.yaml
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Empty(t, cfg.LibraryOverrides)
}

func TestJellyfinRequiresURLAndKey(t *testing.T) {
	path := writeIni(t, `
[server]
type = jellyfin

[scan]
directories = /movies
`)
	_, err := Load(path)
	require.Error(t, err)
}
