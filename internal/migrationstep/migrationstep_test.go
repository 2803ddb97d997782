package migrationstep

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsCacheReady(t *testing.T) {
	dir := t.TempDir()
	require.False(t, isCacheReady(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte("x"), 0644))
	require.True(t, isCacheReady(dir))
}

func TestDiscoverAddonSubRoots_SkipsHiddenAndCache(t *testing.T) {
	root := t.TempDir()
	mod := filepath.Join(root, "sale_ext")
	require.NoError(t, os.MkdirAll(mod, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(mod, "__manifest__.py"), []byte("{}"), 0644))

	cache := filepath.Join(root, "__pycache__", "ignored")
	require.NoError(t, os.MkdirAll(cache, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cache, "__manifest__.py"), []byte("{}"), 0644))

	got, err := DiscoverAddonSubRoots(root, "/mnt/custom-addons")
	require.NoError(t, err)
	require.Equal(t, []string{"/mnt/custom-addons/sale_ext"}, got)
}

func TestRenderDockerfile_IncludesCustomAddonsWhenRequested(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Dockerfile")
	require.NoError(t, RenderDockerfile(path, "16.0", "output/.cache/migrations/16.0", true))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(content), "FROM odoo:16.0")
	require.Contains(t, string(content), "/mnt/custom-addons")
}

func TestRenderDockerfile_OmitsCustomAddonsWhenNotRequested(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Dockerfile")
	require.NoError(t, RenderDockerfile(path, "16.0", "output/.cache/migrations/16.0", false))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(content), "/mnt/custom-addons")
}

func TestTailLines_CapsAtMax(t *testing.T) {
	var combined string
	for i := 0; i < 100; i++ {
		combined += "line\n"
	}
	got := tailLines(combined, 40)
	require.Len(t, got, 40)
}

func TestIsTransientAndIsFatal(t *testing.T) {
	require.True(t, isTransient("connection reset by peer"))
	require.True(t, isTransient("request failed with status 503"))
	require.False(t, isTransient("all good"))

	require.True(t, isFatal("invalid manifest for module sale_ext"))
	require.True(t, isFatal(`relation "res_partner" does not exist`))
	require.False(t, isFatal("all good"))
}

func TestEvidenceSince_CombinesTailAndLogDelta(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "odoo.log")
	require.NoError(t, os.WriteFile(logPath, []byte("old line\n"), 0644))

	info, err := os.Stat(logPath)
	require.NoError(t, err)
	offset := info.Size()

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("connection reset\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	evidence := evidenceSince([]string{"from tail"}, logPath, offset)
	require.Contains(t, evidence, "from tail")
	require.Contains(t, evidence, "connection reset")
	require.NotContains(t, evidence, "old line")
}
