package containerruntime

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/dbupgrader/dbupgrader/internal/runcontext"
)

func TestRenderDBCompose_ProducesExpectedShape(t *testing.T) {
	rc, err := runcontext.New()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "db-composer.yml")
	require.NoError(t, RenderDBCompose(path, rc, "16"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var manifest dbCompose
	require.NoError(t, yaml.Unmarshal(raw, &manifest))

	db, ok := manifest.Services["db"]
	require.True(t, ok)
	require.Equal(t, rc.DBContainerName, db.ContainerName)
	require.Equal(t, "postgres:16", db.Image)
	require.Contains(t, db.Environment, "POSTGRES_USER="+rc.DBUser)

	_, ok = manifest.Networks[rc.NetworkName]
	require.True(t, ok)
	_, ok = manifest.Volumes[rc.VolumeName]
	require.True(t, ok)
}
