package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindSQLDump_PrefersDumpSQL(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dump.sql"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.sql"), []byte("y"), 0644))

	got, err := findSQLDump(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "dump.sql"), got)
}

func TestFindSQLDump_FallsBackToAnySQLFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backup.sql"), []byte("y"), 0644))

	got, err := findSQLDump(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "backup.sql"), got)
}

func TestFindSQLDump_ErrorsWhenNoneFound(t *testing.T) {
	dir := t.TempDir()
	_, err := findSQLDump(dir)
	require.Error(t, err)
}

func TestStripUnsupportedParam_RemovesSetAndSetConfigLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.sql")
	content := "SET transaction_timeout = 0;\nCREATE TABLE foo (id int);\nSELECT pg_catalog.set_config('transaction_timeout', '0', false);\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	out, err := stripUnsupportedParam(path, "transaction_timeout")
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.NotContains(t, string(got), "transaction_timeout")
	require.Contains(t, string(got), "CREATE TABLE foo")
}

func TestStripUnsupportedParam_NoOpWhenParamAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.sql")
	content := "CREATE TABLE foo (id int);\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	out, err := stripUnsupportedParam(path, "some_other_param")
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, content, string(got))
}

func TestBuildZip_IncludesDumpAndFilestore(t *testing.T) {
	dir := t.TempDir()
	dumpPath := filepath.Join(dir, "dump.sql")
	require.NoError(t, os.WriteFile(dumpPath, []byte("SELECT 1;"), 0644))

	filestoreDir := filepath.Join(dir, "filestore")
	require.NoError(t, os.MkdirAll(filestoreDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(filestoreDir, "att1"), []byte("blob"), 0644))

	zipPath := filepath.Join(dir, "upgraded.zip")
	require.NoError(t, buildZip(zipPath, dumpPath, filestoreDir, dir))

	info, err := os.Stat(zipPath)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}
