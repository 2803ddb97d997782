package validate

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsURL(t *testing.T) {
	require.True(t, IsURL("https://example.com/db.zip"))
	require.True(t, IsURL("http://example.com/db.zip"))
	require.False(t, IsURL("/tmp/db.zip"))
	require.False(t, IsURL("ftp://example.com/db.zip"))
}

func TestLocationExtension(t *testing.T) {
	require.Equal(t, ".zip", LocationExtension("/tmp/source.ZIP"))
	require.Equal(t, ".dump", LocationExtension("https://example.com/path/db.dump?x=1"))
}

func TestEnsureSupportedSourceExtension(t *testing.T) {
	require.NoError(t, EnsureSupportedSourceExtension("source.zip"))
	require.NoError(t, EnsureSupportedSourceExtension("source.dump"))
	require.Error(t, EnsureSupportedSourceExtension("source.tar.gz"))
}

func TestEnforceHTTPSPolicy(t *testing.T) {
	s := New(false, nil)
	require.Error(t, s.EnforceHTTPSPolicy("http://example.com/x.zip", "source URL"))
	require.NoError(t, s.EnforceHTTPSPolicy("https://example.com/x.zip", "source URL"))
	require.NoError(t, s.EnforceHTTPSPolicy("/local/path.zip", "source URL"))

	insecure := New(true, nil)
	require.NoError(t, insecure.EnforceHTTPSPolicy("http://example.com/x.zip", "source URL"))
}

func TestProbeURL_FallsBackFromHeadToGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := New(true, nil)
	require.NoError(t, s.ProbeURL(srv.URL, "source URL"))
}

func TestValidateSourceAccessibility_MissingLocalFile(t *testing.T) {
	s := New(false, nil)
	err := s.ValidateSourceAccessibility(filepath.Join(t.TempDir(), "missing.zip"), "", "")
	require.Error(t, err)
}

func TestValidateAddonsStructure_DiscoversNestedModules(t *testing.T) {
	dir := t.TempDir()
	modDir := filepath.Join(dir, "sale_extension")
	require.NoError(t, os.MkdirAll(modDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(modDir, "__manifest__.py"),
		[]byte("{'name': 'Sale Extension', 'depends': ['sale'], 'version': '16.0.1.0.0'}"), 0644))

	require.NoError(t, ValidateAddonsStructure(dir, "16.0"))
}

func TestValidateAddonsStructure_RejectsVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	modDir := filepath.Join(dir, "mismatched")
	require.NoError(t, os.MkdirAll(modDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(modDir, "__manifest__.py"),
		[]byte("{'name': 'Mismatched', 'depends': [], 'version': '15.0.1.0.0'}"), 0644))

	err := ValidateAddonsStructure(dir, "16.0")
	require.Error(t, err)
}

func TestValidateAddonsStructure_SkipsHiddenAndCacheDirs(t *testing.T) {
	dir := t.TempDir()
	hidden := filepath.Join(dir, ".git", "sub")
	require.NoError(t, os.MkdirAll(hidden, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(hidden, "__manifest__.py"), []byte("{'name': 'x'}"), 0644))

	err := ValidateAddonsStructure(dir, "")
	require.Error(t, err) // no real modules found, only the hidden one
}

func TestValidateAddonsStructure_RejectsEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	require.Error(t, ValidateAddonsStructure(dir, ""))
}

func TestParsePythonLiteralDict(t *testing.T) {
	data, err := parsePythonLiteralDict(`{'name': "Sale Ext", 'depends': ['sale', 'base'], 'installable': True, 'version': '16.0.1.0.0'}`)
	require.NoError(t, err)
	require.Equal(t, "Sale Ext", data["name"])
	require.Equal(t, true, data["installable"])

	_, err = parsePythonLiteralDict("not a dict at all")
	require.Error(t, err)
}
