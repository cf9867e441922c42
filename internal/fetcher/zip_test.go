package fetcher

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestZIP(t *testing.T, files map[string]string) string {
	t.Helper()
	zipPath := filepath.Join(t.TempDir(), "test.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	w := zip.NewWriter(f)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return zipPath
}

func TestExtractZIP_MultiFile(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"india_ds.shp": "shp",
		"india_ds.shx": "shx",
		"india_ds.dbf": "dbf",
	})

	destDir := t.TempDir()
	extracted, err := ExtractZIP(zipPath, destDir)
	require.NoError(t, err)
	assert.Len(t, extracted, 3)

	data, err := os.ReadFile(filepath.Join(destDir, "india_ds.dbf"))
	require.NoError(t, err)
	assert.Equal(t, "dbf", string(data))
}

func TestExtractZIP_NestedDirectory(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"India Shape/india_ds.shp": "shp",
	})

	destDir := t.TempDir()
	extracted, err := ExtractZIP(zipPath, destDir)
	require.NoError(t, err)
	require.Len(t, extracted, 1)
	assert.Equal(t, filepath.Join(destDir, "India Shape", "india_ds.shp"), extracted[0])
}

func TestExtractZIP_ZipSlip(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"../escape.shp": "evil",
	})

	destDir := t.TempDir()
	_, err := ExtractZIP(zipPath, destDir)
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(filepath.Dir(destDir), "escape.shp"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtractZIP_NotAnArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.zip")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))

	_, err := ExtractZIP(path, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zip: open archive")
}

func TestFindByExt(t *testing.T) {
	paths := []string{"/tmp/x/india.SHP", "/tmp/x/india.dbf", "/tmp/x/india.shx"}

	got, err := FindByExt(paths, ".shp")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x/india.SHP", got)

	_, err = FindByExt(paths, ".prj")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no .prj file")

	_, err = FindByExt([]string{"a.shp", "b.shp"}, ".shp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected exactly 1")
}
