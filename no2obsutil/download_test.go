package no2obsutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/no2obs/cloud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaybeDownloadLocal(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "x.nc")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0644))
	p, err := maybeDownload(context.Background(), f, dir)
	require.NoError(t, err)
	assert.Equal(t, f, p)

	tmpl := filepath.Join(dir, "%Y", "*.nc")
	p, err = maybeDownload(context.Background(), tmpl, dir)
	require.NoError(t, err)
	assert.Equal(t, tmpl, p)
}

func TestMaybeDownloadHTTP(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/regions.toml" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("[[Region]]\n"))
	}))
	defer ts.Close()
	dir := t.TempDir()

	p, err := maybeDownload(context.Background(), ts.URL+"/regions.toml", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "regions.toml"), p)
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "[[Region]]\n", string(b))

	_, err = maybeDownload(context.Background(), ts.URL+"/missing.toml", dir)
	assert.Error(t, err)
}

func TestMaybeDownloadBlob(t *testing.T) {
	dir := inTempDir(t)
	src := filepath.Join(dir, "src.nc")
	require.NoError(t, os.WriteFile(src, []byte("no2"), 0644))
	require.NoError(t, cloud.Upload(context.Background(), src, "file://bucket/a/b.nc"))

	dl := filepath.Join(dir, "dl")
	p, err := maybeDownload(context.Background(), "file://bucket/a/b.nc", dl)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dl, "file", "bucket", "a", "b.nc"), p)
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "no2", string(b))
}

func TestUploader(t *testing.T) {
	dir := inTempDir(t)
	var u uploader
	assert.Equal(t, "local.nc", u.maybeUpload("local.nc"))
	assert.Equal(t, "", u.dir)

	p := u.maybeUpload("file://bucket/out/%Y/x_%Y.nc")
	require.NotEqual(t, "", u.dir)
	assert.Equal(t, filepath.Join(u.dir, "file", "bucket", "out", "%Y", "x_%Y.nc"), p)

	f := filepath.Join(u.dir, "file", "bucket", "out", "2020", "x_2020.nc")
	require.NoError(t, os.MkdirAll(filepath.Dir(f), 0755))
	require.NoError(t, os.WriteFile(f, []byte("out"), 0644))
	staging := u.dir
	require.NoError(t, u.uploadOutput(context.Background(), logrus.StandardLogger()))

	b, err := os.ReadFile(filepath.Join(dir, "bucket", "out", "2020", "x_2020.nc"))
	require.NoError(t, err)
	assert.Equal(t, "out", string(b))
	assert.NoDirExists(t, staging)
}

func TestUploaderBadURL(t *testing.T) {
	var u uploader
	assert.Equal(t, "", u.maybeUpload("gs:///x.nc"))
	assert.Error(t, u.uploadOutput(context.Background(), logrus.StandardLogger()))
}
